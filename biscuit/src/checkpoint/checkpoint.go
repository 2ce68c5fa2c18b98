// Package checkpoint implements the background checkpointing thread:
// once the journal's write odometer crosses its bound, it computes the
// oldest LSN still needed for crash recovery and trims the journal to
// it.
//
// Grounded on original_source kern/fs/sfs/sfs_checkpoint.c's
// checkpoint_thread_f/checkpoint: a goroutine waits on the writer's
// checkpoint-bound signal (cv_wait on sfs_checkpoint_cv in the
// original) and then runs one checkpoint round, computed as the
// minimum of: the journal's next LSN, every active transaction's id,
// the oldest dirty buffer's transaction, and the freemap's oldest
// transaction.
package checkpoint

import (
	"journal"
	"record"
)

// DirtyBuffer is the minimal view a checkpoint round needs of a
// cached block: whether it is dirty and, if so, the oldest
// transaction that dirtied it. fs.Bdev_block_t satisfies this.
type DirtyBuffer interface {
	IsDirty() bool
	OldestTransaction() uint64
}

// FreemapMeta is the minimal view a checkpoint round needs of the
// freemap's metadata. fs.Metadata_t satisfies this.
type FreemapMeta interface {
	Dirty() bool
	Oldest() uint64
}

// BufferSource supplies the set of currently cached buffers to scan
// for the oldest dirty transaction, mirroring
// bufarray_find_oldest_dirty_lsn's walk over the buffer cache.
type BufferSource func() []DirtyBuffer

// Checkpointer runs checkpoint rounds against a journal and writer,
// consulting a buffer cache and freemap metadata source for dirty
// state outside the journal itself.
type Checkpointer struct {
	jnl     *journal.Container
	writer  *record.Writer
	buffers BufferSource
	freemap FreemapMeta

	stop chan struct{}
	done chan struct{}
}

// New creates a Checkpointer. buffers and freemap may be nil (no
// outside dirty state to consider), matching a freshly-mounted,
// otherwise idle filesystem.
func New(jnl *journal.Container, w *record.Writer, buffers BufferSource, freemap FreemapMeta) *Checkpointer {
	return &Checkpointer{
		jnl:     jnl,
		writer:  w,
		buffers: buffers,
		freemap: freemap,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Run blocks, performing a checkpoint round each time the writer
// signals the odometer bound was crossed, until Stop is called.
func (c *Checkpointer) Run() {
	defer close(c.done)
	for {
		select {
		case <-c.stop:
			return
		case <-c.writer.CheckpointSignal():
			c.RunOnce()
		}
	}
}

// Stop ends the checkpointer's loop and waits for its current round,
// if any, to finish.
func (c *Checkpointer) Stop() {
	close(c.stop)
	<-c.done
}

// RunOnce performs a single checkpoint round synchronously: computing
// the keep-LSN and trimming the journal to it.
func (c *Checkpointer) RunOnce() {
	keep := c.jnl.PeekNextLSN()

	for _, tnx := range c.writer.ActiveTnxs() {
		if tnx < keep {
			keep = tnx
		}
	}

	if c.buffers != nil {
		for _, b := range c.buffers() {
			if !b.IsDirty() {
				continue
			}
			if lsn := journal.LSN(b.OldestTransaction()); lsn < keep {
				keep = lsn
			}
		}
	}

	if c.freemap != nil && c.freemap.Dirty() {
		if lsn := journal.LSN(c.freemap.Oldest()); lsn > 0 && lsn < keep {
			keep = lsn
		}
	}

	c.jnl.Trim(keep)
}
