// Package recovery implements SFS's three-pass crash recovery: a check
// pass that finds every block a later ALLOC_BLOCK record protects from
// being clobbered by an earlier record's effects, an undo pass that
// reverts the incomplete work of any transaction that never committed,
// and a redo pass that replays every committed transaction's effects
// forward.
//
// Grounded on original_source kern/fs/sfs/sfs_recovery.c (the
// process_journal_entry dispatch and its per-record-type parse_*
// helpers, and fletcher32) and the recovery driver loop in
// kern/fs/sfs/sfs_fsops.c (sfs_domount's check/undo/redo sequence and
// its morgue sweep). The original drives three passes over a
// doubly-linked on-disk iterator (sfs_jiter) that can step forward or
// backward over records still on disk; here the journal has already
// been read into memory (journal.Container.ReadFrom), so each pass is
// a plain slice walk in the appropriate direction.
package recovery

import (
	"journal"
	"record"
)

// Direction selects which half of a record's before/after pair a
// pass applies (P_UNDO / P_REDO in the original).
type Direction int

const (
	Undo Direction = iota
	Redo
)

// Applier is the filesystem-mutation surface recovery drives; it
// stands in for sfs_recovery.c's direct buffer-cache pokes
// (buffer_read/buffer_map/buffer_mark_dirty). ImageApplier implements
// it over an fs.Image_t.
type Applier interface {
	SetDirentry(ino, slot, newIno uint32, name string)
	AllocBlock(block uint32)
	FreeBlock(block uint32)
	ZeroBlock(block uint32)
	SetSize(ino uint32, typ uint16, size uint32)
	SetLinkcount(ino uint32, typ uint32, count uint16)
	SetIndirect(ino uint32, level record.IndirectionLevel, typ uint16, ptr uint32)
	SetDirect(ino uint32, idx uint32, typ uint16, ptr uint32)
	SetIndirectEntry(blockIno uint32, idx uint32, ptr uint32)
	SetBlockWord(block uint32, wordOff uint32, val uint32)
	// ReadBlockChecksum returns the block's current Fletcher-32
	// checksum and whether the block exists to be read at all.
	ReadBlockChecksum(block uint32) (uint32, bool)
	SetInodeType(ino uint32, typ uint16)
	// Linkcount returns an inode's link count, used by the morgue
	// sweep once redo has replayed every committed change.
	Linkcount(ino uint32) uint16
	MorgueLink(ino uint32)
}

// protectedBlock records the LSN at which a block was reserved,
// so older records touching the same block number can tell whether
// they would be clobbering a reuse that happened after them.
type protectedBlock struct {
	lsn journal.LSN
}

// state carries the bookkeeping shared across all three passes.
type state struct {
	protected map[uint32]protectedBlock // blocks reserved by a later ALLOC_BLOCK
	aborted   map[journal.LSN]bool      // transactions with no END_TRANSACTION
	latest    map[uint32]protectedBlock // blocks already given their final undo-pass value
}

// isProtected mirrors is_block_protected: a block is protected against
// a record at lsn if some later ALLOC_BLOCK claimed it after lsn.
func (s *state) isProtected(block uint32, lsn journal.LSN) bool {
	pb, ok := s.protected[block]
	return ok && pb.lsn > lsn
}

func (s *state) isLatest(block uint32, lsn journal.LSN) bool {
	pb, ok := s.latest[block]
	return ok && pb.lsn > lsn
}

func (s *state) markLatest(block uint32, lsn journal.LSN) {
	if !s.isLatest(block, lsn) {
		s.latest[block] = protectedBlock{lsn: lsn}
	}
}

// Recover runs the full three-pass algorithm over every record the
// journal holds from its last trim point onward. It does not touch the
// morgue directory: MorgueSweep is a separate call, and Recover does
// not make it.
func Recover(jnl *journal.Container, w *record.Writer, app Applier) {
	w.SetRecovering(true)
	defer w.SetRecovering(false)

	recs := jnl.ReadFrom(jnl.TrimmedTo())
	if len(recs) == 0 {
		return
	}

	st := &state{
		protected: make(map[uint32]protectedBlock),
		aborted:   make(map[journal.LSN]bool),
		latest:    make(map[uint32]protectedBlock),
	}

	checkPass(recs, st)
	undoPass(recs, st, app)
	redoPass(recs, st, app)
}

// checkPass walks the log newest-to-oldest, as sfs_recovery.c's
// sfs_jiter_revcreate + jiter_prev loop does: ALLOC_BLOCK records seen
// register the block as protected at that LSN, and END_TRANSACTION
// records are matched against an earlier (in log order, later in this
// walk) START_TRANSACTION; any START left unmatched, plus any END left
// over once the whole log has been scanned, belongs to a transaction
// that never committed and is recorded as aborted.
func checkPass(recs []journal.Record, st *state) {
	ended := make(map[journal.LSN]bool)

	for i := len(recs) - 1; i >= 0; i-- {
		r := recs[i]
		switch r.Type {
		case journal.TypeAllocBlock:
			b := record.DecodeBlock(r.Payload)
			if _, ok := st.protected[b.BlockNum]; !ok {
				st.protected[b.BlockNum] = protectedBlock{lsn: r.LSN}
			}
		case journal.TypeEndTransaction:
			t := record.DecodeTransaction(r.Payload)
			ended[t.Tnx] = true
		case journal.TypeStartTransaction:
			t := record.DecodeTransaction(r.Payload)
			if ended[t.Tnx] {
				delete(ended, t.Tnx)
			} else {
				st.aborted[t.Tnx] = true
			}
		}
	}

	for tnx := range ended {
		st.aborted[tnx] = true
	}
}

// undoPass walks the log oldest-to-newest applying the old-value side
// of every record, aborted and committed alike (redoPass then
// re-applies the committed ones), and skipping any record that targets
// a block a later ALLOC_BLOCK protects, mirroring the undo loop in
// sfs_domount. ZERO_BLOCK and WRITE_BLOCK records are tracked in
// st.latest at the newest LSN seen per block, so that redoPass can skip
// a ZERO_BLOCK that a later write to the same block supersedes.
func undoPass(recs []journal.Record, st *state, app Applier) {
	for _, r := range recs {
		switch r.Type {
		case journal.TypeZeroBlock:
			b := record.DecodeBlock(r.Payload)
			if !st.isProtected(b.BlockNum, r.LSN) && !st.isLatest(b.BlockNum, r.LSN) {
				st.markLatest(b.BlockNum, r.LSN)
			}
		case journal.TypeWriteBlock:
			wb := record.DecodeWriteBlock(r.Payload)
			if st.isProtected(wb.Block, r.LSN) || st.isLatest(wb.Block, r.LSN) {
				continue
			}
			applyWriteBlock(wb, st, app)
			st.markLatest(wb.Block, r.LSN)
		default:
			applyRecord(r, Undo, st, app)
		}
	}
}

// redoPass walks the log oldest-to-newest a second time, replaying
// every surviving (non-aborted) record's forward effect. WRITE_BLOCK
// records were already fully handled by the undo pass's checksum
// check and are skipped here, matching the original's "if (type !=
// WRITE_BLOCK)" guard.
func redoPass(recs []journal.Record, st *state, app Applier) {
	for _, r := range recs {
		if r.Type == journal.TypeWriteBlock {
			continue
		}
		if r.Type == journal.TypeZeroBlock {
			b := record.DecodeBlock(r.Payload)
			if st.isLatest(b.BlockNum, r.LSN) {
				continue
			}
		}
		applyRecord(r, Redo, st, app)
	}
}

func applyRecord(r journal.Record, dir Direction, st *state, app Applier) {
	switch r.Type {
	case journal.TypeStartTransaction, journal.TypeEndTransaction, journal.TypeAbortTransaction:
		// nothing to do; these only carry bookkeeping the check pass
		// already consumed.

	case journal.TypeChangeDirentry:
		cd := record.DecodeChangeDirentry(r.Payload)
		if (st.aborted[cd.Tnx] && dir == Redo) || st.isProtected(cd.Ino, r.LSN) {
			return
		}
		ino, name := cd.OldIno, cd.OldName
		if dir == Redo {
			ino, name = cd.NewIno, cd.NewName
		}
		app.SetDirentry(cd.Ino, cd.Direntry, ino, name)

	case journal.TypeZeroBlock:
		if dir == Undo {
			return // zeroing cannot be undone
		}
		b := record.DecodeBlock(r.Payload)
		if st.aborted[b.Tnx] || st.isProtected(b.BlockNum, r.LSN) {
			return
		}
		app.ZeroBlock(b.BlockNum)

	case journal.TypeAllocBlock:
		b := record.DecodeBlock(r.Payload)
		if st.aborted[b.Tnx] && dir == Redo {
			return
		}
		if dir == Redo {
			app.AllocBlock(b.BlockNum)
		} else {
			app.FreeBlock(b.BlockNum)
		}

	case journal.TypeFreeBlock:
		b := record.DecodeBlock(r.Payload)
		if st.aborted[b.Tnx] && dir == Redo {
			return
		}
		if dir == Redo {
			app.FreeBlock(b.BlockNum)
		} else {
			app.AllocBlock(b.BlockNum)
		}

	case journal.TypeChangeSize:
		cs := record.DecodeChangeSize(r.Payload)
		if (st.aborted[cs.Tnx] && dir == Redo) || st.isProtected(cs.Ino, r.LSN) {
			return
		}
		size := cs.OldSize
		if dir == Redo {
			size = cs.NewSize
		}
		app.SetSize(cs.Ino, cs.Type, size)

	case journal.TypeChangeLinkcount:
		cl := record.DecodeChangeLinkcount(r.Payload)
		if (st.aborted[cl.Tnx] && dir == Redo) || st.isProtected(cl.Ino, r.LSN) {
			return
		}
		count := cl.OldCount
		if dir == Redo {
			count = cl.NewCount
		}
		app.SetLinkcount(cl.Ino, cl.InodeType, count)

	case journal.TypeChangeIndirect:
		ci := record.DecodeChangeIndirect(r.Payload)
		if (st.aborted[ci.Tnx] && dir == Redo) || st.isProtected(ci.Ino, r.LSN) {
			return
		}
		ptr := ci.OldPtr
		if dir == Redo {
			ptr = ci.NewPtr
		}
		app.SetIndirect(ci.Ino, ci.Level, ci.Type, ptr)

	case journal.TypeChangeDirect:
		cp := record.DecodeChangePtr(r.Payload)
		if (st.aborted[cp.Tnx] && dir == Redo) || st.isProtected(cp.Ino, r.LSN) {
			return
		}
		ptr := cp.OldPtr
		if dir == Redo {
			ptr = cp.NewPtr
		}
		app.SetDirect(cp.Ino, cp.PtrNum, cp.Type, ptr)

	case journal.TypeChangeBlockObj:
		cb := record.DecodeChangeBlockObj(r.Payload)
		if (st.aborted[cb.Tnx] && dir == Redo) || st.isProtected(cb.BlockNum, r.LSN) {
			return
		}
		val := cb.OldVal
		if dir == Redo {
			val = cb.NewVal
		}
		app.SetBlockWord(cb.BlockNum, cb.Offset, val)

	case journal.TypeChangeInodeType:
		cit := record.DecodeChangeInodeType(r.Payload)
		if (st.aborted[cit.Tnx] && dir == Redo) || st.isProtected(cit.Ino, r.LSN) {
			return
		}
		typ := cit.OldType
		if dir == Redo {
			typ = cit.NewType
		}
		app.SetInodeType(cit.Ino, typ)

	default:
		panic("recovery: unrecognized journal record type")
	}
}

// applyWriteBlock is the undo pass's special handling of WRITE_BLOCK:
// if the block's current checksum doesn't match the one recorded at
// write time, the write was torn by the crash and the block is
// zeroed rather than trusted, matching parse_write_block's
// fletcher32 comparison.
func applyWriteBlock(wb record.WriteBlock, st *state, app Applier) {
	if st.aborted[wb.Tnx] {
		return
	}
	cur, ok := app.ReadBlockChecksum(wb.Block)
	if !ok || cur != wb.Checksum {
		app.ZeroBlock(wb.Block)
	}
}

// Fletcher32 computes the Fletcher-32 checksum of a block of 16-bit
// words, the algorithm original_source's fletcher32 uses (itself a
// slight variant of the Wikipedia reference implementation).
func Fletcher32(data []uint16) uint32 {
	var sum1, sum2 uint32 = 0xffff, 0xffff
	i := 0
	for i < len(data) {
		tlen := len(data) - i
		if tlen > 359 {
			tlen = 359
		}
		for j := 0; j < tlen; j++ {
			sum1 += uint32(data[i+j])
			sum2 += sum1
		}
		i += tlen
		sum1 = (sum1 & 0xffff) + (sum1 >> 16)
		sum2 = (sum2 & 0xffff) + (sum2 >> 16)
	}
	sum1 = (sum1 & 0xffff) + (sum1 >> 16)
	sum2 = (sum2 & 0xffff) + (sum2 >> 16)
	return sum2<<16 | sum1
}

// MorgueSweep visits the given directory slots and links any inode
// with a zero link count into the morgue (app.MorgueLink), after
// sfs_domount's post-recovery morgue handling. entries holds, per
// slot, the inode number it currently holds (0 for a free slot).
func MorgueSweep(entries []uint32, app Applier) {
	for _, ino := range entries {
		if ino == 0 {
			continue
		}
		if app.Linkcount(ino) == 0 {
			app.MorgueLink(ino)
		}
	}
}
