// Package journal implements the physical journal container: the
// on-disk ring buffer of fixed-size log blocks that client records
// (package record) are packed into, and the checkpoint trim that
// reclaims space once a checkpoint guarantees its contents are no
// longer needed for recovery.
//
// Grounded on original_source kern/include/kern/sfs.h's container-level
// bit layout (struct sfs_jphys_header, SFS_MKCONINFO/SFS_CONINFO_*) and
// kern/fs/sfs/sfs_jphys.c's container read/write/trim logic, carried
// into the teacher's idiom: an embedded sync.Mutex guarding a simulated
// backing store, panics in place of KASSERT, errors returned as
// defs.Err_t the way the coremap and vm packages do.
package journal

import (
	"encoding/binary"
	"sync"

	"defs"
)

// LSN is a 48-bit log sequence number, the unit the journal, the
// checkpointer, and recovery all order records by.
type LSN uint64

const lsnMask = 1<<48 - 1

// Class bits for the coninfo header (SFS_JPHYS_CONTAINER/SFS_JPHYS_CLIENT).
const (
	ClassContainer = 0
	ClassClient    = 1
)

// Container-level record type codes (SFS_JPHYS_*).
const (
	TypeInvalid = 0
	TypePad     = 1
	TypeTrim    = 2
)

// Client-level record type codes, matching the *_le structs in
// kern/include/kern/sfs.h in declaration order; START/END/ABORT are
// given their own names since record.Writer special-cases them.
const (
	TypeStartTransaction = 3
	TypeEndTransaction   = 4
	TypeAbortTransaction = 5
	TypeChangeDirentry   = 6
	TypeAllocBlock       = 7
	TypeFreeBlock        = 8
	TypeZeroBlock        = 9
	TypeChangeBlockObj   = 10
	TypeChangeSize       = 11
	TypeChangeLinkcount  = 12
	TypeChangeIndirect   = 13
	TypeChangeDirect     = 14
	TypeWriteBlock       = 15
	TypeChangeInodeType  = 16
	TypeRename           = 17
)

// headerSize is sizeof(struct sfs_jphys_header): one 64-bit coninfo word.
const headerSize = 8

// BlockSize is the unit the journal is addressed and trimmed in; it
// matches SFS_BLOCKSIZE so journal blocks are ordinary SFS blocks.
const BlockSize = 512

// MakeHeader packs a container info word the way SFS_MKCONINFO does:
// class in bit 63, type in bits 62-56, length-in-2-octet-units in bits
// 55-48, LSN in the low 48 bits.
func MakeHeader(class, typ int, length int, lsn LSN) uint64 {
	lenUnits := uint64((length + 1) / 2)
	return uint64(class&1)<<63 | uint64(typ&0x7f)<<56 | (lenUnits&0xff)<<48 | (uint64(lsn) & lsnMask)
}

// ParseHeader unpacks a coninfo word back into its four fields.
func ParseHeader(coninfo uint64) (class, typ, length int, lsn LSN) {
	class = int(coninfo >> 63)
	typ = int((coninfo >> 56) & 0x7f)
	length = int((coninfo>>48)&0xff) * 2
	lsn = LSN(coninfo & lsnMask)
	return
}

// Record is one decoded entry read back out of the journal: its header
// fields plus whatever payload followed the header in the same span.
type Record struct {
	Class   int
	Type    int
	LSN     LSN
	Payload []byte
}

// Container is the physical journal: an append-only ring of blocks
// holding variable-length, header-prefixed records. It does not know
// anything about transactions; that is record.Writer's job. Grounded
// on sfs_jphys.c's jphys_write/jphys_readblocks, simplified to an
// in-memory byte ring since this simulation has no real disk to seek.
type Container struct {
	sync.Mutex
	buf       []byte
	tail      int // next byte offset to write
	nextLSN   LSN
	odometer  uint64 // bytes written since the last checkpoint trim
	trimmedTo LSN    // records before this LSN are no longer readable
}

// New allocates a journal container of the given size in blocks.
func New(blocks int) *Container {
	return &Container{
		buf:     make([]byte, blocks*BlockSize),
		nextLSN: 1, // LSN 0 is reserved: a zero coninfo word means "no record here"
	}
}

// PeekNextLSN returns the LSN that would be assigned to the next
// record appended, without consuming it.
func (c *Container) PeekNextLSN() LSN {
	c.Lock()
	defer c.Unlock()
	return c.nextLSN
}

// Odometer returns the number of bytes written since the journal was
// last trimmed, the quantity sfs_logging.c compares against the
// checkpoint-bound constant to decide whether to wake the checkpointer.
func (c *Container) Odometer() uint64 {
	c.Lock()
	defer c.Unlock()
	return c.odometer
}

// Append writes one record (class, type, payload) to the journal and
// returns the LSN it was assigned. Records must fit in a single block
// (header + payload <= BlockSize), matching SFS_CONINFO_LEN's 8-bit,
// 2-octet-unit length field.
func (c *Container) Append(class, typ int, payload []byte) (LSN, defs.Err_t) {
	c.Lock()
	defer c.Unlock()

	total := headerSize + len(payload)
	if total > BlockSize || (total+1)/2 > 0xff {
		return 0, defs.EINVAL
	}
	if total > len(c.buf) {
		return 0, defs.ENOMEM
	}

	lsn := c.nextLSN
	header := MakeHeader(class, typ, total, lsn)

	// Wrap to the start of the ring if the record would cross the end;
	// the tail byte range [tail, tail+total) must not straddle the
	// buffer boundary so a torn write during recovery never splits a
	// header from its payload.
	if c.tail+total > len(c.buf) {
		c.tail = 0
	}

	var hdrBytes [headerSize]byte
	binary.BigEndian.PutUint64(hdrBytes[:], header)
	copy(c.buf[c.tail:], hdrBytes[:])
	copy(c.buf[c.tail+headerSize:], payload)

	c.tail += total
	if c.tail >= len(c.buf) {
		c.tail = 0
	}
	c.nextLSN++
	c.odometer += uint64(total)

	return lsn, 0
}

// Trim records that every record before keep has been subsumed by a
// checkpoint and resets the odometer, the action sfs_logging.c's
// checkpoint thread takes once it has computed a safe keep-LSN.
func (c *Container) Trim(keep LSN) {
	c.Lock()
	defer c.Unlock()
	if keep > c.trimmedTo {
		c.trimmedTo = keep
	}
	c.odometer = 0
}

// TrimmedTo returns the oldest LSN the journal still guarantees to
// hold a readable record for.
func (c *Container) TrimmedTo() LSN {
	c.Lock()
	defer c.Unlock()
	return c.trimmedTo
}

// ReadFrom decodes every record in the journal from the given LSN
// onward, in the order they were appended, for use by recovery's
// three passes. The real container only supports forward scanning
// from its logical start since this simulation never overwrites
// un-trimmed bytes in place; Recover always starts from trimmedTo.
func (c *Container) ReadFrom(from LSN) []Record {
	c.Lock()
	defer c.Unlock()

	var out []Record
	off := 0
	for off+headerSize <= c.tail || (c.tail == 0 && off+headerSize <= len(c.buf)) {
		if off+headerSize > len(c.buf) {
			break
		}
		header := binary.BigEndian.Uint64(c.buf[off : off+headerSize])
		class, typ, length, lsn := ParseHeader(header)
		if typ == TypeInvalid || length == 0 {
			break
		}
		if lsn >= from {
			payload := make([]byte, length-headerSize)
			copy(payload, c.buf[off+headerSize:off+length])
			out = append(out, Record{Class: class, Type: typ, LSN: lsn, Payload: payload})
		}
		off += length
		if lsn+1 >= c.nextLSN {
			break
		}
	}
	return out
}
