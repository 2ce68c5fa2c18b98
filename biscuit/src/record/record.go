// Package record implements the typed journal records SFS emits
// during normal operation (package journal only knows about headers
// and opaque byte payloads) and the write_record discipline: a
// transaction is assigned its id from the journal's next LSN when it
// starts, every subsequent record in that transaction carries that id,
// and ending or aborting the transaction retires it from the active
// set.
//
// Grounded on original_source kern/fs/sfs/sfs_logging.c's write_record
// and kern/include/kern/sfs.h's *_le structs, encoded the way the
// teacher encodes its own on-disk structures elsewhere (fixed byte
// layout, big-endian multi-byte fields) rather than gob or JSON, since
// these records are meant to be read back by the three-pass recovery
// scan the same way the original journal format is.
package record

import (
	"encoding/binary"
	"sync"

	"defs"
	"journal"
)

// LogFunc identifies which high-level operation started a transaction
// (fs_logfunc_t).
type LogFunc int

const (
	FuncWrite LogFunc = iota
	FuncReclaim
	FuncTruncate
	FuncCreat
	FuncMkdir
	FuncLink
	FuncRmdir
	FuncRename
	FuncRemove
	FuncMorgue
)

const nameLen = 60

// Transaction is the payload of START/END/ABORT_TRANSACTION records.
type Transaction struct {
	Tnx  journal.LSN
	Func LogFunc
}

// ChangeDirentry is the payload of a CHANGE_DIRENTRY record.
type ChangeDirentry struct {
	Tnx      journal.LSN
	Ino      uint32
	Direntry uint32
	OldIno   uint32
	OldName  string
	NewIno   uint32
	NewName  string
}

// Block is the payload of ALLOC/FREE/ZERO_BLOCK records.
type Block struct {
	Tnx      journal.LSN
	BlockNum uint32
}

// ChangeSize is the payload of a CHANGE_SIZE record.
type ChangeSize struct {
	Tnx     journal.LSN
	Ino     uint32
	OldSize uint32
	NewSize uint32
	Type    uint16
}

// ChangeLinkcount is the payload of a CHANGE_LINK_CNT record.
type ChangeLinkcount struct {
	Tnx       journal.LSN
	Ino       uint32
	OldCount  uint16
	NewCount  uint16
	InodeType uint32
}

// IndirectionLevel identifies which of an inode's indirect pointers a
// ChangeIndirect record touches.
type IndirectionLevel int

const (
	Single IndirectionLevel = iota
	Double
	Triple
)

// ChangeIndirect is the payload of a CHANGE_INDIRECT_PTR record.
type ChangeIndirect struct {
	Tnx    journal.LSN
	Ino    uint32
	Level  IndirectionLevel
	OldPtr uint32
	NewPtr uint32
	Type   uint16
}

// ChangePtr is the payload of CHANGE_DIRECT_PTR / CHANGE_INO_IN_INDIRECT.
type ChangePtr struct {
	Tnx    journal.LSN
	Ino    uint32
	PtrNum uint32
	OldPtr uint32
	NewPtr uint32
	Type   uint16
}

// WriteBlock is the payload of a WRITE_BLOCK record.
type WriteBlock struct {
	Tnx      journal.LSN
	Block    uint32
	Checksum uint32
}

// ChangeInodeType is the payload of a CHANGE_INODE_TYPE record.
type ChangeInodeType struct {
	Tnx     journal.LSN
	Ino     uint32
	OldType uint16
	NewType uint16
}

// ChangeBlockObj is the payload of a CHANGE_BLOCK_OBJ record.
type ChangeBlockObj struct {
	Tnx      journal.LSN
	BlockNum uint32
	Offset   uint32
	OldVal   uint32
	NewVal   uint32
}

// Writer serializes write_record's behavior on top of a journal
// container: the record lock is held only across START_TRANSACTION
// (to make "peek next LSN, then claim it" atomic with respect to other
// starters), and a separate lock protects the active-transaction set
// that checkpointing consults for its keep-LSN computation.
type Writer struct {
	jnl *journal.Container

	recordLk sync.Mutex

	activeLk sync.Mutex
	active   map[journal.LSN]bool

	checkpointBound uint64
	checkpointCh    chan struct{} // non-blocking signal to the checkpointer, sent after each record while over the bound

	recovering bool
}

// NewWriter creates a Writer over jnl. checkpointBound mirrors
// sfs_checkpoint_bound: once the journal's odometer reaches it, the
// checkpointer is signaled.
func NewWriter(jnl *journal.Container, checkpointBound uint64) *Writer {
	return &Writer{
		jnl:             jnl,
		active:          make(map[journal.LSN]bool),
		checkpointBound: checkpointBound,
		checkpointCh:    make(chan struct{}, 1),
	}
}

// CheckpointSignal returns the channel the checkpointer should select
// on; a value arrives whenever the odometer crosses the bound.
func (w *Writer) CheckpointSignal() <-chan struct{} {
	return w.checkpointCh
}

// SetRecovering suppresses record emission while true, matching
// write_record's "return immediately if in recovery mode" guard
// (jphys_writermode).
func (w *Writer) SetRecovering(v bool) {
	w.recordLk.Lock()
	defer w.recordLk.Unlock()
	w.recovering = v
}

// StartTransaction begins a new transaction, claiming the journal's
// next LSN as its id and registering it active. It returns the
// assigned transaction id.
func (w *Writer) StartTransaction(fn LogFunc) (journal.LSN, defs.Err_t) {
	w.recordLk.Lock()
	defer w.recordLk.Unlock()
	if w.recovering {
		return 0, 0
	}

	tnx := w.jnl.PeekNextLSN()

	w.activeLk.Lock()
	w.active[tnx] = true
	w.activeLk.Unlock()

	rec := encodeTransaction(Transaction{Tnx: tnx, Func: fn})
	if _, err := w.jnl.Append(journal.ClassClient, journal.TypeStartTransaction, rec); err != 0 {
		return 0, err
	}
	w.maybeSignalCheckpoint()
	return tnx, 0
}

// EndTransaction closes a transaction successfully.
func (w *Writer) EndTransaction(tnx journal.LSN, fn LogFunc) defs.Err_t {
	return w.finishTransaction(tnx, fn, journal.TypeEndTransaction)
}

// AbortTransaction closes a transaction without committing its effects.
func (w *Writer) AbortTransaction(tnx journal.LSN, fn LogFunc) defs.Err_t {
	return w.finishTransaction(tnx, fn, journal.TypeAbortTransaction)
}

func (w *Writer) finishTransaction(tnx journal.LSN, fn LogFunc, typ int) defs.Err_t {
	if w.recovering {
		return 0
	}
	w.requireActive(tnx)

	rec := encodeTransaction(Transaction{Tnx: tnx, Func: fn})
	if _, err := w.jnl.Append(journal.ClassClient, typ, rec); err != 0 {
		return err
	}

	w.activeLk.Lock()
	if !w.active[tnx] {
		panic("record: tried to end a transaction that's not active")
	}
	delete(w.active, tnx)
	w.activeLk.Unlock()

	w.maybeSignalCheckpoint()
	return 0
}

// requireActive panics if tnx is zero, mirroring write_record's
// KASSERT(record_type == START_TRANSACTION || curthread->t_tnx != 0).
func (w *Writer) requireActive(tnx journal.LSN) {
	if tnx == 0 {
		panic("record: record emitted with no active transaction")
	}
}

// ActiveTnxs returns the set of currently-open transaction ids, the
// input checkpointing folds into its keep-LSN computation.
func (w *Writer) ActiveTnxs() []journal.LSN {
	w.activeLk.Lock()
	defer w.activeLk.Unlock()
	out := make([]journal.LSN, 0, len(w.active))
	for tnx := range w.active {
		out = append(out, tnx)
	}
	return out
}

func (w *Writer) maybeSignalCheckpoint() {
	if w.jnl.Odometer() < w.checkpointBound {
		return
	}
	select {
	case w.checkpointCh <- struct{}{}:
	default:
	}
}

// WriteChangeDirentry appends a CHANGE_DIRENTRY record.
func (w *Writer) WriteChangeDirentry(r ChangeDirentry) defs.Err_t {
	if w.recovering {
		return 0
	}
	w.requireActive(r.Tnx)
	_, err := w.jnl.Append(journal.ClassClient, journal.TypeChangeDirentry, encodeChangeDirentry(r))
	w.maybeSignalCheckpoint()
	return err
}

// WriteAllocBlock appends an ALLOC_BLOCK record.
func (w *Writer) WriteAllocBlock(r Block) defs.Err_t { return w.writeBlockRec(r, journal.TypeAllocBlock) }

// WriteFreeBlock appends a FREE_BLOCK record.
func (w *Writer) WriteFreeBlock(r Block) defs.Err_t { return w.writeBlockRec(r, journal.TypeFreeBlock) }

// WriteZeroBlock appends a ZERO_BLOCK record.
func (w *Writer) WriteZeroBlock(r Block) defs.Err_t { return w.writeBlockRec(r, journal.TypeZeroBlock) }

func (w *Writer) writeBlockRec(r Block, typ int) defs.Err_t {
	if w.recovering {
		return 0
	}
	w.requireActive(r.Tnx)
	_, err := w.jnl.Append(journal.ClassClient, typ, encodeBlock(r))
	w.maybeSignalCheckpoint()
	return err
}

// WriteChangeSize appends a CHANGE_SIZE record.
func (w *Writer) WriteChangeSize(r ChangeSize) defs.Err_t {
	if w.recovering {
		return 0
	}
	w.requireActive(r.Tnx)
	_, err := w.jnl.Append(journal.ClassClient, journal.TypeChangeSize, encodeChangeSize(r))
	w.maybeSignalCheckpoint()
	return err
}

// WriteChangeLinkcount appends a CHANGE_LINK_CNT record.
func (w *Writer) WriteChangeLinkcount(r ChangeLinkcount) defs.Err_t {
	if w.recovering {
		return 0
	}
	w.requireActive(r.Tnx)
	_, err := w.jnl.Append(journal.ClassClient, journal.TypeChangeLinkcount, encodeChangeLinkcount(r))
	w.maybeSignalCheckpoint()
	return err
}

// WriteChangeIndirect appends a CHANGE_INDIRECT_PTR record.
func (w *Writer) WriteChangeIndirect(r ChangeIndirect) defs.Err_t {
	if w.recovering {
		return 0
	}
	w.requireActive(r.Tnx)
	_, err := w.jnl.Append(journal.ClassClient, journal.TypeChangeIndirect, encodeChangeIndirect(r))
	w.maybeSignalCheckpoint()
	return err
}

// WriteChangePtr appends a CHANGE_DIRECT_PTR / CHANGE_INO_IN_INDIRECT record.
func (w *Writer) WriteChangePtr(r ChangePtr) defs.Err_t {
	if w.recovering {
		return 0
	}
	w.requireActive(r.Tnx)
	_, err := w.jnl.Append(journal.ClassClient, journal.TypeChangeDirect, encodeChangePtr(r))
	w.maybeSignalCheckpoint()
	return err
}

// WriteBlockWritten appends a WRITE_BLOCK record, carrying the
// checksum recovery's undo pass verifies against.
func (w *Writer) WriteBlockWritten(r WriteBlock) defs.Err_t {
	if w.recovering {
		return 0
	}
	w.requireActive(r.Tnx)
	_, err := w.jnl.Append(journal.ClassClient, journal.TypeWriteBlock, encodeWriteBlock(r))
	w.maybeSignalCheckpoint()
	return err
}

// WriteChangeInodeType appends a CHANGE_INODE_TYPE record.
func (w *Writer) WriteChangeInodeType(r ChangeInodeType) defs.Err_t {
	if w.recovering {
		return 0
	}
	w.requireActive(r.Tnx)
	_, err := w.jnl.Append(journal.ClassClient, journal.TypeChangeInodeType, encodeChangeInodeType(r))
	w.maybeSignalCheckpoint()
	return err
}

// WriteChangeBlockObj appends a CHANGE_BLOCK_OBJ record.
func (w *Writer) WriteChangeBlockObj(r ChangeBlockObj) defs.Err_t {
	if w.recovering {
		return 0
	}
	w.requireActive(r.Tnx)
	_, err := w.jnl.Append(journal.ClassClient, journal.TypeChangeBlockObj, encodeChangeBlockObj(r))
	w.maybeSignalCheckpoint()
	return err
}

// --- encoding helpers ---
//
// Every *_le struct is packed big-endian, fixed width, with strings
// zero-padded/truncated to nameLen; this is the same discipline
// package fs uses for on-disk structures (fieldr/fieldw), applied to
// journal payloads instead of a block buffer.

func putU64(b []byte, v uint64) []byte { return binary.BigEndian.AppendUint64(b, v) }
func putU32(b []byte, v uint32) []byte { return binary.BigEndian.AppendUint32(b, v) }
func putU16(b []byte, v uint16) []byte { return binary.BigEndian.AppendUint16(b, v) }

func putStr(b []byte, s string, n int) []byte {
	buf := make([]byte, n)
	copy(buf, s)
	return append(b, buf...)
}

func getStr(b []byte, n int) string {
	i := 0
	for i < n && b[i] != 0 {
		i++
	}
	return string(b[:i])
}

func encodeTransaction(t Transaction) []byte {
	b := make([]byte, 0, 12)
	b = putU64(b, uint64(t.Tnx))
	b = putU32(b, uint32(t.Func))
	return b
}

func encodeChangeDirentry(r ChangeDirentry) []byte {
	b := make([]byte, 0, 8+4*3+nameLen*2)
	b = putU64(b, uint64(r.Tnx))
	b = putU32(b, r.Ino)
	b = putU32(b, r.Direntry)
	b = putU32(b, r.OldIno)
	b = putStr(b, r.OldName, nameLen)
	b = putU32(b, r.NewIno)
	b = putStr(b, r.NewName, nameLen)
	return b
}

func encodeBlock(r Block) []byte {
	b := make([]byte, 0, 12)
	b = putU64(b, uint64(r.Tnx))
	b = putU32(b, r.BlockNum)
	return b
}

func encodeChangeSize(r ChangeSize) []byte {
	b := make([]byte, 0, 8+4+4+4+2)
	b = putU64(b, uint64(r.Tnx))
	b = putU32(b, r.Ino)
	b = putU32(b, r.OldSize)
	b = putU32(b, r.NewSize)
	b = putU16(b, r.Type)
	return b
}

func encodeChangeLinkcount(r ChangeLinkcount) []byte {
	b := make([]byte, 0, 8+4+2+2+4)
	b = putU64(b, uint64(r.Tnx))
	b = putU32(b, r.Ino)
	b = putU16(b, r.OldCount)
	b = putU16(b, r.NewCount)
	b = putU32(b, r.InodeType)
	return b
}

func encodeChangeIndirect(r ChangeIndirect) []byte {
	b := make([]byte, 0, 8+4+4+4+4+2)
	b = putU64(b, uint64(r.Tnx))
	b = putU32(b, r.Ino)
	b = putU32(b, uint32(r.Level))
	b = putU32(b, r.OldPtr)
	b = putU32(b, r.NewPtr)
	b = putU16(b, r.Type)
	return b
}

func encodeChangePtr(r ChangePtr) []byte {
	b := make([]byte, 0, 8+4*4+2)
	b = putU64(b, uint64(r.Tnx))
	b = putU32(b, r.Ino)
	b = putU32(b, r.PtrNum)
	b = putU32(b, r.OldPtr)
	b = putU32(b, r.NewPtr)
	b = putU16(b, r.Type)
	return b
}

func encodeWriteBlock(r WriteBlock) []byte {
	b := make([]byte, 0, 16)
	b = putU64(b, uint64(r.Tnx))
	b = putU32(b, r.Block)
	b = putU32(b, r.Checksum)
	return b
}

func encodeChangeInodeType(r ChangeInodeType) []byte {
	b := make([]byte, 0, 8+4+2+2)
	b = putU64(b, uint64(r.Tnx))
	b = putU32(b, r.Ino)
	b = putU16(b, r.OldType)
	b = putU16(b, r.NewType)
	return b
}

func encodeChangeBlockObj(r ChangeBlockObj) []byte {
	b := make([]byte, 0, 8+4*4)
	b = putU64(b, uint64(r.Tnx))
	b = putU32(b, r.BlockNum)
	b = putU32(b, r.Offset)
	b = putU32(b, r.OldVal)
	b = putU32(b, r.NewVal)
	return b
}

// --- decoding helpers, used by package recovery ---

func DecodeTransaction(b []byte) Transaction {
	return Transaction{
		Tnx:  journal.LSN(binary.BigEndian.Uint64(b[0:8])),
		Func: LogFunc(binary.BigEndian.Uint32(b[8:12])),
	}
}

func DecodeChangeDirentry(b []byte) ChangeDirentry {
	r := ChangeDirentry{}
	r.Tnx = journal.LSN(binary.BigEndian.Uint64(b[0:8]))
	r.Ino = binary.BigEndian.Uint32(b[8:12])
	r.Direntry = binary.BigEndian.Uint32(b[12:16])
	r.OldIno = binary.BigEndian.Uint32(b[16:20])
	r.OldName = getStr(b[20:20+nameLen], nameLen)
	off := 20 + nameLen
	r.NewIno = binary.BigEndian.Uint32(b[off : off+4])
	r.NewName = getStr(b[off+4:off+4+nameLen], nameLen)
	return r
}

func DecodeBlock(b []byte) Block {
	return Block{
		Tnx:      journal.LSN(binary.BigEndian.Uint64(b[0:8])),
		BlockNum: binary.BigEndian.Uint32(b[8:12]),
	}
}

func DecodeChangeSize(b []byte) ChangeSize {
	return ChangeSize{
		Tnx:     journal.LSN(binary.BigEndian.Uint64(b[0:8])),
		Ino:     binary.BigEndian.Uint32(b[8:12]),
		OldSize: binary.BigEndian.Uint32(b[12:16]),
		NewSize: binary.BigEndian.Uint32(b[16:20]),
		Type:    binary.BigEndian.Uint16(b[20:22]),
	}
}

func DecodeChangeLinkcount(b []byte) ChangeLinkcount {
	return ChangeLinkcount{
		Tnx:       journal.LSN(binary.BigEndian.Uint64(b[0:8])),
		Ino:       binary.BigEndian.Uint32(b[8:12]),
		OldCount:  binary.BigEndian.Uint16(b[12:14]),
		NewCount:  binary.BigEndian.Uint16(b[14:16]),
		InodeType: binary.BigEndian.Uint32(b[16:20]),
	}
}

func DecodeChangeIndirect(b []byte) ChangeIndirect {
	return ChangeIndirect{
		Tnx:    journal.LSN(binary.BigEndian.Uint64(b[0:8])),
		Ino:    binary.BigEndian.Uint32(b[8:12]),
		Level:  IndirectionLevel(binary.BigEndian.Uint32(b[12:16])),
		OldPtr: binary.BigEndian.Uint32(b[16:20]),
		NewPtr: binary.BigEndian.Uint32(b[20:24]),
		Type:   binary.BigEndian.Uint16(b[24:26]),
	}
}

func DecodeChangePtr(b []byte) ChangePtr {
	return ChangePtr{
		Tnx:    journal.LSN(binary.BigEndian.Uint64(b[0:8])),
		Ino:    binary.BigEndian.Uint32(b[8:12]),
		PtrNum: binary.BigEndian.Uint32(b[12:16]),
		OldPtr: binary.BigEndian.Uint32(b[16:20]),
		NewPtr: binary.BigEndian.Uint32(b[20:24]),
		Type:   binary.BigEndian.Uint16(b[24:26]),
	}
}

func DecodeWriteBlock(b []byte) WriteBlock {
	return WriteBlock{
		Tnx:      journal.LSN(binary.BigEndian.Uint64(b[0:8])),
		Block:    binary.BigEndian.Uint32(b[8:12]),
		Checksum: binary.BigEndian.Uint32(b[12:16]),
	}
}

func DecodeChangeInodeType(b []byte) ChangeInodeType {
	return ChangeInodeType{
		Tnx:     journal.LSN(binary.BigEndian.Uint64(b[0:8])),
		Ino:     binary.BigEndian.Uint32(b[8:12]),
		OldType: binary.BigEndian.Uint16(b[12:14]),
		NewType: binary.BigEndian.Uint16(b[14:16]),
	}
}

func DecodeChangeBlockObj(b []byte) ChangeBlockObj {
	return ChangeBlockObj{
		Tnx:      journal.LSN(binary.BigEndian.Uint64(b[0:8])),
		BlockNum: binary.BigEndian.Uint32(b[8:12]),
		Offset:   binary.BigEndian.Uint32(b[12:16]),
		OldVal:   binary.BigEndian.Uint32(b[16:20]),
		NewVal:   binary.BigEndian.Uint32(b[20:24]),
	}
}
