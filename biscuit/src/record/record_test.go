package record

import (
	"testing"

	"journal"
)

func newWriter(t *testing.T) (*Writer, *journal.Container) {
	t.Helper()
	jnl := journal.New(64)
	return NewWriter(jnl, 1<<30), jnl
}

func TestStartEndTransactionLifecycle(t *testing.T) {
	w, _ := newWriter(t)

	tnx, err := w.StartTransaction(FuncCreat)
	if err != 0 {
		t.Fatalf("StartTransaction failed: %v", err)
	}
	if tnx == 0 {
		t.Fatalf("StartTransaction returned a zero transaction id")
	}

	active := w.ActiveTnxs()
	if len(active) != 1 || active[0] != tnx {
		t.Fatalf("ActiveTnxs = %v, want [%d]", active, tnx)
	}

	if err := w.EndTransaction(tnx, FuncCreat); err != 0 {
		t.Fatalf("EndTransaction failed: %v", err)
	}
	if len(w.ActiveTnxs()) != 0 {
		t.Fatalf("transaction still active after EndTransaction")
	}
}

func TestAbortTransactionRetiresId(t *testing.T) {
	w, _ := newWriter(t)
	tnx, _ := w.StartTransaction(FuncRemove)
	if err := w.AbortTransaction(tnx, FuncRemove); err != 0 {
		t.Fatalf("AbortTransaction failed: %v", err)
	}
	if len(w.ActiveTnxs()) != 0 {
		t.Fatalf("transaction still active after AbortTransaction")
	}
}

func TestEndingInactiveTransactionPanics(t *testing.T) {
	w, _ := newWriter(t)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic ending a transaction that was never started")
		}
	}()
	w.EndTransaction(999, FuncCreat)
}

func TestWriteWithoutActiveTransactionPanics(t *testing.T) {
	w, _ := newWriter(t)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic writing a record with tnx == 0")
		}
	}()
	w.WriteAllocBlock(Block{Tnx: 0, BlockNum: 5})
}

func TestRecoveringSuppressesWrites(t *testing.T) {
	w, jnl := newWriter(t)
	w.SetRecovering(true)

	tnx, err := w.StartTransaction(FuncCreat)
	if err != 0 || tnx != 0 {
		t.Fatalf("StartTransaction during recovery should no-op, got tnx=%d err=%v", tnx, err)
	}
	if got := jnl.PeekNextLSN(); got != 1 {
		t.Fatalf("journal should be untouched during recovery, PeekNextLSN = %d", got)
	}
}

func TestWriteAllocBlockAppendsDecodableRecord(t *testing.T) {
	w, jnl := newWriter(t)
	tnx, _ := w.StartTransaction(FuncCreat)
	if err := w.WriteAllocBlock(Block{Tnx: tnx, BlockNum: 42}); err != 0 {
		t.Fatalf("WriteAllocBlock failed: %v", err)
	}

	recs := jnl.ReadFrom(0)
	var found bool
	for _, r := range recs {
		if r.Type == journal.TypeAllocBlock {
			got := DecodeBlock(r.Payload)
			if got.Tnx != tnx || got.BlockNum != 42 {
				t.Fatalf("decoded block mismatch: %+v", got)
			}
			found = true
		}
	}
	if !found {
		t.Fatalf("no ALLOC_BLOCK record found in journal")
	}
}

func TestEncodeDecodeRoundtrips(t *testing.T) {
	cd := ChangeDirentry{Tnx: 7, Ino: 1, Direntry: 2, OldIno: 3, OldName: "old", NewIno: 4, NewName: "new"}
	if got := DecodeChangeDirentry(encodeChangeDirentry(cd)); got != cd {
		t.Fatalf("ChangeDirentry roundtrip mismatch: got %+v want %+v", got, cd)
	}

	cs := ChangeSize{Tnx: 1, Ino: 2, OldSize: 0, NewSize: 4096, Type: 1}
	if got := DecodeChangeSize(encodeChangeSize(cs)); got != cs {
		t.Fatalf("ChangeSize roundtrip mismatch: got %+v want %+v", got, cs)
	}

	cl := ChangeLinkcount{Tnx: 1, Ino: 2, OldCount: 1, NewCount: 2, InodeType: 1}
	if got := DecodeChangeLinkcount(encodeChangeLinkcount(cl)); got != cl {
		t.Fatalf("ChangeLinkcount roundtrip mismatch: got %+v want %+v", got, cl)
	}

	ci := ChangeIndirect{Tnx: 1, Ino: 2, Level: Double, OldPtr: 10, NewPtr: 20, Type: 1}
	if got := DecodeChangeIndirect(encodeChangeIndirect(ci)); got != ci {
		t.Fatalf("ChangeIndirect roundtrip mismatch: got %+v want %+v", got, ci)
	}

	cp := ChangePtr{Tnx: 1, Ino: 2, PtrNum: 3, OldPtr: 10, NewPtr: 20, Type: 1}
	if got := DecodeChangePtr(encodeChangePtr(cp)); got != cp {
		t.Fatalf("ChangePtr roundtrip mismatch: got %+v want %+v", got, cp)
	}

	wb := WriteBlock{Tnx: 1, Block: 9, Checksum: 0xdeadbeef}
	if got := DecodeWriteBlock(encodeWriteBlock(wb)); got != wb {
		t.Fatalf("WriteBlock roundtrip mismatch: got %+v want %+v", got, wb)
	}

	cit := ChangeInodeType{Tnx: 1, Ino: 2, OldType: 1, NewType: 2}
	if got := DecodeChangeInodeType(encodeChangeInodeType(cit)); got != cit {
		t.Fatalf("ChangeInodeType roundtrip mismatch: got %+v want %+v", got, cit)
	}

	cbo := ChangeBlockObj{Tnx: 1, BlockNum: 9, Offset: 4, OldVal: 1, NewVal: 2}
	if got := DecodeChangeBlockObj(encodeChangeBlockObj(cbo)); got != cbo {
		t.Fatalf("ChangeBlockObj roundtrip mismatch: got %+v want %+v", got, cbo)
	}

	tr := Transaction{Tnx: 1, Func: FuncMkdir}
	if got := DecodeTransaction(encodeTransaction(tr)); got != tr {
		t.Fatalf("Transaction roundtrip mismatch: got %+v want %+v", got, tr)
	}

	blk := Block{Tnx: 1, BlockNum: 55}
	if got := DecodeBlock(encodeBlock(blk)); got != blk {
		t.Fatalf("Block roundtrip mismatch: got %+v want %+v", got, blk)
	}
}

func TestCheckpointSignalFiresWhenBoundCrossed(t *testing.T) {
	jnl := journal.New(64)
	w := NewWriter(jnl, 1) // any single append crosses this bound
	w.StartTransaction(FuncCreat)

	select {
	case <-w.CheckpointSignal():
	default:
		t.Fatalf("expected a checkpoint signal after crossing the bound")
	}
}
