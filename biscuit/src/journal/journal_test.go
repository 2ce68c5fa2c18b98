package journal

import "testing"

func TestMakeParseHeaderRoundtrip(t *testing.T) {
	cases := []struct {
		class, typ, length int
		lsn                LSN
	}{
		{ClassContainer, TypePad, 8, 0},
		{ClassClient, TypeStartTransaction, 16, 1},
		{ClassClient, TypeWriteBlock, 64, (1 << 48) - 1},
	}
	for _, c := range cases {
		hdr := MakeHeader(c.class, c.typ, c.length, c.lsn)
		gotClass, gotTyp, gotLen, gotLSN := ParseHeader(hdr)
		if gotClass != c.class || gotTyp != c.typ || gotLSN != c.lsn {
			t.Fatalf("roundtrip mismatch: got (%d,%d,%d,%d) want (%d,%d,%d,%d)",
				gotClass, gotTyp, gotLen, gotLSN, c.class, c.typ, c.length, c.lsn)
		}
		// length is rounded up to a whole 2-byte unit by the packed field.
		if gotLen < c.length-1 || gotLen > c.length+1 {
			t.Fatalf("length drifted too far: got %d want ~%d", gotLen, c.length)
		}
	}
}

func TestAppendAssignsIncreasingLSNs(t *testing.T) {
	jnl := New(4)
	first, err := jnl.Append(ClassClient, TypeStartTransaction, nil)
	if err != 0 {
		t.Fatalf("append failed: %v", err)
	}
	if first != 1 {
		t.Fatalf("first LSN = %d, want 1 (LSN 0 reserved)", first)
	}
	second, err := jnl.Append(ClassClient, TypeEndTransaction, nil)
	if err != 0 {
		t.Fatalf("append failed: %v", err)
	}
	if second != first+1 {
		t.Fatalf("second LSN = %d, want %d", second, first+1)
	}
	if got := jnl.PeekNextLSN(); got != second+1 {
		t.Fatalf("PeekNextLSN = %d, want %d", got, second+1)
	}
}

func TestAppendRejectsOversizedRecord(t *testing.T) {
	jnl := New(1)
	payload := make([]byte, BlockSize)
	if _, err := jnl.Append(ClassClient, TypeWriteBlock, payload); err == 0 {
		t.Fatalf("expected an error for a payload that cannot fit in one block")
	}
}

func TestReadFromReturnsAppendedRecords(t *testing.T) {
	jnl := New(4)
	payload := []byte("hello")
	lsn, err := jnl.Append(ClassClient, TypeChangeDirentry, payload)
	if err != 0 {
		t.Fatalf("append failed: %v", err)
	}
	recs := jnl.ReadFrom(0)
	if len(recs) != 1 {
		t.Fatalf("ReadFrom returned %d records, want 1", len(recs))
	}
	got := recs[0]
	if got.LSN != lsn || got.Type != TypeChangeDirentry || got.Class != ClassClient {
		t.Fatalf("decoded record mismatch: %+v", got)
	}
	if string(got.Payload) != string(payload) {
		t.Fatalf("payload mismatch: got %q want %q", got.Payload, payload)
	}
}

func TestReadFromFiltersByLSN(t *testing.T) {
	jnl := New(4)
	first, _ := jnl.Append(ClassClient, TypeAllocBlock, []byte{1})
	second, _ := jnl.Append(ClassClient, TypeFreeBlock, []byte{2})

	recs := jnl.ReadFrom(second)
	if len(recs) != 1 || recs[0].LSN != second {
		t.Fatalf("ReadFrom(%d) = %+v, want only LSN %d", second, recs, second)
	}
	_ = first
}

func TestTrimAdvancesTrimmedToAndResetsOdometer(t *testing.T) {
	jnl := New(4)
	jnl.Append(ClassClient, TypeStartTransaction, nil)
	if jnl.Odometer() == 0 {
		t.Fatalf("odometer should be non-zero after an append")
	}
	jnl.Trim(1)
	if jnl.TrimmedTo() != 1 {
		t.Fatalf("TrimmedTo() = %d, want 1", jnl.TrimmedTo())
	}
	if jnl.Odometer() != 0 {
		t.Fatalf("odometer should reset to 0 after a trim")
	}
	// Trim never moves backward.
	jnl.Trim(0)
	if jnl.TrimmedTo() != 1 {
		t.Fatalf("Trim should not move trimmedTo backward, got %d", jnl.TrimmedTo())
	}
}
