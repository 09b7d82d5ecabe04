package entry

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}

	for seq := uint64(1); seq <= 10; seq++ {
		rec := NewRecord(RecordPlace, seq, []byte(fmt.Sprintf("payload-%d", seq)))
		if err := w.Append(rec); err != nil {
			t.Fatalf("append %d: %v", seq, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	var got []uint64
	lastSeq, err := Replay(dir, func(r *Record) error {
		got = append(got, r.Seq)
		want := []byte(fmt.Sprintf("payload-%d", r.Seq))
		if !bytes.Equal(r.Data, want) {
			t.Errorf("seq %d: payload %q, want %q", r.Seq, r.Data, want)
		}
		if r.Type != RecordPlace {
			t.Errorf("seq %d: type %d", r.Seq, r.Type)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if lastSeq != 10 || len(got) != 10 {
		t.Errorf("replayed %d records, lastSeq %d", len(got), lastSeq)
	}
	for i, seq := range got {
		if seq != uint64(i+1) {
			t.Fatalf("record %d has seq %d", i, seq)
		}
	}
}

func TestReopenContinuesSegment(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Append(NewRecord(RecordDeposit, 1, []byte("a"))); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	w, err = Open(Config{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Append(NewRecord(RecordDeposit, 2, []byte("b"))); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	lastSeq, err := Replay(dir, func(*Record) error { return nil })
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if lastSeq != 2 {
		t.Errorf("lastSeq = %d, want 2", lastSeq)
	}
}

func TestSegmentRotation(t *testing.T) {
	dir := t.TempDir()
	// Tiny segment cap forces a rotation on nearly every append.
	w, err := Open(Config{Dir: dir, SegmentSize: 64})
	if err != nil {
		t.Fatal(err)
	}
	for seq := uint64(1); seq <= 8; seq++ {
		if err := w.Append(NewRecord(RecordCancel, seq, []byte("0123456789012345678901234567890123456789"))); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	files, _ := filepath.Glob(filepath.Join(dir, "segment-*.wal"))
	if len(files) < 2 {
		t.Fatalf("expected multiple segments, got %d", len(files))
	}

	lastSeq, err := Replay(dir, func(*Record) error { return nil })
	if err != nil {
		t.Fatalf("replay across segments: %v", err)
	}
	if lastSeq != 8 {
		t.Errorf("lastSeq = %d, want 8", lastSeq)
	}
}

func TestTruncateBefore(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir, SegmentSize: 64})
	if err != nil {
		t.Fatal(err)
	}
	for seq := uint64(1); seq <= 8; seq++ {
		if err := w.Append(NewRecord(RecordPlace, seq, []byte("0123456789012345678901234567890123456789"))); err != nil {
			t.Fatal(err)
		}
	}

	if err := w.TruncateBefore(4); err != nil {
		t.Fatal(err)
	}
	firstSeq := uint64(0)
	lastSeq, err := Replay(dir, func(r *Record) error {
		if firstSeq == 0 {
			firstSeq = r.Seq
		}
		return nil
	})
	if err != nil {
		t.Fatalf("replay after truncate: %v", err)
	}
	if firstSeq != 5 {
		t.Errorf("first surviving seq = %d, want 5", firstSeq)
	}
	if lastSeq != 8 {
		t.Errorf("lastSeq = %d, want 8 (tail must survive truncation)", lastSeq)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

// A torn final frame stops replay at the last intact record instead of
// failing.
func TestReplayToleratesTornTail(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	for seq := uint64(1); seq <= 3; seq++ {
		if err := w.Append(NewRecord(RecordWithdraw, seq, []byte("payload"))); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, segmentName(0))
	st, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(path, st.Size()-5); err != nil {
		t.Fatal(err)
	}

	lastSeq, err := Replay(dir, func(*Record) error { return nil })
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if lastSeq != 2 {
		t.Errorf("lastSeq = %d, want 2", lastSeq)
	}
}

// A CRC mismatch on the very last frame is a torn tail: replay stops at the
// last intact record instead of failing.
func TestReplayToleratesCorruptFinalFrame(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	for seq := uint64(1); seq <= 3; seq++ {
		if err := w.Append(NewRecord(RecordPlace, seq, []byte("payload"))); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	// Flip a payload byte inside the last frame, leaving the frame complete.
	path := filepath.Join(dir, segmentName(0))
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	frameLen := 21 + len("payload") + 4
	raw[len(raw)-frameLen+21] ^= 0xff
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	lastSeq, err := Replay(dir, func(*Record) error { return nil })
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if lastSeq != 2 {
		t.Errorf("lastSeq = %d, want 2", lastSeq)
	}
}

func TestReplayDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Append(NewRecord(RecordPlace, 1, []byte("first"))); err != nil {
		t.Fatal(err)
	}
	if err := w.Append(NewRecord(RecordPlace, 2, []byte("second"))); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	// Flip a payload byte inside the first frame; its CRC no longer matches.
	path := filepath.Join(dir, segmentName(0))
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	raw[22] ^= 0xff
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Replay(dir, func(*Record) error { return nil }); err == nil {
		t.Fatal("expected replay to surface mid-file corruption")
	}
}
