package plugins

import (
	"bytes"
	"testing"
)

var emptyModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func TestAppendCustomSection_RoundTrip(t *testing.T) {
	out, err := AppendCustomSection(emptyModule, "loom.test", []byte("payload"))
	if err != nil {
		t.Fatalf("AppendCustomSection failed: %v", err)
	}
	if !bytes.HasPrefix(out, emptyModule) {
		t.Error("Appending must preserve the original bytes")
	}
	got := CustomSection(out, "loom.test")
	if string(got) != "payload" {
		t.Errorf("CustomSection = %q, want %q", got, "payload")
	}
	if CustomSection(out, "other") != nil {
		t.Error("Lookup of absent section must return nil")
	}
}

func TestAppendCustomSection_MultipleSections(t *testing.T) {
	out, err := AppendCustomSection(emptyModule, "first", []byte("a"))
	if err != nil {
		t.Fatalf("First append failed: %v", err)
	}
	out, err = AppendCustomSection(out, "second", []byte("b"))
	if err != nil {
		t.Fatalf("Second append failed: %v", err)
	}
	if string(CustomSection(out, "first")) != "a" || string(CustomSection(out, "second")) != "b" {
		t.Error("Both sections must survive")
	}
}

func TestAppendCustomSection_RejectsNonWasm(t *testing.T) {
	if _, err := AppendCustomSection([]byte("not wasm"), "x", nil); err == nil {
		t.Error("Non-wasm input must be rejected")
	}
}

func TestCustomSection_EmptyPayload(t *testing.T) {
	out, err := AppendCustomSection(emptyModule, "marker", nil)
	if err != nil {
		t.Fatalf("AppendCustomSection failed: %v", err)
	}
	if !HasCustomSection(out, "marker") {
		t.Error("Empty-payload section must still be found")
	}
}

func TestCustomSection_TruncatedInput(t *testing.T) {
	out, err := AppendCustomSection(emptyModule, "loom.test", []byte("payload"))
	if err != nil {
		t.Fatalf("AppendCustomSection failed: %v", err)
	}
	// Cut the section body short; lookup must fail cleanly, not panic.
	truncated := out[:len(out)-3]
	if CustomSection(truncated, "loom.test") != nil {
		t.Error("Truncated section must not be returned")
	}
}

func TestUleb128(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 300, 1 << 20, 1<<63 + 7} {
		enc := appendUleb(nil, v)
		got, n, err := readUleb(enc)
		if err != nil {
			t.Fatalf("readUleb(%d) failed: %v", v, err)
		}
		if got != v || n != len(enc) {
			t.Errorf("Round trip of %d = %d (%d bytes of %d)", v, got, n, len(enc))
		}
	}
	if _, _, err := readUleb([]byte{0x80, 0x80}); err == nil {
		t.Error("Truncated encoding must error")
	}
}
