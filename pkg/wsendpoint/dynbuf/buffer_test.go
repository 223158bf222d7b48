package dynbuf

import (
	"bytes"
	"testing"
)

func TestWriteAndBytes(t *testing.T) {
	b := Get()
	defer b.Release()

	b.Write([]byte("hello"))
	b.Write([]byte(" world"))

	if got := b.Bytes(); !bytes.Equal(got, []byte("hello world")) {
		t.Fatalf("Bytes() = %q, want %q", got, "hello world")
	}
	if b.Len() != 11 {
		t.Fatalf("Len() = %d, want 11", b.Len())
	}
}

func TestConsumePrefix(t *testing.T) {
	b := Get()
	defer b.Release()

	b.Write([]byte("abcdefgh"))
	b.ConsumePrefix(3)

	if got := b.Bytes(); !bytes.Equal(got, []byte("defgh")) {
		t.Fatalf("Bytes() after ConsumePrefix(3) = %q, want %q", got, "defgh")
	}

	b.ConsumePrefix(0)
	if got := b.Bytes(); !bytes.Equal(got, []byte("defgh")) {
		t.Fatalf("ConsumePrefix(0) mutated buffer: %q", got)
	}

	b.ConsumePrefix(5)
	if b.Len() != 0 {
		t.Fatalf("Len() after consuming everything = %d, want 0", b.Len())
	}
}

func TestResetAndReuse(t *testing.T) {
	b := Get()
	defer b.Release()

	b.Write([]byte("stale"))
	b.Reset()

	if b.Len() != 0 {
		t.Fatalf("Len() after Reset() = %d, want 0", b.Len())
	}
	b.Write([]byte("fresh"))
	if got := b.Bytes(); !bytes.Equal(got, []byte("fresh")) {
		t.Fatalf("Bytes() after Reset()+Write = %q, want %q", got, "fresh")
	}
}
