package connbuf_test

import (
	"bytes"
	"testing"

	"github.com/momentics/xmpp-reactor/internal/connbuf"
)

func TestQueuePushAndConcat(t *testing.T) {
	q := connbuf.New()
	q.PushBack([]byte("hello "))
	q.PushBack([]byte("world"))

	if got := q.Concat(); !bytes.Equal(got, []byte("hello world")) {
		t.Fatalf("unexpected concat result: %q", got)
	}
	if q.Len() != 11 {
		t.Fatalf("expected len 11, got %d", q.Len())
	}
}

func TestQueueConsumeFrontPartialChunk(t *testing.T) {
	q := connbuf.New()
	q.PushBack([]byte("abcdef"))
	q.PushBack([]byte("ghij"))

	q.ConsumeFront(3) // consume "abc"
	if got := q.Concat(); !bytes.Equal(got, []byte("defghij")) {
		t.Fatalf("unexpected remainder: %q", got)
	}
	if q.Len() != 7 {
		t.Fatalf("expected len 7, got %d", q.Len())
	}
}

func TestQueueConsumeFrontWholeChunks(t *testing.T) {
	q := connbuf.New()
	q.PushBack([]byte("abc"))
	q.PushBack([]byte("def"))

	q.ConsumeFront(3)
	if got := q.Concat(); !bytes.Equal(got, []byte("def")) {
		t.Fatalf("unexpected remainder: %q", got)
	}

	q.ConsumeFront(3)
	if !q.Empty() {
		t.Fatal("expected queue empty after consuming every byte")
	}
}

func TestQueueReset(t *testing.T) {
	q := connbuf.New()
	q.PushBack([]byte("abc"))
	q.Reset()
	if !q.Empty() || q.Len() != 0 {
		t.Fatal("expected empty queue after Reset")
	}
}

func TestQueueEmptyChunkIgnored(t *testing.T) {
	q := connbuf.New()
	q.PushBack(nil)
	q.PushBack([]byte{})
	if !q.Empty() {
		t.Fatal("expected queue to ignore zero-length pushes")
	}
}
