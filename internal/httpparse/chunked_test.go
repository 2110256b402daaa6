package httpparse

import "testing"

func TestChunkedDecoderSimple(t *testing.T) {
	d := NewChunkedDecoder()
	var out []byte
	in := []byte("5\r\nhello\r\n0\r\n\r\n")
	consumed, done, err := d.Feed(in, &out)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if !done {
		t.Fatalf("expected done")
	}
	if consumed != len(in) {
		t.Fatalf("expected to consume all input, got %d/%d", consumed, len(in))
	}
	if string(out) != "hello" {
		t.Fatalf("expected body %q, got %q", "hello", out)
	}
}

func TestChunkedDecoderMultipleChunks(t *testing.T) {
	d := NewChunkedDecoder()
	var out []byte
	in := []byte("4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n")
	_, done, err := d.Feed(in, &out)
	if err != nil || !done {
		t.Fatalf("Feed: done=%v err=%v", done, err)
	}
	if string(out) != "Wikipedia" {
		t.Fatalf("expected %q, got %q", "Wikipedia", out)
	}
}

func TestChunkedDecoderAcrossFeeds(t *testing.T) {
	d := NewChunkedDecoder()
	var out []byte
	_, done, err := d.Feed([]byte("5\r\nhel"), &out)
	if err != nil || done {
		t.Fatalf("unexpected done/err: %v %v", done, err)
	}
	_, done, err = d.Feed([]byte("lo\r\n0\r\n\r\n"), &out)
	if err != nil || !done {
		t.Fatalf("expected done: %v %v", done, err)
	}
	if string(out) != "hello" {
		t.Fatalf("expected %q, got %q", "hello", out)
	}
}

func TestChunkedDecoderRejectsBadTerminator(t *testing.T) {
	d := NewChunkedDecoder()
	var out []byte
	_, _, err := d.Feed([]byte("5\r\nhelloXX0\r\n\r\n"), &out)
	if err != ErrMalformedChunk {
		t.Fatalf("expected ErrMalformedChunk, got %v", err)
	}
}

func TestChunkedDecoderWithExtensionsAndTrailers(t *testing.T) {
	d := NewChunkedDecoder()
	var out []byte
	in := []byte("5;ext=1\r\nhello\r\n0\r\nX-Trailer: a\r\n\r\n")
	_, done, err := d.Feed(in, &out)
	if err != nil || !done {
		t.Fatalf("Feed: done=%v err=%v", done, err)
	}
	if string(out) != "hello" {
		t.Fatalf("expected %q, got %q", "hello", out)
	}
}
