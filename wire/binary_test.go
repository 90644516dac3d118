package wire

import (
	"errors"
	"reflect"
	"testing"
)

func mustEncode(t *testing.T, c Codec, f *Frame) []byte {
	t.Helper()
	b, err := c.Encode(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b
}

func TestBinaryRoundTrip(t *testing.T) {
	f := &Frame{
		Source:  "alice",
		Target:  "bob",
		Command: "message",
		KVal:    map[string][]string{"body": {"hello there"}},
	}
	b := mustEncode(t, Binary{}, f)

	got, consumed, err := Binary{}.Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if consumed != len(b) {
		t.Fatalf("consumed = %d, want %d", consumed, len(b))
	}
	if !reflect.DeepEqual(got, f) {
		t.Fatalf("got %+v, want %+v", got, f)
	}
}

func TestBinaryRoundTripNoKVal(t *testing.T) {
	f := &Frame{Source: "=srv", Target: "*", Command: "ping", KVal: map[string][]string{}}
	b := mustEncode(t, Binary{}, f)

	got, consumed, err := Binary{}.Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if consumed != len(b) {
		t.Fatalf("consumed = %d, want %d", consumed, len(b))
	}
	if got.Source != f.Source || got.Target != f.Target || got.Command != f.Command {
		t.Fatalf("got %+v, want %+v", got, f)
	}
}

func TestBinaryIncompleteBuffersMore(t *testing.T) {
	f := &Frame{Source: "a", Target: "b", Command: "c", KVal: nil}
	full := mustEncode(t, Binary{}, f)

	_, consumed, err := Binary{}.Decode(full[:len(full)-1])
	if !errors.Is(err, ErrIncomplete) {
		t.Fatalf("err = %v, want ErrIncomplete", err)
	}
	if consumed != 0 {
		t.Fatalf("consumed = %d, want 0", consumed)
	}
}

func TestBinaryOversizeDeclaredLength(t *testing.T) {
	buf := make([]byte, 32)
	buf[0] = 0x05 // 0x05dc = 1500, which exceeds MaxFrame
	buf[1] = 0xdc

	_, consumed, err := Binary{}.Decode(buf)
	if !errors.Is(err, ErrOversize) {
		t.Fatalf("err = %v, want ErrOversize", err)
	}
	if consumed != len(buf) {
		t.Fatalf("consumed = %d, want %d (whole buffer discarded)", consumed, len(buf))
	}
}

func TestBinaryDuplicateValueRejected(t *testing.T) {
	f := &Frame{
		Source: "a", Target: "b", Command: "c",
	}
	// Hand-construct a frame with two identical values under the same key,
	// which Encode would never produce (it comes from a map), to exercise
	// the decoder's duplicate check directly.
	payload := []byte("a\x00b\x00c\x00k\x00v\x00k\x00v\x00\x00")
	buf := make([]byte, 3+len(payload))
	total := len(buf)
	buf[0] = byte(total >> 8)
	buf[1] = byte(total)
	buf[2] = 0
	copy(buf[3:], payload)

	_, consumed, err := Binary{}.Decode(buf)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	if consumed != len(buf) {
		t.Fatalf("consumed = %d, want %d", consumed, len(buf))
	}
	_ = f
}

func TestBinaryOddTokenPadding(t *testing.T) {
	// source, target, command, then a lone key with no value: padded with "*".
	payload := []byte("a\x00b\x00c\x00onlykey\x00\x00")
	buf := make([]byte, 3+len(payload))
	total := len(buf)
	buf[0] = byte(total >> 8)
	buf[1] = byte(total)
	buf[2] = 0
	copy(buf[3:], payload)

	got, _, err := Binary{}.Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v := got.KVal["onlykey"]; len(v) != 1 || v[0] != "*" {
		t.Fatalf("onlykey = %v, want [*]", v)
	}
}

func TestBinaryTwoFramesBackToBack(t *testing.T) {
	f1 := &Frame{Source: "a", Target: "b", Command: "ping", KVal: nil}
	f2 := &Frame{Source: "c", Target: "d", Command: "pong", KVal: nil}
	buf := append(mustEncode(t, Binary{}, f1), mustEncode(t, Binary{}, f2)...)

	got1, n1, err := Binary{}.Decode(buf)
	if err != nil {
		t.Fatalf("decode frame 1: %v", err)
	}
	got2, n2, err := Binary{}.Decode(buf[n1:])
	if err != nil {
		t.Fatalf("decode frame 2: %v", err)
	}
	if got1.Command != "ping" || got2.Command != "pong" {
		t.Fatalf("got commands %q, %q", got1.Command, got2.Command)
	}
	if n1+n2 != len(buf) {
		t.Fatalf("consumed %d+%d != %d", n1, n2, len(buf))
	}
}

func TestBinaryEncodeOversize(t *testing.T) {
	big := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		big = append(big, "0123456789")
	}
	f := &Frame{Source: "a", Target: "b", Command: "c", KVal: map[string][]string{"body": big}}
	_, err := Binary{}.Encode(f)
	if !errors.Is(err, ErrOversize) {
		t.Fatalf("err = %v, want ErrOversize", err)
	}
}

func TestBinaryFitDecreasesWithKVal(t *testing.T) {
	base := Binary{}.Fit("message", nil)
	withKV := Binary{}.Fit("message", map[string][]string{"body": {"x"}})
	if withKV >= base {
		t.Fatalf("fit with kval (%d) should be less than base fit (%d)", withKV, base)
	}
}

func TestBinaryInvalidUTF8Replaced(t *testing.T) {
	payload := append([]byte("a\x00b\x00c\x00"), 0xff, 0xfe)
	payload = append(payload, 0, 0)
	buf := make([]byte, 3+len(payload))
	total := len(buf)
	buf[0] = byte(total >> 8)
	buf[1] = byte(total)
	buf[2] = 0
	copy(buf[3:], payload)

	// Invalid bytes land inside what would be parsed as a trailing odd
	// token; decoding must not error out over malformed UTF-8.
	if _, _, err := (Binary{}).Decode(buf); err != nil {
		t.Fatalf("decode: %v", err)
	}
}
