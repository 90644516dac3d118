package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/valyala/bytebufferpool"
)

// binaryOversizeSlack mirrors the original implementation's 20-byte safety
// margin on encode: a binary frame is kept under MaxFrame-20 so that the
// same logical payload would also still fit inside the JSON dialect's
// MaxFrame budget, letting a server swap dialects without re-checking size.
const binaryOversizeSlack = 20

// Binary implements the length-prefixed, null-separated wire dialect:
//
//	[len_hi][len_lo][0x00][source][0x00][target][0x00][command][0x00]
//	  ( [key][0x00][value][0x00] )*  [0x00]
//
// len is big-endian and counts the whole frame, including the two length
// bytes and the separator byte that follows them.
type Binary struct{}

var bufPool bytebufferpool.Pool

// Decode implements Codec.
func (Binary) Decode(buf []byte) (*Frame, int, error) {
	if len(buf) < 3 {
		return nil, 0, ErrIncomplete
	}

	declared := int(binary.BigEndian.Uint16(buf[:2]))
	if declared > MaxFrame {
		// The declared length alone is unrecoverable; there is no reliable
		// resync point, so the caller must discard everything buffered.
		return nil, len(buf), fmt.Errorf("%w: declared length %d exceeds %d", ErrOversize, declared, MaxFrame)
	}
	if len(buf) < declared {
		return nil, 0, ErrIncomplete
	}

	frameBytes := buf[:declared]
	if declared < 10 || !bytes.HasSuffix(frameBytes, []byte{0, 0}) {
		// A declared length below the 3-byte header still drops the header,
		// so the caller always makes progress.
		return nil, max(declared, 3), fmt.Errorf("%w: missing frame terminator", ErrInvalid)
	}

	// The final byte is an unconditional terminator on top of the null that
	// already ends the last token (source/target/command, or the last kval
	// value); drop it before splitting so it doesn't surface as a spurious
	// trailing token.
	body := frameBytes[3 : declared-1]
	tokens := bytes.Split(body, []byte{0})
	if len(tokens) > 0 && len(tokens[len(tokens)-1]) == 0 {
		tokens = tokens[:len(tokens)-1]
	}
	if len(tokens) < 3 {
		return nil, declared, fmt.Errorf("%w: fewer than source/target/command", ErrInvalid)
	}

	source := toUTF8Lower(tokens[0])
	target := toUTF8Lower(tokens[1])
	command := toUTF8Lower(tokens[2])

	rest := tokens[3:]
	if len(rest)%2 != 0 {
		// Mirror the reference parser's leniency: pad a trailing odd token
		// with a synthetic "*" value rather than rejecting the frame.
		rest = append(rest, []byte("*"))
	}

	kval := make(map[string][]string)
	for i := 0; i < len(rest); i += 2 {
		k := toUTF8Lower(rest[i])
		v := toUTF8(rest[i+1])
		for _, existing := range kval[k] {
			if existing == v {
				return nil, declared, fmt.Errorf("%w: duplicate value %q for key %q", ErrInvalid, v, k)
			}
		}
		kval[k] = append(kval[k], v)
	}

	return &Frame{Source: source, Target: target, Command: command, KVal: kval}, declared, nil
}

// Encode implements Codec.
func (Binary) Encode(f *Frame) ([]byte, error) {
	buf := bufPool.Get()
	defer bufPool.Put(buf)

	buf.WriteString(f.Source)
	buf.WriteByte(0)
	buf.WriteString(f.Target)
	buf.WriteByte(0)
	buf.WriteString(f.Command)
	buf.WriteByte(0)
	for k, values := range f.KVal {
		for _, v := range values {
			buf.WriteString(k)
			buf.WriteByte(0)
			buf.WriteString(v)
			buf.WriteByte(0)
		}
	}
	buf.WriteByte(0) // terminator: combines with the preceding separator null

	payload := buf.Bytes()
	total := len(payload) + 3
	if total > MaxFrame-binaryOversizeSlack {
		return nil, fmt.Errorf("%w: encoded frame is %d bytes", ErrOversize, total)
	}

	out := make([]byte, 3+len(payload))
	binary.BigEndian.PutUint16(out[:2], uint16(total))
	out[2] = 0
	copy(out[3:], payload)
	return out, nil
}

// Fit implements Codec.
func (Binary) Fit(command string, kval map[string][]string) int {
	placeholder := make([]byte, MaxToken)
	for i := range placeholder {
		placeholder[i] = 'x'
	}
	used := binaryGenericLen(string(placeholder), string(placeholder), command, kval)
	return MaxFrame - binaryOversizeSlack - used
}

// binaryGenericLen reproduces the reference implementation's length formula
// exactly, including its shared +2/-1 overhead bookkeeping for the kval
// section.
func binaryGenericLen(source, target, command string, kval map[string][]string) int {
	l := 3 + len(source) + 1 + len(target) + 1 + len(command) + 1 + 2

	n := 0
	for k, values := range kval {
		for _, v := range values {
			n += len(k) + len(v) + 2
		}
	}
	if len(kval) > 0 {
		l += n - 1
	}
	return l
}

// toUTF8 replaces invalid UTF-8 byte sequences with the Unicode replacement
// character, matching the reference decoder's "replace" error mode.
func toUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var out []rune
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		out = append(out, r)
		b = b[size:]
	}
	return string(out)
}

func toUTF8Lower(b []byte) string {
	return strings.ToLower(toUTF8(b))
}
