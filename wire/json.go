package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// jsonMinFrame is the minimum plausible length of a JSON frame (including
// its trailing null terminator); anything shorter is rejected as malformed
// rather than buffered further.
const jsonMinFrame = 20

// jsonHeader is the first element of a JSON frame's two-element array.
type jsonHeader struct {
	Source  string `json:"source"`
	Target  string `json:"target"`
	Command string `json:"command"`
}

// JSON implements the alternative frame dialect: a JSON array of
// [header, kval] terminated by a single null byte.
type JSON struct{}

// Decode implements Codec.
func (JSON) Decode(buf []byte) (*Frame, int, error) {
	idx := bytes.IndexByte(buf, 0)
	if idx == -1 {
		if len(buf) > MaxFrame {
			return nil, len(buf), fmt.Errorf("%w: no terminator within %d bytes", ErrOversize, MaxFrame)
		}
		return nil, 0, ErrIncomplete
	}

	consumed := idx + 1
	if consumed < jsonMinFrame {
		return nil, consumed, fmt.Errorf("%w: frame is %d bytes, minimum is %d", ErrOversize, consumed, jsonMinFrame)
	}
	if consumed > MaxFrame {
		return nil, consumed, fmt.Errorf("%w: frame is %d bytes, maximum is %d", ErrOversize, consumed, MaxFrame)
	}

	body := buf[:idx]

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, consumed, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if len(raw) < 1 {
		return nil, consumed, fmt.Errorf("%w: missing frame header", ErrInvalid)
	}

	var hdr jsonHeader
	if err := json.Unmarshal(raw[0], &hdr); err != nil {
		return nil, consumed, fmt.Errorf("%w: bad frame header: %v", ErrInvalid, err)
	}

	kval := make(map[string][]string)
	if len(raw) > 1 {
		if err := json.Unmarshal(raw[1], &kval); err != nil {
			return nil, consumed, fmt.Errorf("%w: bad kval: %v", ErrInvalid, err)
		}
	}

	return &Frame{
		Source:  toLowerUTF8String(hdr.Source),
		Target:  toLowerUTF8String(hdr.Target),
		Command: toLowerUTF8String(hdr.Command),
		KVal:    kval,
	}, consumed, nil
}

// Encode implements Codec.
func (JSON) Encode(f *Frame) ([]byte, error) {
	kval := f.KVal
	if kval == nil {
		kval = map[string][]string{}
	}
	dump := []any{
		jsonHeader{Source: f.Source, Target: f.Target, Command: f.Command},
		kval,
	}

	buf := bufPool.Get()
	defer bufPool.Put(buf)

	enc, err := json.Marshal(dump)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	buf.Write(enc)
	buf.WriteByte(0)

	if buf.Len() > MaxFrame {
		return nil, fmt.Errorf("%w: encoded frame is %d bytes", ErrOversize, buf.Len())
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// Fit implements Codec.
func (JSON) Fit(command string, kval map[string][]string) int {
	placeholder := make([]byte, MaxToken)
	for i := range placeholder {
		placeholder[i] = 'x'
	}
	used := jsonGenericLen(string(placeholder), string(placeholder), command, kval)
	return MaxFrame - used
}

// jsonGenericLen reproduces the reference implementation's JSON length
// estimate: a 44-byte base overhead for the header's braces/quotes/keys,
// plus 6 bytes per kval key and 3 bytes per value, adjusted for the commas
// that aren't actually present around the final entries.
func jsonGenericLen(source, target, command string, kval map[string][]string) int {
	base := 44 + len(source) + len(target) + len(command)
	if len(kval) == 0 {
		return base
	}
	for k, values := range kval {
		base += 6 + len(k)
		for _, v := range values {
			base += 3 + len(v)
		}
		base--
	}
	base--
	return base
}

func toLowerUTF8String(s string) string {
	return toUTF8Lower([]byte(s))
}
