// Package motd loads and paginates the message-of-the-day text file sent to
// clients on signon (spec.md §6, §5.2 of SPEC_FULL.md).
package motd

import (
	"bufio"
	"os"
)

// MaxFrame mirrors wire.MaxFrame; duplicated here (rather than imported) so
// this package has no dependency on the wire dialects — it only produces
// plain text blocks, the caller frames them.
const MaxFrame = 1400

// maxLineLen is the longest a single MOTD line may be; longer lines are
// truncated rather than rejected.
const maxLineLen = 200

// lineOverhead is the per-line byte overhead budgeted for the `motd\0...\0`
// framing around each line, matching the reference server's comment
// ("6 is motd\0...\0").
const lineOverhead = 6

// Load reads the MOTD text file at path and packs its lines into blocks, one
// block per emitted `motd` frame. Each line is trimmed of trailing
// whitespace; an empty line becomes a single space; lines longer than 200
// characters are truncated.
//
// Blocks are built greedily: lines accumulate into the current block while
// its estimated serialized length (starting from a pessimistic base of
// len(serverName)+128, to account for the frame's source/target/command
// overhead) stays within MaxFrame; once a line would exceed the budget, the
// current block is closed and a new one started from the same base.
//
// If path does not exist, Load returns a nil slice and a nil error — the
// caller is expected to treat "no MOTD configured" as a documented case, not
// an error (cmd_motd sends a single empty motd frame in that case).
func Load(path, serverName string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	base := len(serverName) + 128
	curLen := base
	var blocks [][]string
	var cur []string

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := trimRight(sc.Text())
		if line == "" {
			line = " "
		}
		if len(line) > maxLineLen {
			line = line[:maxLineLen]
		}

		llen := len(line) + lineOverhead
		if llen+curLen > MaxFrame {
			blocks = append(blocks, cur)
			cur = nil
			curLen = base
		}
		curLen += llen
		cur = append(cur, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	blocks = append(blocks, cur)
	return blocks, nil
}

// trimRight strips trailing ASCII whitespace, the Go analogue of Python's
// str.rstrip() with no argument (which strips all trailing whitespace, not
// just ASCII space) — MOTD text is expected to be plain ASCII/UTF-8 prose,
// so the distinction from a full Unicode-whitespace trim is immaterial here.
func trimRight(s string) string {
	end := len(s)
	for end > 0 {
		c := s[end-1]
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\v' || c == '\f' {
			end--
			continue
		}
		break
	}
	return s[:end]
}
