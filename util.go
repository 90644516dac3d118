package main

import (
	"regexp"
	"strconv"
	"time"
)

// handleRE validates signon/register handles: no leading '#!=&$,?*[]' and
// no embedded '=$,?*[]' anywhere else (spec.md §4.4's literal regex).
var handleRE = regexp.MustCompile(`^[^#!=&$,?*\[\]][^=$,?*\[\]]+$`)

// groupNameRE validates a group name's portion after its '#': the same
// excluded-character rule as handleRE, but without handleRE's implied
// two-character minimum — spec.md §4.4 only requires a '#' prefix and
// length ≤48 for group names, unlike handles, which quote the two-char
// regex verbatim, so a single-character name like "#a" must be legal.
var groupNameRE = regexp.MustCompile(`^[^#!=&$,?*\[\]][^=$,?*\[\]]*$`)

const maxNameLen = 48

func validHandle(h string) bool {
	return len(h) > 0 && len(h) <= maxNameLen && handleRE.MatchString(h)
}

func validGroupName(g string) bool {
	if len(g) < 2 || len(g) > maxNameLen || g[0] != '#' {
		return false
	}
	return groupNameRE.MatchString(g[1:])
}

// unixSecondsRounded renders the current time as seconds since the epoch,
// rounded to the nearest whole second, the wire representation used by
// `signon`/`ping` `time` kvals.
func unixSecondsRounded() string {
	return strconv.FormatInt(time.Now().Round(time.Second).Unix(), 10)
}
