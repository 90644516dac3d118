package main

import "time"

// Operational limits — named constants for DCP-specific values pulled out
// of the handlers that use them, matching the teacher's limits.go pattern
// of collecting magic numbers in one place.
const (
	// minPasswordLength is spec.md §4.4's `register` minimum.
	minPasswordLength = 5

	// pingMinInterval and pingMaxInterval bound the randomized liveness
	// jitter (spec.md §4.5): 45.00s to 60.00s.
	pingMinInterval = 45 * time.Second
	pingMaxInterval = 60 * time.Second

	// shutdownGrace is the grace period for draining the ops HTTP server on
	// shutdown. Nothing reads it at present: opsapi.Server.Run applies its
	// own 5-second shutdown timeout.
	shutdownGrace = 5 * time.Second
)
