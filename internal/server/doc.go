// Package server runs the single-goroutine readiness loop and the per
// connection request/response state machine.
//
// A connection alternates between reading one complete frame and draining
// exactly one response to it. Bytes that arrive behind a complete frame wait
// in the reader until that response drains, then are served in order.
package server
