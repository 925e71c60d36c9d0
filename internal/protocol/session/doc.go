// Package session owns the per-connection halves of the wire protocol.
//
// Ownership boundary:
// - Reader: incremental frame assembly from arbitrary byte chunks
// - Writer: one outbound frame drained across non-blocking writes
// - Config: buffer sizes, limits and readiness timing
//
// Neither half touches the readiness poller; the server package decides
// when each one runs.
package session
