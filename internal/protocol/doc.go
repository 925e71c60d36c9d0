// Package protocol owns the wire contract and its error taxonomy.
//
// Ownership boundary:
// - frame codec (length prefix, JSON header block, payload)
// - per-connection reader/writer primitives (session)
// - connection-scoped error sentinels
package protocol
