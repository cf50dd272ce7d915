// Package health watches an active takeover for drift and triggers self-heal.
//
// The Monitor runs a single background goroutine that periodically resolves a
// known-good name through the applied resolver and dials a known-good TCP
// address through the tunnel-default path. After a configurable number of
// consecutive failures it degrades and asks its Healer to reapply the drifted
// configuration, once per failing tick, until a check passes again. Checks
// carry short fixed deadlines, so Stop can wait for an in-flight tick without
// a timeout of its own.
package health
