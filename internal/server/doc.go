// Package server implements the chat broker.
//
// A single Hub goroutine owns every piece of broker state: the identity
// registry, the per-nickname rate windows, the offline mailboxes and the set
// of open connections. Each connection runs a read pump and a write pump that
// only exchange events and outbound frames with the Hub over channels, so no
// broker state is ever locked. The Feed, Metrics and StatusServer types are
// read-only projections of that state for the status page and push channel.
package server
