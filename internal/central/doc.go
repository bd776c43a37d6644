// Package central wires a keydir process together: the UDP server, the
// worker pool, the do-list, and the role-specific state.
//
// Central is the common core. Master adds the authoritative worker
// registry and the list-push items; Worker adds the range registry, key
// map, directory cache, and the request router that serves or forwards
// inserts and lookups; Client adds the one-shot retry items that re-send a
// request until its reply arrives.
//
// A process builds exactly one of Master, Worker, or Client and calls Run,
// which blocks until the context is canceled and everything has drained.
package central
