// Package directory tracks cluster membership: which worker names exist,
// where they live, and which string range each one owns.
//
// The master holds the authoritative Registry. It allocates names, seeds
// the first worker's all-inclusive range, and raises a per-entry push flag
// whenever the list mutates so the do-list re-sends the list to every
// worker. Workers hold a Cache: a name-keyed, eventually-consistent subset
// refreshed from the master, used to route keys to their owning worker.
//
// The two sides never share memory; everything crosses the wire as
// MAST_WORKER_LIST and MAST_WORKER_INFO messages.
package directory
