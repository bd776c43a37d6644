// Package keyrange models the contiguous string interval a worker owns.
//
// Ranges order keys lexicographically. A range is either bounded,
// [min, max], or unlimited, [min, ∞). The special all-inclusive range
// ["", ∞) covers the whole keyspace and is what the master hands the first
// worker at bootstrap. A zero Range is invalid and contains nothing; it
// stays invalid until the worker adopts a range from the master.
package keyrange
