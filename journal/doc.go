// Package journal implements a segmented, append-only, crash-safe
// journal: the durable log of a replicated state machine. It maps
// monotonically increasing 64-bit indexes to opaque record payloads,
// backed by a directory of fixed-size memory-mapped segment files.
//
// The journal supports appending, reading forward from any index,
// truncating the tail, compacting the head, resetting the entire log
// to an arbitrary next index, and recovering safely from torn writes
// and corrupted files. It does not arbitrate between concurrent
// writers: all mutating calls must be serialized by the caller
// (typically a Raft leader loop), while independent readers may
// proceed on their own goroutines, each owning a non-shared handle.
package journal
