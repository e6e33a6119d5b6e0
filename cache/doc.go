// Package cache provides content-addressed, TTL-expiring storage for the
// results of external calls.
//
// A Store maps keys to byte values that expire after a TTL. Four backends
// are provided: MemoryStore, FileStore (one JSON record per key on local
// disk), SQLiteStore and ValkeyStore. Unreadable entries are treated as
// misses and discarded; backends report such failures to an ErrorHandler
// instead of returning them.
//
// DefaultKeyer derives keys from a call name and its arguments using a
// canonical JSON encoding, so map ordering never changes a key.
package cache
