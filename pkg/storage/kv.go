package storage

// KV is the byte-keyed store the exchange core runs against.
//
// The host execution model serializes invocations, so KV implementations do
// not need to provide transactional isolation; callers are expected to do all
// validation before the first write of an operation. Infrastructure failures
// (disk corruption, I/O errors) are fatal and panic rather than surfacing as
// operation outcomes.
type KV interface {
	// Get returns the value stored under key, or ok=false if absent.
	Get(key []byte) (value []byte, ok bool)

	// Set stores value under key, overwriting any previous value.
	Set(key, value []byte)

	// Delete removes key. Deleting an absent key is a no-op.
	Delete(key []byte)

	// Scan visits every key with the given prefix in lexicographic order.
	// Iteration stops early when fn returns false.
	Scan(prefix []byte, fn func(key, value []byte) bool)
}
