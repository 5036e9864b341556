// Package netutil holds small helpers shared by the wire codec and body
// framer that don't belong to either one specifically.
package netutil

// JoinParts concatenates a sequence of byte slices into one allocation.
// The source this engine is modeled on computed the destination size by
// summing len(parts) instead of len(part) for each element -- an
// off-by-the-wrong-variable bug that only manifested when a delimiter
// search straddled more than two buffer fills. This implementation sums
// the length of each part.
func JoinParts(parts [][]byte) []byte {
	size := 0
	for _, part := range parts {
		size += len(part)
	}

	out := make([]byte, size)
	i := 0
	for _, part := range parts {
		i += copy(out[i:], part)
	}
	return out
}
