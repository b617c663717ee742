package utils

import (
	"hash/fnv"
	"strconv"
)

// ContentHash returns a short stable hash of s, used to synthesize
// deterministic provisional message IDs. The same input always yields the
// same hash so replayed local echoes keep their IDs across re-renders.
func ContentHash(s string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return strconv.FormatUint(uint64(h.Sum32()), 36)
}
