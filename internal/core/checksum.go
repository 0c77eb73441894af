package core

import (
	"fmt"
	"hash/fnv"
)

// TextChecksum fingerprints the source text of a vector record so the
// index can detect drift from the relational store.
func TextChecksum(text string) string {
	h := fnv.New64a()
	h.Write([]byte(text))
	return fmt.Sprintf("%016x", h.Sum64())
}
