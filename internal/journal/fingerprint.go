package journal

import (
	"encoding/binary"

	"github.com/zeebo/blake3"
)

// Fingerprint derives the 64-bit journal key from a job's source and
// destination URIs, the same way the teacher's checkpoint.go derives its
// job ID, folded down from a BLAKE3 digest instead of hex-encoded.
// Destination is part of the key so the same source copied to two
// different destinations gets two independent journal entries.
func Fingerprint(sourceURI, destinationURI string) uint64 {
	h := blake3.New()
	h.Write([]byte(sourceURI))
	h.Write([]byte{0})
	h.Write([]byte(destinationURI))
	digest := h.Sum(nil)
	return binary.LittleEndian.Uint64(digest[:8])
}
