package transport

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// RendezvousKey derives the discovery address for a match. Host and
// remote peers compute it independently from the same pair, so no
// signaling directory is needed.
func RendezvousKey(gameName, matchID string) string {
	sum := blake2b.Sum256([]byte(gameName + "/" + matchID))
	return hex.EncodeToString(sum[:])
}
