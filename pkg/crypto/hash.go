package crypto

import (
	"crypto/rand"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// KeyDigest returns the hex BLAKE2b-256 digest of key material. Group key
// ids are derived with it.
func KeyDigest(material []byte) string {
	sum := blake2b.Sum256(material)
	return hex.EncodeToString(sum[:])
}

// Keccak256 hashes the concatenation of data with the legacy Keccak-256
// used by Ethereum (not the finalized SHA3-256 padding)
func Keccak256(data ...[]byte) []byte {
	hash := sha3.NewLegacyKeccak256()
	for _, d := range data {
		hash.Write(d)
	}
	return hash.Sum(nil)
}

// RandomBytes reads n bytes from the system CSPRNG. Used for key material
// and initialization vectors.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}
