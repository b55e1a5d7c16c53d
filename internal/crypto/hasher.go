package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
)

const hasherInfo = "authbridge token index v1"

// TokenHasher derives stable, keyed lookup keys for access tokens so stores
// never hold a raw bearer token and a leaked index cannot be replayed.
type TokenHasher struct {
	key []byte
}

// NewTokenHasher expands secret into a 32-byte BLAKE2b key with HKDF.
func NewTokenHasher(secret []byte) (*TokenHasher, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("hash key must be at least 16 bytes (got %d)", len(secret))
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hasherInfo)), key); err != nil {
		return nil, fmt.Errorf("deriving hash key: %w", err)
	}
	return &TokenHasher{key: key}, nil
}

// Hash returns the hex-encoded keyed hash of token.
func (h *TokenHasher) Hash(token string) string {
	mac, err := blake2b.New256(h.key)
	if err != nil {
		// Only possible for keys longer than 64 bytes.
		panic(err)
	}
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}
