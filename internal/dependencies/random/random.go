package random

import (
	"crypto/rand"
	"encoding/binary"
	"math/big"

	"github.com/google/uuid"
)

// Random provides random number generation that can be mocked for testing
type Random interface {
	// Intn returns a random int in [0, n)
	Intn(n int) int

	// Uint32 returns a random 32-bit value
	Uint32() uint32

	// String generates a random string of the given length from the given alphabet
	String(length int, alphabet string) string

	// ID returns a new unique record identifier
	ID() string
}

// CryptoRandom implements Random using crypto/rand
type CryptoRandom struct{}

// New creates a new CryptoRandom
func New() *CryptoRandom {
	return &CryptoRandom{}
}

// Intn returns a cryptographically random int in [0, n)
func (r *CryptoRandom) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	max := big.NewInt(int64(n))
	result, err := rand.Int(rand.Reader, max)
	if err != nil {
		// Fall back to 0 on error (should never happen with crypto/rand)
		return 0
	}
	return int(result.Int64())
}

// Uint32 returns a cryptographically random uint32
func (r *CryptoRandom) Uint32() uint32 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(buf[:])
}

// String generates a random string of the given length from the given alphabet
func (r *CryptoRandom) String(length int, alphabet string) string {
	if length <= 0 || len(alphabet) == 0 {
		return ""
	}
	result := make([]byte, length)
	for i := 0; i < length; i++ {
		result[i] = alphabet[r.Intn(len(alphabet))]
	}
	return string(result)
}

// ID returns a random UUIDv4 string
func (r *CryptoRandom) ID() string {
	return uuid.NewString()
}
