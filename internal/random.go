package internal

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

// NonceDigits is the length of a session nonce.
const NonceDigits = 8

// NewNonce returns a string of random decimal digits.
func NewNonce(digits int) (string, error) {
	if digits < 1 || digits > 64 {
		return "", errors.New("invalid nonce length")
	}

	var b strings.Builder
	b.Grow(digits)

	ten := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// NewSalt returns n random bytes.
func NewSalt(n int) ([]byte, error) {
	salt := make([]byte, n)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}
