package common

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

// NumericCode generates a random numeric code in [min, max] using
// crypto/rand. Both bounds are inclusive, so NumericCode(100000, 999999)
// always yields a 6-digit string.
func NumericCode(min, max int64) (string, error) {
	if max <= min {
		return "", fmt.Errorf("invalid code range [%d, %d]", min, max)
	}
	n, err := rand.Int(rand.Reader, big.NewInt(max-min+1))
	if err != nil {
		return "", err
	}
	return big.NewInt(min + n.Int64()).String(), nil
}

// MakeRandHexString generates a random hexadecimal string from size random
// bytes, so the resulting string is twice as long as size.
func MakeRandHexString(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
