// Package credentials generates the account passwords used during bulk
// provisioning.
package credentials

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

// MinLength is the shortest password Generate will produce.
const MinLength = 8

// ErrLengthTooShort signals a caller contract violation, not a runtime
// condition worth retrying.
var ErrLengthTooShort = errors.New("credentials: password length below minimum")

const (
	lowercase = "abcdefghijklmnopqrstuvwxyz"
	uppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digits    = "0123456789"
	// symbols is the fixed allowed set; the remote site rejects passwords
	// containing characters outside its accepted punctuation.
	symbols = "!@#$%^&*"

	alphabet = lowercase + uppercase + digits + symbols
)

// Generate returns a password of exactly length characters containing at
// least one lowercase letter, one uppercase letter, one digit and one symbol.
// The guaranteed characters are shuffled into the whole sequence so their
// positions carry no information. All randomness comes from crypto/rand;
// predictable secrets here are a security defect.
func Generate(length int) (string, error) {
	if length < MinLength {
		return "", fmt.Errorf("%w: %d < %d", ErrLengthTooShort, length, MinLength)
	}

	password := make([]byte, 0, length)

	for _, class := range []string{lowercase, uppercase, digits, symbols} {
		c, err := pick(class)
		if err != nil {
			return "", err
		}
		password = append(password, c)
	}

	for len(password) < length {
		c, err := pick(alphabet)
		if err != nil {
			return "", err
		}
		password = append(password, c)
	}

	if err := shuffle(password); err != nil {
		return "", err
	}
	return string(password), nil
}

// pick draws one byte uniformly from set using crypto/rand.
func pick(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, fmt.Errorf("credentials: random source failed: %w", err)
	}
	return set[n.Int64()], nil
}

// shuffle performs a Fisher-Yates shuffle with crypto/rand indices.
func shuffle(b []byte) error {
	for i := len(b) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return fmt.Errorf("credentials: random source failed: %w", err)
		}
		j := n.Int64()
		b[i], b[j] = b[j], b[i]
	}
	return nil
}
