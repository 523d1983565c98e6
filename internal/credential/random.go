package credential

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
)

const (
	resetTokenBytes   = 32
	accountNumberSize = 10
	pinMin            = 100000
	pinSpan           = 900000
)

var accountNumberSpan = new(big.Int).Exp(big.NewInt(10), big.NewInt(accountNumberSize), nil)

// resetToken returns 32 random bytes hex-encoded.
func resetToken(r io.Reader) (string, error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// pin returns a code uniform over 100000..999999.
func pin(r io.Reader) (string, error) {
	n, err := rand.Int(r, big.NewInt(pinSpan))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", n.Int64()+pinMin), nil
}

// accountNumber returns a zero-padded 10-digit number.
func accountNumber(r io.Reader) (string, error) {
	n, err := rand.Int(r, accountNumberSpan)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", accountNumberSize, n), nil
}
