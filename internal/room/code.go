package room

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// CodeGenerator returns a candidate room code. The registry checks uniqueness.
type CodeGenerator func() (string, error)

// RandomCodes draws length characters from CodeAlphabet using crypto/rand.
func RandomCodes(length int) CodeGenerator {
	return func() (string, error) {
		code := make([]byte, length)
		for i := range code {
			num, err := rand.Int(rand.Reader, big.NewInt(int64(len(CodeAlphabet))))
			if err != nil {
				return "", err
			}
			code[i] = CodeAlphabet[num.Int64()]
		}
		return string(code), nil
	}
}

// NormalizeCode canonicalizes user input: trimmed, upper-cased, fixed length, fixed alphabet.
func NormalizeCode(raw string, length int) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if len(code) != length {
		return "", fmt.Errorf("%w: want %d characters, got %d", ErrInvalidCode, length, len(code))
	}
	for _, c := range code {
		if !strings.ContainsRune(CodeAlphabet, c) {
			return "", fmt.Errorf("%w: unexpected character %q", ErrInvalidCode, c)
		}
	}
	return code, nil
}
