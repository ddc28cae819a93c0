package ledger

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// CodeGenerator returns a fresh opaque invitation code.
type CodeGenerator func() (string, error)

// Unambiguous alphabet: no 0/O, 1/I/L.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// RandomCode returns a crypto-random code of the form XXXX-XXXX.
func RandomCode() (string, error) {
	var b strings.Builder
	b.Grow(9)
	limit := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < 8; i++ {
		if i == 4 {
			b.WriteByte('-')
		}
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}
