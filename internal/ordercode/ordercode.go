// Package ordercode generates the six-digit codes customers use at the
// pickup counter and the payment provider uses as its transaction reference.
package ordercode

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strconv"
)

const (
	Min    = 100000
	Max    = 999999
	Length = 6
)

var span = big.NewInt(Max - Min + 1)

// New draws a code from crypto/rand.
func New() (string, error) {
	return Generate(rand.Reader)
}

// Generate draws a code uniformly from [Min, Max] using r.
func Generate(r io.Reader) (string, error) {
	n, err := rand.Int(r, span)
	if err != nil {
		return "", fmt.Errorf("ordercode: failed to read random source: %w", err)
	}
	return strconv.FormatInt(n.Int64()+Min, 10), nil
}

// Valid reports whether code is a six-digit code within [Min, Max].
func Valid(code string) bool {
	if len(code) != Length {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return code[0] != '0'
}
