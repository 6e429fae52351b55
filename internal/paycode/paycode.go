// Package paycode generates the short payment codes students read out to the
// counter. A code is a 6-symbol random core followed by a 2-symbol base-36
// checksum of sha256(seed + core).
package paycode

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Alphabet excludes 0/O and 1/I.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	CoreLength     = 6
	ChecksumLength = 2
	Length         = CoreLength + ChecksumLength

	checksumModulus = 36 * 36
)

// Generator produces payment codes from a random source
type Generator struct {
	rand io.Reader
}

// NewGenerator creates a generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{rand: rand.Reader}
}

// NewGeneratorWithSource creates a generator reading core bytes from r
func NewGeneratorWithSource(r io.Reader) *Generator {
	return &Generator{rand: r}
}

// Generate returns a new code whose checksum is bound to seed
func (g *Generator) Generate(seed string) (string, error) {
	buf := make([]byte, CoreLength)
	if _, err := io.ReadFull(g.rand, buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	core := make([]byte, CoreLength)
	for i, b := range buf {
		core[i] = Alphabet[int(b)%len(Alphabet)]
	}

	return string(core) + Checksum(seed, string(core)), nil
}

// Checksum derives the two checksum symbols for a core
func Checksum(seed, core string) string {
	sum := sha256.Sum256([]byte(seed + core))
	n := (int(sum[0])<<8 | int(sum[1])) % checksumModulus

	chk := strings.ToUpper(strconv.FormatInt(int64(n), 36))
	if len(chk) < ChecksumLength {
		chk = strings.Repeat("0", ChecksumLength-len(chk)) + chk
	}
	return chk
}

// Verify recomputes the checksum of code against seed
func Verify(code, seed string) bool {
	code = Normalize(code)
	if !WellFormed(code) {
		return false
	}
	return code[CoreLength:] == Checksum(seed, code[:CoreLength])
}

// Normalize trims whitespace and upper-cases a code as typed by an operator
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// WellFormed checks the shape of a normalized code without needing the seed
func WellFormed(code string) bool {
	if len(code) != Length {
		return false
	}
	for i := 0; i < CoreLength; i++ {
		if strings.IndexByte(Alphabet, code[i]) < 0 {
			return false
		}
	}
	for i := CoreLength; i < Length; i++ {
		c := code[i]
		if !(c >= '0' && c <= '9') && !(c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}
