// Package auth generates the short pairing codes that browsers must present
// before the keyboard transport accepts their key events.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sync"
)

// CodeAlphabet is the character set pairing codes are drawn from.
// Uppercase letters and digits minus the look-alikes 0/O and 1/I, so a code
// read off a handheld screen can be typed on a phone without guessing.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DefaultCodeLength is the number of characters in a pairing code.
const DefaultCodeLength = 6

// maxDrawAttempts bounds the redraw loop when a fresh code collides with an
// issued one. With 32^6 possible codes a collision is already rare.
const maxDrawAttempts = 16

// ErrCodeSpaceExhausted is returned when no unused code could be drawn.
var ErrCodeSpaceExhausted = errors.New("could not draw an unused pairing code")

// CodeGeneratorConfig holds configuration for the code generator.
type CodeGeneratorConfig struct {
	// Length is the number of characters per code.
	// Default: 6.
	Length int

	// Random is the entropy source. Useful for testing.
	// Default: crypto/rand.Reader.
	Random io.Reader
}

// CodeGenerator issues pairing codes. Every code it returns is uniformly
// random over CodeAlphabet and distinct from every code it issued before.
type CodeGenerator struct {
	mu sync.Mutex

	// config holds the generator configuration
	config CodeGeneratorConfig

	// issued remembers every code handed out by this generator.
	issued map[string]struct{}
}

// NewCodeGenerator creates a generator with the given config.
func NewCodeGenerator(config CodeGeneratorConfig) *CodeGenerator {
	if config.Length <= 0 {
		config.Length = DefaultCodeLength
	}
	if config.Random == nil {
		config.Random = rand.Reader
	}
	return &CodeGenerator{
		config: config,
		issued: make(map[string]struct{}),
	}
}

// Generate returns a new pairing code that has never been issued by this
// generator.
func (g *CodeGenerator) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for attempt := 0; attempt < maxDrawAttempts; attempt++ {
		code, err := randomCode(g.config.Random, g.config.Length)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		if _, seen := g.issued[code]; seen {
			continue
		}
		g.issued[code] = struct{}{}
		return code, nil
	}
	return "", ErrCodeSpaceExhausted
}

// Issued reports how many codes this generator has handed out.
func (g *CodeGenerator) Issued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.issued)
}

// ValidCode reports whether s has the shape of a pairing code of the given
// length. It says nothing about whether the code is active.
func ValidCode(s string, length int) bool {
	if len(s) != length {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !containsByte(CodeAlphabet, s[i]) {
			return false
		}
	}
	return true
}

// randomCode draws length characters uniformly from CodeAlphabet.
func randomCode(r io.Reader, length int) (string, error) {
	code := make([]byte, length)
	max := big.NewInt(int64(len(CodeAlphabet)))

	for i := range code {
		n, err := rand.Int(r, max)
		if err != nil {
			return "", err
		}
		code[i] = CodeAlphabet[n.Int64()]
	}

	return string(code), nil
}

func containsByte(s string, b byte) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return true
		}
	}
	return false
}
