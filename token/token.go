// Package token creates and compares single-use accept tokens.
package token

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/nasermirzaei89/talkback/discuss"
)

// DefaultSize is the number of random bytes behind a token (256 bits).
const DefaultSize = 32

type Service struct {
	reader io.Reader
	size   int
}

var _ discuss.TokenService = (*Service)(nil)

func New() *Service {
	return NewWithReader(rand.Reader)
}

// NewWithReader builds a service that draws randomness from reader. Tests
// pass a deterministic source.
func NewWithReader(reader io.Reader) *Service {
	return &Service{
		reader: reader,
		size:   DefaultSize,
	}
}

func (svc *Service) Generate() (string, error) {
	bytes := make([]byte, svc.size)

	_, err := io.ReadFull(svc.reader, bytes)
	if err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// Matches compares in constant time. An empty stored token never matches.
func (svc *Service) Matches(stored, supplied string) bool {
	if stored == "" {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
}
