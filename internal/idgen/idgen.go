// Package idgen generates short, URL-safe identifiers for feed sessions.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes by identifier kind.
const (
	SessionPrefix = "fs-"
	RequestPrefix = "rq-"
)

// alphabet avoids characters that look alike in log output.
const alphabet = "23456789abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ"

// size is the number of random characters after the prefix.
const size = 12

// SessionID returns a new feed session identifier.
func SessionID() string {
	return mustGenerate(SessionPrefix)
}

// RequestID returns a new request identifier for log correlation.
func RequestID() string {
	return mustGenerate(RequestPrefix)
}

// Generate returns prefix followed by random characters.
func Generate(prefix string) (string, error) {
	id, err := nanoid.Generate(alphabet, size)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// mustGenerate panics only if the system random source fails, after which
// nothing else would work either.
func mustGenerate(prefix string) string {
	id, err := Generate(prefix)
	if err != nil {
		panic(err)
	}
	return id
}
