// Package uuid generates crawl run IDs.
package uuid

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUIDv7 strings, so run IDs sort by start time.
type Generator struct{}

// New creates a new Generator.
func New() Generator {
	return Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// Fixed always returns the same pre-allocated run ID. It lets callers share
// one ID between the engine and components built before the run starts.
type Fixed string

// Allocate generates a run ID once and returns it as a Fixed generator.
func Allocate(gen interface{ NewID() (string, error) }) (Fixed, error) {
	id, err := gen.NewID()
	if err != nil {
		return "", err
	}
	return NewFixed(id)
}

// NewFixed validates id and wraps it.
func NewFixed(id string) (Fixed, error) {
	if id == "" {
		return "", errors.New("run id is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("parse run id %q: %w", id, err)
	}
	return Fixed(id), nil
}

// NewID returns the fixed ID.
func (f Fixed) NewID() (string, error) {
	if f == "" {
		return "", errors.New("run id is not allocated")
	}
	return string(f), nil
}
