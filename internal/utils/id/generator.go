// Package id generates run and span identifiers.
package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// Strategy identifies the identifier generation algorithm to use.
type Strategy int

const (
	// StrategyUUIDv7 generates time-ordered identifiers with millisecond
	// precision and a monotonic sequence within the same millisecond.
	StrategyUUIDv7 Strategy = iota
	// StrategyKSUID generates lexicographically sortable identifiers with
	// second precision.
	StrategyKSUID
)

// ParseStrategy maps a config value onto a Strategy.
func ParseStrategy(value string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "uuidv7", "uuid":
		return StrategyUUIDv7, nil
	case "ksuid":
		return StrategyKSUID, nil
	}
	return StrategyUUIDv7, fmt.Errorf("unknown id strategy %q", value)
}

var defaultGenerator = &Generator{strategy: StrategyUUIDv7}

// Generator produces identifiers for runs.
type Generator struct {
	mu       sync.RWMutex
	strategy Strategy
}

// SetStrategy configures the generation strategy for the default generator.
func SetStrategy(strategy Strategy) {
	defaultGenerator.mu.Lock()
	defaultGenerator.strategy = strategy
	defaultGenerator.mu.Unlock()
}

// NewRunID generates a run identifier that sorts by creation time.
func NewRunID() string {
	return defaultGenerator.newIdentifier("run")
}

func (g *Generator) newIdentifier(prefix string) string {
	g.mu.RLock()
	strategy := g.strategy
	g.mu.RUnlock()

	var body string
	switch strategy {
	case StrategyKSUID:
		body = ksuid.New().String()
	default:
		uuidv7, err := uuid.NewV7()
		if err != nil {
			body = ksuid.New().String()
			break
		}
		body = uuidv7.String()
	}

	return prefix + "_" + body
}

// NewSpanID returns a short random span identifier.
func NewSpanID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "span_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	}
	return "span_" + hex.EncodeToString(buf[:])
}
