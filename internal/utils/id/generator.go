package id

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// Strategy identifies the identifier generation algorithm to use.
type Strategy int

const (
	// StrategyKSUID generates lexicographically sortable identifiers using KSUID.
	StrategyKSUID Strategy = iota
	// StrategyUUIDv7 generates time-ordered identifiers using UUID version 7.
	StrategyUUIDv7
)

var defaultGenerator = &Generator{strategy: StrategyKSUID}

// Generator produces prefixed identifiers for stored entities.
type Generator struct {
	mu       sync.RWMutex
	strategy Strategy
}

// ParseStrategy maps a config value to a Strategy. Unknown values fall back to KSUID.
func ParseStrategy(value string) Strategy {
	switch value {
	case "uuidv7", "uuid":
		return StrategyUUIDv7
	default:
		return StrategyKSUID
	}
}

// SetStrategy configures the generation strategy for the default generator.
func SetStrategy(strategy Strategy) {
	defaultGenerator.mu.Lock()
	defaultGenerator.strategy = strategy
	defaultGenerator.mu.Unlock()
}

// NewConversationID generates a conversation identifier.
func NewConversationID() string {
	return defaultGenerator.newIdentifier("conv")
}

// NewMessageID generates a message identifier.
func NewMessageID() string {
	return defaultGenerator.newIdentifier("msg")
}

// NewLogID generates a request-scoped log identifier.
func NewLogID() string {
	return defaultGenerator.newIdentifier("log")
}

// NewTaskID generates an identifier for queued relay tasks.
func NewTaskID() string {
	return defaultGenerator.newIdentifier("task")
}

func (g *Generator) newIdentifier(prefix string) string {
	g.mu.RLock()
	strategy := g.strategy
	g.mu.RUnlock()

	var body string
	switch strategy {
	case StrategyUUIDv7:
		uuidv7, err := uuid.NewV7()
		if err == nil {
			body = uuidv7.String()
			break
		}
		body = ksuid.New().String()
	default:
		body = ksuid.New().String()
	}

	return fmt.Sprintf("%s-%s", prefix, body)
}
