// Package bus carries configuration change events between the config store
// and running browser sessions. The in-process implementation suits a single
// server; the NATS implementation lets several renderers share one config.
package bus

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned when operating on a closed bus or subscription.
var ErrClosed = errors.New("bus or subscription closed")

// MessageBus is a publish/subscribe channel.
// Implementations must be safe for concurrent use.
type MessageBus interface {
	// Publish sends a message to all subscribers of the given subject.
	// Returns immediately; does not wait for message delivery.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// Supports wildcards: "shutter.*" matches "shutter.hmr".
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(msg *Message)

// Message represents an incoming message from the bus.
type Message struct {
	Subject string
	Data    []byte
}

// Subscription represents an active subscription that can be cancelled.
type Subscription interface {
	Unsubscribe() error
	Subject() string
}

// Config holds configuration for creating a NATS bus.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is a client identifier for debugging/monitoring.
	Name string

	// Timeout is the connect timeout.
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:     "nats://localhost:4222",
		Name:    "shutter",
		Timeout: 10 * time.Second,
	}
}

// matchSubject reports whether subject matches pattern using NATS token
// rules: "*" matches one token, a trailing ">" matches one or more.
func matchSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	p := splitTokens(pattern)
	s := splitTokens(subject)
	for i, tok := range p {
		if tok == ">" {
			return i == len(p)-1 && len(s) > i
		}
		if i >= len(s) {
			return false
		}
		if tok != "*" && tok != s[i] {
			return false
		}
	}
	return len(p) == len(s)
}

func splitTokens(subject string) []string {
	var tokens []string
	start := 0
	for i := 0; i < len(subject); i++ {
		if subject[i] == '.' {
			tokens = append(tokens, subject[start:i])
			start = i + 1
		}
	}
	return append(tokens, subject[start:])
}
