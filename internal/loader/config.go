package loader

import (
	"time"

	"github.com/dgallion1/vastchain/internal/fetch"
)

const (
	DefaultMaxDepth = 10
	DefaultTimeout  = 10 * time.Second
)

// LoadConfig is the per-traversal configuration. It is shared read-only by
// every node of the traversal.
type LoadConfig struct {
	URI string

	// MaxDepth bounds the chain length, counting the root as 1. Zero
	// disables the limit.
	MaxDepth int
	// Timeout applies to each fetch attempt.
	Timeout time.Duration
	// RetryCount is the number of extra attempts per credentials mode.
	RetryCount  int
	Credentials fetch.CredentialStrategy

	BackoffBase time.Duration
	BackoffMax  time.Duration

	// NoSingleAdPods drops the sequence of an ad that is alone in its
	// document.
	NoSingleAdPods bool
}

// DefaultLoadConfig returns the defaults for uri.
func DefaultLoadConfig(uri string) LoadConfig {
	return LoadConfig{
		URI:         uri,
		MaxDepth:    DefaultMaxDepth,
		Timeout:     DefaultTimeout,
		Credentials: fetch.Strategy(fetch.CredentialsOmit),
	}
}

func (c LoadConfig) normalized() LoadConfig {
	if c.MaxDepth < 0 {
		c.MaxDepth = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RetryCount < 0 {
		c.RetryCount = 0
	}
	if len(c.Credentials) == 0 {
		c.Credentials = fetch.Strategy(fetch.CredentialsOmit)
	}
	return c
}
