// Package mock provides a test double for extraction.Capability.
package mock

import (
	"context"
	"sync"
)

// Capability returns canned responses. It is safe for concurrent use.
type Capability struct {
	// CompleteFunc is called by Complete if set; otherwise Response and Err
	// are returned as-is.
	CompleteFunc func(ctx context.Context, instruction, text string) (string, error)
	Response     string
	Err          error

	mu        sync.Mutex
	callCount int
	lastText  string
}

// NewCapability returns a Capability that always answers with response.
func NewCapability(response string) *Capability {
	return &Capability{Response: response}
}

// Complete records the call and returns the configured answer.
func (c *Capability) Complete(ctx context.Context, instruction, text string) (string, error) {
	c.mu.Lock()
	c.callCount++
	c.lastText = text
	c.mu.Unlock()

	if c.CompleteFunc != nil {
		return c.CompleteFunc(ctx, instruction, text)
	}
	return c.Response, c.Err
}

// CallCount returns the number of Complete calls.
func (c *Capability) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callCount
}

// LastText returns the text passed to the most recent call.
func (c *Capability) LastText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastText
}
