package llm

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedClient replays canned responses in order. Used by tests and by
// offline pipeline runs.
type ScriptedClient struct {
	mu        sync.Mutex
	responses []string
	calls     int

	// Requests records the (system, user) pairs seen, for assertions.
	Requests [][2]string
}

// NewScriptedClient creates a client that returns the given responses in
// sequence, one per Complete call.
func NewScriptedClient(responses ...string) *ScriptedClient {
	return &ScriptedClient{responses: responses}
}

// Complete returns the next scripted response.
func (c *ScriptedClient) Complete(_ context.Context, system, user string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Requests = append(c.Requests, [2]string{system, user})
	if c.calls >= len(c.responses) {
		return "", fmt.Errorf("scripted client exhausted after %d calls", c.calls)
	}
	resp := c.responses[c.calls]
	c.calls++
	return resp, nil
}

// Calls returns how many completions have been served.
func (c *ScriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
