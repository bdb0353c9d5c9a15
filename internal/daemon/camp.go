package daemon

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"touchgrass/internal/remote"
)

// campStaleAfter is how long after the controller's last poll the camp
// is still considered active.
var campStaleAfter = 30 * time.Second

// Camp tracks the external session-launcher controller. When active,
// /start commands from chats without a session are queued here and the
// controller drains them via /camp/requests.
type Camp struct {
	mu       sync.Mutex
	root     string
	pid      int
	lastSeen time.Time
	pending  []remote.CampRequest
}

func NewCamp() *Camp {
	return &Camp{}
}

// Register records the controller. Re-registering replaces it and drops
// requests queued for the previous one.
func (c *Camp) Register(root string, pid int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pid != pid {
		c.pending = nil
	}
	c.root = root
	c.pid = pid
	c.lastSeen = time.Now()
}

// Active reports whether a controller has polled recently.
func (c *Camp) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.lastSeen.IsZero() && time.Since(c.lastSeen) < campStaleAfter
}

func (c *Camp) Root() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.root
}

// Submit queues a start request for the controller. Returns false when
// no controller is active.
func (c *Camp) Submit(chatID, tool, project string) (remote.CampRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastSeen.IsZero() || time.Since(c.lastSeen) >= campStaleAfter {
		return remote.CampRequest{}, false
	}
	req := remote.CampRequest{
		ID:        uuid.New().String(),
		ChatID:    chatID,
		Tool:      tool,
		Project:   project,
		CreatedAt: time.Now(),
	}
	c.pending = append(c.pending, req)
	return req, true
}

// Drain takes all queued requests and refreshes the liveness mark.
func (c *Camp) Drain() []remote.CampRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen = time.Now()
	out := c.pending
	c.pending = nil
	return out
}
