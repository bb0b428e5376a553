package realtime

import (
	"log/slog"
	"sync"
	"time"

	"storefront-live/internal/clock"
	"storefront-live/internal/event"
)

// ProfileRequest asks the server to push the current profile of a user.
type ProfileRequest struct {
	Type string             `json:"type"`
	Data ProfileRequestData `json:"data"`
}

// ProfileRequestData is the body of a ProfileRequest.
type ProfileRequestData struct {
	UserID string `json:"userId"`
}

// ProfilePoller periodically requests a profile update while the connection
// is open, as a fallback for servers that do not push profile changes.
type ProfilePoller struct {
	client   *Client
	userID   string
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	mu      sync.Mutex
	timer   clock.Timer
	running bool
	sent    int
}

// NewProfilePoller creates a stopped poller for userID.
func NewProfilePoller(c *Client, userID string, interval time.Duration) *ProfilePoller {
	return &ProfilePoller{
		client:   c,
		userID:   userID,
		interval: interval,
		clock:    c.clock,
		logger:   c.logger.With("poller", "profile", "user", userID),
	}
}

// Start begins polling. A non-positive interval disables the poller.
func (p *ProfilePoller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running || p.interval <= 0 || p.userID == "" {
		return
	}
	p.running = true
	p.scheduleLocked()
}

func (p *ProfilePoller) scheduleLocked() {
	p.timer = p.clock.AfterFunc(p.interval, p.tick)
}

func (p *ProfilePoller) tick() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if p.client.Status().Connected {
		req := ProfileRequest{Type: event.ControlProfileRequest, Data: ProfileRequestData{UserID: p.userID}}
		if err := p.client.Request(req); err != nil {
			p.logger.Debug("profile request failed", "err", err)
		} else {
			p.mu.Lock()
			p.sent++
			p.mu.Unlock()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		p.scheduleLocked()
	}
}

// Stop cancels the pending poll.
func (p *ProfilePoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// Sent returns the number of requests written.
func (p *ProfilePoller) Sent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}
