package antidetect

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// DefaultUserAgents are desktop browsers current enough not to stand out.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.0 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:131.0) Gecko/20100101 Firefox/131.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36",
}

// IdentityTarget is anything whose outbound identity can be swapped.
type IdentityTarget interface {
	SetUserAgent(ctx context.Context, userAgent string) error
}

// Rotator picks a user agent before each page fetch.
type Rotator struct {
	agents  []string
	current string
	rnd     *rand.Rand
	mu      sync.Mutex
	logger  *slog.Logger
}

func NewRotator(agents []string, logger *slog.Logger) *Rotator {
	if len(agents) == 0 {
		agents = DefaultUserAgents
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Rotator{
		agents: agents,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: logger.With("component", "identity"),
	}
}

// WithSeed makes the rotation order reproducible.
func (r *Rotator) WithSeed(seed int64) *Rotator {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rnd = rand.New(rand.NewSource(seed))
	return r
}

func (r *Rotator) Next() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agents[r.rnd.Intn(len(r.agents))]
}

// Current returns the identity last applied successfully.
func (r *Rotator) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Rotate applies a fresh user agent. A failure keeps the previous identity
// and is only logged.
func (r *Rotator) Rotate(ctx context.Context, target IdentityTarget) {
	ua := r.Next()
	if err := target.SetUserAgent(ctx, ua); err != nil {
		r.logger.Warn("failed to rotate user agent, keeping previous identity", "error", err)
		return
	}
	r.mu.Lock()
	r.current = ua
	r.mu.Unlock()
	r.logger.Debug("rotated user agent", "user_agent", ua)
}
