package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/telebridge/telebridge/pkg/models"
)

// Factory opens a connection for an account. The production factory is
// gotd-backed; tests install fakes.
type Factory interface {
	Open(ctx context.Context, account *models.Account) (Client, error)
}

// Conn is a pooled connection. Throttle must be called before each send so
// per-account output stays under the platform's tolerance.
type Conn struct {
	Client
	limiter *rate.Limiter
}

// Throttle blocks until the account's rate limiter admits one send.
func (c *Conn) Throttle(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

type accountSlot struct {
	sem     chan struct{} // capacity 1: serializes operations per account
	limiter *rate.Limiter
}

// Pool hands out at most one live connection per account at a time.
// Concurrent operations on the same account queue on the slot; operations
// on different accounts run fully in parallel.
type Pool struct {
	factory  Factory
	sendRate rate.Limit
	burst    int
	logger   *slog.Logger

	mu    sync.Mutex
	slots map[int64]*accountSlot
}

// NewPool creates a connection pool. sendRate/burst bound outgoing
// messages per account.
func NewPool(factory Factory, sendRate rate.Limit, burst int, logger *slog.Logger) *Pool {
	if burst < 1 {
		burst = 1
	}
	return &Pool{
		factory:  factory,
		sendRate: sendRate,
		burst:    burst,
		logger:   logger.With("component", "telegram_pool"),
		slots:    make(map[int64]*accountSlot),
	}
}

func (p *Pool) slot(accountID int64) *accountSlot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.slots[accountID]
	if !ok {
		s = &accountSlot{
			sem:     make(chan struct{}, 1),
			limiter: rate.NewLimiter(p.sendRate, p.burst),
		}
		p.slots[accountID] = s
	}
	return s
}

// Acquire locks the account, opens a connection and returns it with a
// release function. Release closes the connection and unlocks the account;
// callers must invoke it on every exit path.
func (p *Pool) Acquire(ctx context.Context, account *models.Account) (*Conn, func(), error) {
	s := p.slot(account.ID)

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	client, err := p.factory.Open(ctx, account)
	if err != nil {
		<-s.sem
		return nil, nil, fmt.Errorf("failed to open connection for %s: %w", account.PhoneNumber, err)
	}

	conn := &Conn{Client: client, limiter: s.limiter}
	var once sync.Once
	release := func() {
		once.Do(func() {
			if err := client.Close(); err != nil {
				p.logger.Warn("failed to close connection", "account_id", account.ID, "error", err)
			}
			<-s.sem
		})
	}
	return conn, release, nil
}
