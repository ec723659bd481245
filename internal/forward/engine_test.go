package forward

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/telebridge/telebridge/internal/database"
	"github.com/telebridge/telebridge/internal/email"
	"github.com/telebridge/telebridge/internal/session"
	"github.com/telebridge/telebridge/internal/telegram"
	"github.com/telebridge/telebridge/pkg/models"
)

// scriptedClient serves the source history and records outgoing sends.
type scriptedClient struct {
	mu       sync.Mutex
	messages []telegram.Message
	fetchErr error

	sent      []string // copied message texts, in order
	forwarded []int64  // forwarded message ids, in order
	sendErr   error
}

func (c *scriptedClient) RequestCode(context.Context, string) (string, error) { return "", nil }
func (c *scriptedClient) SignIn(context.Context, string, string, string) error {
	return nil
}
func (c *scriptedClient) SignInPassword(context.Context, string) error { return nil }
func (c *scriptedClient) IsAuthorized(context.Context) (bool, error)   { return true, nil }
func (c *scriptedClient) LogOut(context.Context) error                 { return nil }
func (c *scriptedClient) Resolve(context.Context, string) (*telegram.Resolved, error) {
	return nil, telegram.ErrNotFound
}

func (c *scriptedClient) MessagesSince(_ context.Context, _ telegram.ChannelRef, sinceID int64, limit int) ([]telegram.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	var out []telegram.Message
	for _, m := range c.messages {
		if m.ID > sinceID {
			out = append(out, m)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (c *scriptedClient) SendMessage(_ context.Context, _ telegram.ChannelRef, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, text)
	return nil
}

func (c *scriptedClient) ForwardMessage(_ context.Context, _, _ telegram.ChannelRef, messageID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sendErr != nil {
		return c.sendErr
	}
	c.forwarded = append(c.forwarded, messageID)
	return nil
}

func (c *scriptedClient) Close() error { return nil }

type clientFactory struct {
	client *scriptedClient
}

func (f *clientFactory) Open(context.Context, *models.Account) (telegram.Client, error) {
	return f.client, nil
}

// fakeMailer records sends and fails addresses listed in failTo.
type fakeMailer struct {
	mu     sync.Mutex
	sent   map[string][]*email.Message
	failTo map[string]error
}

func newFakeMailer() *fakeMailer {
	return &fakeMailer{sent: make(map[string][]*email.Message), failTo: make(map[string]error)}
}

func (m *fakeMailer) Send(_ context.Context, to string, msg *email.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.failTo[to]; ok {
		return err
	}
	m.sent[to] = append(m.sent[to], msg)
	return nil
}

// fixture wires an engine over an in-memory database with one active
// account and one validated copy-mode source.
type fixture struct {
	db      *database.DB
	engine  *Engine
	client  *scriptedClient
	mailer  *fakeMailer
	account *models.Account
	source  *models.Source

	now    time.Time
	sleeps []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	account := &models.Account{
		Name: "test", PhoneNumber: "+15550000001",
		APIID: 12345, APIHash: "hash", IsActive: true,
	}
	if err := db.CreateAccount(ctx, account); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := db.SetAccountStatus(ctx, account.ID, models.SessionActive, ""); err != nil {
		t.Fatalf("SetAccountStatus: %v", err)
	}

	source := &models.Source{AccountID: account.ID, InputIdentifier: "@news", IsActive: true, ShowSource: true}
	if err := db.CreateSource(ctx, source); err != nil {
		t.Fatalf("CreateSource: %v", err)
	}
	meta := database.ChannelMeta{ChannelID: 100, AccessHash: 200, Username: "news", Title: "News"}
	if err := db.SetSourceValidated(ctx, source.ID, meta); err != nil {
		t.Fatalf("SetSourceValidated: %v", err)
	}

	client := &scriptedClient{}
	mailer := newFakeMailer()
	logger := slog.New(slog.DiscardHandler)
	pool := telegram.NewPool(&clientFactory{client: client}, 1000, 1000, logger)

	f := &fixture{
		db:      db,
		client:  client,
		mailer:  mailer,
		account: account,
		source:  source,
		now:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	engine := NewEngine(db, pool, mailer, nil, nil, Config{
		BackoffBase: time.Millisecond,
		BackoffMax:  10 * time.Millisecond,
	}, logger)
	engine.now = func() time.Time { return f.now }
	engine.sleep = func(_ context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	}
	f.engine = engine
	return f
}

// reload fetches the source's current state.
func (f *fixture) reload(t *testing.T) *models.Source {
	t.Helper()

	source, err := f.db.GetSourceByID(context.Background(), f.source.ID)
	if err != nil {
		t.Fatalf("GetSourceByID: %v", err)
	}
	return source
}

func (f *fixture) emailTarget(t *testing.T, addr string) *models.Target {
	t.Helper()
	ctx := context.Background()

	target := &models.Target{
		Name: addr, Type: models.TargetEmail,
		EmailAddress: addr, IsActive: true,
	}
	if err := f.db.CreateTarget(ctx, target); err != nil {
		t.Fatalf("CreateTarget: %v", err)
	}
	if err := f.db.SetTargetValidated(ctx, target.ID, database.ChannelMeta{}); err != nil {
		t.Fatalf("SetTargetValidated: %v", err)
	}
	return target
}

func (f *fixture) telegramTarget(t *testing.T) *models.Target {
	t.Helper()
	ctx := context.Background()

	target := &models.Target{
		Name: "mirror", Type: models.TargetTelegram,
		AccountID:         sql.NullInt64{Int64: f.account.ID, Valid: true},
		ChannelIdentifier: "@mirror",
		IsActive:          true,
	}
	if err := f.db.CreateTarget(ctx, target); err != nil {
		t.Fatalf("CreateTarget: %v", err)
	}
	meta := database.ChannelMeta{ChannelID: 300, AccessHash: 400, Title: "Mirror"}
	if err := f.db.SetTargetValidated(ctx, target.ID, meta); err != nil {
		t.Fatalf("SetTargetValidated: %v", err)
	}
	return target
}

func (f *fixture) mapping(t *testing.T, targetID int64, delaySeconds, maxRetries int) *models.Mapping {
	t.Helper()

	mapping := &models.Mapping{
		SourceID: f.source.ID, TargetID: targetID,
		IsActive: true, DelaySeconds: delaySeconds, MaxRetries: maxRetries,
	}
	if err := f.db.CreateMapping(context.Background(), mapping); err != nil {
		t.Fatalf("CreateMapping: %v", err)
	}
	return mapping
}

// messagesAt fills the source history with sequential ids dated at the
// given offset before the fixture clock.
func (f *fixture) messagesAt(age time.Duration, ids ...int64) {
	for _, id := range ids {
		f.client.messages = append(f.client.messages, telegram.Message{
			ID:   id,
			Date: f.now.Add(-age),
			Text: fmt.Sprintf("message %d", id),
		})
	}
}

func TestProcessSource_DeliversAndAdvancesCursor(t *testing.T) {
	f := newFixture(t)
	target := f.emailTarget(t, "ops@example.org")
	mapping := f.mapping(t, target.ID, 0, 3)
	f.messagesAt(time.Hour, 1, 2, 3)

	if err := f.engine.ProcessSource(context.Background(), f.source.ID); err != nil {
		t.Fatalf("ProcessSource: %v", err)
	}

	if got := len(f.mailer.sent["ops@example.org"]); got != 3 {
		t.Errorf("expected 3 emails, got %d", got)
	}
	if got := f.reload(t); got.Cursor != 3 {
		t.Errorf("cursor = %d, want 3", got.Cursor)
	}

	for _, id := range []int64{1, 2, 3} {
		d, err := f.db.GetDelivery(context.Background(), mapping.ID, id)
		if err != nil {
			t.Fatalf("GetDelivery(%d): %v", id, err)
		}
		if d.Status != models.DeliveryDelivered || d.Attempts != 1 {
			t.Errorf("message %d: status %q attempts %d", id, d.Status, d.Attempts)
		}
	}
}

func TestProcessSource_SkipsUnvalidatedSource(t *testing.T) {
	f := newFixture(t)
	target := f.emailTarget(t, "ops@example.org")
	f.mapping(t, target.ID, 0, 3)
	f.messagesAt(time.Hour, 1)

	if err := f.db.SetSourceValidationFailed(context.Background(), f.source.ID, "gone"); err != nil {
		t.Fatalf("SetSourceValidationFailed: %v", err)
	}

	if err := f.engine.ProcessSource(context.Background(), f.source.ID); err != nil {
		t.Fatalf("ProcessSource: %v", err)
	}
	if len(f.mailer.sent) != 0 {
		t.Error("invalid source must not be processed")
	}
}

func TestProcessSource_AccountNotActive(t *testing.T) {
	f := newFixture(t)
	target := f.emailTarget(t, "ops@example.org")
	f.mapping(t, target.ID, 0, 3)
	f.messagesAt(time.Hour, 1)

	if err := f.db.SetAccountStatus(context.Background(), f.account.ID, models.SessionUnknown, ""); err != nil {
		t.Fatalf("SetAccountStatus: %v", err)
	}

	err := f.engine.ProcessSource(context.Background(), f.source.ID)
	if !errors.Is(err, session.ErrAccountNotReady) {
		t.Fatalf("expected ErrAccountNotReady, got %v", err)
	}
	if got := f.reload(t); got.Cursor != 0 {
		t.Errorf("cursor moved without delivery: %d", got.Cursor)
	}
}

func TestProcessSource_RetryBudgetExhausted(t *testing.T) {
	f := newFixture(t)
	target := f.emailTarget(t, "down@example.org")
	f.mailer.failTo["down@example.org"] = errors.New("relay unavailable")
	mapping := f.mapping(t, target.ID, 0, 2)
	f.messagesAt(time.Hour, 1)

	if err := f.engine.ProcessSource(context.Background(), f.source.ID); err != nil {
		t.Fatalf("ProcessSource: %v", err)
	}

	// max_retries=2 means 1 initial attempt + 2 retries.
	if len(f.sleeps) != 2 {
		t.Errorf("expected 2 backoff sleeps, got %d", len(f.sleeps))
	}

	d, err := f.db.GetDelivery(context.Background(), mapping.ID, 1)
	if err != nil {
		t.Fatalf("GetDelivery: %v", err)
	}
	if d.Status != models.DeliveryFailed {
		t.Errorf("expected status %q, got %q", models.DeliveryFailed, d.Status)
	}
	if d.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", d.Attempts)
	}
	if d.LastError == "" {
		t.Error("failure cause not recorded")
	}

	// Budget exhaustion is a terminal outcome: the cursor moves on.
	if got := f.reload(t); got.Cursor != 1 {
		t.Errorf("cursor = %d, want 1", got.Cursor)
	}

	// Reprocessing must not retry the exhausted delivery.
	f.sleeps = nil
	if err := f.engine.ProcessSource(context.Background(), f.source.ID); err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	if len(f.sleeps) != 0 {
		t.Error("exhausted delivery retried on reprocess")
	}
}

func TestProcessSource_MappingsFailIndependently(t *testing.T) {
	f := newFixture(t)
	okTarget := f.emailTarget(t, "ok@example.org")
	downTarget := f.emailTarget(t, "down@example.org")
	f.mailer.failTo["down@example.org"] = errors.New("relay unavailable")

	okMapping := f.mapping(t, okTarget.ID, 0, 1)
	downMapping := f.mapping(t, downTarget.ID, 0, 1)
	f.messagesAt(time.Hour, 1, 2)

	if err := f.engine.ProcessSource(context.Background(), f.source.ID); err != nil {
		t.Fatalf("ProcessSource: %v", err)
	}

	if got := len(f.mailer.sent["ok@example.org"]); got != 2 {
		t.Errorf("healthy mapping delivered %d messages, want 2", got)
	}

	for _, id := range []int64{1, 2} {
		d, err := f.db.GetDelivery(context.Background(), okMapping.ID, id)
		if err != nil || d.Status != models.DeliveryDelivered {
			t.Errorf("healthy mapping message %d: %v %v", id, d, err)
		}
		d, err = f.db.GetDelivery(context.Background(), downMapping.ID, id)
		if err != nil || d.Status != models.DeliveryFailed {
			t.Errorf("failing mapping message %d: %v %v", id, d, err)
		}
	}

	// Both mappings reached terminal outcomes for both messages, so the
	// shared cursor advances.
	if got := f.reload(t); got.Cursor != 2 {
		t.Errorf("cursor = %d, want 2", got.Cursor)
	}
}

func TestProcessSource_DelayHoldsMessageAndCursor(t *testing.T) {
	f := newFixture(t)
	slowTarget := f.emailTarget(t, "digest@example.org")
	fastTarget := f.emailTarget(t, "live@example.org")

	slowMapping := f.mapping(t, slowTarget.ID, 3600, 3)
	fastMapping := f.mapping(t, fastTarget.ID, 0, 3)
	f.messagesAt(10*time.Minute, 1, 2) // Older than 0s, younger than 1h

	if err := f.engine.ProcessSource(context.Background(), f.source.ID); err != nil {
		t.Fatalf("ProcessSource: %v", err)
	}

	// The fast mapping delivers now; the delayed one is not yet due.
	if got := len(f.mailer.sent["live@example.org"]); got != 2 {
		t.Errorf("fast mapping delivered %d messages, want 2", got)
	}
	if got := len(f.mailer.sent["digest@example.org"]); got != 0 {
		t.Errorf("delayed mapping delivered %d messages before due time", got)
	}

	// The cursor cannot pass a message an active mapping has not resolved.
	if got := f.reload(t); got.Cursor != 0 {
		t.Errorf("cursor = %d, want 0", got.Cursor)
	}

	// Once the delay elapses the held messages flow and the cursor moves.
	f.now = f.now.Add(2 * time.Hour)
	if err := f.engine.ProcessSource(context.Background(), f.source.ID); err != nil {
		t.Fatalf("second ProcessSource: %v", err)
	}
	if got := len(f.mailer.sent["digest@example.org"]); got != 2 {
		t.Errorf("delayed mapping delivered %d messages after due time, want 2", got)
	}
	// No duplicate for the fast mapping.
	if got := len(f.mailer.sent["live@example.org"]); got != 2 {
		t.Errorf("fast mapping re-delivered: %d sends", got)
	}
	if got := f.reload(t); got.Cursor != 2 {
		t.Errorf("cursor = %d, want 2", got.Cursor)
	}

	for _, id := range []int64{1, 2} {
		for _, m := range []*models.Mapping{slowMapping, fastMapping} {
			if _, err := f.db.GetDelivery(context.Background(), m.ID, id); err != nil {
				t.Errorf("mapping %d message %d unresolved: %v", m.ID, id, err)
			}
		}
	}
}

func TestProcessSource_FetchFailureLeavesCursor(t *testing.T) {
	f := newFixture(t)
	target := f.emailTarget(t, "ops@example.org")
	f.mapping(t, target.ID, 0, 3)
	f.client.fetchErr = telegram.Transient(errors.New("connection reset"))

	if err := f.engine.ProcessSource(context.Background(), f.source.ID); err == nil {
		t.Fatal("expected fetch error")
	}
	if got := f.reload(t); got.Cursor != 0 {
		t.Errorf("cursor moved on fetch failure: %d", got.Cursor)
	}
}

func TestProcessSource_CopyModePrefixesSource(t *testing.T) {
	f := newFixture(t)
	target := f.telegramTarget(t)
	f.mapping(t, target.ID, 0, 3)
	f.messagesAt(time.Hour, 1)

	if err := f.engine.ProcessSource(context.Background(), f.source.ID); err != nil {
		t.Fatalf("ProcessSource: %v", err)
	}

	if len(f.client.sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(f.client.sent))
	}
	want := f.reload(t).DisplayIdentifier() + ":\n\nmessage 1"
	if got := f.client.sent[0]; got != want {
		t.Errorf("copy text = %q, want %q", got, want)
	}
	if len(f.client.forwarded) != 0 {
		t.Error("copy mode must not forward")
	}
}

func TestProcessSource_CopyModeWithoutAttribution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.db.ExecContext(ctx, `UPDATE sources SET show_source = 0 WHERE id = ?`, f.source.ID); err != nil {
		t.Fatalf("failed to clear show_source: %v", err)
	}

	target := f.telegramTarget(t)
	f.mapping(t, target.ID, 0, 3)
	f.messagesAt(time.Hour, 1)

	if err := f.engine.ProcessSource(ctx, f.source.ID); err != nil {
		t.Fatalf("ProcessSource: %v", err)
	}

	if len(f.client.sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(f.client.sent))
	}
	if got := f.client.sent[0]; got != "message 1" {
		t.Errorf("copy text = %q, want it unprefixed", got)
	}
}

func TestProcessSource_ForwardMode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.db.ExecContext(ctx, `UPDATE sources SET mode = ? WHERE id = ?`, models.ModeForward, f.source.ID); err != nil {
		t.Fatalf("failed to switch mode: %v", err)
	}

	target := f.telegramTarget(t)
	f.mapping(t, target.ID, 0, 3)
	f.messagesAt(time.Hour, 1, 2)

	if err := f.engine.ProcessSource(ctx, f.source.ID); err != nil {
		t.Fatalf("ProcessSource: %v", err)
	}

	if len(f.client.forwarded) != 2 || f.client.forwarded[0] != 1 || f.client.forwarded[1] != 2 {
		t.Errorf("forwarded = %v, want [1 2]", f.client.forwarded)
	}
	if len(f.client.sent) != 0 {
		t.Error("forward mode must not copy")
	}
}

func TestProcessMapping_ProcessesWholeSource(t *testing.T) {
	f := newFixture(t)
	a := f.emailTarget(t, "a@example.org")
	b := f.emailTarget(t, "b@example.org")
	mappingA := f.mapping(t, a.ID, 0, 3)
	f.mapping(t, b.ID, 0, 3)
	f.messagesAt(time.Hour, 1)

	if err := f.engine.ProcessMapping(context.Background(), mappingA.ID); err != nil {
		t.Fatalf("ProcessMapping: %v", err)
	}

	// The cursor is shared, so the sibling mapping is processed too.
	if got := len(f.mailer.sent["b@example.org"]); got != 1 {
		t.Errorf("sibling mapping delivered %d messages, want 1", got)
	}
	if got := f.reload(t); got.Cursor != 1 {
		t.Errorf("cursor = %d, want 1", got.Cursor)
	}
}

func TestBackoffDelay(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second

	for attempt := 1; attempt <= 10; attempt++ {
		d := backoffDelay(attempt, base, max)
		if d <= 0 {
			t.Errorf("attempt %d: non-positive delay %v", attempt, d)
		}
		if d > max {
			t.Errorf("attempt %d: delay %v exceeds max %v", attempt, d, max)
		}
	}

	// The first retry stays near the base even with jitter.
	if d := backoffDelay(1, base, max); d < base/2 || d > 2*base {
		t.Errorf("first delay %v far from base %v", d, base)
	}
}
