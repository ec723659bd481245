// Package forward implements the message-forwarding pipeline: pull new
// messages from a source past its cursor, deliver them to every active
// mapping honoring per-mapping delay and retry policy, and advance the
// cursor only when a message is resolved for all mappings.
package forward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/telebridge/telebridge/internal/database"
	"github.com/telebridge/telebridge/internal/email"
	"github.com/telebridge/telebridge/internal/metrics"
	"github.com/telebridge/telebridge/internal/notify"
	"github.com/telebridge/telebridge/internal/session"
	"github.com/telebridge/telebridge/internal/telegram"
	"github.com/telebridge/telebridge/pkg/models"
)

// ErrDeliveryFailed marks a delivery that exhausted its retry budget.
var ErrDeliveryFailed = errors.New("delivery failed after retries")

// Config tunes the engine.
type Config struct {
	FetchLimit  int           // Messages pulled per source per cycle
	CallTimeout time.Duration // Bound on each platform/SMTP call
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (c *Config) defaults() {
	if c.FetchLimit == 0 {
		c.FetchLimit = 100
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = 30 * time.Second
	}
}

// Engine drives delivery for sources and mappings.
type Engine struct {
	db        *database.DB
	pool      *telegram.Pool
	mailer    email.Sender
	notifier  *notify.Notifier
	collector *metrics.Collector
	logger    *slog.Logger
	cfg       Config

	// Injection points for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates a forwarding engine. mailer may be nil when no SMTP
// relay is configured; deliveries to email targets then fail with a
// descriptive error. notifier and collector may be nil.
func NewEngine(db *database.DB, pool *telegram.Pool, mailer email.Sender, notifier *notify.Notifier, collector *metrics.Collector, cfg Config, logger *slog.Logger) *Engine {
	cfg.defaults()
	return &Engine{
		db:        db,
		pool:      pool,
		mailer:    mailer,
		notifier:  notifier,
		collector: collector,
		logger:    logger.With("component", "forward_engine"),
		cfg:       cfg,
		now:       time.Now,
		sleep:     sleep,
	}
}

// ProcessMapping processes the source behind a mapping. The cursor is
// shared by every mapping of the source, so processing is always done for
// the whole source; restricting it to one mapping could advance the cursor
// past messages its siblings never saw.
func (e *Engine) ProcessMapping(ctx context.Context, mappingID int64) error {
	mapping, err := e.db.GetMappingByID(ctx, mappingID)
	if err != nil {
		return err
	}
	return e.ProcessSource(ctx, mapping.SourceID)
}

// ProcessSource pulls messages newer than the source cursor and delivers
// them, in ascending id order, to every deliverable mapping.
func (e *Engine) ProcessSource(ctx context.Context, sourceID int64) error {
	source, err := e.db.GetSourceByID(ctx, sourceID)
	if err != nil {
		return err
	}
	if !source.IsActive || !source.IsValid() {
		e.logger.Debug("skipping source", "source_id", sourceID, "active", source.IsActive, "validation", source.ValidationStatus)
		return nil
	}

	mappings, err := e.db.ListDeliverableMappings(ctx, sourceID)
	if err != nil {
		return err
	}
	if len(mappings) == 0 {
		return nil
	}

	account, err := e.db.GetAccountByID(ctx, source.AccountID)
	if err != nil {
		return err
	}
	if account.Status != models.SessionActive {
		return fmt.Errorf("%w: account %s status is %q", session.ErrAccountNotReady, account.PhoneNumber, account.Status)
	}

	messages, err := e.fetchMessages(ctx, account, source)
	if err != nil {
		return fmt.Errorf("failed to fetch messages for source %d: %w", sourceID, err)
	}
	if len(messages) == 0 {
		return nil
	}

	targets, accounts, err := e.loadTargets(ctx, mappings)
	if err != nil {
		return err
	}

	// A blocked mapping stops receiving messages for the rest of the
	// cycle: either its delivery is not yet due, or infrastructure failed
	// transiently. Skipping ahead would break in-source ordering.
	blocked := make(map[int64]bool)

	highWater := source.Cursor
	advancing := true

	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}

		allResolved := true
		for _, mapping := range mappings {
			if blocked[mapping.ID] {
				allResolved = false
				continue
			}

			resolved, err := e.resolveDelivery(ctx, source, mapping, targets[mapping.TargetID], accounts, msg)
			if err != nil {
				e.logger.Warn("delivery interrupted",
					"source_id", sourceID, "mapping_id", mapping.ID, "message_id", msg.ID, "error", err)
				blocked[mapping.ID] = true
				allResolved = false
				continue
			}
			if !resolved {
				blocked[mapping.ID] = true
				allResolved = false
			}
		}

		// The cursor is a single high-water mark: it may only cover the
		// fully resolved prefix of the stream.
		if allResolved && advancing {
			highWater = msg.ID
		} else {
			advancing = false
		}
	}

	if highWater > source.Cursor {
		if err := e.db.AdvanceSourceCursor(ctx, sourceID, highWater); err != nil {
			return err
		}
		e.logger.Debug("cursor advanced", "source_id", sourceID, "cursor", highWater)
	}
	return ctx.Err()
}

// fetchMessages pulls new messages using the source account's session.
func (e *Engine) fetchMessages(ctx context.Context, account *models.Account, source *models.Source) ([]telegram.Message, error) {
	opCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	conn, release, err := e.pool.Acquire(opCtx, account)
	if err != nil {
		return nil, err
	}
	defer release()

	ref := telegram.ChannelRef{ID: source.ChannelID, AccessHash: source.AccessHash}
	return conn.MessagesSince(opCtx, ref, source.Cursor, e.cfg.FetchLimit)
}

// loadTargets loads each mapping's target and, for telegram targets, the
// delivery account.
func (e *Engine) loadTargets(ctx context.Context, mappings []*models.Mapping) (map[int64]*models.Target, map[int64]*models.Account, error) {
	targets := make(map[int64]*models.Target)
	accounts := make(map[int64]*models.Account)
	for _, mapping := range mappings {
		if _, ok := targets[mapping.TargetID]; ok {
			continue
		}
		target, err := e.db.GetTargetByID(ctx, mapping.TargetID)
		if err != nil {
			return nil, nil, err
		}
		targets[mapping.TargetID] = target

		if target.Type == models.TargetTelegram {
			if _, ok := accounts[target.AccountID.Int64]; !ok {
				account, err := e.db.GetAccountByID(ctx, target.AccountID.Int64)
				if err != nil {
					return nil, nil, err
				}
				accounts[account.ID] = account
			}
		}
	}
	return targets, accounts, nil
}

// resolveDelivery brings (mapping, message) to a terminal state if
// possible. It returns resolved=true when the message was delivered now or
// earlier, or its retry budget is spent; resolved=false when delivery is
// not yet due. A non-nil error means infrastructure failed before any
// outcome could be recorded.
func (e *Engine) resolveDelivery(ctx context.Context, source *models.Source, mapping *models.Mapping, target *models.Target, accounts map[int64]*models.Account, msg telegram.Message) (bool, error) {
	// Duplicate suppression: a recorded outcome is final.
	if _, err := e.db.GetDelivery(ctx, mapping.ID, msg.ID); err == nil {
		return true, nil
	} else if !errors.Is(err, database.ErrNotFound) {
		return false, err
	}

	if due := msg.Date.Add(mapping.Delay()); e.now().Before(due) {
		return false, nil
	}

	maxAttempts := mapping.MaxRetries + 1
	var lastErr error
	attempts := 0
	for attempts < maxAttempts {
		if attempts > 0 {
			e.collector.Retry()
			if err := e.sleep(ctx, backoffDelay(attempts, e.cfg.BackoffBase, e.cfg.BackoffMax)); err != nil {
				return false, err
			}
		}
		attempts++

		lastErr = e.deliverOnce(ctx, source, target, accounts, msg)
		if lastErr == nil {
			record := &models.Delivery{
				MappingID: mapping.ID,
				MessageID: msg.ID,
				Status:    models.DeliveryDelivered,
				Attempts:  attempts,
			}
			if err := e.db.RecordDelivery(ctx, record); err != nil && !errors.Is(err, database.ErrAlreadyExists) {
				return false, err
			}
			e.collector.Delivered(string(source.Mode), string(target.Type))
			e.logger.Info("message delivered",
				"source_id", source.ID, "mapping_id", mapping.ID, "message_id", msg.ID, "attempts", attempts)
			return true, nil
		}
		if errors.Is(lastErr, context.Canceled) {
			return false, lastErr
		}
	}

	// Budget exhausted: exactly one permanent failure record. A concurrent
	// writer losing the INSERT OR IGNORE race is fine, the record exists.
	cause := fmt.Errorf("%w: %v", ErrDeliveryFailed, lastErr)
	record := &models.Delivery{
		MappingID: mapping.ID,
		MessageID: msg.ID,
		Status:    models.DeliveryFailed,
		Attempts:  attempts,
		LastError: cause.Error(),
	}
	if err := e.db.RecordDelivery(ctx, record); err != nil && !errors.Is(err, database.ErrAlreadyExists) {
		return false, err
	}
	e.collector.PermanentFailure()
	e.notifier.DeliveryFailed(ctx, source.DisplayIdentifier(), target.Name, msg.ID, cause)
	e.logger.Error("delivery failed permanently",
		"source_id", source.ID, "mapping_id", mapping.ID, "message_id", msg.ID,
		"attempts", attempts, "error", cause)
	return true, nil
}

// deliverOnce performs a single delivery attempt.
func (e *Engine) deliverOnce(ctx context.Context, source *models.Source, target *models.Target, accounts map[int64]*models.Account, msg telegram.Message) error {
	opCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	switch target.Type {
	case models.TargetEmail:
		return e.deliverEmail(opCtx, source, target, msg)
	case models.TargetTelegram:
		return e.deliverTelegram(opCtx, source, target, accounts[target.AccountID.Int64], msg)
	default:
		return fmt.Errorf("%w: unknown target type %q", models.ErrInvalidTarget, target.Type)
	}
}

func (e *Engine) deliverEmail(ctx context.Context, source *models.Source, target *models.Target, msg telegram.Message) error {
	if e.mailer == nil {
		return errors.New("no smtp relay configured")
	}
	return e.mailer.Send(ctx, target.EmailAddress, &email.Message{
		Subject:     fmt.Sprintf("New message from %s", source.DisplayIdentifier()),
		Body:        msg.Text,
		SourceTitle: source.Title,
		Date:        msg.Date,
	})
}

func (e *Engine) deliverTelegram(ctx context.Context, source *models.Source, target *models.Target, account *models.Account, msg telegram.Message) error {
	if account == nil {
		return fmt.Errorf("target %d has no delivery account", target.ID)
	}

	conn, release, err := e.pool.Acquire(ctx, account)
	if err != nil {
		return err
	}
	defer release()

	if err := conn.Throttle(ctx); err != nil {
		return err
	}

	from := telegram.ChannelRef{ID: source.ChannelID, AccessHash: source.AccessHash}
	to := telegram.ChannelRef{ID: target.ChannelID, AccessHash: target.AccessHash}

	if source.Mode == models.ModeForward {
		return conn.ForwardMessage(ctx, from, to, msg.ID)
	}

	text := msg.Text
	if source.ShowSource {
		text = fmt.Sprintf("%s:\n\n%s", source.DisplayIdentifier(), text)
	}
	return conn.SendMessage(ctx, to, text)
}
