package validate

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/telebridge/telebridge/internal/database"
	"github.com/telebridge/telebridge/internal/session"
	"github.com/telebridge/telebridge/internal/telegram"
	"github.com/telebridge/telebridge/pkg/models"
)

// resolveClient implements telegram.Client; only Resolve matters here.
type resolveClient struct {
	resolve func(identifier string) (*telegram.Resolved, error)
}

func (c *resolveClient) RequestCode(context.Context, string) (string, error) { return "", nil }
func (c *resolveClient) SignIn(context.Context, string, string, string) error {
	return nil
}
func (c *resolveClient) SignInPassword(context.Context, string) error { return nil }
func (c *resolveClient) IsAuthorized(context.Context) (bool, error)   { return true, nil }
func (c *resolveClient) LogOut(context.Context) error                 { return nil }

func (c *resolveClient) Resolve(_ context.Context, identifier string) (*telegram.Resolved, error) {
	return c.resolve(identifier)
}

func (c *resolveClient) MessagesSince(context.Context, telegram.ChannelRef, int64, int) ([]telegram.Message, error) {
	return nil, nil
}
func (c *resolveClient) SendMessage(context.Context, telegram.ChannelRef, string) error { return nil }
func (c *resolveClient) ForwardMessage(context.Context, telegram.ChannelRef, telegram.ChannelRef, int64) error {
	return nil
}
func (c *resolveClient) Close() error { return nil }

type countingFactory struct {
	client *resolveClient
	opens  int
}

func (f *countingFactory) Open(_ context.Context, _ *models.Account) (telegram.Client, error) {
	f.opens++
	return f.client, nil
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: true}
}

func testSetup(t *testing.T, factory telegram.Factory) (*database.DB, *telegram.Pool) {
	t.Helper()

	db, err := database.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	logger := slog.New(slog.DiscardHandler)
	return db, telegram.NewPool(factory, 10, 3, logger)
}

func activeAccount(t *testing.T, db *database.DB) *models.Account {
	t.Helper()
	ctx := context.Background()

	account := &models.Account{
		Name:        "test",
		PhoneNumber: "+15550000001",
		APIID:       12345,
		APIHash:     "hash",
		IsActive:    true,
	}
	if err := db.CreateAccount(ctx, account); err != nil {
		t.Fatalf("failed to create account: %v", err)
	}
	if err := db.SetAccountStatus(ctx, account.ID, models.SessionActive, ""); err != nil {
		t.Fatalf("SetAccountStatus: %v", err)
	}
	return account
}

func TestSourceValidator_PopulatesMetadata(t *testing.T) {
	factory := &countingFactory{client: &resolveClient{
		resolve: func(identifier string) (*telegram.Resolved, error) {
			if identifier != "@news" {
				t.Errorf("resolve called with %q", identifier)
			}
			return &telegram.Resolved{
				ID:         100200300,
				AccessHash: -42,
				Username:   "news",
				Title:      "News Channel",
			}, nil
		},
	}}
	db, pool := testSetup(t, factory)
	account := activeAccount(t, db)
	ctx := context.Background()

	source := &models.Source{AccountID: account.ID, InputIdentifier: "@news", IsActive: true}
	if err := db.CreateSource(ctx, source); err != nil {
		t.Fatalf("CreateSource: %v", err)
	}

	v := NewSourceValidator(db, pool, 5*time.Second, slog.New(slog.DiscardHandler))
	if err := v.Validate(ctx, source.ID); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	got, err := db.GetSourceByID(ctx, source.ID)
	if err != nil {
		t.Fatalf("GetSourceByID: %v", err)
	}
	if got.ValidationStatus != models.ValidationOK {
		t.Errorf("expected status %q, got %q", models.ValidationOK, got.ValidationStatus)
	}
	if got.ChannelID != 100200300 || got.AccessHash != -42 || got.Title != "News Channel" {
		t.Errorf("metadata not stored: %+v", got)
	}
}

func TestSourceValidator_AccountNotActive(t *testing.T) {
	factory := &countingFactory{client: &resolveClient{}}
	db, pool := testSetup(t, factory)
	ctx := context.Background()

	account := &models.Account{
		Name: "cold", PhoneNumber: "+15550000002",
		APIID: 12345, APIHash: "hash", IsActive: true,
	}
	if err := db.CreateAccount(ctx, account); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	source := &models.Source{AccountID: account.ID, InputIdentifier: "@news", IsActive: true}
	if err := db.CreateSource(ctx, source); err != nil {
		t.Fatalf("CreateSource: %v", err)
	}

	v := NewSourceValidator(db, pool, 5*time.Second, slog.New(slog.DiscardHandler))
	err := v.Validate(ctx, source.ID)
	if !errors.Is(err, session.ErrAccountNotReady) {
		t.Fatalf("expected ErrAccountNotReady, got %v", err)
	}
	if factory.opens != 0 {
		t.Error("platform must not be contacted through an inactive session")
	}

	// The validation record is untouched, not marked failed.
	got, _ := db.GetSourceByID(ctx, source.ID)
	if got.ValidationStatus != models.ValidationUnknown {
		t.Errorf("validation record mutated: %q", got.ValidationStatus)
	}
}

func TestSourceValidator_NotFoundIsPermanent(t *testing.T) {
	factory := &countingFactory{client: &resolveClient{
		resolve: func(string) (*telegram.Resolved, error) { return nil, telegram.ErrNotFound },
	}}
	db, pool := testSetup(t, factory)
	account := activeAccount(t, db)
	ctx := context.Background()

	source := &models.Source{AccountID: account.ID, InputIdentifier: "@gone", IsActive: true}
	if err := db.CreateSource(ctx, source); err != nil {
		t.Fatalf("CreateSource: %v", err)
	}

	v := NewSourceValidator(db, pool, 5*time.Second, slog.New(slog.DiscardHandler))
	err := v.Validate(ctx, source.ID)
	if !errors.Is(err, ErrResolutionFailed) {
		t.Fatalf("expected ErrResolutionFailed, got %v", err)
	}

	got, _ := db.GetSourceByID(ctx, source.ID)
	if got.ValidationStatus != models.ValidationFailed {
		t.Errorf("expected status %q, got %q", models.ValidationFailed, got.ValidationStatus)
	}
	if got.ValidationError == "" {
		t.Error("failure reason not recorded")
	}
}

func TestSourceValidator_TransientFailurePassesThrough(t *testing.T) {
	cause := telegram.Transient(errors.New("connection reset"))
	factory := &countingFactory{client: &resolveClient{
		resolve: func(string) (*telegram.Resolved, error) { return nil, cause },
	}}
	db, pool := testSetup(t, factory)
	account := activeAccount(t, db)
	ctx := context.Background()

	source := &models.Source{AccountID: account.ID, InputIdentifier: "@news", IsActive: true}
	if err := db.CreateSource(ctx, source); err != nil {
		t.Fatalf("CreateSource: %v", err)
	}

	v := NewSourceValidator(db, pool, 5*time.Second, slog.New(slog.DiscardHandler))
	err := v.Validate(ctx, source.ID)
	if errors.Is(err, ErrResolutionFailed) {
		t.Error("transient failure must not be marked permanent")
	}
	if !telegram.IsTransient(err) {
		t.Errorf("transient wrapper lost: %v", err)
	}
}

func TestTargetValidator_Email(t *testing.T) {
	tests := []struct {
		name    string
		address string
		wantOK  bool
	}{
		{"plain address", "ops@example.org", true},
		{"display name", "Ops <ops@example.org>", true},
		{"missing domain", "ops@", false},
		{"not an address", "ops example org", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory := &countingFactory{client: &resolveClient{}}
			db, pool := testSetup(t, factory)
			ctx := context.Background()

			target := &models.Target{
				Name: "inbox", Type: models.TargetEmail,
				EmailAddress: tt.address, IsActive: true,
			}
			if err := db.CreateTarget(ctx, target); err != nil {
				t.Fatalf("CreateTarget: %v", err)
			}

			v := NewTargetValidator(db, pool, 5*time.Second, slog.New(slog.DiscardHandler))
			err := v.Validate(ctx, target.ID)

			if factory.opens != 0 {
				t.Error("email validation must never contact the platform")
			}

			got, _ := db.GetTargetByID(ctx, target.ID)
			if tt.wantOK {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				if got.ValidationStatus != models.ValidationOK {
					t.Errorf("expected status %q, got %q", models.ValidationOK, got.ValidationStatus)
				}
			} else {
				if !errors.Is(err, ErrResolutionFailed) {
					t.Fatalf("expected ErrResolutionFailed, got %v", err)
				}
				if got.ValidationStatus != models.ValidationFailed {
					t.Errorf("expected status %q, got %q", models.ValidationFailed, got.ValidationStatus)
				}
			}
		})
	}
}

func TestTargetValidator_Telegram(t *testing.T) {
	factory := &countingFactory{client: &resolveClient{
		resolve: func(string) (*telegram.Resolved, error) {
			return &telegram.Resolved{ID: 7, AccessHash: 8, Title: "Mirror"}, nil
		},
	}}
	db, pool := testSetup(t, factory)
	account := activeAccount(t, db)
	ctx := context.Background()

	target := &models.Target{
		Name: "mirror", Type: models.TargetTelegram,
		AccountID:         nullInt64(account.ID),
		ChannelIdentifier: "@mirror",
		IsActive:          true,
	}
	if err := db.CreateTarget(ctx, target); err != nil {
		t.Fatalf("CreateTarget: %v", err)
	}

	v := NewTargetValidator(db, pool, 5*time.Second, slog.New(slog.DiscardHandler))
	if err := v.Validate(ctx, target.ID); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	got, _ := db.GetTargetByID(ctx, target.ID)
	if got.ValidationStatus != models.ValidationOK {
		t.Errorf("expected status %q, got %q", models.ValidationOK, got.ValidationStatus)
	}
	if got.ChannelID != 7 || got.AccessHash != 8 || got.Title != "Mirror" {
		t.Errorf("metadata not stored: %+v", got)
	}
}
