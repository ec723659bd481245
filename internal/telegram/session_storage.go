package telegram

import (
	"context"
	"errors"
	"fmt"

	"github.com/gotd/td/session"

	"github.com/telebridge/telebridge/internal/database"
)

// sessionStorage persists the MTProto session blob for one account in the
// accounts table, encrypted with the configured key. It implements gotd's
// session.Storage.
type sessionStorage struct {
	db        *database.DB
	accountID int64
	key       []byte
}

var _ session.Storage = (*sessionStorage)(nil)

func (s *sessionStorage) LoadSession(ctx context.Context) ([]byte, error) {
	blob, err := s.db.GetAccountSession(ctx, s.accountID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(blob) == 0 {
		return nil, session.ErrNotFound
	}

	data, err := decryptBlob(s.key, blob)
	if err != nil {
		// A blob we cannot decrypt is a corrupted session artifact;
		// surface it so the operator can log out and re-login.
		return nil, fmt.Errorf("corrupted session blob for account %d: %w", s.accountID, err)
	}
	return data, nil
}

func (s *sessionStorage) StoreSession(ctx context.Context, data []byte) error {
	blob, err := encryptBlob(s.key, data)
	if err != nil {
		return err
	}
	return s.db.SaveAccountSession(ctx, s.accountID, blob)
}
