package telegram

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	tgclient "github.com/gotd/td/telegram"

	"github.com/telebridge/telebridge/internal/database"
	"github.com/telebridge/telebridge/pkg/models"
)

// GotdFactory opens MTProto connections via gotd/td, with the session blob
// stored encrypted in the accounts table.
type GotdFactory struct {
	db  *database.DB
	key []byte
}

// NewGotdFactory creates the production connection factory. key is the
// 32-byte AES key used to seal session blobs.
func NewGotdFactory(db *database.DB, key []byte) *GotdFactory {
	return &GotdFactory{db: db, key: key}
}

// Open connects and waits until the client is ready. The connection runs in
// a background goroutine until Close is called, the usual shape for gotd's
// callback-driven Run.
func (f *GotdFactory) Open(ctx context.Context, account *models.Account) (Client, error) {
	if !account.HasCredentials() {
		return nil, fmt.Errorf("account %s has no api credentials", account.PhoneNumber)
	}

	storage := &sessionStorage{db: f.db, accountID: account.ID, key: f.key}
	client := tgclient.NewClient(account.APIID, account.APIHash, tgclient.Options{
		SessionStorage: storage,
	})

	ready := make(chan struct{})
	stop := make(chan struct{})
	runErr := make(chan error, 1)

	runCtx, cancel := context.WithCancel(context.Background())
	go func() {
		runErr <- client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-stop
			return nil
		})
	}()

	select {
	case <-ready:
	case err := <-runErr:
		cancel()
		return nil, Transient(fmt.Errorf("failed to connect: %w", err))
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}

	return &gotdClient{
		client: client,
		api:    client.API(),
		stop:   stop,
		cancel: cancel,
		runErr: runErr,
	}, nil
}

type gotdClient struct {
	client *tgclient.Client
	api    *tg.Client
	stop   chan struct{}
	cancel context.CancelFunc
	runErr chan error
}

func (c *gotdClient) Close() error {
	close(c.stop)
	err := <-c.runErr
	c.cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (c *gotdClient) RequestCode(ctx context.Context, phone string) (string, error) {
	sent, err := c.client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return "", mapAuthError(err)
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		return "", fmt.Errorf("unexpected send code response %T", sent)
	}
	return code.PhoneCodeHash, nil
}

func (c *gotdClient) SignIn(ctx context.Context, phone, code, codeHash string) error {
	_, err := c.client.Auth().SignIn(ctx, phone, code, codeHash)
	if err != nil {
		return mapAuthError(err)
	}
	return nil
}

func (c *gotdClient) SignInPassword(ctx context.Context, password string) error {
	_, err := c.client.Auth().Password(ctx, password)
	if err != nil {
		return mapAuthError(err)
	}
	return nil
}

func (c *gotdClient) IsAuthorized(ctx context.Context) (bool, error) {
	status, err := c.client.Auth().Status(ctx)
	if err != nil {
		return false, mapError(err)
	}
	return status.Authorized, nil
}

func (c *gotdClient) LogOut(ctx context.Context) error {
	if _, err := c.api.AuthLogOut(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

func (c *gotdClient) Resolve(ctx context.Context, identifier string) (*Resolved, error) {
	identifier = strings.TrimSpace(identifier)

	if hash, ok := inviteHash(identifier); ok {
		return c.resolveInvite(ctx, hash)
	}
	if id, ok := numericChannelID(identifier); ok {
		return c.resolveChannelID(ctx, id)
	}
	return c.resolveUsername(ctx, strings.TrimPrefix(identifier, "@"))
}

func (c *gotdClient) resolveUsername(ctx context.Context, username string) (*Resolved, error) {
	peer, err := c.api.ContactsResolveUsername(ctx, username)
	if err != nil {
		return nil, mapError(err)
	}
	for _, chat := range peer.Chats {
		if ch, ok := chat.(*tg.Channel); ok {
			return channelMeta(ch), nil
		}
	}
	return nil, fmt.Errorf("%w: %q is not a channel or group", ErrNotFound, username)
}

func (c *gotdClient) resolveChannelID(ctx context.Context, id int64) (*Resolved, error) {
	// Without a stored access hash the lookup only works for channels the
	// account has joined; the platform rejects it as CHANNEL_INVALID
	// otherwise.
	chats, err := c.api.ChannelsGetChannels(ctx, []tg.InputChannelClass{
		&tg.InputChannel{ChannelID: id},
	})
	if err != nil {
		if tgerr.Is(err, "CHANNEL_INVALID") {
			return nil, fmt.Errorf("%w: no access hash for channel %d, the account must join it first", ErrAccessDenied, id)
		}
		return nil, mapError(err)
	}

	var raw []tg.ChatClass
	switch v := chats.(type) {
	case *tg.MessagesChats:
		raw = v.Chats
	case *tg.MessagesChatsSlice:
		raw = v.Chats
	default:
		return nil, fmt.Errorf("unexpected channels response %T", chats)
	}
	for _, chat := range raw {
		if ch, ok := chat.(*tg.Channel); ok && ch.ID == id {
			return channelMeta(ch), nil
		}
	}
	return nil, fmt.Errorf("%w: channel %d", ErrNotFound, id)
}

func (c *gotdClient) resolveInvite(ctx context.Context, hash string) (*Resolved, error) {
	invite, err := c.api.MessagesCheckChatInvite(ctx, hash)
	if err != nil {
		return nil, mapError(err)
	}
	switch v := invite.(type) {
	case *tg.ChatInviteAlready:
		if ch, ok := v.Chat.(*tg.Channel); ok {
			return channelMeta(ch), nil
		}
		return nil, fmt.Errorf("%w: invite does not point to a channel or group", ErrNotFound)
	case *tg.ChatInvite:
		return nil, fmt.Errorf("%w: account has not joined this invite", ErrAccessDenied)
	default:
		return nil, fmt.Errorf("unexpected invite response %T", invite)
	}
}

func (c *gotdClient) MessagesSince(ctx context.Context, ch ChannelRef, sinceID int64, limit int) ([]Message, error) {
	// Page from just after the cursor towards newer messages; MinID keeps
	// the platform from handing back anything at or below it.
	history, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:      &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash},
		OffsetID:  int(sinceID),
		AddOffset: -limit,
		Limit:     limit,
		MinID:     int(sinceID),
	})
	if err != nil {
		return nil, mapError(err)
	}

	var raw []tg.MessageClass
	switch v := history.(type) {
	case *tg.MessagesChannelMessages:
		raw = v.Messages
	case *tg.MessagesMessagesSlice:
		raw = v.Messages
	case *tg.MessagesMessages:
		raw = v.Messages
	default:
		return nil, fmt.Errorf("unexpected history response %T", history)
	}

	var out []Message
	for _, mc := range raw {
		msg, ok := mc.(*tg.Message)
		if !ok || int64(msg.ID) <= sinceID {
			continue
		}
		out = append(out, Message{
			ID:   int64(msg.ID),
			Date: timeFromUnix(msg.Date),
			Text: msg.Message,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *gotdClient) SendMessage(ctx context.Context, ch ChannelRef, text string) error {
	_, err := c.api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
		Peer:     &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash},
		Message:  text,
		RandomID: randomID(),
	})
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (c *gotdClient) ForwardMessage(ctx context.Context, from, to ChannelRef, messageID int64) error {
	_, err := c.api.MessagesForwardMessages(ctx, &tg.MessagesForwardMessagesRequest{
		FromPeer: &tg.InputPeerChannel{ChannelID: from.ID, AccessHash: from.AccessHash},
		ToPeer:   &tg.InputPeerChannel{ChannelID: to.ID, AccessHash: to.AccessHash},
		ID:       []int{int(messageID)},
		RandomID: []int64{randomID()},
	})
	if err != nil {
		return mapError(err)
	}
	return nil
}

func channelMeta(ch *tg.Channel) *Resolved {
	return &Resolved{
		ID:         ch.ID,
		AccessHash: ch.AccessHash,
		Username:   ch.Username,
		Title:      ch.Title,
		Private:    ch.Username == "",
	}
}

// numericChannelID parses the bare and -100-prefixed channel id forms.
func numericChannelID(identifier string) (int64, bool) {
	s := identifier
	if rest, ok := strings.CutPrefix(s, "-100"); ok && rest != "" {
		s = rest
	} else if strings.HasPrefix(s, "-") {
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// inviteHash extracts the hash from t.me invite link forms.
func inviteHash(identifier string) (string, bool) {
	s := identifier
	for _, prefix := range []string{"https://", "http://"} {
		s = strings.TrimPrefix(s, prefix)
	}
	s = strings.TrimPrefix(s, "t.me/")
	switch {
	case strings.HasPrefix(s, "+"):
		return strings.TrimPrefix(s, "+"), true
	case strings.HasPrefix(s, "joinchat/"):
		return strings.TrimPrefix(s, "joinchat/"), true
	}
	return "", false
}

// mapAuthError translates login-flow errors.
func mapAuthError(err error) error {
	switch {
	case errors.Is(err, auth.ErrPasswordAuthNeeded), tgerr.Is(err, "SESSION_PASSWORD_NEEDED"):
		return ErrPasswordRequired
	case tgerr.Is(err, "PHONE_NUMBER_INVALID"), tgerr.Is(err, "PHONE_NUMBER_BANNED"):
		return ErrInvalidPhone
	case tgerr.Is(err, "PHONE_CODE_INVALID"):
		return ErrCodeInvalid
	case tgerr.Is(err, "PHONE_CODE_EXPIRED"):
		return ErrCodeExpired
	case tgerr.Is(err, "PASSWORD_HASH_INVALID"):
		return ErrPasswordInvalid
	}
	return mapError(err)
}

// mapError translates generic platform errors; anything that is not a
// recognized RPC error is assumed to be connectivity and marked transient.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if d, ok := tgerr.AsFloodWait(err); ok {
		return Transient(fmt.Errorf("%w: wait %s", ErrFlood, d))
	}
	switch {
	case tgerr.Is(err, "AUTH_KEY_UNREGISTERED"), tgerr.Is(err, "SESSION_REVOKED"), tgerr.Is(err, "SESSION_EXPIRED"):
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	case tgerr.Is(err, "USERNAME_NOT_OCCUPIED"), tgerr.Is(err, "USERNAME_INVALID"),
		tgerr.Is(err, "CHANNEL_INVALID"), tgerr.Is(err, "INVITE_HASH_EXPIRED"), tgerr.Is(err, "INVITE_HASH_INVALID"):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case tgerr.Is(err, "CHANNEL_PRIVATE"), tgerr.Is(err, "CHAT_ADMIN_REQUIRED"), tgerr.Is(err, "CHAT_WRITE_FORBIDDEN"):
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}

	var rpcErr *tgerr.Error
	if errors.As(err, &rpcErr) {
		return err
	}
	return Transient(err)
}

func randomID() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(err)
	}
	return int64(binary.LittleEndian.Uint64(buf[:]))
}

func timeFromUnix(sec int) time.Time {
	return time.Unix(int64(sec), 0)
}
