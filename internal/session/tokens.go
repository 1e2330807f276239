package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/libevm/shlop-app-sub002/internal/clock"
	"github.com/libevm/shlop-app-sub002/internal/persist"
)

// ErrInvalidToken covers unknown, expired and already used tokens.
var ErrInvalidToken = errors.New("invalid token")

type grant struct {
	name      string
	expiresAt time.Time
}

// TokenStore holds pre-issued, single-use login tokens. Tokens are issued
// over HTTP and consumed from websocket readers, so it is mutex-guarded.
type TokenStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	clock  clock.Clock
	grants map[string]grant
}

// NewTokenStore creates a store whose tokens live for ttl.
func NewTokenStore(ttl time.Duration, clk clock.Clock) *TokenStore {
	return &TokenStore{
		ttl:    ttl,
		clock:  clk,
		grants: make(map[string]grant),
	}
}

// Issue creates a token for name.
func (t *TokenStore) Issue(name string) (string, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	t.pruneLocked(now)

	token := uuid.NewString()
	exp := now.Add(t.ttl)
	t.grants[token] = grant{name: name, expiresAt: exp}
	return token, exp
}

// Resolve consumes token and returns the identity it was issued for.
func (t *TokenStore) Resolve(token string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, ok := t.grants[token]
	if !ok {
		return "", ErrInvalidToken
	}
	delete(t.grants, token)
	if !t.clock.Now().Before(g.expiresAt) {
		return "", ErrInvalidToken
	}
	return g.name, nil
}

// Len is the number of outstanding tokens.
func (t *TokenStore) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.grants)
}

func (t *TokenStore) pruneLocked(now time.Time) {
	for k, g := range t.grants {
		if !now.Before(g.expiresAt) {
			delete(t.grants, k)
		}
	}
}

// Credential is the outcome of a successful authentication.
type Credential struct {
	Name     string
	Snapshot *persist.Snapshot
	// Persist is false when the snapshot load failed.
	Persist bool
}

// Authenticator resolves tokens and loads snapshots. It runs on the
// connection's reader goroutine, never on the game loop.
type Authenticator struct {
	tokens  *TokenStore
	loader  persist.Loader
	timeout time.Duration
	logger  *zap.Logger
}

// NewAuthenticator wires a token store to a snapshot loader.
func NewAuthenticator(tokens *TokenStore, loader persist.Loader, timeout time.Duration, logger *zap.Logger) *Authenticator {
	return &Authenticator{tokens: tokens, loader: loader, timeout: timeout, logger: logger}
}

// Authenticate consumes token and loads the character. A load failure does
// not fail authentication: the character starts fresh and is never saved.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (Credential, error) {
	name, err := a.tokens.Resolve(token)
	if err != nil {
		return Credential{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	snap, err := a.loader.Load(ctx, name)
	if err != nil {
		a.logger.Warn("snapshot load failed, starting without persistence",
			zap.String("session", name), zap.Error(err))
		return Credential{Name: name}, nil
	}
	return Credential{Name: name, Snapshot: snap, Persist: true}, nil
}
