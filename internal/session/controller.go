// Package session owns the client-side authentication state: whether the
// initial check has completed and who the current user is.
//
// A Controller is constructed by the application root and passed to its
// consumers; there is no package-level session.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/userdesk-dev/userdesk/internal/api"
	"github.com/userdesk-dev/userdesk/internal/httpclient"
	"github.com/userdesk-dev/userdesk/internal/tokenstore"
)

// ErrNotAuthenticated is returned by operations that need a current user.
var ErrNotAuthenticated = errors.New("not authenticated")

// ErrSessionEnded is returned by RefreshToken when the session was logged
// out while the refresh was in flight.
var ErrSessionEnded = errors.New("session ended during refresh")

// State is the session's position in its lifecycle.
type State int

const (
	StateUnchecked State = iota
	StateAuthenticated
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return "unchecked"
	}
}

// Snapshot is an immutable copy of the session state.
type Snapshot struct {
	IsChecked   bool
	CurrentUser *api.User
}

// State derives the lifecycle state from the snapshot.
func (s Snapshot) State() State {
	switch {
	case !s.IsChecked:
		return StateUnchecked
	case s.CurrentUser != nil:
		return StateAuthenticated
	default:
		return StateAnonymous
	}
}

// AuthAPI is the subset of the authentication API the controller drives.
type AuthAPI interface {
	Activate(ctx context.Context, token string) (*api.AuthData, error)
	Login(ctx context.Context, email, password string) (*api.AuthData, error)
	Logout(ctx context.Context) error
	Refresh(ctx context.Context) (*api.AuthData, error)
	SocialSignIn(ctx context.Context, provider api.Provider, credential string) (*api.AuthData, error)
}

// Controller owns the current session.
type Controller struct {
	auth   AuthAPI
	tokens tokenstore.Store
	logger zerolog.Logger

	// pubMu serializes transitions with their notifications so subscribers
	// observe snapshots in the order they were produced.
	pubMu sync.Mutex

	mu      sync.RWMutex
	checked bool
	user    *api.User
	// logouts counts successful logouts; refreshes started under an older
	// count are discarded.
	logouts uint64

	checkedOnce sync.Once
	checkedCh   chan struct{}

	subMu   sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int
}

// New creates an unchecked, anonymous session.
func New(auth AuthAPI, tokens tokenstore.Store, logger zerolog.Logger) *Controller {
	return &Controller{
		auth:      auth,
		tokens:    tokens,
		logger:    logger.With().Str("component", "session").Logger(),
		checkedCh: make(chan struct{}),
		subs:      make(map[int]func(Snapshot)),
	}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{IsChecked: c.checked}
	if c.user != nil {
		u := *c.user
		snap.CurrentUser = &u
	}
	return snap
}

// Checked is closed once the session has been checked for the first time,
// by CheckAuth or by any successful sign-in.
func (c *Controller) Checked() <-chan struct{} {
	return c.checkedCh
}

// Subscribe registers fn to receive every new snapshot. fn runs
// synchronously and must not call back into mutating Controller methods.
func (c *Controller) Subscribe(fn func(Snapshot)) (cancel func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.subs, id)
	}
}

// transition applies mutate under the state lock and broadcasts the result.
func (c *Controller) transition(mutate func()) Snapshot {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	c.mu.Lock()
	mutate()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if snap.IsChecked {
		c.checkedOnce.Do(func() { close(c.checkedCh) })
	}

	c.subMu.Lock()
	subs := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.subMu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
	return snap
}

// CheckAuth looks for an existing session using the refresh credential.
// Any failure, including network errors, leaves the session anonymous; the
// error is logged and never returned. isChecked only ever moves to true.
func (c *Controller) CheckAuth(ctx context.Context) {
	data, err := c.auth.Refresh(ctx)
	if err == nil {
		if saveErr := c.tokens.Save(data.AccessToken); saveErr != nil {
			err = fmt.Errorf("failed to store access token: %w", saveErr)
		}
	}

	if err != nil {
		c.logger.Info().Err(err).Msg("User is not authenticated")
		c.transition(func() {
			c.checked = true
			c.user = nil
		})
		return
	}

	user := data.User
	c.transition(func() {
		c.checked = true
		c.user = &user
	})
	c.logger.Debug().Int64("user_id", user.ID).Msg("Session restored")
}

// Login signs in with email and password. On failure the state is unchanged
// and the API error is returned as is.
func (c *Controller) Login(ctx context.Context, email, password string) error {
	data, err := c.auth.Login(ctx, email, password)
	if err != nil {
		return err
	}
	return c.Establish(data)
}

// Activate signs in with a single-use activation token.
func (c *Controller) Activate(ctx context.Context, token string) error {
	data, err := c.auth.Activate(ctx, token)
	if err != nil {
		return err
	}
	return c.Establish(data)
}

// SocialSignIn exchanges a third-party credential for a session. Failures
// are logged and returned so the caller can present them.
func (c *Controller) SocialSignIn(ctx context.Context, provider api.Provider, credential string) error {
	data, err := c.auth.SocialSignIn(ctx, provider, credential)
	if err != nil {
		c.logger.Error().Err(err).Str("provider", string(provider)).Msg("Social sign-in failed")
		return err
	}
	return c.Establish(data)
}

// Establish adopts a session returned by the API: it stores the access token
// and replaces the current user.
func (c *Controller) Establish(data *api.AuthData) error {
	if data == nil {
		return errors.New("session: no auth data")
	}
	if err := c.tokens.Save(data.AccessToken); err != nil {
		return fmt.Errorf("failed to store access token: %w", err)
	}

	user := data.User
	c.transition(func() {
		c.checked = true
		c.user = &user
	})
	c.logger.Info().Int64("user_id", user.ID).Str("email", user.Email).Msg("Signed in")
	return nil
}

// ReplaceUser swaps in an updated record for the current user, for example
// after a profile update.
func (c *Controller) ReplaceUser(user api.User) error {
	var err error
	c.transition(func() {
		if c.user == nil {
			err = ErrNotAuthenticated
			return
		}
		c.user = &user
	})
	return err
}

// Logout ends the session remotely and then locally.
//
// Local state is cleared only after the API confirms the logout. If the
// remote call fails the token and current user are kept, so the UI does not
// claim a logout the server rejected. The exception is a logout whose
// refresh was itself rejected as unauthorized: the server holds no session
// for this client any more, so there is nothing left to end remotely.
func (c *Controller) Logout(ctx context.Context) error {
	if err := c.auth.Logout(ctx); err != nil {
		if !sessionGone(err) {
			c.logger.Warn().Err(err).Msg("Logout rejected, keeping local session")
			return err
		}
		c.logger.Info().Err(err).Msg("Session already ended on the server")
	}

	removeErr := c.tokens.Remove()
	c.transition(func() {
		c.checked = true
		c.user = nil
		c.logouts++
	})
	c.logger.Info().Msg("Signed out")

	if removeErr != nil {
		return fmt.Errorf("failed to remove access token: %w", removeErr)
	}
	return nil
}

// sessionGone reports whether err is a 401 whose refresh was also refused.
func sessionGone(err error) bool {
	var refreshErr *httpclient.RefreshError
	if !errors.As(err, &refreshErr) {
		return false
	}
	return httpclient.Classify(refreshErr.Err) == httpclient.KindUnauthorized
}

// RefreshToken is the refresh function handed to the HTTP client. It mints
// a new access token from the refresh credential and replaces the current
// user with the record returned alongside it. Storing the token is left to
// the caller.
//
// A refresh that completes after a logout it did not observe returns
// ErrSessionEnded, so the caller never stores its token.
func (c *Controller) RefreshToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	startedAt := c.logouts
	c.mu.RUnlock()

	data, err := c.auth.Refresh(ctx)
	if err != nil {
		return "", err
	}

	user := data.User
	stale := false
	c.transition(func() {
		if c.logouts != startedAt {
			stale = true
			return
		}
		c.user = &user
	})
	if stale {
		c.logger.Debug().Int64("user_id", user.ID).Msg("Discarding refresh that raced a logout")
		return "", ErrSessionEnded
	}
	return data.AccessToken, nil
}
