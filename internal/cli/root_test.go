package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/userdesk-dev/userdesk/internal/api"
	"github.com/userdesk-dev/userdesk/internal/apitest"
	"github.com/userdesk-dev/userdesk/internal/cli/commands"
	"github.com/userdesk-dev/userdesk/internal/cli/userconfig"
	"github.com/userdesk-dev/userdesk/internal/config"
	"github.com/userdesk-dev/userdesk/internal/tokenstore"
)

// scriptedPrompter answers prompts by label and fails like a non-terminal
// stdin for anything it was not told about.
type scriptedPrompter map[string]string

func (p scriptedPrompter) Prompt(label, defaultValue string, secret bool) (string, error) {
	if v, ok := p[label]; ok {
		return v, nil
	}
	return "", commands.ErrNonInteractive
}

type harness struct {
	api    *apitest.Server
	tokens *tokenstore.MemoryStore
	client *http.Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("USERDESK_EMAIL", "")
	t.Setenv("USERDESK_PASSWORD", "")

	fake := apitest.NewServer()
	t.Cleanup(fake.Close)

	return &harness{api: fake, tokens: tokenstore.NewMemoryStore(), client: fake.HTTPClient()}
}

func (h *harness) run(t *testing.T, prompts scriptedPrompter, args ...string) (string, error) {
	t.Helper()

	var out, errOut bytes.Buffer
	cmd := NewRootCmd(
		commands.WithOutput(&out, &errOut),
		commands.WithConfig(&config.Config{
			API:     config.APIConfig{Timeout: 5 * time.Second, TokenStore: config.TokenStoreMemory},
			Logging: config.LoggingConfig{Level: "disabled", Format: "json"},
		}),
		commands.WithTokenStore(h.tokens),
		commands.WithHTTPClient(h.client),
		commands.WithPrompter(prompts),
	)
	cmd.SetArgs(append([]string{"--api-url", h.api.URL}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	h := newHarness(t)
	out, err := h.run(t, nil, "version")
	require.NoError(t, err)
	assert.Equal(t, "userdesk version dev\n", out)
}

func TestLoginListLogout(t *testing.T) {
	h := newHarness(t)
	h.api.AddUser("Ada", "Lovelace", "ada@example.com", "secret1")
	h.api.AddUser("Grace", "Hopper", "grace@example.com", "secret2")

	out, err := h.run(t, nil, "login", "--email", "ada@example.com", "--password", "secret1")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Login successful!")
	assert.Contains(t, out, "Ada Lovelace (ada@example.com)")

	uc, err := userconfig.Load()
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", uc.Email)
	assert.Equal(t, h.api.URL, uc.APIURL)

	out, err = h.run(t, nil, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "ada@example.com")
	assert.Contains(t, out, "(valid)")

	out, err = h.run(t, nil, "users", "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "Grace Hopper")
	assert.Contains(t, out, "grace@example.com")

	out, err = h.run(t, nil, "-o", "json", "users", "ls")
	require.NoError(t, err)
	var users []api.User
	require.NoError(t, json.Unmarshal([]byte(out), &users))
	assert.Len(t, users, 2)

	out, err = h.run(t, nil, "-o", "yaml", "users", "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "email: ada@example.com")

	out, err = h.run(t, nil, "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Logged out")

	_, err = h.run(t, nil, "users", "ls")
	assert.ErrorIs(t, err, commands.ErrNotLoggedIn)
}

func TestLogin_UsesEnvAndPrompts(t *testing.T) {
	h := newHarness(t)
	h.api.AddUser("Ada", "Lovelace", "ada@example.com", "secret1")

	t.Run("non-interactive without password", func(t *testing.T) {
		_, err := h.run(t, nil, "login", "--email", "ada@example.com")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "required in non-interactive mode")
		assert.Equal(t, 0, h.api.Calls("POST /login"))
	})

	t.Run("env email and prompted password", func(t *testing.T) {
		t.Setenv("USERDESK_EMAIL", "ada@example.com")
		out, err := h.run(t, scriptedPrompter{"Password": "secret1"}, "login")
		require.NoError(t, err)
		assert.Contains(t, out, "✓ Login successful!")
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := h.run(t, nil, "login", "--email", "ada@example.com", "--password", "nope")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Invalid email or password")
	})
}

func TestRegisterAndActivate(t *testing.T) {
	h := newHarness(t)

	prompts := scriptedPrompter{
		"First name":       "Grace",
		"Last name":        "Hopper",
		"Email":            "grace@example.com",
		"Password":         "secret1",
		"Confirm password": "secret1",
	}
	out, err := h.run(t, prompts, "register")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Registration successful!")

	token := h.api.ActivationToken("grace@example.com")
	require.NotEmpty(t, token)

	out, err = h.run(t, nil, "activate", token)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Account activated!")
	assert.NotEmpty(t, tokenstore.Current(h.tokens))
}

func TestRegister_ValidatesLocally(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, nil, "register", "--first-name", "R2D2", "--last-name", "Droid", "--email", "r2@example.com", "--password", "123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Must not contain numbers")
	assert.Contains(t, err.Error(), "At least 6 characters")
	assert.Equal(t, 0, h.api.Calls("POST /registration"))
}

func TestExpiredTokenIsRefreshed(t *testing.T) {
	h := newHarness(t)
	h.api.AddUser("Ada", "Lovelace", "ada@example.com", "secret1")

	_, err := h.run(t, nil, "login", "--email", "ada@example.com", "--password", "secret1")
	require.NoError(t, err)
	before := tokenstore.Current(h.tokens)

	h.api.ExpireAccessTokens()

	out, err := h.run(t, nil, "users", "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "ada@example.com")
	assert.Equal(t, 1, h.api.Calls("GET /refresh"))
	assert.NotEqual(t, before, tokenstore.Current(h.tokens))
}

func TestRevokedSessionAsksToLogInAgain(t *testing.T) {
	h := newHarness(t)
	h.api.AddUser("Ada", "Lovelace", "ada@example.com", "secret1")

	_, err := h.run(t, nil, "login", "--email", "ada@example.com", "--password", "secret1")
	require.NoError(t, err)

	h.api.ExpireAccessTokens()
	h.api.RevokeRefreshTokens()

	_, err = h.run(t, nil, "users", "ls")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "please run 'userdesk login' again")
	assert.Equal(t, 1, h.api.Calls("GET /refresh"))
}

func TestLogoutFailureKeepsToken(t *testing.T) {
	h := newHarness(t)
	h.api.AddUser("Ada", "Lovelace", "ada@example.com", "secret1")

	_, err := h.run(t, nil, "login", "--email", "ada@example.com", "--password", "secret1")
	require.NoError(t, err)

	h.api.Fail("POST /logout", http.StatusServiceUnavailable, "Try again later")
	_, err = h.run(t, nil, "logout")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still signed in")
	assert.NotEmpty(t, tokenstore.Current(h.tokens))
}

func TestLogoutWithExpiredAccessToken(t *testing.T) {
	h := newHarness(t)
	h.api.AddUser("Ada", "Lovelace", "ada@example.com", "secret1")

	_, err := h.run(t, nil, "login", "--email", "ada@example.com", "--password", "secret1")
	require.NoError(t, err)

	h.api.ExpireAccessTokens()
	_, err = h.run(t, nil, "logout")
	require.NoError(t, err)
	assert.Equal(t, 1, h.api.Calls("GET /refresh"))
	assert.Empty(t, tokenstore.Current(h.tokens))
}

func TestLogoutWithRevokedSessionClearsToken(t *testing.T) {
	h := newHarness(t)
	h.api.AddUser("Ada", "Lovelace", "ada@example.com", "secret1")

	_, err := h.run(t, nil, "login", "--email", "ada@example.com", "--password", "secret1")
	require.NoError(t, err)

	h.api.ExpireAccessTokens()
	h.api.RevokeRefreshTokens()
	_, err = h.run(t, nil, "logout")
	require.NoError(t, err)
	assert.Empty(t, tokenstore.Current(h.tokens))
}

func TestProfileCommands(t *testing.T) {
	h := newHarness(t)
	h.api.AddUser("Ada", "Lovelace", "ada@example.com", "secret1")

	_, err := h.run(t, nil, "login", "--email", "ada@example.com", "--password", "secret1")
	require.NoError(t, err)

	out, err := h.run(t, nil, "profile", "set-name", "--first-name", "Augusta", "--last-name", "King")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Name updated: Augusta King")

	out, err = h.run(t, scriptedPrompter{
		"Current password":     "secret1",
		"New password":         "secret2",
		"Confirm new password": "secret2",
	}, "profile", "set-password")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Password changed")

	out, err = h.run(t, scriptedPrompter{"Password": "secret2"}, "profile", "set-email", "--new-email", "augusta@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "augusta@example.com")

	token := h.api.EmailChangeToken("augusta@example.com")
	require.NotEmpty(t, token)

	out, err = h.run(t, nil, "confirm-email", token)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Email changed!")

	out, err = h.run(t, nil, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "augusta@example.com")
}

func TestSignIn(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, nil, "sign-in", "github", "--code", "github:linus@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "linus@example.com")

	_, err = h.run(t, nil, "sign-in", "google", "--credential", "bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "google sign-in failed")
}

func TestInvalidOutputFormat(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, nil, "-o", "xml", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}
