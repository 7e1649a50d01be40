package commands

import (
	"bytes"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/userdesk-dev/userdesk/internal/tokenstore"
)

func signedToken(t *testing.T, email string, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": email,
		"sub":   "42",
		"exp":   exp.Unix(),
	}).SignedString([]byte("unknown-to-the-client"))
	require.NoError(t, err)
	return token
}

func TestReadStatus(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("no token", func(t *testing.T) {
		status, err := readStatus("http://api", tokenstore.NewMemoryStore(), now)
		require.NoError(t, err)
		assert.Equal(t, &Status{APIURL: "http://api"}, status)
	})

	t.Run("valid token", func(t *testing.T) {
		store := tokenstore.NewMemoryStore()
		require.NoError(t, store.Save(signedToken(t, "ada@example.com", now.Add(time.Minute))))

		status, err := readStatus("http://api", store, now)
		require.NoError(t, err)
		assert.True(t, status.LoggedIn)
		assert.Equal(t, "ada@example.com", status.Email)
		assert.Equal(t, "42", status.UserID)
		require.NotNil(t, status.ExpiresAt)
		assert.True(t, status.ExpiresAt.Equal(now.Add(time.Minute)))
		assert.False(t, status.Expired)
	})

	t.Run("expired token", func(t *testing.T) {
		store := tokenstore.NewMemoryStore()
		require.NoError(t, store.Save(signedToken(t, "ada@example.com", now.Add(-time.Minute))))

		status, err := readStatus("http://api", store, now)
		require.NoError(t, err)
		assert.True(t, status.Expired)
	})

	t.Run("opaque token", func(t *testing.T) {
		store := tokenstore.NewMemoryStore()
		require.NoError(t, store.Save("not-a-jwt"))

		status, err := readStatus("http://api", store, now)
		require.NoError(t, err)
		assert.True(t, status.LoggedIn)
		assert.Empty(t, status.Email)
		assert.Nil(t, status.ExpiresAt)
	})
}

func TestPrintValue(t *testing.T) {
	var out bytes.Buffer
	env := NewEnv(WithOutput(&out, &out))

	env.Output = formatJSON
	require.NoError(t, env.printValue(map[string]int{"a": 1}, nil))
	assert.JSONEq(t, `{"a":1}`, out.String())

	out.Reset()
	env.Output = formatYAML
	require.NoError(t, env.printValue(map[string]int{"a": 1}, nil))
	assert.Equal(t, "a: 1\n", out.String())

	assert.Error(t, validateFormat("xml"))
}
