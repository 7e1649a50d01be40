package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/userdesk-dev/userdesk/internal/apitest"
	"github.com/userdesk-dev/userdesk/internal/app"
	"github.com/userdesk-dev/userdesk/internal/config"
	"github.com/userdesk-dev/userdesk/internal/tokenstore"
)

type testConsole struct {
	api     *apitest.Server
	app     *app.App
	console *httptest.Server
	browser *http.Client
}

func newTestConsole(t *testing.T) *testConsole {
	t.Helper()

	fake := apitest.NewServer()
	t.Cleanup(fake.Close)

	a, err := app.New(app.Options{
		APIURL:     fake.URL,
		Tokens:     tokenstore.NewMemoryStore(),
		HTTPClient: fake.HTTPClient(),
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)

	srv, err := New(a, config.ConsoleConfig{AllowedOrigins: []string{"http://localhost:3000"}}, zerolog.Nop(), "test")
	require.NoError(t, err)

	console := httptest.NewServer(srv.Handler())
	t.Cleanup(console.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	browser := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &testConsole{api: fake, app: a, console: console, browser: browser}
}

func (tc *testConsole) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := tc.browser.Get(tc.console.URL + path)
	require.NoError(t, err)
	return resp, readBody(t, resp)
}

func (tc *testConsole) post(t *testing.T, path string, form url.Values) (*http.Response, string) {
	t.Helper()
	resp, err := tc.browser.PostForm(tc.console.URL+path, form)
	require.NoError(t, err)
	return resp, readBody(t, resp)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestGuardedPage_LoadingThenRedirect(t *testing.T) {
	tc := newTestConsole(t)

	resp, body := tc.get(t, "/users")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Loading")
	assert.Equal(t, 0, tc.api.Calls("GET /users"))

	tc.app.Session.CheckAuth(context.Background())

	resp, _ = tc.get(t, "/users")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login?from=%2Fusers", resp.Header.Get("Location"))
}

func TestLogin_ReturnsToRequestedPage(t *testing.T) {
	tc := newTestConsole(t)
	tc.api.AddUser("Ada", "Lovelace", "ada@example.com", "secret1")
	tc.app.Session.CheckAuth(context.Background())

	resp, body := tc.get(t, "/login?from=%2Fusers")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `name="from" value="/users"`)

	resp, _ = tc.post(t, "/login", url.Values{
		"email":    {"ada@example.com"},
		"password": {"secret1"},
		"from":     {"/users"},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/users", resp.Header.Get("Location"))

	resp, body = tc.get(t, "/users")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "ada@example.com")
	assert.Contains(t, body, "Ada Lovelace")
}

func TestLogin_RejectsOpenRedirect(t *testing.T) {
	tc := newTestConsole(t)
	tc.api.AddUser("Ada", "Lovelace", "ada@example.com", "secret1")

	resp, _ := tc.post(t, "/login", url.Values{
		"email":    {"ada@example.com"},
		"password": {"secret1"},
		"from":     {"//evil.example.com"},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))
}

func TestLogin_ShowsAPIMessage(t *testing.T) {
	tc := newTestConsole(t)
	tc.api.AddUser("Ada", "Lovelace", "ada@example.com", "secret1")

	resp, body := tc.post(t, "/login", url.Values{
		"email":    {"ada@example.com"},
		"password": {"wrong"},
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body, "Invalid email or password")
	assert.Contains(t, body, `value="ada@example.com"`)
	assert.Nil(t, tc.app.Session.Snapshot().CurrentUser)
}

func TestSignUp_FieldErrors(t *testing.T) {
	tc := newTestConsole(t)

	resp, body := tc.post(t, "/sign-up", url.Values{
		"firstName":       {"R2D2"},
		"lastName":        {"Droid"},
		"email":           {"r2d2@example.com"},
		"password":        {"123"},
		"confirmPassword": {"1234"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "Must not contain numbers")
	assert.Contains(t, body, "At least 6 characters")
	assert.Contains(t, body, "Passwords must match")
	assert.Equal(t, 0, tc.api.Calls("POST /registration"))
}

func TestSignUpAndActivate(t *testing.T) {
	tc := newTestConsole(t)

	resp, _ := tc.post(t, "/sign-up", url.Values{
		"firstName":       {"Grace"},
		"lastName":        {"Hopper"},
		"email":           {"grace@example.com"},
		"password":        {"secret1"},
		"confirmPassword": {"secret1"},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	_, body := tc.get(t, "/login")
	assert.Contains(t, body, "Check your email to activate your account")

	// The flash is shown once
	_, body = tc.get(t, "/login")
	assert.NotContains(t, body, "Check your email")

	token := tc.api.ActivationToken("grace@example.com")
	require.NotEmpty(t, token)

	resp, _ = tc.get(t, "/activation/"+token)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/users", resp.Header.Get("Location"))

	snap := tc.app.Session.Snapshot()
	require.NotNil(t, snap.CurrentUser)
	assert.Equal(t, "grace@example.com", snap.CurrentUser.Email)

	// Sign-up with the same email is rejected by the API
	resp, body = tc.post(t, "/sign-up", url.Values{
		"firstName":       {"Grace"},
		"lastName":        {"Hopper"},
		"email":           {"grace@example.com"},
		"password":        {"secret1"},
		"confirmPassword": {"secret1"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "Email is already taken")
}

func TestLogout(t *testing.T) {
	tc := newTestConsole(t)
	tc.api.AddUser("Ada", "Lovelace", "ada@example.com", "secret1")
	require.NoError(t, tc.app.Session.Login(context.Background(), "ada@example.com", "secret1"))

	t.Run("remote failure keeps the session", func(t *testing.T) {
		tc.api.Fail("POST /logout", http.StatusInternalServerError, "Logout unavailable")
		defer tc.api.ClearFailures()

		resp, _ := tc.post(t, "/logout", nil)
		require.Equal(t, http.StatusSeeOther, resp.StatusCode)
		assert.Equal(t, "/", resp.Header.Get("Location"))
		assert.NotNil(t, tc.app.Session.Snapshot().CurrentUser)

		_, body := tc.get(t, "/")
		assert.Contains(t, body, "Logout unavailable")
	})

	t.Run("success clears the session", func(t *testing.T) {
		resp, _ := tc.post(t, "/logout", nil)
		require.Equal(t, http.StatusSeeOther, resp.StatusCode)
		assert.Equal(t, "/login", resp.Header.Get("Location"))

		snap := tc.app.Session.Snapshot()
		assert.True(t, snap.IsChecked)
		assert.Nil(t, snap.CurrentUser)

		resp, _ = tc.get(t, "/profile")
		assert.Equal(t, http.StatusFound, resp.StatusCode)
	})
}

func TestProfile_UpdateName(t *testing.T) {
	tc := newTestConsole(t)
	tc.api.AddUser("Ada", "Lovelace", "ada@example.com", "secret1")
	require.NoError(t, tc.app.Session.Login(context.Background(), "ada@example.com", "secret1"))

	resp, body := tc.post(t, "/profile/name", url.Values{"firstName": {"A"}, "lastName": {"King"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "Must be at least 2 letters long")

	before := tc.app.Session.Snapshot().CurrentUser

	resp, _ = tc.post(t, "/profile/name", url.Values{"firstName": {"Augusta"}, "lastName": {"King"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	after := tc.app.Session.Snapshot().CurrentUser
	require.NotNil(t, after)
	assert.Equal(t, "Augusta King", after.FullName())
	assert.Equal(t, "Ada", before.FirstName, "previous record is not mutated")

	_, body = tc.get(t, "/profile")
	assert.Contains(t, body, "Name updated")
	assert.Contains(t, body, `value="Augusta"`)
}

func TestProfile_UpdateNameTrimsInput(t *testing.T) {
	tc := newTestConsole(t)
	tc.api.AddUser("Ada", "Lovelace", "ada@example.com", "secret1")
	require.NoError(t, tc.app.Session.Login(context.Background(), "ada@example.com", "secret1"))

	resp, body := tc.post(t, "/profile/name", url.Values{"firstName": {"   "}, "lastName": {"King"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "This field is required")
	assert.Equal(t, 0, tc.api.Calls("PATCH /users/me"))

	resp, _ = tc.post(t, "/profile/name", url.Values{"firstName": {"  Augusta "}, "lastName": {" King"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	users, err := tc.app.Users.List(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Augusta", users[0].FirstName, "the API receives the trimmed name")
	assert.Equal(t, "King", users[0].LastName)
}

func TestSessionEndpoint(t *testing.T) {
	tc := newTestConsole(t)

	req, err := http.NewRequest(http.MethodGet, tc.console.URL+"/api/session", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")

	resp, err := tc.browser.Do(req)
	require.NoError(t, err)
	body := readBody(t, resp)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))

	var got SessionResponse
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.False(t, got.IsChecked)
	assert.Equal(t, "unchecked", got.State)
	assert.Nil(t, got.CurrentUser)
}

func TestSocialSignIn(t *testing.T) {
	tc := newTestConsole(t)
	tc.api.AddUser("Ada", "Lovelace", "ada@example.com", "secret1")

	resp, _ := tc.post(t, "/google", url.Values{"credential": {"not-a-credential"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
	assert.Nil(t, tc.app.Session.Snapshot().CurrentUser)

	resp, _ = tc.get(t, "/auth/github/callback?code=github:ada@example.com&state=%2Fprofile")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/profile", resp.Header.Get("Location"))
	require.NotNil(t, tc.app.Session.Snapshot().CurrentUser)
	assert.Equal(t, "ada@example.com", tc.app.Session.Snapshot().CurrentUser.Email)
}

func TestMetricsAndHealth(t *testing.T) {
	tc := newTestConsole(t)
	tc.app.Session.CheckAuth(context.Background())

	resp, body := tc.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(body, "userdesk_api_requests_total"), body)

	resp, body = tc.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"status":"online"`)

	resp, _ = tc.get(t, "/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
