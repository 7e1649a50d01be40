// Package apitest provides an in-process fake of the account API for tests.
//
// It implements every endpoint the clients use, issues HS256 access tokens
// and an HTTP-only refresh cookie, and counts calls per route so tests can
// assert on refresh and retry behavior.
package apitest

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/userdesk-dev/userdesk/internal/api"
)

// RefreshCookie is the name of the refresh credential cookie.
const RefreshCookie = "refreshToken"

type account struct {
	user         api.User
	passwordHash []byte
	active       bool
}

type emailChange struct {
	userID   int64
	newEmail string
}

type failure struct {
	status  int
	message string
}

type claims struct {
	Email      string `json:"email"`
	Generation int    `json:"gen"`
	jwt.RegisteredClaims
}

// Server is a fake account API.
type Server struct {
	*httptest.Server

	// AccessTTL is the lifetime of issued access tokens.
	AccessTTL time.Duration

	secret []byte

	mu           sync.Mutex
	nextID       int64
	accounts     map[string]*account // by email
	activations  map[string]string   // token -> email
	resets       map[string]string   // token -> email
	emailChanges map[string]emailChange
	refreshes    map[string]int64 // refresh token -> user id
	generation   int
	calls        map[string]int
	failures     map[string]failure
	hooks        map[string]func()
}

// NewServer starts a fake API. It is closed with t.Cleanup by the caller.
func NewServer() *Server {
	gin.SetMode(gin.TestMode)

	s := &Server{
		AccessTTL:    time.Minute,
		secret:       []byte(randomToken()),
		nextID:       1,
		accounts:     make(map[string]*account),
		activations:  make(map[string]string),
		resets:       make(map[string]string),
		emailChanges: make(map[string]emailChange),
		refreshes:    make(map[string]int64),
		calls:        make(map[string]int),
		failures:     make(map[string]failure),
		hooks:        make(map[string]func()),
	}
	s.Server = httptest.NewServer(s.router())
	return s
}

func (s *Server) router() *gin.Engine {
	r := gin.New()
	r.Use(s.countAndInject)

	r.POST("/registration", s.register)
	r.GET("/activation/:token", s.activate)
	r.POST("/login", s.login)
	r.POST("/logout", s.requireAccess, s.logout)
	r.GET("/refresh", s.refresh)
	r.POST("/reset-password", s.requestReset)
	r.POST("/reset-password/:token", s.confirmReset)
	r.POST("/google", s.google)
	r.POST("/auth/github/callback", s.github)

	users := r.Group("/users", s.requireAccess)
	users.GET("", s.listUsers)
	users.PATCH("/me", s.updateName)
	users.PATCH("/me/password", s.updatePassword)
	users.PATCH("/me/email", s.updateEmail)
	users.GET("/me/confirm-email-change/:token", s.confirmEmailChange)

	return r
}

// --- test controls ---

// AddUser seeds an active account and returns it.
func (s *Server) AddUser(firstName, lastName, email, password string) api.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(firstName, lastName, email, password, true).user
}

// Calls returns how many times route ("METHOD /path-pattern") was hit.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// Fail makes route answer status with message until ClearFailures.
func (s *Server) Fail(route string, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = failure{status: status, message: message}
}

// ClearFailures removes all injected failures.
func (s *Server) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = make(map[string]failure)
}

// OnCall runs fn (outside the server lock) before route is handled.
func (s *Server) OnCall(route string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[route] = fn
}

// ExpireAccessTokens invalidates every access token issued so far. Refresh
// cookies stay valid.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
}

// RevokeRefreshTokens invalidates every refresh cookie.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes = make(map[string]int64)
}

// ActivationToken returns the pending activation token for email.
func (s *Server) ActivationToken(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, e := range s.activations {
		if e == email {
			return token
		}
	}
	return ""
}

// ResetToken returns the pending password reset token for email.
func (s *Server) ResetToken(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, e := range s.resets {
		if e == email {
			return token
		}
	}
	return ""
}

// EmailChangeToken returns the pending email change token for newEmail.
func (s *Server) EmailChangeToken(newEmail string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, c := range s.emailChanges {
		if c.newEmail == newEmail {
			return token
		}
	}
	return ""
}

// --- middleware ---

func (s *Server) countAndInject(c *gin.Context) {
	route := c.Request.Method + " " + c.FullPath()

	s.mu.Lock()
	s.calls[route]++
	f, failing := s.failures[route]
	hook := s.hooks[route]
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	if failing {
		c.AbortWithStatusJSON(f.status, gin.H{"message": f.message})
		return
	}
	c.Next()
}

func (s *Server) requireAccess(c *gin.Context) {
	header := c.GetHeader("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized"})
		return
	}

	var cl claims
	_, err := jwt.ParseWithClaims(raw, &cl, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized"})
		return
	}

	s.mu.Lock()
	acc, found := s.accounts[cl.Email]
	stale := cl.Generation != s.generation
	s.mu.Unlock()

	if stale || !found {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized"})
		return
	}
	c.Set("account", acc)
	c.Next()
}

// --- handlers ---

func (s *Server) register(c *gin.Context) {
	var req api.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	fields := gin.H{}
	if req.FirstName == "" {
		fields["firstName"] = "First name is required"
	}
	if req.LastName == "" {
		fields["lastName"] = "Last name is required"
	}
	if !strings.Contains(req.Email, "@") {
		fields["email"] = "Email is not valid"
	}
	if len(req.Password) < 6 {
		fields["password"] = "At least 6 characters"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[req.Email]; exists {
		fields["email"] = "Email is already taken"
	}
	if len(fields) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Validation error", "errors": fields})
		return
	}

	s.createLocked(req.FirstName, req.LastName, req.Email, req.Password, false)
	s.activations[randomToken()] = req.Email
	c.Status(http.StatusOK)
}

func (s *Server) activate(c *gin.Context) {
	s.mu.Lock()
	email, ok := s.activations[c.Param("token")]
	if !ok {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, gin.H{"message": "Activation token is invalid"})
		return
	}
	delete(s.activations, c.Param("token"))
	acc := s.accounts[email]
	acc.active = true
	s.mu.Unlock()

	s.startSession(c, acc)
}

func (s *Server) login(c *gin.Context) {
	var req api.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	s.mu.Lock()
	acc, ok := s.accounts[req.Email]
	s.mu.Unlock()

	if !ok || bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid email or password"})
		return
	}
	if !acc.active {
		c.JSON(http.StatusForbidden, gin.H{"message": "Account is not activated"})
		return
	}

	s.startSession(c, acc)
}

func (s *Server) logout(c *gin.Context) {
	if cookie, err := c.Cookie(RefreshCookie); err == nil {
		s.mu.Lock()
		delete(s.refreshes, cookie)
		s.mu.Unlock()
	}
	c.SetCookie(RefreshCookie, "", -1, "/", "", false, true)
	c.Status(http.StatusNoContent)
}

func (s *Server) refresh(c *gin.Context) {
	cookie, err := c.Cookie(RefreshCookie)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized"})
		return
	}

	s.mu.Lock()
	userID, ok := s.refreshes[cookie]
	delete(s.refreshes, cookie)
	acc := s.byIDLocked(userID)
	s.mu.Unlock()

	if !ok || acc == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized"})
		return
	}
	s.startSession(c, acc)
}

func (s *Server) requestReset(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	_ = c.ShouldBindJSON(&req)

	s.mu.Lock()
	if _, ok := s.accounts[req.Email]; ok {
		s.resets[randomToken()] = req.Email
	}
	s.mu.Unlock()

	// Same answer whether or not the account exists.
	c.Status(http.StatusOK)
}

func (s *Server) confirmReset(c *gin.Context) {
	var req struct {
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Password) < 6 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Validation error", "errors": gin.H{"password": "At least 6 characters"}})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.resets[c.Param("token")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "Reset token is invalid"})
		return
	}
	delete(s.resets, c.Param("token"))
	s.accounts[email].passwordHash = mustHash(req.Password)
	c.Status(http.StatusOK)
}

func (s *Server) google(c *gin.Context) {
	var req struct {
		Credential string `json:"credential"`
	}
	_ = c.ShouldBindJSON(&req)
	s.socialSignIn(c, "google:", req.Credential)
}

func (s *Server) github(c *gin.Context) {
	var req struct {
		Code string `json:"code"`
	}
	_ = c.ShouldBindJSON(&req)
	s.socialSignIn(c, "github:", req.Code)
}

// socialSignIn accepts credentials of the form "<provider>:<email>".
func (s *Server) socialSignIn(c *gin.Context, prefix, credential string) {
	email, ok := strings.CutPrefix(credential, prefix)
	if !ok || email == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid credential"})
		return
	}

	s.mu.Lock()
	acc, exists := s.accounts[email]
	if !exists {
		name, _, _ := strings.Cut(email, "@")
		acc = s.createLocked(name, "", email, randomToken(), true)
	}
	acc.active = true
	s.mu.Unlock()

	s.startSession(c, acc)
}

func (s *Server) listUsers(c *gin.Context) {
	s.mu.Lock()
	users := make([]api.User, 0, len(s.accounts))
	for id := int64(1); id < s.nextID; id++ {
		if acc := s.byIDLocked(id); acc != nil && acc.active {
			users = append(users, acc.user)
		}
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, users)
}

func (s *Server) updateName(c *gin.Context) {
	acc := c.MustGet("account").(*account)
	var req api.UpdateNameRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.FirstName == "" || req.LastName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Validation error", "errors": gin.H{"firstName": "This field is required"}})
		return
	}

	s.mu.Lock()
	acc.user = api.User{ID: acc.user.ID, Email: acc.user.Email, FirstName: req.FirstName, LastName: req.LastName}
	user := acc.user
	s.mu.Unlock()
	c.JSON(http.StatusOK, user)
}

func (s *Server) updatePassword(c *gin.Context) {
	acc := c.MustGet("account").(*account)
	var req api.UpdatePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(req.OldPassword)) != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Validation error", "errors": gin.H{"oldPassword": "Old password is incorrect"}})
		return
	}
	if req.NewPassword != req.ConfirmPassword {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Validation error", "errors": gin.H{"confirmPassword": "Passwords must match"}})
		return
	}
	acc.passwordHash = mustHash(req.NewPassword)
	c.Status(http.StatusOK)
}

func (s *Server) updateEmail(c *gin.Context) {
	acc := c.MustGet("account").(*account)
	var req api.UpdateEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(req.Password)) != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Validation error", "errors": gin.H{"password": "Password is incorrect"}})
		return
	}
	if _, taken := s.accounts[req.NewEmail]; taken {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Validation error", "errors": gin.H{"newEmail": "Email is already taken"}})
		return
	}
	s.emailChanges[randomToken()] = emailChange{userID: acc.user.ID, newEmail: req.NewEmail}
	c.Status(http.StatusOK)
}

func (s *Server) confirmEmailChange(c *gin.Context) {
	s.mu.Lock()
	change, ok := s.emailChanges[c.Param("token")]
	if !ok {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, gin.H{"message": "Confirmation token is invalid"})
		return
	}
	delete(s.emailChanges, c.Param("token"))
	acc := s.byIDLocked(change.userID)
	delete(s.accounts, acc.user.Email)
	acc.user = api.User{ID: acc.user.ID, Email: change.newEmail, FirstName: acc.user.FirstName, LastName: acc.user.LastName}
	s.accounts[change.newEmail] = acc
	s.mu.Unlock()

	s.startSession(c, acc)
}

// --- helpers ---

func (s *Server) startSession(c *gin.Context, acc *account) {
	s.mu.Lock()
	refresh := randomToken()
	s.refreshes[refresh] = acc.user.ID
	user := acc.user
	gen := s.generation
	s.mu.Unlock()

	token, err := s.issueAccessToken(user, gen)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to generate token"})
		return
	}

	c.SetCookie(RefreshCookie, refresh, 30*24*3600, "/", "", false, true)
	c.JSON(http.StatusOK, api.AuthData{AccessToken: token, User: user})
}

func (s *Server) issueAccessToken(user api.User, generation int) (string, error) {
	now := time.Now()
	cl := claims{
		Email:      user.Email,
		Generation: generation,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.AccessTTL)),
			ID:        randomToken()[:16],
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString(s.secret)
}

func (s *Server) createLocked(firstName, lastName, email, password string, active bool) *account {
	acc := &account{
		user: api.User{
			ID:        s.nextID,
			Email:     email,
			FirstName: firstName,
			LastName:  lastName,
		},
		passwordHash: mustHash(password),
		active:       active,
	}
	s.nextID++
	s.accounts[email] = acc
	return acc
}

func (s *Server) byIDLocked(id int64) *account {
	for _, acc := range s.accounts {
		if acc.user.ID == id {
			return acc
		}
	}
	return nil
}

func mustHash(password string) []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(errors.Join(errors.New("apitest: hashing password"), err))
	}
	return hash
}

func randomToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

// HTTPClient returns a client with its own cookie jar, standing in for a
// browser's cookie handling of the refresh credential.
func (s *Server) HTTPClient() *http.Client {
	jar, err := cookiejar.New(nil)
	if err != nil {
		panic(err)
	}
	return &http.Client{Jar: jar, Timeout: 5 * time.Second}
}
