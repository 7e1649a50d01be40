package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/userdesk-dev/userdesk/internal/api"
)

const (
	currentUserKey = "currentUser"
	flashCookie    = "userdesk_flash"
)

// Flash kinds
const (
	flashSuccess = "success"
	flashError   = "error"
)

type flash struct {
	Kind    string
	Message string
}

// currentUserMiddleware pins the session snapshot's user to the request so
// a page renders one consistent user even if the session changes mid-request.
func (s *Server) currentUserMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if user := s.app.Session.Snapshot().CurrentUser; user != nil {
			c.Set(currentUserKey, user)
		}
		c.Next()
	}
}

// GetCurrentUser returns the user pinned by currentUserMiddleware.
func GetCurrentUser(c *gin.Context) (*api.User, bool) {
	value, exists := c.Get(currentUserKey)
	if !exists {
		return nil, false
	}

	user, ok := value.(*api.User)
	return user, ok
}

// setFlash stores a one-shot message shown by the next rendered page.
func setFlash(c *gin.Context, kind, message string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(flashCookie, kind+"|"+message, 60, "/", "", false, true)
}

// popFlash reads and clears the pending flash message.
func popFlash(c *gin.Context) *flash {
	raw, err := c.Cookie(flashCookie)
	if err != nil || raw == "" {
		return nil
	}
	c.SetCookie(flashCookie, "", -1, "/", "", false, true)

	kind, message, ok := strings.Cut(raw, "|")
	if !ok || message == "" {
		return nil
	}
	if kind != flashSuccess {
		kind = flashError
	}
	return &flash{Kind: kind, Message: message}
}
