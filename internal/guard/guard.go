// Package guard decides whether a protected view may render for the
// current session.
package guard

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/userdesk-dev/userdesk/internal/session"
)

// Outcome is the result of a guard decision.
type Outcome int

const (
	// Loading means the session has not been checked yet.
	Loading Outcome = iota
	// Allow means the protected view may render.
	Allow
	// Redirect means the visitor is sent to the login page.
	Redirect
)

func (o Outcome) String() string {
	switch o {
	case Loading:
		return "loading"
	case Allow:
		return "allow"
	case Redirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// FromParam is the query parameter that carries the originally requested path.
const FromParam = "from"

// Decision is what the guard decided for a request.
type Decision struct {
	Outcome  Outcome
	Location string // set on Redirect
	From     string // set on Redirect
}

// Decide is a pure function of the session snapshot and the requested path.
func Decide(snap session.Snapshot, requestedPath, loginPath string) Decision {
	if !snap.IsChecked {
		return Decision{Outcome: Loading}
	}
	if snap.CurrentUser != nil {
		return Decision{Outcome: Allow}
	}
	return Decision{
		Outcome:  Redirect,
		Location: loginPath + "?" + url.Values{FromParam: {requestedPath}}.Encode(),
		From:     requestedPath,
	}
}

// ReturnPath returns from when it is a local absolute path, fallback otherwise.
func ReturnPath(from, fallback string) string {
	if from == "" || !strings.HasPrefix(from, "/") {
		return fallback
	}
	// "//host" and "/\host" are treated as network paths by browsers.
	if strings.HasPrefix(from, "//") || strings.HasPrefix(from, "/\\") {
		return fallback
	}
	u, err := url.Parse(from)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}
	return from
}

// SnapshotSource is anything that can report the current session state.
type SnapshotSource interface {
	Snapshot() session.Snapshot
}

// Require returns gin middleware guarding the routes it is attached to.
// While the session is unchecked the loading handler renders instead.
func Require(source SnapshotSource, loginPath string, loading gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision := Decide(source.Snapshot(), c.Request.URL.RequestURI(), loginPath)
		switch decision.Outcome {
		case Allow:
			c.Next()
		case Loading:
			if loading != nil {
				loading(c)
			} else {
				c.Status(http.StatusServiceUnavailable)
			}
			c.Abort()
		default:
			c.Redirect(http.StatusFound, decision.Location)
			c.Abort()
		}
	}
}
