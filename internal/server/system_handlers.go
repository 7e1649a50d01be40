package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/userdesk-dev/userdesk/internal/api"
)

// SessionResponse mirrors the console's session state
type SessionResponse struct {
	IsChecked   bool      `json:"isChecked"`
	State       string    `json:"state"`
	CurrentUser *api.User `json:"currentUser"`
}

// @Summary Current session state
// @Tags session
// @Produce json
// @Success 200 {object} SessionResponse
// @Router /api/session [get]
func (s *Server) getSession(c *gin.Context) {
	snap := s.app.Session.Snapshot()
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, SessionResponse{
		IsChecked:   snap.IsChecked,
		State:       snap.State().String(),
		CurrentUser: snap.CurrentUser,
	})
}
