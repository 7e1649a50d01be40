package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/userdesk-dev/userdesk/internal/api"
	"github.com/userdesk-dev/userdesk/internal/session"
	"github.com/userdesk-dev/userdesk/internal/validation"
)

func (s *Server) listUsers(c *gin.Context) {
	v := view{Title: "Users"}

	users, err := s.app.Users.List(c.Request.Context())
	if err != nil {
		s.apiFailure(c, "users.html", v, err, "Could not load users")
		return
	}

	v.Users = users
	s.render(c, http.StatusOK, "users.html", v)
}

func (s *Server) profileView(c *gin.Context) view {
	v := view{Title: "Profile", Form: map[string]string{}}
	if user, ok := GetCurrentUser(c); ok {
		v.Form["firstName"] = user.FirstName
		v.Form["lastName"] = user.LastName
	}
	return v
}

func (s *Server) profilePage(c *gin.Context) {
	s.render(c, http.StatusOK, "profile.html", s.profileView(c))
}

func (s *Server) updateName(c *gin.Context) {
	var form validation.Name
	_ = c.ShouldBind(&form)

	v := s.profileView(c)
	v.Form["firstName"] = form.FirstName
	v.Form["lastName"] = form.LastName
	if fields, ok := s.validate(&form); !ok {
		v.Errors = fields
		s.render(c, http.StatusBadRequest, "profile.html", v)
		return
	}

	user, err := s.app.Users.UpdateName(c.Request.Context(), api.UpdateNameRequest{
		FirstName: form.FirstName,
		LastName:  form.LastName,
	})
	if err != nil {
		s.apiFailure(c, "profile.html", v, err, "Could not update your name")
		return
	}

	if err := s.app.Session.ReplaceUser(*user); err != nil {
		if errors.Is(err, session.ErrNotAuthenticated) {
			c.Redirect(http.StatusSeeOther, loginPath)
			return
		}
		s.redirectWithError(c, "/profile", err, "Could not update your name")
		return
	}

	setFlash(c, flashSuccess, "Name updated")
	c.Redirect(http.StatusSeeOther, "/profile")
}

func (s *Server) updatePassword(c *gin.Context) {
	var form validation.PasswordChange
	_ = c.ShouldBind(&form)

	v := s.profileView(c)
	if fields, ok := s.validate(&form); !ok {
		v.Errors = fields
		s.render(c, http.StatusBadRequest, "profile.html", v)
		return
	}

	err := s.app.Users.UpdatePassword(c.Request.Context(), api.UpdatePasswordRequest{
		OldPassword:     form.OldPassword,
		NewPassword:     form.NewPassword,
		ConfirmPassword: form.ConfirmPassword,
	})
	if err != nil {
		s.apiFailure(c, "profile.html", v, err, "Could not change your password")
		return
	}

	setFlash(c, flashSuccess, "Password changed")
	c.Redirect(http.StatusSeeOther, "/profile")
}

func (s *Server) updateEmail(c *gin.Context) {
	var form validation.EmailChange
	_ = c.ShouldBind(&form)

	v := s.profileView(c)
	v.Form["newEmail"] = form.NewEmail
	if fields, ok := s.validate(&form); !ok {
		v.Errors = fields
		s.render(c, http.StatusBadRequest, "profile.html", v)
		return
	}

	err := s.app.Users.UpdateEmail(c.Request.Context(), api.UpdateEmailRequest{
		NewEmail: form.NewEmail,
		Password: form.Password,
	})
	if err != nil {
		s.apiFailure(c, "profile.html", v, err, "Could not change your email")
		return
	}

	setFlash(c, flashSuccess, "Check "+form.NewEmail+" to confirm the change")
	c.Redirect(http.StatusSeeOther, "/profile")
}

// confirmEmailChange follows the link mailed to the new address. The API
// rotates the session, so the returned token replaces the current one.
func (s *Server) confirmEmailChange(c *gin.Context) {
	data, err := s.app.Users.ConfirmEmailChange(c.Request.Context(), c.Param("token"))
	if err != nil {
		s.redirectWithError(c, "/profile", err, "Could not confirm the email change")
		return
	}

	if err := s.app.Session.Establish(data); err != nil {
		s.redirectWithError(c, "/profile", err, "Could not confirm the email change")
		return
	}

	setFlash(c, flashSuccess, "Email changed to "+data.User.Email)
	c.Redirect(http.StatusSeeOther, "/profile")
}
