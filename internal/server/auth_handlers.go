package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/userdesk-dev/userdesk/internal/api"
	"github.com/userdesk-dev/userdesk/internal/guard"
	"github.com/userdesk-dev/userdesk/internal/validation"
)

func (s *Server) home(c *gin.Context) {
	s.render(c, http.StatusOK, "home.html", view{Title: "userdesk"})
}

func (s *Server) signUpPage(c *gin.Context) {
	s.render(c, http.StatusOK, "sign_up.html", view{Title: "Sign up"})
}

func (s *Server) signUp(c *gin.Context) {
	var form validation.Registration
	if err := c.ShouldBind(&form); err != nil {
		s.render(c, http.StatusBadRequest, "sign_up.html", view{Title: "Sign up", Flash: &flash{Kind: flashError, Message: "Invalid form submission"}})
		return
	}

	v := view{
		Title: "Sign up",
		Form: map[string]string{
			"firstName": form.FirstName,
			"lastName":  form.LastName,
			"email":     form.Email,
		},
	}
	if fields, ok := s.validate(&form); !ok {
		v.Errors = fields
		s.render(c, http.StatusBadRequest, "sign_up.html", v)
		return
	}

	err := s.app.Auth.Register(c.Request.Context(), api.RegisterRequest{
		FirstName: form.FirstName,
		LastName:  form.LastName,
		Email:     form.Email,
		Password:  form.Password,
	})
	if err != nil {
		s.apiFailure(c, "sign_up.html", v, err, "Registration failed")
		return
	}

	setFlash(c, flashSuccess, "Check your email to activate your account")
	c.Redirect(http.StatusSeeOther, loginPath)
}

func (s *Server) activate(c *gin.Context) {
	if err := s.app.Session.Activate(c.Request.Context(), c.Param("token")); err != nil {
		s.redirectWithError(c, loginPath, err, "Activation failed")
		return
	}

	setFlash(c, flashSuccess, "Your account is active")
	c.Redirect(http.StatusSeeOther, "/users")
}

func (s *Server) loginPage(c *gin.Context) {
	from := guard.ReturnPath(c.Query(guard.FromParam), "/")

	// Already signed in: nothing to do here
	if _, ok := GetCurrentUser(c); ok {
		c.Redirect(http.StatusSeeOther, from)
		return
	}

	s.render(c, http.StatusOK, "login.html", view{Title: "Log in", From: from})
}

func (s *Server) login(c *gin.Context) {
	var form validation.Login
	if err := c.ShouldBind(&form); err != nil {
		s.render(c, http.StatusBadRequest, "login.html", view{Title: "Log in", Flash: &flash{Kind: flashError, Message: "Invalid form submission"}})
		return
	}

	from := guard.ReturnPath(c.PostForm(guard.FromParam), "/")
	v := view{
		Title: "Log in",
		From:  from,
		Form:  map[string]string{"email": form.Email},
	}
	if fields, ok := s.validate(&form); !ok {
		v.Errors = fields
		s.render(c, http.StatusBadRequest, "login.html", v)
		return
	}

	if err := s.app.Session.Login(c.Request.Context(), form.Email, form.Password); err != nil {
		s.apiFailure(c, "login.html", v, err, "Login failed")
		return
	}

	c.Redirect(http.StatusSeeOther, from)
}

func (s *Server) logout(c *gin.Context) {
	if err := s.app.Session.Logout(c.Request.Context()); err != nil {
		s.redirectWithError(c, "/", err, "Logout failed")
		return
	}

	setFlash(c, flashSuccess, "You have been logged out")
	c.Redirect(http.StatusSeeOther, loginPath)
}

func (s *Server) resetRequestPage(c *gin.Context) {
	s.render(c, http.StatusOK, "reset_request.html", view{Title: "Reset password"})
}

func (s *Server) requestReset(c *gin.Context) {
	var form validation.ResetRequest
	_ = c.ShouldBind(&form)

	v := view{Title: "Reset password", Form: map[string]string{"email": form.Email}}
	if fields, ok := s.validate(&form); !ok {
		v.Errors = fields
		s.render(c, http.StatusBadRequest, "reset_request.html", v)
		return
	}

	if err := s.app.Auth.RequestPasswordReset(c.Request.Context(), form.Email); err != nil {
		s.apiFailure(c, "reset_request.html", v, err, "Could not request a password reset")
		return
	}

	setFlash(c, flashSuccess, "Check your email for a link to reset your password")
	c.Redirect(http.StatusSeeOther, loginPath)
}

func (s *Server) resetConfirmPage(c *gin.Context) {
	s.render(c, http.StatusOK, "reset_confirm.html", view{Title: "Choose a new password", Token: c.Param("token")})
}

func (s *Server) confirmReset(c *gin.Context) {
	var form validation.ResetConfirm
	_ = c.ShouldBind(&form)

	token := c.Param("token")
	v := view{Title: "Choose a new password", Token: token}
	if fields, ok := s.validate(&form); !ok {
		v.Errors = fields
		s.render(c, http.StatusBadRequest, "reset_confirm.html", v)
		return
	}

	if err := s.app.Auth.ConfirmPasswordReset(c.Request.Context(), token, form.Password); err != nil {
		s.apiFailure(c, "reset_confirm.html", v, err, "Could not reset the password")
		return
	}

	setFlash(c, flashSuccess, "Password changed, you can log in now")
	c.Redirect(http.StatusSeeOther, loginPath)
}

// githubCallback finishes the GitHub OAuth redirect flow.
func (s *Server) githubCallback(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		setFlash(c, flashError, "GitHub did not return an authorization code")
		c.Redirect(http.StatusSeeOther, loginPath)
		return
	}

	if err := s.app.Session.SocialSignIn(c.Request.Context(), api.ProviderGitHub, code); err != nil {
		s.redirectWithError(c, loginPath, err, "GitHub sign-in failed")
		return
	}

	c.Redirect(http.StatusSeeOther, guard.ReturnPath(c.Query("state"), "/"))
}

// googleSignIn receives the ID token Google Identity Services posts in
// redirect mode.
func (s *Server) googleSignIn(c *gin.Context) {
	credential := c.PostForm("credential")
	if credential == "" {
		setFlash(c, flashError, "Google did not return a credential")
		c.Redirect(http.StatusSeeOther, loginPath)
		return
	}

	if err := s.app.Session.SocialSignIn(c.Request.Context(), api.ProviderGoogle, credential); err != nil {
		s.redirectWithError(c, loginPath, err, "Google sign-in failed")
		return
	}

	c.Redirect(http.StatusSeeOther, "/")
}
