package server

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"

	"github.com/userdesk-dev/userdesk/internal/api"
	"github.com/userdesk-dev/userdesk/internal/httpclient"
	"github.com/userdesk-dev/userdesk/internal/validation"
)

//go:embed templates/*.html
var templateFS embed.FS

const layoutTemplate = "templates/layout.html"

// pageRenderer implements gin's render.HTMLRender with one template set per
// page, each sharing the layout.
type pageRenderer struct {
	pages map[string]*template.Template
}

func loadPages() (*pageRenderer, error) {
	files, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	funcs := template.FuncMap{
		"field": func(errs map[string]string, name string) string { return errs[name] },
	}

	pages := make(map[string]*template.Template, len(files))
	for _, file := range files {
		if file == layoutTemplate {
			continue
		}
		name := path.Base(file)
		t, err := template.New(name).Option("missingkey=zero").Funcs(funcs).ParseFS(templateFS, layoutTemplate, file)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		pages[name] = t
	}
	return &pageRenderer{pages: pages}, nil
}

func (p *pageRenderer) Instance(name string, data any) render.Render {
	t, ok := p.pages[name]
	if !ok {
		t = p.pages["not_found.html"]
	}
	return render.HTML{Template: t, Name: "layout", Data: data}
}

// view is the data every page template receives.
type view struct {
	Title   string
	User    *api.User
	Flash   *flash
	Form    map[string]string
	Errors  map[string]string
	From    string
	Token   string
	Users   []api.User
	Version string
}

func (s *Server) render(c *gin.Context, status int, page string, v view) {
	if user, ok := GetCurrentUser(c); ok {
		v.User = user
	}
	if v.Flash == nil {
		v.Flash = popFlash(c)
	}
	v.Version = s.version
	c.HTML(status, page, v)
}

// validate runs the form validator. It reports field messages on failure.
func (s *Server) validate(form any) (map[string]string, bool) {
	err := s.validator.Struct(form)
	if err == nil {
		return nil, true
	}
	var fields validation.FieldErrors
	if errors.As(err, &fields) {
		return fields, false
	}
	return map[string]string{"form": err.Error()}, false
}

// apiFailure re-renders page with the API's message as a flash and any
// field errors attached to the form.
func (s *Server) apiFailure(c *gin.Context, page string, v view, err error, fallback string) {
	s.logger.Warn().Err(err).Str("path", c.Request.URL.Path).Msg("API call failed")

	if fields := httpclient.FieldErrors(err); len(fields) > 0 {
		if v.Errors == nil {
			v.Errors = make(map[string]string, len(fields))
		}
		for k, msg := range fields {
			v.Errors[k] = msg
		}
	}
	v.Flash = &flash{Kind: flashError, Message: errorMessage(err, fallback)}
	s.render(c, statusFor(err), page, v)
}

func errorMessage(err error, fallback string) string {
	if httpclient.Classify(err) == httpclient.KindTransport {
		return "Could not reach the account server"
	}
	return httpclient.UserMessage(err, fallback)
}

// statusFor passes API client errors through and reports everything else
// as a bad gateway.
func statusFor(err error) int {
	var apiErr *httpclient.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		return apiErr.StatusCode
	}
	return http.StatusBadGateway
}

// redirectWithError is used by link-driven actions that have no form to
// re-render.
func (s *Server) redirectWithError(c *gin.Context, location string, err error, fallback string) {
	s.logger.Warn().Err(err).Str("path", c.Request.URL.Path).Msg("API call failed")
	setFlash(c, flashError, errorMessage(err, fallback))
	c.Redirect(http.StatusSeeOther, location)
}

func (s *Server) loading(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	s.render(c, http.StatusOK, "loading.html", view{Title: "Loading"})
}

func (s *Server) notFound(c *gin.Context) {
	s.render(c, http.StatusNotFound, "not_found.html", view{Title: "Not found"})
}
