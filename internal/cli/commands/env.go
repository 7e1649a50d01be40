package commands

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/rs/zerolog"

	"github.com/userdesk-dev/userdesk/internal/app"
	"github.com/userdesk-dev/userdesk/internal/cli/userconfig"
	"github.com/userdesk-dev/userdesk/internal/config"
	"github.com/userdesk-dev/userdesk/internal/logger"
	"github.com/userdesk-dev/userdesk/internal/tokenstore"
)

// Env carries everything commands need. Production code uses the defaults;
// tests swap pieces in with options.
type Env struct {
	Out    io.Writer
	ErrOut io.Writer
	Logger zerolog.Logger

	Version string

	// Set by persistent flags
	APIURL string
	Output string

	config     *config.Config
	tokens     tokenstore.Store
	httpClient *http.Client
	prompter   Prompter
	app        *app.App
}

// Option customizes an Env
type Option func(*Env)

// WithOutput redirects command output
func WithOutput(out, errOut io.Writer) Option {
	return func(e *Env) {
		e.Out = out
		e.ErrOut = errOut
	}
}

// WithConfig skips loading configuration from the environment
func WithConfig(cfg *config.Config) Option {
	return func(e *Env) { e.config = cfg }
}

// WithTokenStore overrides the token store chosen by configuration
func WithTokenStore(s tokenstore.Store) Option {
	return func(e *Env) { e.tokens = s }
}

// WithHTTPClient overrides the transport used to reach the API
func WithHTTPClient(hc *http.Client) Option {
	return func(e *Env) { e.httpClient = hc }
}

// WithPrompter replaces the interactive prompter
func WithPrompter(p Prompter) Option {
	return func(e *Env) { e.prompter = p }
}

// WithVersion sets the reported build version
func WithVersion(v string) Option {
	return func(e *Env) { e.Version = v }
}

// NewEnv builds an Env with defaults applied
func NewEnv(opts ...Option) *Env {
	e := &Env{
		Out:     os.Stdout,
		ErrOut:  os.Stderr,
		Logger:  zerolog.Nop(),
		Version: "dev",
		Output:  formatTable,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.prompter == nil {
		e.prompter = newTerminalPrompter(e.ErrOut)
	}
	return e
}

// Config returns the loaded configuration
func (e *Env) Config() (*config.Config, error) {
	if e.config != nil {
		return e.config, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	e.config = cfg
	return cfg, nil
}

// ResolveAPIURL applies flag > env > user config > default precedence
func (e *Env) ResolveAPIURL() (string, error) {
	if e.APIURL != "" {
		return e.APIURL, nil
	}

	cfg, err := e.Config()
	if err != nil {
		return "", err
	}
	if cfg.API.URL != "" {
		return cfg.API.URL, nil
	}

	uc, err := userconfig.Load()
	if err != nil {
		e.Logger.Warn().Err(err).Msg("Ignoring unreadable user config")
	} else if uc.APIURL != "" {
		return uc.APIURL, nil
	}

	return config.DefaultAPIURL, nil
}

// App returns the wired session stack, building it on first use
func (e *Env) App() (*app.App, error) {
	if e.app != nil {
		return e.app, nil
	}

	cfg, err := e.Config()
	if err != nil {
		return nil, err
	}
	apiURL, err := e.ResolveAPIURL()
	if err != nil {
		return nil, err
	}

	tokens := e.tokens
	if tokens == nil {
		switch cfg.API.TokenStore {
		case config.TokenStoreMemory:
			tokens = tokenstore.NewMemoryStore()
		default:
			tokens = tokenstore.NewKeyringStore(apiURL)
		}
	}

	a, err := app.New(app.Options{
		APIURL:     apiURL,
		Tokens:     tokens,
		Timeout:    cfg.API.Timeout,
		Tracing:    cfg.API.Tracing,
		Version:    e.Version,
		Logger:     e.Logger,
		HTTPClient: e.httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize API client: %w", err)
	}
	e.app = a
	return a, nil
}

// remember stores the API URL and email for the next invocation. Failing to
// write the user config never fails the command.
func (e *Env) remember(apiURL, email string) {
	if err := userconfig.Remember(apiURL, email); err != nil {
		e.Logger.Warn().Err(err).Msg("Failed to update user config")
	}
}

// lastEmail returns the email remembered by a previous sign-in, if any
func (e *Env) lastEmail() string {
	uc, err := userconfig.Load()
	if err != nil {
		return ""
	}
	return uc.Email
}

// ErrNotLoggedIn is returned by commands that need a stored access token
var ErrNotLoggedIn = errors.New("not logged in. Please run 'userdesk login' first")

func (e *Env) requireToken(a *app.App) error {
	if _, err := a.Tokens.Load(); err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return ErrNotLoggedIn
		}
		return fmt.Errorf("failed to read access token: %w", err)
	}
	return nil
}

// Prepare validates global flags, loads configuration and sets up logging.
// It runs before every command except version.
func (e *Env) Prepare() error {
	if err := validateFormat(e.Output); err != nil {
		return err
	}
	cfg, err := e.Config()
	if err != nil {
		return err
	}
	e.Logger = logger.Init(cfg.Logging.Level, cfg.Logging.Format, e.ErrOut)
	return nil
}
