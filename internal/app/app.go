package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"sourceline/internal/config"
	"sourceline/internal/db"
	"sourceline/internal/engine"
	"sourceline/internal/events"
	"sourceline/internal/llm"
	"sourceline/internal/migrate"
	"sourceline/internal/repo"
	"sourceline/internal/transport"
)

// EnvFile is the per-workspace dotenv file.
const EnvFile = ".env"

// LoadEnv reads <workspace>/.env into the process environment. Variables that
// are already set win; a missing file is ignored.
func LoadEnv(workspace string) error {
	path := EnvPath(workspace)
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func EnvPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, EnvFile)
}

// Secrets are the credentials that never live in sourceline.yml.
type Secrets struct {
	SMTPPassword      string
	TwilioAuthToken   string
	TwilioVerifyToken string
	IMAPPassword      string
	LLMAPIKey         string
}

// Options drive Open.
type Options struct {
	Workspace string
	Verbose   bool
	Secrets   Secrets
	// Logger overrides the logger built from Verbose.
	Logger *zap.Logger
}

// App is an opened workspace: database, configuration and a wired engine.
type App struct {
	DB     *sql.DB
	Config *config.Config
	Logger *zap.Logger
	Engine engine.Engine
	Hub    *events.Hub
	Twilio transport.TwilioConfig
}

// NewLogger builds the production JSON logger, at debug level when verbose.
func NewLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

// Open prepares the workspace database, loads sourceline.yml and wires the
// engine to the configured transports. Transports without credentials stay
// unconfigured.
func Open(ctx context.Context, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		l, err := NewLogger(opts.Verbose)
		if err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
		logger = l
	}
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	e := engine.New(conn, cfg)
	e.Logger = logger
	secrets := opts.Secrets
	if secrets.LLMAPIKey == "" && cfg.LLM.APIKeyEnv != "" {
		secrets.LLMAPIKey = os.Getenv(cfg.LLM.APIKeyEnv)
	}

	e.Mailer = transport.NewMailer(transport.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		User:     cfg.SMTP.User,
		Password: secrets.SMTPPassword,
		From:     cfg.SMTP.From,
		FromName: cfg.SMTP.FromName,
		ReplyTo:  cfg.SMTP.ReplyTo,
	}, e.Repo, logger.With(zap.String("component", "smtp")))
	twilio := transport.TwilioConfig{
		AccountSID:  cfg.WhatsApp.AccountSID,
		AuthToken:   secrets.TwilioAuthToken,
		From:        cfg.WhatsApp.From,
		VerifyToken: secrets.TwilioVerifyToken,
		BaseURL:     cfg.WhatsApp.BaseURL,
	}
	e.Messenger = transport.NewMessenger(twilio)
	e.Inbox = transport.NewInbox(transport.IMAPConfig{
		Host:     cfg.IMAP.Host,
		Port:     cfg.IMAP.Port,
		Secure:   cfg.IMAP.Secure,
		User:     cfg.IMAP.User,
		Password: secrets.IMAPPassword,
		Mailbox:  cfg.IMAP.Mailbox,
	})

	client := llm.Client(llm.Disabled{})
	switch strings.ToLower(cfg.LLM.Provider) {
	case "", "none":
	default:
		client, err = llm.New(ctx, llm.Config{
			APIKey:          secrets.LLMAPIKey,
			Model:           cfg.LLM.Model,
			Temperature:     cfg.LLM.Temperature,
			MaxOutputTokens: cfg.LLM.MaxOutputTokens,
		})
		if err != nil {
			conn.Close()
			return nil, err
		}
	}
	e.LLM = llm.Helper{Client: client, Logger: logger.With(zap.String("component", "llm"))}

	hub := events.NewHub(logger.With(zap.String("component", "live")))
	e.Notifier = hub

	logger.Debug("workspace opened",
		zap.String("workspace", opts.Workspace),
		zap.Bool("smtp", transport.Configured(e.Mailer)),
		zap.Bool("whatsapp", transport.Configured(e.Messenger)),
		zap.Bool("imap", transport.Configured(e.Inbox)),
		zap.Bool("llm", secrets.LLMAPIKey != ""))
	return &App{DB: conn, Config: cfg, Logger: logger, Engine: e, Hub: hub, Twilio: twilio}, nil
}

func (a *App) Close() error {
	_ = a.Logger.Sync()
	return a.DB.Close()
}

// ResolveProject picks the active project: the override when given, else the
// only project in the workspace.
func ResolveProject(ctx context.Context, r repo.Repo, override string) (string, error) {
	if override != "" {
		if _, err := r.GetProject(ctx, override); err != nil {
			return "", err
		}
		return override, nil
	}
	ids, err := r.ListProjectIDs(ctx)
	if err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", errors.New("no projects yet; create one with sl project create")
	case 1:
		return ids[0], nil
	}
	return "", fmt.Errorf("%d projects in workspace; use --project", len(ids))
}
