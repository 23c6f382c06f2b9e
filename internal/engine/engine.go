package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sourceline/internal/config"
	"sourceline/internal/domain"
	"sourceline/internal/events"
	"sourceline/internal/llm"
	"sourceline/internal/repo"
	"sourceline/internal/transport"
)

const maxPatchAttempts = 3

// Engine runs every workflow operation as a versioned patch of one project
// document. Collaborators left nil fall back to unconfigured transports and
// the deterministic model fallbacks.
type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	LLM       llm.Helper
	Mailer    transport.Mailer
	Messenger transport.Messenger
	Inbox     transport.Inbox
	Notifier  events.Notifier
	Logger    *zap.Logger
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db},
		Config:    cfg,
		Mailer:    transport.Unconfigured{},
		Messenger: transport.Unconfigured{},
		Inbox:     transport.Unconfigured{},
		Logger:    zap.NewNop(),
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) ts() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e Engine) config() *config.Config {
	if e.Config == nil {
		return config.Default()
	}
	return e.Config
}

func (e Engine) mailer() transport.Mailer {
	if e.Mailer == nil {
		return transport.Unconfigured{}
	}
	return e.Mailer
}

func (e Engine) messenger() transport.Messenger {
	if e.Messenger == nil {
		return transport.Unconfigured{}
	}
	return e.Messenger
}

func (e Engine) inbox() transport.Inbox {
	if e.Inbox == nil {
		return transport.Unconfigured{}
	}
	return e.Inbox
}

func (e Engine) writer() events.Writer {
	w := e.Events
	if w.DB == nil {
		w.DB = e.DB
	}
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) publish(evt domain.Event) {
	if e.Notifier != nil {
		e.Notifier.Publish(evt)
	}
}

// change describes the event recorded for a patch. A zero Type leaves the
// project untouched.
type change struct {
	Type       string
	EntityKind string
	EntityID   string
	Payload    events.Payload
}

func projectChange(evtType, projectID string, payload events.Payload) change {
	return change{Type: evtType, EntityKind: "project", EntityID: projectID, Payload: payload}
}

func supplierChange(evtType, supplierID string, payload events.Payload) change {
	return change{Type: evtType, EntityKind: "supplier", EntityID: supplierID, Payload: payload}
}

// patch loads the project, applies fn and writes it back under the version
// guard. A lost race reloads and reapplies fn.
func (e Engine) patch(ctx context.Context, projectID, actorID string, fn func(p *domain.Project) (change, error)) (domain.Project, error) {
	unlock := workflowLocks.Lock(projectKey(projectID))
	defer unlock()

	var lastErr error
	for attempt := 1; attempt <= maxPatchAttempts; attempt++ {
		p, evt, err := e.patchOnce(ctx, projectID, actorID, fn)
		if errors.Is(err, repo.ErrConflict) {
			lastErr = err
			e.logger().Debug("project version conflict, retrying",
				zap.String("project_id", projectID),
				zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return domain.Project{}, err
		}
		if evt != nil {
			e.publish(*evt)
		}
		return p, nil
	}
	return domain.Project{}, fmt.Errorf("patch project %s: %w", projectID, lastErr)
}

func (e Engine) patchOnce(ctx context.Context, projectID, actorID string, fn func(p *domain.Project) (change, error)) (domain.Project, *domain.Event, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, nil, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Project{}, nil, err
	}
	c, err := fn(&p)
	if err != nil {
		return domain.Project{}, nil, err
	}
	if c.Type == "" {
		return p, nil, nil
	}
	p.UpdatedAt = e.ts()
	if err := e.Repo.UpdateProject(ctx, tx, &p); err != nil {
		return domain.Project{}, nil, err
	}
	evt, err := e.writer().Append(ctx, tx, c.Type, p.ID, c.EntityKind, c.EntityID, actorID, c.Payload)
	if err != nil {
		return domain.Project{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, nil, err
	}
	return p, &evt, nil
}

func (e Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return e.Repo.GetProject(ctx, id)
}

func (e Engine) ListProjects(ctx context.Context) ([]domain.Project, error) {
	return e.Repo.ListProjects(ctx)
}

func (e Engine) DeleteProject(ctx context.Context, id, actorID string) error {
	unlock := workflowLocks.Lock(projectKey(id))
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteProject(ctx, tx, id); err != nil {
		return err
	}
	evt, err := e.writer().Append(ctx, tx, events.ProjectDeleted, id, "project", id, actorID, nil)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.publish(evt)
	return nil
}

// ListEvents returns recent events, newest first.
func (e Engine) ListEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, f)
}

func lifecycleOf(p *domain.Project, kind string) (*domain.Lifecycle, error) {
	l, ok := p.LifecycleFor(kind)
	if !ok {
		return nil, invalid("lifecycle", fmt.Sprintf("unknown lifecycle %q", kind))
	}
	return l, nil
}

func supplierOf(l *domain.Lifecycle, id string) (*domain.Supplier, error) {
	s := l.Supplier(id)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrSupplierNotFound, id)
	}
	return s, nil
}
