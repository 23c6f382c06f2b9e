package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"sourceline/internal/checklist"
	"sourceline/internal/config"
	"sourceline/internal/db"
	"sourceline/internal/domain"
	"sourceline/internal/engine"
	"sourceline/internal/events"
	"sourceline/internal/migrate"
	"sourceline/internal/repo"
	"sourceline/internal/transport"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []transport.Email
	fail map[string]error
}

func (m *fakeMailer) SendEmail(_ context.Context, e transport.Email) (transport.EmailReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[e.To]; err != nil {
		return transport.EmailReceipt{}, err
	}
	m.sent = append(m.sent, e)
	return transport.EmailReceipt{MessageID: fmt.Sprintf("<msg-%d@test>", len(m.sent))}, nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type fakeInbox struct {
	messages []transport.InboundMessage
}

func (in *fakeInbox) FetchMessages(context.Context, time.Time, int) ([]transport.InboundMessage, error) {
	return in.messages, nil
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(evt domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Clock  *clock
	Mailer *fakeMailer
	Inbox  *fakeInbox
	Events *recorder
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	c := &clock{t: start}
	env := testEnv{
		Ctx:    context.Background(),
		Clock:  c,
		Mailer: &fakeMailer{fail: map[string]error{}},
		Inbox:  &fakeInbox{},
		Events: &recorder{},
	}
	eng := engine.New(conn, config.Default())
	eng.Now = c.Now
	eng.Mailer = env.Mailer
	eng.Inbox = env.Inbox
	eng.Notifier = env.Events
	env.Engine = eng
	return env
}

func (env testEnv) createProject(t *testing.T) domain.Project {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectInput{
		Idea:    "Insulated steel water bottle with a leak-proof lid",
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func (env testEnv) addSupplier(t *testing.T, projectID string, in engine.SupplierInput) domain.Supplier {
	t.Helper()
	s, _, err := env.Engine.AddSupplier(env.Ctx, projectID, in, "tester")
	if err != nil {
		t.Fatalf("add supplier %s: %v", in.Name, err)
	}
	return s
}

func findItem(p domain.Project, key string) domain.ChecklistItem {
	for _, item := range p.Checklist {
		if item.Key == key {
			return item
		}
	}
	return domain.ChecklistItem{}
}

func TestCreateProjectDefaults(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)

	if p.Version != 1 || p.Name == "" {
		t.Fatalf("unexpected project header %+v", p)
	}
	if p.Constraints.Country != domain.DefaultCountry {
		t.Fatalf("expected default country, got %q", p.Constraints.Country)
	}
	if len(p.Checklist) != 8 {
		t.Fatalf("expected 8 checklist items, got %d", len(p.Checklist))
	}
	item := findItem(p, checklist.KeyDefineProduct)
	if item.Status != domain.ChecklistValidated || item.Evidence != "Idea converted to structured manufacturing definition." {
		t.Fatalf("unexpected define-product item %+v", item)
	}
	if p.ModuleStatus[checklist.ModuleIdeation] != domain.ChecklistValidated || p.ModuleStatus[checklist.ModuleChecklist] != domain.ChecklistValidated {
		t.Fatalf("unexpected module status %v", p.ModuleStatus)
	}
	if p.ModuleStatus[checklist.ModuleOutreach] != domain.ChecklistPending {
		t.Fatalf("expected outreach pending, got %v", p.ModuleStatus)
	}
	if p.Compliance == nil || len(p.Compliance.RequiredChecks) == 0 {
		t.Fatalf("expected compliance pre-check, got %+v", p.Compliance)
	}
	if p.Outcome.FollowUpPolicy != domain.DefaultFollowUpPolicy() {
		t.Fatalf("unexpected follow-up policy %+v", p.Outcome.FollowUpPolicy)
	}
	if p.Sourcing.ModuleStatus["discovery"] != domain.ChecklistPending {
		t.Fatalf("expected independent sourcing modules, got %v", p.Sourcing.ModuleStatus)
	}

	stored, err := env.Engine.GetProject(env.Ctx, p.ID)
	if err != nil || stored.ProductDefinition.ProductName != p.ProductDefinition.ProductName {
		t.Fatalf("project not stored: %v", err)
	}
	if len(env.Events.events) != 1 || env.Events.events[0].Type != events.ProjectCreated {
		t.Fatalf("expected project.created to be published, got %+v", env.Events.events)
	}
}

func TestCreateProjectRequiresIdea(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectInput{Idea: "  "})
	var invalid engine.InvalidInputError
	if !errors.As(err, &invalid) || invalid.Field != "idea" {
		t.Fatalf("expected invalid idea, got %v", err)
	}
}

func TestChecklistUngatedAndGated(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)

	p, err := env.Engine.SetChecklistItem(env.Ctx, p.ID, checklist.KeyNegotiation, domain.ChecklistValidated, "done offline", "", "tester")
	if err != nil {
		t.Fatalf("set item: %v", err)
	}
	if findItem(p, checklist.KeyNegotiation).Status != domain.ChecklistValidated {
		t.Fatalf("ungated write should validate regardless of dependencies")
	}

	p, status, err := env.Engine.ValidateChecklistItem(env.Ctx, p.ID, checklist.KeyResponseAnalysis, "tried", "tester")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if status != domain.ChecklistInProgress || findItem(p, checklist.KeyResponseAnalysis).Status != domain.ChecklistInProgress {
		t.Fatalf("gated write must not validate with pending dependencies, got %s", status)
	}

	before := p.Version
	p, err = env.Engine.SetChecklistItem(env.Ctx, p.ID, "no-such-item", domain.ChecklistValidated, "", "", "tester")
	if err != nil || p.Version != before {
		t.Fatalf("unknown key should be a no-op, version %d -> %d (%v)", before, p.Version, err)
	}
	if _, _, err := env.Engine.ValidateChecklistItem(env.Ctx, p.ID, "no-such-item", "", "tester"); err == nil {
		t.Fatalf("expected unknown key error on gated validate")
	}
	if _, err := env.Engine.SetChecklistItem(env.Ctx, p.ID, checklist.KeyNegotiation, "done", "", "", "tester"); err == nil {
		t.Fatalf("expected invalid status error")
	}
}

func TestSetModuleStatusPerLifecycle(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	p, err := env.Engine.SetModuleStatus(env.Ctx, p.ID, domain.LifecycleSourcing, "outreach", domain.ChecklistBlocked, "tester")
	if err != nil {
		t.Fatalf("set module: %v", err)
	}
	if p.Sourcing.ModuleStatus["outreach"] != domain.ChecklistBlocked || p.ModuleStatus["outreach"] != domain.ChecklistPending {
		t.Fatalf("lifecycles must be independent: %v / %v", p.ModuleStatus, p.Sourcing.ModuleStatus)
	}
	if _, err := env.Engine.SetModuleStatus(env.Ctx, p.ID, "retail", "outreach", domain.ChecklistBlocked, "tester"); err == nil {
		t.Fatalf("expected unknown lifecycle error")
	}
}

func TestSelectAndFinalizeSupplier(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	a := env.addSupplier(t, p.ID, engine.SupplierInput{Name: "Acme Works", Email: "sales@acme.com"})
	b := env.addSupplier(t, p.ID, engine.SupplierInput{Name: "Bolt Factory", Email: "info@bolt.io", ConfidenceScore: domain.Float(3)})

	p, err := env.Engine.GetProject(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.Supplier(b.ID).ConfidenceScore != 1 || p.Supplier(a.ID).ConfidenceScore != domain.DefaultConfidenceScore {
		t.Fatalf("unexpected confidence scores %+v", p.Suppliers)
	}
	if p.ModuleStatus[checklist.ModuleDiscovery] != domain.ChecklistValidated {
		t.Fatalf("expected discovery validated after manual entry")
	}

	if _, err := env.Engine.SelectSupplier(env.Ctx, p.ID, a.ID, "tester"); err != nil {
		t.Fatalf("select a: %v", err)
	}
	p, err = env.Engine.SelectSupplier(env.Ctx, p.ID, b.ID, "tester")
	if err != nil {
		t.Fatalf("select b: %v", err)
	}
	if p.Supplier(a.ID).Selected || !p.Supplier(b.ID).Selected {
		t.Fatalf("exactly one supplier must be selected")
	}
	if _, err := env.Engine.SelectSupplier(env.Ctx, p.ID, "missing", "tester"); !errors.Is(err, engine.ErrSupplierNotFound) {
		t.Fatalf("expected supplier not found, got %v", err)
	}

	p, err = env.Engine.FinalizeSupplier(env.Ctx, p.ID, "", "tester")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if p.Supplier(b.ID).Status != domain.SupplierFinalized {
		t.Fatalf("expected finalized supplier, got %s", p.Supplier(b.ID).Status)
	}
	if got := findItem(p, checklist.KeyManufacturerSelection).Status; got != domain.ChecklistInProgress {
		t.Fatalf("finalize goes through the gated path, got %s", got)
	}
	if p.ModuleStatus[checklist.ModuleSuccess] != domain.ChecklistValidated {
		t.Fatalf("expected success module validated")
	}
}

func TestFinalizeRequiresSelection(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	env.addSupplier(t, p.ID, engine.SupplierInput{Name: "Acme Works"})
	_, err := env.Engine.FinalizeSupplier(env.Ctx, p.ID, "", "tester")
	var pre engine.PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestConcurrentPatchesKeepEveryWrite(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = env.Engine.AddSupplier(env.Ctx, p.ID, engine.SupplierInput{Name: fmt.Sprintf("Supplier %d", i)}, "tester")
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("add supplier %d: %v", i, err)
		}
	}
	p, err := env.Engine.GetProject(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Suppliers) != n || p.Version != n+1 {
		t.Fatalf("expected %d suppliers at version %d, got %d at %d", n, n+1, len(p.Suppliers), p.Version)
	}
}

func TestDeleteProject(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	if err := env.Engine.DeleteProject(env.Ctx, p.ID, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.GetProject(env.Ctx, p.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := env.Engine.DeleteProject(env.Ctx, p.ID, "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	evts, err := env.Engine.ListEvents(env.Ctx, repo.EventFilters{ProjectID: p.ID})
	if err != nil || len(evts) == 0 || evts[0].Type != events.ProjectDeleted {
		t.Fatalf("expected project.deleted event, got %+v (%v)", evts, err)
	}
}

func TestAPIKeys(t *testing.T) {
	env := newTestEnv(t)
	plain, key, err := env.Engine.CreateAPIKey(env.Ctx, "buyer-1", "ci")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if plain == "" || key.KeyHash != repo.HashAPIKey(plain) {
		t.Fatalf("stored hash must match issued key")
	}
	keys, err := env.Engine.ListAPIKeys(env.Ctx, "buyer-1")
	if err != nil || len(keys) != 1 {
		t.Fatalf("expected one key, got %v (%v)", keys, err)
	}
	if err := env.Engine.RevokeAPIKey(env.Ctx, key.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, _, err := env.Engine.CreateAPIKey(env.Ctx, "", "x"); err == nil {
		t.Fatalf("expected actor id error")
	}
}
