package checklist_test

import (
	"testing"
	"time"

	"sourceline/internal/checklist"
	"sourceline/internal/domain"
)

var fixedNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newProject() *domain.Project {
	return &domain.Project{ID: "p1", Checklist: checklist.Build(nil, fixedNow)}
}

func findItem(t *testing.T, p *domain.Project, key string) domain.ChecklistItem {
	t.Helper()
	for _, it := range p.Checklist {
		if it.Key == key {
			return it
		}
	}
	t.Fatalf("checklist item %s missing", key)
	return domain.ChecklistItem{}
}

func TestBuildDefaults(t *testing.T) {
	p := newProject()
	if len(p.Checklist) != 8 {
		t.Fatalf("expected 8 items, got %d", len(p.Checklist))
	}
	first := p.Checklist[0]
	if first.Key != checklist.KeyDefineProduct || first.Status != domain.ChecklistValidated || first.Evidence != "Product intent captured." {
		t.Fatalf("unexpected first item %+v", first)
	}
	if p.Checklist[1].NextAction != "Validate material/process assumptions" {
		t.Fatalf("unexpected next action %q", p.Checklist[1].NextAction)
	}
	for i := 1; i < len(p.Checklist); i++ {
		deps := p.Checklist[i].DependsOn
		if len(deps) != 1 || deps[0] != p.Checklist[i-1].Key {
			t.Fatalf("item %s should depend on %s, got %v", p.Checklist[i].Key, p.Checklist[i-1].Key, deps)
		}
		if p.Checklist[i].Status != domain.ChecklistPending {
			t.Fatalf("item %s should start pending", p.Checklist[i].Key)
		}
	}
}

func TestBuildKeepsFixedKeysOverCandidates(t *testing.T) {
	items := checklist.Build([]checklist.Candidate{
		{Key: "custom", Title: "  Confirm the idea  ", Module: "success", DependsOn: []string{"x"}},
		{Title: "", Description: "Pick alloys", Module: "not-a-module"},
	}, fixedNow)
	if items[0].Key != checklist.KeyDefineProduct || items[0].Title != "Confirm the idea" || items[0].Module != checklist.ModuleSuccess {
		t.Fatalf("unexpected merged item %+v", items[0])
	}
	if len(items[0].DependsOn) != 0 {
		t.Fatalf("dependencies must come from the fixed template, got %v", items[0].DependsOn)
	}
	if items[1].Title != "Select Process & Materials" || items[1].Description != "Pick alloys" || items[1].Module != checklist.ModuleChecklist {
		t.Fatalf("unexpected merged item %+v", items[1])
	}
}

func TestDecodeCandidatesWrapped(t *testing.T) {
	got := checklist.DecodeCandidates([]byte(`{"steps":[{"title":"A"},{"title":"B"}]}`))
	if len(got) != 2 || got[1].Title != "B" {
		t.Fatalf("unexpected candidates %+v", got)
	}
	if got := checklist.DecodeCandidates([]byte(`"nope"`)); got != nil {
		t.Fatalf("expected nil for scalar, got %+v", got)
	}
}

func TestSetItemIsUngated(t *testing.T) {
	p := newProject()
	later := fixedNow.Add(time.Hour)
	checklist.SetItem(p, checklist.KeyNegotiation, domain.ChecklistValidated, "forced", "", later)
	item := findItem(t, p, checklist.KeyNegotiation)
	if item.Status != domain.ChecklistValidated || item.Evidence != "forced" {
		t.Fatalf("ungated setter should overwrite, got %+v", item)
	}
	if item.UpdatedAt != later.Format(time.RFC3339) {
		t.Fatalf("updatedAt not stamped: %s", item.UpdatedAt)
	}
	checklist.SetItem(p, checklist.KeyNegotiation, domain.ChecklistInProgress, "", "call back", later)
	item = findItem(t, p, checklist.KeyNegotiation)
	if item.Evidence != "forced" || item.NextAction != "call back" {
		t.Fatalf("empty evidence should keep previous value, got %+v", item)
	}
}

func TestSetItemUnknownKeyIsNoop(t *testing.T) {
	p := newProject()
	before := append([]domain.ChecklistItem{}, p.Checklist...)
	checklist.SetItem(p, "missing", domain.ChecklistBlocked, "x", "y", fixedNow)
	for i := range before {
		if before[i].Status != p.Checklist[i].Status || before[i].Evidence != p.Checklist[i].Evidence {
			t.Fatalf("unknown key mutated item %d", i)
		}
	}
}

func TestValidateIfReadyRespectsDependencies(t *testing.T) {
	p := newProject()
	if got := checklist.ValidateIfReady(p, checklist.KeyCompliancePrecheck, "checked", fixedNow); got != domain.ChecklistInProgress {
		t.Fatalf("expected in_progress while dependency pending, got %s", got)
	}
	if got := checklist.ValidateIfReady(p, checklist.KeyProcessAndMaterials, "", fixedNow); got != domain.ChecklistValidated {
		t.Fatalf("expected validated once define-product is validated, got %s", got)
	}
	if got := checklist.ValidateIfReady(p, checklist.KeyCompliancePrecheck, "", fixedNow); got != domain.ChecklistValidated {
		t.Fatalf("expected validated, got %s", got)
	}
	if item := findItem(t, p, checklist.KeyCompliancePrecheck); item.Evidence != "checked" {
		t.Fatalf("evidence should persist, got %q", item.Evidence)
	}
	if got := checklist.ValidateIfReady(p, "missing", "", fixedNow); got != "" {
		t.Fatalf("unknown key should report empty status, got %s", got)
	}
}

func TestValidateIfReadyNeverSkipsUnvalidatedDeps(t *testing.T) {
	statuses := []string{domain.ChecklistPending, domain.ChecklistInProgress, domain.ChecklistBlocked, domain.ChecklistValidated}
	for _, s := range statuses {
		p := newProject()
		checklist.SetItem(p, checklist.KeyResponseAnalysis, s, "", "", fixedNow)
		got := checklist.ValidateIfReady(p, checklist.KeyNegotiation, "", fixedNow)
		if s != domain.ChecklistValidated && got == domain.ChecklistValidated {
			t.Fatalf("validated with dependency in %s", s)
		}
		if s == domain.ChecklistValidated && got != domain.ChecklistValidated {
			t.Fatalf("expected validated when dependency validated, got %s", got)
		}
	}
}

func TestModuleStatus(t *testing.T) {
	l := &domain.Lifecycle{ModuleStatus: checklist.DefaultModuleStatus()}
	if l.ModuleStatus[checklist.ModuleIdeation] != domain.ChecklistValidated || l.ModuleStatus[checklist.ModuleSuccess] != domain.ChecklistPending {
		t.Fatalf("unexpected defaults %v", l.ModuleStatus)
	}
	checklist.SetModuleStatus(l, checklist.ModuleSuccess, domain.ChecklistBlocked)
	if l.ModuleStatus[checklist.ModuleSuccess] != domain.ChecklistBlocked {
		t.Fatalf("module status not overwritten")
	}
	empty := &domain.Lifecycle{}
	checklist.SetModuleStatus(empty, "custom", domain.ChecklistInProgress)
	if empty.ModuleStatus["custom"] != domain.ChecklistInProgress {
		t.Fatalf("expected nil map to be initialised")
	}
}
