package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"sourceline/internal/engine"
	"sourceline/internal/transport"
)

func TestLoadEnvMissingFile(t *testing.T) {
	if err := LoadEnv(t.TempDir()); err != nil {
		t.Fatalf("missing .env must be ignored: %v", err)
	}
}

func TestLoadEnvKeepsExisting(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, EnvFile), []byte("SOURCELINE_TEST_A=from-file\nSOURCELINE_TEST_B=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SOURCELINE_TEST_A", "from-env")
	t.Cleanup(func() { os.Unsetenv("SOURCELINE_TEST_B") })
	if err := LoadEnv(dir); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := os.Getenv("SOURCELINE_TEST_A"); got != "from-env" {
		t.Fatalf("existing variable overwritten: %q", got)
	}
	if got := os.Getenv("SOURCELINE_TEST_B"); got != "from-file" {
		t.Fatalf("expected value from file, got %q", got)
	}
}

func TestOpenWithoutCredentials(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(context.Background(), Options{Workspace: dir, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	if transport.Configured(a.Engine.Mailer) || transport.Configured(a.Engine.Messenger) || transport.Configured(a.Engine.Inbox) {
		t.Fatalf("transports must stay unconfigured without credentials")
	}
	if a.Engine.Notifier != a.Hub {
		t.Fatalf("engine must publish to the live hub")
	}
	if _, err := ResolveProject(context.Background(), a.Engine.Repo, ""); err == nil {
		t.Fatalf("expected error for empty workspace")
	}
	p, err := a.Engine.CreateProject(context.Background(), engine.CreateProjectInput{Idea: "Ceramic pour-over coffee dripper"})
	if err != nil {
		t.Fatal(err)
	}
	id, err := ResolveProject(context.Background(), a.Engine.Repo, "")
	if err != nil || id != p.ID {
		t.Fatalf("expected the only project, got %q (%v)", id, err)
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sourceline.yml"), []byte("negotiation:\n  default_channel: fax\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(context.Background(), Options{Workspace: dir, Logger: zap.NewNop()}); err == nil {
		t.Fatalf("expected validation error")
	}
}
