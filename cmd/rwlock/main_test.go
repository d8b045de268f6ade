package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/sillsdev/serval-sub001/errors"
	"github.com/sillsdev/serval-sub001/lock"
	"github.com/sillsdev/serval-sub001/lock/lockhttp"
	"github.com/sillsdev/serval-sub001/lock/sqlite"
)

func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(testr.New(t))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func tempDB(t *testing.T) string {
	return filepath.Join(t.TempDir(), "locks.db")
}

func seed(t *testing.T, path string, docs ...lock.Document) {
	t.Helper()
	ctx := context.Background()
	s, err := sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close(ctx)
	for _, doc := range docs {
		if err := s.Insert(ctx, doc); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}
}

func load(t *testing.T, path, name string) *lock.Document {
	t.Helper()
	ctx := context.Background()
	s, err := sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close(ctx)
	doc, err := s.Get(ctx, name)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	return doc
}

func TestExecAndStatus(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	ctx := context.Background()
	db := tempDB(t)

	out, err := execute(t, ctx, "--dsn", db, "exec", "--write", "build", "--", "sh", "-c", "echo hello")
	if err != nil {
		t.Fatalf("exec error = %v", err)
	}
	if !strings.Contains(out, "hello") {
		t.Fatalf("exec output = %q, want hello", out)
	}

	out, err = execute(t, ctx, "--dsn", db, "status", "build")
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	var view lockhttp.LockView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("status output %q: %v", out, err)
	}
	if view.Name != "build" || !view.AvailableForWriting || len(view.Writers) != 0 {
		t.Fatalf("status = %+v, want idle lock build", view)
	}
	if view.Revision < 2 {
		t.Fatalf("Revision = %d, want > 1", view.Revision)
	}
}

func TestExecCommandFails(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	db := tempDB(t)

	_, err := execute(t, context.Background(), "--dsn", db, "exec", "build", "--", "sh", "-c", "exit 3")
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
		t.Fatalf("exec error = %v, want exit status 3", err)
	}

	if doc := load(t, db, "build"); len(doc.ReaderSet) != 0 {
		t.Fatalf("ReaderSet = %v, want empty after failure", doc.ReaderSet)
	}
}

func TestStatusNotFound(t *testing.T) {
	_, err := execute(t, context.Background(), "--dsn", tempDB(t), "status", "missing")
	if !errors.IsNotFound(err) {
		t.Fatalf("status error = %v, want not found", err)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	seed(t, db, lock.Document{Name: "build"})

	out, err := execute(t, ctx, "--dsn", db, "delete", "build")
	if err != nil {
		t.Fatalf("delete error = %v", err)
	}
	if out != "deleted build\n" {
		t.Fatalf("delete output = %q", out)
	}

	_, err = execute(t, ctx, "--dsn", db, "delete", "build")
	if !errors.IsNotFound(err) {
		t.Fatalf("second delete error = %v, want not found", err)
	}
}

func TestReleaseHost(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	seed(t, db, lock.Document{
		Name:        "build",
		WriterQueue: []lock.Entry{{ID: "w1", HostID: "h1"}, {ID: "w2", HostID: "h2"}},
		ReaderSet:   []lock.Entry{{ID: "r1", HostID: "h1", Granted: true}},
	})

	if _, err := execute(t, ctx, "--dsn", db, "--host-id", "h1", "release-host"); err != nil {
		t.Fatalf("release-host error = %v", err)
	}

	doc := load(t, db, "build")
	if len(doc.WriterQueue) != 1 || doc.WriterQueue[0].ID != "w2" || len(doc.ReaderSet) != 0 {
		t.Fatalf("document = %+v, want only w2 left", doc)
	}
}

func TestReleaseHostRequiresHostID(t *testing.T) {
	_, err := execute(t, context.Background(), "--dsn", tempDB(t), "release-host")
	if !errors.IsInvalidArgument(err) {
		t.Fatalf("release-host error = %v, want invalid argument", err)
	}
}

func TestStoreFromEnv(t *testing.T) {
	t.Setenv("RWLOCK_STORE", "bogus")

	_, err := execute(t, context.Background(), "status", "build")
	if err == nil || !strings.Contains(err.Error(), "unknown store 'bogus'") {
		t.Fatalf("status error = %v, want unknown store", err)
	}
}

func TestLockConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock.yaml")
	if err := os.WriteFile(path, []byte("default_lifetime: -1s\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := execute(t, context.Background(), "--dsn", tempDB(t), "--lock-config", path, "status", "build")
	if err == nil || !strings.Contains(err.Error(), "default_lifetime") {
		t.Fatalf("status error = %v, want lock config error", err)
	}
}

func TestServe(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if _, err := execute(t, ctx, "--store", "memory", "serve", "--listen", "127.0.0.1:0"); err != nil {
		t.Fatalf("serve error = %v", err)
	}
}
