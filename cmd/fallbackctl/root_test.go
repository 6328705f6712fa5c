package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/goFallback/internal/clientsim"
	"github.com/MrEthical07/goFallback/verified"
	"github.com/google/uuid"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fallback.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestConfigDumpAppliesFlags(t *testing.T) {
	path := writeConfig(t, "verification:\n  movement_samples: 10\n")

	out, err := execute(t, "config", "dump", "--config", path, "--log-format", "json")
	if err != nil {
		t.Fatalf("config dump: %v", err)
	}
	for _, want := range []string{"movement_samples: 10", "format: json", "reconnect_delay: 500ms"} {
		if !strings.Contains(out, want) {
			t.Fatalf("dump missing %q:\n%s", want, out)
		}
	}
}

func TestVerifiedCommandsAgainstSQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "verified.sqlite")
	path := writeConfig(t, "persistence:\n  enabled: true\n  backend: sql\n  driver: sqlite\n  dsn: "+dsn+"\n")

	db, err := verified.OpenGorm("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	store, err := verified.NewGormStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	if err := store.CreateTableIfMissing(ctx); err != nil {
		t.Fatalf("create table: %v", err)
	}
	now := time.Now()
	seed := []verified.Entry{
		{Address: "10.0.0.1", Identity: uuid.New(), CreatedAt: now},
		{Address: "10.0.0.1", Identity: uuid.New(), CreatedAt: now},
		{Address: "10.0.0.2", Identity: uuid.New(), CreatedAt: now.Add(-72 * time.Hour)},
		{Address: "10.0.0.3", Identity: uuid.New(), CreatedAt: now},
	}
	for _, e := range seed {
		if err := store.Insert(ctx, e); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	steps := []struct {
		args []string
		want string
	}{
		{[]string{"verified", "count"}, "pairs=4 addresses=3"},
		{[]string{"verified", "remove", "10.0.0.1"}, "removed=2"},
		{[]string{"verified", "clear-old", "1"}, "removed=1"},
		{[]string{"verified", "count"}, "pairs=1 addresses=1"},
		{[]string{"verified", "clear"}, "cleared"},
		{[]string{"verified", "count"}, "pairs=0 addresses=0"},
	}
	for _, step := range steps {
		out, err := execute(t, append(step.args, "--config", path)...)
		if err != nil {
			t.Fatalf("%v: %v", step.args, err)
		}
		if !strings.Contains(out, step.want) {
			t.Fatalf("%v: expected %q, got %q", step.args, step.want, out)
		}
	}
}

func TestVerifiedRequiresPersistence(t *testing.T) {
	if _, err := execute(t, "verified", "count"); err == nil {
		t.Fatal("expected error with persistence disabled")
	}
	if _, err := execute(t, "verified", "clear-old", "0"); err == nil {
		t.Fatal("expected error for zero days")
	}
}

func TestLoadtestMix(t *testing.T) {
	out, err := execute(t, "loadtest",
		"--clients", "20",
		"--concurrency", "4",
		"--mix", "honest=3,hovering=1",
		"--version", "1.12.2",
	)
	if err != nil {
		t.Fatalf("loadtest: %v\n%s", err, out)
	}
	if !strings.Contains(out, "honest    success=15") {
		t.Fatalf("honest clients must all pass:\n%s", out)
	}
	if !strings.Contains(out, "hovering  gravity=5") {
		t.Fatalf("hovering clients must fail on gravity:\n%s", out)
	}
}

func TestLoadtestRedisLimiter(t *testing.T) {
	out, err := execute(t, "loadtest", "--clients", "8", "--concurrency", "2", "--mix", "honest=1", "--redis")
	if err != nil {
		t.Fatalf("loadtest: %v\n%s", err, out)
	}
	if !strings.Contains(out, "using miniredis") || !strings.Contains(out, "passed=8") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestParseMix(t *testing.T) {
	mix, total, err := parseMix("honest=2, idle=0, mute=1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if total != 3 || len(mix) != 2 {
		t.Fatalf("unexpected mix %v total %d", mix, total)
	}
	if pick(mix, total, 0) != clientsim.Honest || pick(mix, total, 2) != clientsim.Mute {
		t.Fatal("pick must follow the weights")
	}
	for _, bad := range []string{"honest", "robot=1", "honest=-1", "honest=0"} {
		if _, _, err := parseMix(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}
