package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestAddRejectsInvalidSpec(t *testing.T) {
	s := New(zap.NewNop())
	if err := s.Add("sync", "not a cron", func(context.Context) error { return nil }); err == nil {
		t.Fatalf("expected error for invalid cron expression")
	}
}

func TestSetupSkipsEmptySpecs(t *testing.T) {
	s := New(zap.NewNop())
	noop := func(context.Context) error { return nil }

	if err := s.Setup(Config{Sync: "0 0 */6 * * *"}, noop, noop); err != nil {
		t.Fatalf("setup: %v", err)
	}

	entries := s.Entries()
	if len(entries) != 1 || entries[0].Name != "sync" {
		t.Fatalf("expected only the sync job, got %+v", entries)
	}
}

func TestDefaultConfigParses(t *testing.T) {
	s := New(zap.NewNop())
	noop := func(context.Context) error { return nil }

	if err := s.Setup(DefaultConfig(), noop, noop); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if got := len(s.Entries()); got != 2 {
		t.Fatalf("expected 2 jobs, got %d", got)
	}
}

func TestJobRunsWithStartContext(t *testing.T) {
	s := New(zap.NewNop())

	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "worker")
	got := make(chan string, 1)

	err := s.Add("drain", "* * * * * *", func(ctx context.Context) error {
		if v, ok := ctx.Value(key{}).(string); ok {
			select {
			case got <- v:
			default:
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	s.Start(ctx)
	defer func() { <-s.Stop().Done() }()

	select {
	case v := <-got:
		if v != "worker" {
			t.Fatalf("expected start context, got %q", v)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("job did not run")
	}
}

func TestRunLogsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := New(zap.New(core))

	s.run("sync", func(context.Context) error { return errors.New("listings down") })
	s.run("drain", func(context.Context) error { return nil })

	failed := logs.FilterMessage("scheduled job failed").All()
	if len(failed) != 1 {
		t.Fatalf("expected 1 failure log, got %d", len(failed))
	}
	if failed[0].ContextMap()["job"] != "sync" {
		t.Fatalf("expected sync job in log, got %v", failed[0].ContextMap())
	}
	if logs.FilterMessage("scheduled job finished").Len() != 1 {
		t.Fatalf("expected 1 finished log")
	}
}
