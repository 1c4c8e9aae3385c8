package queue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hh-analyzer/internal/metrics"
	"github.com/spigell/hh-analyzer/internal/models"
	"github.com/spigell/hh-analyzer/internal/queue"
	"github.com/spigell/hh-analyzer/internal/repository"
	"github.com/spigell/hh-analyzer/internal/repository/repotest"
)

func newDriver(t *testing.T) (*queue.Driver, *repository.QueueRepository, *metrics.Registry) {
	t.Helper()

	repo := repository.NewQueueRepository(repotest.Open(t))
	reg := metrics.NewRegistry()
	return queue.New(repo, queue.NewMemoryGuard(), zap.NewNop(), reg), repo, reg
}

func TestEnqueueIsIdempotentWhilePending(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newDriver(t)

	inserted, err := d.Enqueue(ctx, "v1", queue.KindUpdate, 0)
	if err != nil || !inserted {
		t.Fatalf("expected first enqueue to insert, got %v %v", inserted, err)
	}

	inserted, err = d.Enqueue(ctx, "v1", queue.KindUpdate, 5)
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if inserted {
		t.Fatalf("expected duplicate enqueue to be skipped")
	}

	// same subject in another kind is a different item
	if inserted, _ := d.Enqueue(ctx, "v1", queue.KindAnalysisFull, 0); !inserted {
		t.Fatalf("expected enqueue into another kind to insert")
	}

	depth, err := d.Depth(ctx, queue.KindUpdate)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != 1 {
		t.Fatalf("expected depth 1, got %d", depth)
	}
}

func TestEnqueueAllowedAgainAfterCompletion(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newDriver(t)

	if _, err := d.Enqueue(ctx, "v1", queue.KindUpdate, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	item, ok, err := d.DequeueNext(ctx, queue.KindUpdate)
	if err != nil || !ok {
		t.Fatalf("dequeue: %v %v", ok, err)
	}

	if inserted, _ := d.Enqueue(ctx, "v1", queue.KindUpdate, 0); inserted {
		t.Fatalf("expected processing item to block enqueue")
	}

	if err := d.MarkStatus(ctx, item.ID, queue.StatusCompleted, ""); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if inserted, _ := d.Enqueue(ctx, "v1", queue.KindUpdate, 0); !inserted {
		t.Fatalf("expected enqueue after completion to insert")
	}
}

func TestEnqueueConcurrentSameSubject(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newDriver(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.Enqueue(ctx, "v1", queue.KindUpdate, 0); err != nil {
				t.Errorf("enqueue: %v", err)
			}
		}()
	}
	wg.Wait()

	depth, _ := d.Depth(ctx, queue.KindUpdate)
	if depth != 1 {
		t.Fatalf("expected exactly one pending item, got %d", depth)
	}
}

func TestDequeueOrdersByPriorityThenFIFO(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newDriver(t)

	for _, tc := range []struct {
		id       string
		priority int
	}{{"a", 1}, {"b", 5}, {"c", 3}, {"d", 5}} {
		if _, err := d.Enqueue(ctx, tc.id, queue.KindAnalysisFirst, tc.priority); err != nil {
			t.Fatalf("enqueue %s: %v", tc.id, err)
		}
	}

	var got []string
	for {
		item, ok, err := d.DequeueNext(ctx, queue.KindAnalysisFirst)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if !ok {
			break
		}
		if item.Status != string(queue.StatusProcessing) {
			t.Fatalf("expected claimed item to be PROCESSING, got %s", item.Status)
		}
		got = append(got, fmt.Sprintf("%s:%d", item.SubjectID, item.Priority))
	}

	want := []string{"b:5", "d:5", "c:3", "a:1"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected order %v, got %v", want, got)
	}
}

func TestDequeueEmpty(t *testing.T) {
	d, _, _ := newDriver(t)

	item, ok, err := d.DequeueNext(context.Background(), queue.KindUpdate)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if ok || item != nil {
		t.Fatalf("expected empty queue, got %+v", item)
	}
}

func TestEnqueueBatchCountsSkips(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newDriver(t)
	d.PageSize = 2

	if _, err := d.Enqueue(ctx, "b", queue.KindAnalysisFull, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	summary, err := d.EnqueueIDs(ctx, queue.KindAnalysisFull, 1, []string{"a", "b", "c", "", "d", "a"})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}

	if summary.Processed != 6 {
		t.Fatalf("expected 6 processed, got %d", summary.Processed)
	}
	// "b" is pending, "" is blank; the second "a" lands on a later page and
	// is found pending there.
	if summary.Succeeded != 3 || summary.Skipped != 3 {
		t.Fatalf("expected 3 enqueued and 3 skipped, got %+v", summary)
	}

	depth, _ := d.Depth(ctx, queue.KindAnalysisFull)
	if depth != 4 {
		t.Fatalf("expected depth 4, got %d", depth)
	}
}

func TestEnqueueBatchSourceError(t *testing.T) {
	d, _, _ := newDriver(t)

	boom := errors.New("boom")
	_, err := d.EnqueueBatch(context.Background(), queue.KindUpdate, 0, func(context.Context, int, int) ([]string, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected source error, got %v", err)
	}
}

func TestDrainMarksTerminalStatuses(t *testing.T) {
	ctx := context.Background()
	d, repo, reg := newDriver(t)

	for _, id := range []string{"ok", "bad", "skip"} {
		if _, err := d.Enqueue(ctx, id, queue.KindUpdate, 0); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	handler := queue.HandlerFunc(func(_ context.Context, item *models.QueueItem) error {
		switch item.SubjectID {
		case "bad":
			return errors.New("upstream exploded")
		case "skip":
			return queue.ErrSkipped
		}
		return nil
	})

	summary, err := queue.NewConsumer(d, queue.KindUpdate, handler, zap.NewNop()).Drain(ctx, 0)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if summary.Processed != 3 || summary.Succeeded != 1 || summary.Failed != 1 || summary.Skipped != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(summary.Errors) != 1 || summary.Errors[0] != "bad: upstream exploded" {
		t.Fatalf("unexpected errors %v", summary.Errors)
	}

	stats, err := d.Stats(ctx, queue.KindUpdate)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Completed != 2 || stats.Failed != 1 || stats.New != 0 || stats.Total != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	failed, err := repo.FindActive(ctx, "bad", string(queue.KindUpdate), []string{string(queue.StatusFailed)})
	if err != nil || failed == nil {
		t.Fatalf("expected failed item, got %v %v", failed, err)
	}
	if failed.ErrorMessage != "upstream exploded" {
		t.Fatalf("expected error message to be stored, got %q", failed.ErrorMessage)
	}

	labels := map[string]string{"kind": "UPDATE", "result": "failed"}
	if got := reg.Counter("queue_processed_total", labels); got != 1 {
		t.Fatalf("expected failed counter 1, got %v", got)
	}
}

func TestDrainStopsBetweenItems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d, _, _ := newDriver(t)

	for _, id := range []string{"1", "2", "3"} {
		if _, err := d.Enqueue(ctx, id, queue.KindUpdate, 0); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	var handled []string
	handler := queue.HandlerFunc(func(hctx context.Context, item *models.QueueItem) error {
		handled = append(handled, item.SubjectID)
		cancel()
		if hctx.Err() != nil {
			return errors.New("handler context must survive stop")
		}
		return nil
	})

	summary, err := queue.NewConsumer(d, queue.KindUpdate, handler, zap.NewNop()).Drain(ctx, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(handled) != 1 || summary.Succeeded != 1 {
		t.Fatalf("expected exactly one finished item, got %v %+v", handled, summary)
	}

	stats, _ := d.Stats(context.Background(), queue.KindUpdate)
	if stats.Completed != 1 || stats.New != 2 || stats.Processing != 0 {
		t.Fatalf("unexpected stats after stop %+v", stats)
	}
}

func TestDrainLimit(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newDriver(t)
	for _, id := range []string{"1", "2", "3"} {
		_, _ = d.Enqueue(ctx, id, queue.KindUpdate, 0)
	}

	summary, err := queue.NewConsumer(d, queue.KindUpdate, queue.HandlerFunc(func(context.Context, *models.QueueItem) error {
		return nil
	}), nil).Drain(ctx, 2)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if summary.Processed != 2 {
		t.Fatalf("expected 2 processed, got %d", summary.Processed)
	}
}

func TestDrainSharesLaneWithRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d, _, _ := newDriver(t)

	for i := 0; i < 6; i++ {
		if _, err := d.Enqueue(ctx, fmt.Sprint(i), queue.KindAnalysisFirst, 0); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	var inFlight, peak, handled int32
	handler := queue.HandlerFunc(func(context.Context, *models.QueueItem) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		atomic.AddInt32(&handled, 1)
		return nil
	})

	consumer := queue.NewConsumer(d, queue.KindAnalysisFirst, handler, zap.NewNop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = consumer.Run(ctx, 10*time.Millisecond)
	}()

	if _, err := consumer.Drain(ctx, 0); err != nil {
		t.Fatalf("drain: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for atomic.LoadInt32(&handled) < 6 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if got := atomic.LoadInt32(&handled); got != 6 {
		t.Fatalf("expected 6 handled items, got %d", got)
	}
	if got := atomic.LoadInt32(&peak); got != 1 {
		t.Fatalf("expected one item in flight at a time, got %d", got)
	}
}

func TestPurgeDefaultsToTerminal(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newDriver(t)

	_, _ = d.Enqueue(ctx, "1", queue.KindUpdate, 0)
	_, _ = d.Enqueue(ctx, "2", queue.KindUpdate, 0)
	item, _, _ := d.DequeueNext(ctx, queue.KindUpdate)
	_ = d.MarkStatus(ctx, item.ID, queue.StatusFailed, "x")

	deleted, err := d.Purge(ctx, queue.KindUpdate)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}
	if depth, _ := d.Depth(ctx, queue.KindUpdate); depth != 1 {
		t.Fatalf("expected pending item to survive, got depth %d", depth)
	}
}

func TestResetStale(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newDriver(t)

	_, _ = d.Enqueue(ctx, "1", queue.KindUpdate, 0)
	if _, ok, _ := d.DequeueNext(ctx, queue.KindUpdate); !ok {
		t.Fatalf("expected an item")
	}

	n, err := d.ResetStale(ctx, queue.KindUpdate, -time.Hour)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 item reset, got %d", n)
	}
	if depth, _ := d.Depth(ctx, queue.KindUpdate); depth != 1 {
		t.Fatalf("expected item back in queue, got depth %d", depth)
	}
}

func TestGuardBusyReportsNotInserted(t *testing.T) {
	ctx := context.Background()
	guard := queue.NewMemoryGuard()
	d := queue.New(repository.NewQueueRepository(repotest.Open(t)), guard, nil, nil)

	unlock, ok, _ := guard.TryLock(ctx, "UPDATE:v1")
	if !ok {
		t.Fatalf("expected lock")
	}
	defer unlock()

	inserted, err := d.Enqueue(ctx, "v1", queue.KindUpdate, 0)
	if err != nil || inserted {
		t.Fatalf("expected busy guard to skip, got %v %v", inserted, err)
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in    string
		want  queue.Kind
		chain string
		err   bool
	}{
		{in: "update", want: queue.KindUpdate},
		{in: "ANALYSIS_FULL", want: queue.KindAnalysisFull},
		{in: "chain:full_analysis", want: "CHAIN:FULL_ANALYSIS", chain: "FULL_ANALYSIS"},
		{in: "nope", err: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := queue.ParseKind(tt.in)
			if tt.err {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
			if chain, ok := got.Chain(); tt.chain != "" && (!ok || chain != tt.chain) {
				t.Fatalf("expected chain %s, got %s", tt.chain, chain)
			}
		})
	}
}
