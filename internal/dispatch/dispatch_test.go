package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/chatbooks/internal/channel"
	"github.com/hitoshi/chatbooks/internal/ratelimit"
	"github.com/hitoshi/chatbooks/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
}

type handlerFunc func(ctx context.Context, ev channel.Event) error

func (f handlerFunc) Handle(ctx context.Context, ev channel.Event) error { return f(ctx, ev) }

type turnCounter struct {
	mu     sync.Mutex
	turns  int
	failed int
}

func (c *turnCounter) ObserveTurn(_ time.Duration, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns++
	if failed {
		c.failed++
	}
}

func TestQueue_SerializesPerSender(t *testing.T) {
	var mu sync.Mutex
	order := map[string][]string{}
	var active sync.Map
	var overlap atomic.Bool

	h := handlerFunc(func(_ context.Context, ev channel.Event) error {
		if _, busy := active.LoadOrStore(ev.SenderID, true); busy {
			overlap.Store(true)
		}
		time.Sleep(time.Millisecond)
		mu.Lock()
		order[ev.SenderID] = append(order[ev.SenderID], ev.MessageID)
		mu.Unlock()
		active.Delete(ev.SenderID)
		return nil
	})

	q := NewQueue(h, nil, QueueConfig{Workers: 4, Size: 100}, testLogger())
	q.Start(context.Background())
	for i := range 20 {
		for _, sender := range []string{"a", "b", "c"} {
			ev := channel.Event{MessageID: fmt.Sprintf("%s-%02d", sender, i), SenderID: sender}
			if err := q.Enqueue(context.Background(), ev); err != nil {
				t.Fatalf("Enqueue() error = %v", err)
			}
		}
	}
	q.Stop()

	if overlap.Load() {
		t.Error("events for one sender ran concurrently")
	}
	for _, sender := range []string{"a", "b", "c"} {
		got := order[sender]
		if len(got) != 20 {
			t.Fatalf("sender %s processed %d events, want 20", sender, len(got))
		}
		for i, id := range got {
			if want := fmt.Sprintf("%s-%02d", sender, i); id != want {
				t.Errorf("sender %s event %d = %s, want %s", sender, i, id, want)
			}
		}
	}
}

func TestQueue_RecoversFromPanic(t *testing.T) {
	turns := &turnCounter{}
	var handled atomic.Int32
	h := handlerFunc(func(_ context.Context, ev channel.Event) error {
		handled.Add(1)
		switch ev.MessageID {
		case "boom":
			panic("malformed state")
		case "err":
			return errors.New("store down")
		}
		return nil
	})
	q := NewQueue(h, turns, QueueConfig{Workers: 1, Size: 10}, testLogger())
	q.Start(context.Background())
	for _, id := range []string{"boom", "err", "ok"} {
		if err := q.Enqueue(context.Background(), channel.Event{MessageID: id, SenderID: "u"}); err != nil {
			t.Fatal(err)
		}
	}
	q.Stop()

	if handled.Load() != 3 {
		t.Errorf("handled = %d, want 3", handled.Load())
	}
	if turns.turns != 3 || turns.failed != 2 {
		t.Errorf("turns = %d failed = %d, want 3 and 2", turns.turns, turns.failed)
	}
}

func TestQueue_FullAndClosed(t *testing.T) {
	release := make(chan struct{})
	h := handlerFunc(func(context.Context, channel.Event) error {
		<-release
		return nil
	})
	q := NewQueue(h, nil, QueueConfig{Workers: 1, Size: 1}, testLogger())
	q.Start(context.Background())

	ev := channel.Event{MessageID: "1", SenderID: "u"}
	_ = q.Enqueue(context.Background(), ev) // 処理中
	deadline := time.Now().Add(time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		err := q.Enqueue(ctx, ev)
		cancel()
		if errors.Is(err, ErrQueueFull) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Enqueue() never reported a full queue")
		}
	}

	close(release)
	q.Stop()
	if err := q.Enqueue(context.Background(), ev); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Enqueue() after Stop error = %v, want ErrQueueClosed", err)
	}
}

type recordingQueue struct {
	events []channel.Event
	err    error
}

func (q *recordingQueue) Enqueue(_ context.Context, ev channel.Event) error {
	if q.err != nil {
		return q.err
	}
	q.events = append(q.events, ev)
	return nil
}

type recordingNotifier struct {
	sent []string
}

func (n *recordingNotifier) Text(_ context.Context, _, text string) { n.sent = append(n.sent, text) }

type prefixSanitizer struct{}

func (prefixSanitizer) Sanitize(raw string) string { return "clean:" + raw }

func newTestIngestor(limit int64, queue *recordingQueue, notify *recordingNotifier) *Ingestor {
	limiter := ratelimit.New(ratelimit.NewMemoryCounterStore(), ratelimit.Config{
		Max: limit, Window: time.Minute,
	}, testLogger())
	return NewIngestor(IngestorDeps{
		Ledger:    repository.NewMemStore().Repos().Idempotency,
		Limiter:   limiter,
		Sanitizer: prefixSanitizer{},
		Queue:     queue,
		Notify:    notify,
	}, testLogger())
}

func TestIngest_DeduplicatesByMessageID(t *testing.T) {
	queue := &recordingQueue{}
	g := newTestIngestor(10, queue, &recordingNotifier{})
	ev := channel.Event{MessageID: "42", SenderID: "u", Type: channel.EventText, Body: "hi"}

	first, err := g.Ingest(context.Background(), ev)
	if err != nil || first != VerdictQueued {
		t.Fatalf("Ingest() = %q, %v, want queued", first, err)
	}
	second, err := g.Ingest(context.Background(), ev)
	if err != nil || second != VerdictDuplicate {
		t.Fatalf("Ingest() replay = %q, %v, want duplicate", second, err)
	}
	if len(queue.events) != 1 {
		t.Errorf("queued = %d, want 1", len(queue.events))
	}
	if queue.events[0].Body != "clean:hi" {
		t.Errorf("Body = %q, want sanitized", queue.events[0].Body)
	}
}

func TestIngest_RateLimitWarnsOnce(t *testing.T) {
	queue := &recordingQueue{}
	notify := &recordingNotifier{}
	g := newTestIngestor(2, queue, notify)

	var verdicts []Verdict
	for i := range 5 {
		v, err := g.Ingest(context.Background(), channel.Event{MessageID: fmt.Sprint(i), SenderID: "u", Body: "x"})
		if err != nil {
			t.Fatal(err)
		}
		verdicts = append(verdicts, v)
	}

	want := []Verdict{VerdictQueued, VerdictQueued, VerdictRateLimited, VerdictRateLimited, VerdictRateLimited}
	for i := range want {
		if verdicts[i] != want[i] {
			t.Errorf("verdict[%d] = %q, want %q", i, verdicts[i], want[i])
		}
	}
	if len(notify.sent) != 1 || notify.sent[0] != RateLimitWarning {
		t.Errorf("warnings = %v, want exactly one", notify.sent)
	}
	if len(queue.events) != 2 {
		t.Errorf("queued = %d, want 2", len(queue.events))
	}
}

func TestIngest_BusyQueueTellsSender(t *testing.T) {
	notify := &recordingNotifier{}
	g := newTestIngestor(10, &recordingQueue{err: ErrQueueFull}, notify)

	v, err := g.Ingest(context.Background(), channel.Event{MessageID: "1", SenderID: "u", Body: "x"})
	if err != nil || v != VerdictBusy {
		t.Errorf("Ingest() = %q, %v, want busy", v, err)
	}
	if len(notify.sent) != 1 || notify.sent[0] != BusyMessage {
		t.Errorf("sent = %v", notify.sent)
	}
}
