package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
)

type fakeResult struct {
	rowsAffected int64
}

func (r *fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r *fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type execCall struct {
	query string
	args  []any
}

// Executor インターフェースに対するモック実装
type mockExecutor struct {
	calls  []execCall
	rows   []int64 // 呼び出し順の影響行数
	failAt int     // 1始まり。0 の場合は失敗しない
}

func (m *mockExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.calls = append(m.calls, execCall{query: query, args: args})
	if m.failAt == len(m.calls) {
		return nil, errors.New("connection refused")
	}
	var n int64
	if i := len(m.calls) - 1; i < len(m.rows) {
		n = m.rows[i]
	}
	return &fakeResult{rowsAffected: n}, nil
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func TestNewCleanupJob_Defaults(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockExecutor{}, newTestLogger(&buf))

	if job.MessageRetentionDays != 14 {
		t.Errorf("MessageRetentionDays = %d, want 14", job.MessageRetentionDays)
	}
	if job.FlowTTL != 24*time.Hour {
		t.Errorf("FlowTTL = %v, want 24h", job.FlowTTL)
	}
}

func TestCleanupJob_Run_ExecutesAllStatements(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{rows: []int64{3, 7, 2}}
	job := NewCleanupJob(mock, newTestLogger(&buf))
	job.MessageRetentionDays = 30
	job.FlowTTL = 90 * time.Minute

	res, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res != (Result{RateCounters: 3, Messages: 7, StaleFlows: 2}) {
		t.Errorf("Result = %+v", res)
	}
	if len(mock.calls) != 3 {
		t.Fatalf("exec calls = %d, want 3", len(mock.calls))
	}

	if !strings.Contains(mock.calls[0].query, "DELETE FROM rate_counters") {
		t.Errorf("first query = %s", mock.calls[0].query)
	}

	msg := mock.calls[1]
	if !strings.Contains(msg.query, "DELETE FROM idempotency_records") {
		t.Errorf("second query = %s", msg.query)
	}
	if msg.args[0] != "message" {
		t.Errorf("kind arg = %v, want message (payment references are never pruned)", msg.args[0])
	}
	if msg.args[1] != "30 days" {
		t.Errorf("interval arg = %v, want 30 days", msg.args[1])
	}

	flow := mock.calls[2]
	if !strings.Contains(flow.query, "UPDATE users") {
		t.Errorf("third query = %s", flow.query)
	}
	if flow.args[0] != "IDLE" || flow.args[2] != "5400 seconds" {
		t.Errorf("flow args = %v", flow.args)
	}
	states, ok := flow.args[1].(*pq.StringArray)
	if !ok {
		t.Fatalf("states arg type = %T, want *pq.StringArray", flow.args[1])
	}
	for _, s := range *states {
		if strings.HasPrefix(s, "ONBOARDING") || s == "NEW" || s == "IDLE" {
			t.Errorf("state %s must not be reset", s)
		}
	}
}

func TestCleanupJob_Run_SkipsFlowsWithoutTTL(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{}
	job := NewCleanupJob(mock, newTestLogger(&buf))
	job.FlowTTL = 0

	if _, err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(mock.calls) != 2 {
		t.Errorf("exec calls = %d, want 2", len(mock.calls))
	}
}

func TestCleanupJob_Run_LogsCounts(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockExecutor{rows: []int64{1, 2, 0}}, newTestLogger(&buf))

	if _, err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log: %v\nraw: %s", err, buf.String())
	}
	if entry["rate_counters_deleted"] != float64(1) || entry["messages_deleted"] != float64(2) || entry["flows_reset"] != float64(0) {
		t.Errorf("log entry = %v", entry)
	}
	if entry["retention_days"] != float64(14) {
		t.Errorf("retention_days = %v, want 14", entry["retention_days"])
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("expected duration_ms in log entry")
	}
}

func TestCleanupJob_Run_StopsOnDBFailure(t *testing.T) {
	for failAt := 1; failAt <= 3; failAt++ {
		var buf bytes.Buffer
		mock := &mockExecutor{failAt: failAt}
		job := NewCleanupJob(mock, newTestLogger(&buf))

		if _, err := job.Run(context.Background()); err == nil {
			t.Errorf("failAt=%d: expected error", failAt)
		}
		if len(mock.calls) != failAt {
			t.Errorf("failAt=%d: exec calls = %d, want %d", failAt, len(mock.calls), failAt)
		}
		if !strings.Contains(buf.String(), "ERROR") {
			t.Errorf("failAt=%d: expected error log, got %s", failAt, buf.String())
		}
	}
}

func TestCleanupJob_Run_RespectsContext(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockExecutor{}, newTestLogger(&buf))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := job.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestCleanupJob_Start_RunsImmediatelyAndStops(t *testing.T) {
	buf := &lockedBuffer{}
	job := NewCleanupJob(&mockExecutor{}, slog.New(slog.NewJSONHandler(buf, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Hour)
		close(done)
	}()

	deadline := time.After(time.Second)
	for {
		time.Sleep(5 * time.Millisecond)
		if strings.Contains(buf.String(), "flows_reset") {
			break
		}
		select {
		case <-deadline:
			t.Fatal("initial run did not happen")
		default:
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
