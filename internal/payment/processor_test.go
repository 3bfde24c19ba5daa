package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/chatbooks/internal/model"
	"github.com/hitoshi/chatbooks/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
}

var fixedNow = time.Date(2026, 3, 18, 10, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *recordingNotifier) Text(_ context.Context, to, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, to+": "+text)
}

type recordingObserver struct {
	outcomes []string
}

func (o *recordingObserver) ObservePayment(outcome string) { o.outcomes = append(o.outcomes, outcome) }

func setup(t *testing.T, expiresAt *time.Time) (*Processor, *repository.MemStore, *model.User, *recordingNotifier) {
	t.Helper()
	store := repository.NewMemStore()
	status := model.SubscriptionTrial
	if expiresAt == nil {
		status = model.SubscriptionNone
	}
	user := &model.User{ChannelID: "chat-1", State: model.StateIdle, SubscriptionStatus: status, SubscriptionExpiresAt: expiresAt}
	if err := store.Repos().Users.Create(context.Background(), user); err != nil {
		t.Fatalf("Users.Create() error = %v", err)
	}
	notify := &recordingNotifier{}
	p := NewProcessor(store, notify, nil, Config{
		PlanPrices:       map[string]int64{"NGN": 500000, "USD": 1000},
		SubscriptionDays: 30,
	}, testLogger())
	p.now = func() time.Time { return fixedNow }
	return p, store, user, notify
}

func chargeEvent(ref, userID string, amount int64, currency string) *Event {
	md, _ := json.Marshal(map[string]string{"userId": userID})
	return &Event{Event: EventChargeSuccess, Data: EventData{
		Reference: ref, Status: "success", Amount: amount, Currency: currency, Metadata: md,
	}}
}

func reload(t *testing.T, store *repository.MemStore, id string) *model.User {
	t.Helper()
	u, err := store.Repos().Users.FindByID(context.Background(), id)
	if err != nil || u == nil {
		t.Fatalf("FindByID() = %v, %v", u, err)
	}
	return u
}

func TestProcess_ExtendsFromNowWhenExpired(t *testing.T) {
	p, store, user, notify := setup(t, nil)

	got, err := p.Process(context.Background(), chargeEvent("ref-1", user.ID, 500000, "NGN"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if got != OutcomeProcessed {
		t.Fatalf("outcome = %q, want processed", got)
	}

	u := reload(t, store, user.ID)
	want := fixedNow.AddDate(0, 0, 30)
	if u.SubscriptionStatus != model.SubscriptionActive || !u.SubscriptionExpiresAt.Equal(want) {
		t.Errorf("subscription = %q %v, want active until %v", u.SubscriptionStatus, u.SubscriptionExpiresAt, want)
	}
	if len(notify.sent) != 1 {
		t.Errorf("notifications = %d, want 1", len(notify.sent))
	}
}

func TestProcess_ExtendsFromCurrentExpiryWhenActive(t *testing.T) {
	current := fixedNow.AddDate(0, 0, 5)
	p, store, user, _ := setup(t, &current)

	if _, err := p.Process(context.Background(), chargeEvent("ref-1", user.ID, 500000, "NGN")); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	u := reload(t, store, user.ID)
	if want := current.AddDate(0, 0, 30); !u.SubscriptionExpiresAt.Equal(want) {
		t.Errorf("expires = %v, want %v", u.SubscriptionExpiresAt, want)
	}
}

func TestProcess_DuplicateExtendsOnce(t *testing.T) {
	p, store, user, notify := setup(t, nil)
	ev := chargeEvent("ref-dup", user.ID, 500000, "NGN")

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 5)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := p.Process(context.Background(), ev)
			if err != nil {
				t.Errorf("Process() error = %v", err)
			}
			outcomes[i] = out
		}(i)
	}
	wg.Wait()

	processed := 0
	for _, o := range outcomes {
		if o == OutcomeProcessed {
			processed++
		} else if o != OutcomeDuplicate {
			t.Errorf("outcome = %q", o)
		}
	}
	if processed != 1 {
		t.Errorf("processed = %d, want exactly 1", processed)
	}
	u := reload(t, store, user.ID)
	if want := fixedNow.AddDate(0, 0, 30); !u.SubscriptionExpiresAt.Equal(want) {
		t.Errorf("expires = %v, want single extension %v", u.SubscriptionExpiresAt, want)
	}
	if len(notify.sent) != 1 {
		t.Errorf("notifications = %d, want 1", len(notify.sent))
	}
}

func TestProcess_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		amount   int64
		currency string
		want     Outcome
		message  []string
	}{
		{
			name:     "underpaid",
			amount:   100000,
			currency: "NGN",
			want:     OutcomeInvalidAmount,
			message:  []string{"₦1,000", "₦5,000", "₦4,000 short"},
		},
		{
			name:     "unknown currency",
			amount:   500000,
			currency: "EUR",
			want:     OutcomeInvalidCurrency,
			message:  []string{"EUR", "NGN or USD"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, store, user, notify := setup(t, nil)

			got, err := p.Process(context.Background(), chargeEvent("ref-x", user.ID, tt.amount, tt.currency))
			if err != nil {
				t.Fatalf("Process() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("outcome = %q, want %q", got, tt.want)
			}
			if u := reload(t, store, user.ID); u.SubscriptionStatus != model.SubscriptionNone {
				t.Errorf("status = %q, want unchanged", u.SubscriptionStatus)
			}
			if len(notify.sent) != 1 {
				t.Fatalf("notifications = %v, want exactly 1", notify.sent)
			}
			if !strings.HasPrefix(notify.sent[0], user.ChannelID+": ") {
				t.Errorf("notified %q, want channel %s", notify.sent[0], user.ChannelID)
			}
			for _, want := range tt.message {
				if !strings.Contains(notify.sent[0], want) {
					t.Errorf("message = %q, want it to mention %q", notify.sent[0], want)
				}
			}

			// 再送は記録済みとして扱い、再通知しない
			again, _ := p.Process(context.Background(), chargeEvent("ref-x", user.ID, 500000, "NGN"))
			if again != OutcomeDuplicate {
				t.Errorf("replay outcome = %q, want duplicate", again)
			}
			if len(notify.sent) != 1 {
				t.Errorf("notifications after replay = %d, want 1", len(notify.sent))
			}
		})
	}
}

func TestProcess_OverpaymentAccepted(t *testing.T) {
	p, _, user, _ := setup(t, nil)
	got, err := p.Process(context.Background(), chargeEvent("ref-1", user.ID, 900000, "ngn"))
	if err != nil || got != OutcomeProcessed {
		t.Errorf("Process() = %q, %v, want processed", got, err)
	}
}

func TestProcess_UnresolvedUserIsNotRecorded(t *testing.T) {
	p, store, _, _ := setup(t, nil)
	obs := &recordingObserver{}
	p.observer = obs

	for _, id := range []string{"", "not-a-uuid", "5b0c7d2e-7a4c-4d55-9a39-0d7f3c0a1e11"} {
		got, err := p.Process(context.Background(), chargeEvent("ref-u", id, 500000, "NGN"))
		if err != nil || got != OutcomeUnresolved {
			t.Errorf("Process(userId=%q) = %q, %v, want unresolved", id, got, err)
		}
	}
	exists, _ := store.Repos().Idempotency.Exists(context.Background(), model.IdempotencyPayment, "ref-u")
	if exists {
		t.Error("unresolved payment recorded in ledger")
	}
	if len(obs.outcomes) != 3 || obs.outcomes[0] != string(OutcomeUnresolved) {
		t.Errorf("observed = %v", obs.outcomes)
	}
}

func TestProcess_IgnoresOtherEvents(t *testing.T) {
	p, _, user, _ := setup(t, nil)
	ev := chargeEvent("ref-1", user.ID, 500000, "NGN")
	ev.Event = "transfer.success"
	if got, err := p.Process(context.Background(), ev); err != nil || got != OutcomeIgnored {
		t.Errorf("Process() = %q, %v, want ignored", got, err)
	}
}

func TestProcess_MissingReference(t *testing.T) {
	p, _, user, _ := setup(t, nil)
	if _, err := p.Process(context.Background(), chargeEvent(" ", user.ID, 500000, "NGN")); err == nil {
		t.Error("Process() error = nil, want invalid payload")
	}
}
