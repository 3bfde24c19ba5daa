package repository

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/chatbooks/internal/database"
	"github.com/hitoshi/chatbooks/internal/model"
	"github.com/shopspring/decimal"
)

// openTestDB はTEST_DATABASE_URLのデータベースにマイグレーションを適用して返す。
// 未設定または接続できない場合はテストをスキップする。
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL が未設定のためスキップ")
	}
	db, err := database.Open(dbURL)
	if err != nil {
		t.Fatalf("データベースのオープンに失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Ping(); err != nil {
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}
	if err := database.RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーションに失敗: %v", err)
	}
	return db
}

func TestPostgresCounterStore_IncrementAndSetIfAbsent(t *testing.T) {
	db := openTestDB(t)
	s := NewPostgresCounterStore(db)
	ctx := context.Background()
	key := "test:" + uuid.NewString()
	t.Cleanup(func() { db.Exec(`DELETE FROM rate_counters WHERE key LIKE $1`, key+"%") })

	for i := int64(1); i <= 3; i++ {
		got, _, err := s.Increment(ctx, key, time.Minute)
		if err != nil {
			t.Fatalf("Increment() error = %v", err)
		}
		if got != i {
			t.Errorf("Increment() = %d, want %d", got, i)
		}
	}

	// 期限切れのカウンタは1から数え直す
	expired := key + ":expired"
	if _, _, err := s.Increment(ctx, expired, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	got, windowEnd, err := s.Increment(ctx, expired, time.Minute)
	if err != nil || got != 1 {
		t.Errorf("Increment() after expiry = %d, %v, want 1", got, err)
	}
	if until := time.Until(windowEnd); until <= 0 || until > time.Minute+time.Second {
		t.Errorf("Increment() expiresAt in %v, want within the window", until)
	}

	flag := key + ":warned"
	first, err := s.SetIfAbsent(ctx, flag, windowEnd)
	if err != nil || !first {
		t.Fatalf("SetIfAbsent() = %v, %v, want true", first, err)
	}
	second, err := s.SetIfAbsent(ctx, flag, windowEnd)
	if err != nil || second {
		t.Errorf("SetIfAbsent() again = %v, %v, want false", second, err)
	}

	// 期限を過ぎたマーカーは再設定できる
	stale := key + ":stale"
	if ok, err := s.SetIfAbsent(ctx, stale, time.Now().Add(-time.Second)); err != nil || !ok {
		t.Fatalf("SetIfAbsent(past) = %v, %v, want true", ok, err)
	}
	if ok, err := s.SetIfAbsent(ctx, stale, windowEnd); err != nil || !ok {
		t.Errorf("SetIfAbsent() over expired marker = %v, %v, want true", ok, err)
	}
}

func TestPostgresIdempotencyRepo_RecordOnce(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresIdempotencyRepo(db)
	ctx := context.Background()
	ref := "ref-" + uuid.NewString()
	t.Cleanup(func() { db.Exec(`DELETE FROM idempotency_records WHERE reference = $1`, ref) })

	rec := &model.IdempotencyRecord{
		Kind: model.IdempotencyPayment, Reference: ref, Outcome: model.OutcomeInvalidAmount,
		AmountMinor: 100, Currency: "NGN", CreatedAt: time.Now().UTC(),
	}
	ok, err := repo.Record(ctx, rec)
	if err != nil || !ok {
		t.Fatalf("Record() = %v, %v, want true", ok, err)
	}
	ok, err = repo.Record(ctx, rec)
	if err != nil || ok {
		t.Errorf("Record() duplicate = %v, %v, want false", ok, err)
	}

	exists, err := repo.Exists(ctx, model.IdempotencyPayment, ref)
	if err != nil || !exists {
		t.Errorf("Exists(payment) = %v, %v, want true", exists, err)
	}
	exists, err = repo.Exists(ctx, model.IdempotencyMessage, ref)
	if err != nil || exists {
		t.Errorf("Exists(message) = %v, %v, want false", exists, err)
	}
}

func TestPostgresUserRepo_ResetStaleFlowsKeepsOnboarding(t *testing.T) {
	db := openTestDB(t)
	users := NewPostgresUserRepo(db)
	ctx := context.Background()
	old := time.Now().UTC().Add(-2 * time.Hour)

	create := func(state model.State, sc *model.StateContext) *model.User {
		u := &model.User{
			ChannelID: "it-" + uuid.NewString(), State: state, StateContext: sc,
			SubscriptionStatus: model.SubscriptionNone, CreatedAt: old, UpdatedAt: old,
		}
		if err := users.Create(ctx, u); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		t.Cleanup(func() { db.Exec(`DELETE FROM users WHERE id = $1`, u.ID) })
		return u
	}
	stale := create(model.StateLoggingSale, model.NewCollectContext(model.FlowSale, old))
	onboarding := create(model.StateOnboardingEmail, model.NewOnboardingContext(old))

	if _, err := users.ResetStaleFlows(ctx, time.Now().UTC().Add(-time.Hour)); err != nil {
		t.Fatalf("ResetStaleFlows() error = %v", err)
	}

	got, err := users.FindByID(ctx, stale.ID)
	if err != nil || got == nil {
		t.Fatalf("FindByID() = %v, %v", got, err)
	}
	if got.State != model.StateIdle || got.StateContext != nil {
		t.Errorf("stale flow = %q %+v, want IDLE without context", got.State, got.StateContext)
	}
	got, err = users.FindByID(ctx, onboarding.ID)
	if err != nil || got == nil {
		t.Fatalf("FindByID() = %v, %v", got, err)
	}
	if got.State != model.StateOnboardingEmail {
		t.Errorf("onboarding state = %q, want unchanged", got.State)
	}
}

func TestPostgresProductRepo_AdjustStockIsRelative(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	u := &model.User{ChannelID: "it-" + uuid.NewString(), State: model.StateIdle, SubscriptionStatus: model.SubscriptionNone, CreatedAt: now, UpdatedAt: now}
	if err := NewPostgresUserRepo(db).Create(ctx, u); err != nil {
		t.Fatalf("Create(user) error = %v", err)
	}
	t.Cleanup(func() { db.Exec(`DELETE FROM users WHERE id = $1`, u.ID) })

	products := NewPostgresProductRepo(db)
	p := &model.Product{UserID: u.ID, Name: "Rice", Stock: 3, CreatedAt: now, UpdatedAt: now}
	if err := products.Create(ctx, p); err != nil {
		t.Fatalf("Create(product) error = %v", err)
	}

	// 古い読み取り値の Update は在庫を書き戻さない
	p.Stock = 100
	if err := products.Update(ctx, p); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, err := products.AdjustStock(ctx, u.ID, p.ID, -2)
	if err != nil || got.Stock != 1 {
		t.Fatalf("AdjustStock(-2) = %+v, %v, want stock 1", got, err)
	}
	if _, err := products.AdjustStock(ctx, u.ID, p.ID, -2); !errors.Is(err, ErrInsufficientStock) {
		t.Errorf("AdjustStock(-2) again error = %v, want ErrInsufficientStock", err)
	}

	// 売上原価は元の売上に紐づく
	txs := NewPostgresTransactionRepo(db)
	sale := &model.Transaction{UserID: u.ID, Type: model.TransactionIncome, Amount: decimal.NewFromInt(500), Category: model.CategorySales, CreatedAt: now, UpdatedAt: now}
	if err := txs.Create(ctx, sale); err != nil {
		t.Fatalf("Create(sale) error = %v", err)
	}
	cogs := &model.Transaction{UserID: u.ID, Type: model.TransactionExpense, Amount: decimal.NewFromInt(100), Category: model.CategoryCOGS, SourceID: sale.ID, CreatedAt: now, UpdatedAt: now}
	if err := txs.Create(ctx, cogs); err != nil {
		t.Fatalf("Create(cogs) error = %v", err)
	}
	linked, err := txs.ListBySource(ctx, u.ID, sale.ID)
	if err != nil || len(linked) != 1 || linked[0].SourceID != sale.ID {
		t.Errorf("ListBySource() = %+v, %v, want the cogs row", linked, err)
	}
}
