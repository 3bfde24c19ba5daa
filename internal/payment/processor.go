package payment

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/chatbooks/internal/model"
	"github.com/hitoshi/chatbooks/internal/money"
	"github.com/hitoshi/chatbooks/internal/repository"
)

// Outcome はイベント1件の処理結果。
type Outcome string

const (
	OutcomeProcessed       Outcome = "processed"
	OutcomeDuplicate       Outcome = "duplicate"
	OutcomeIgnored         Outcome = "ignored"
	OutcomeUnresolved      Outcome = "unresolved_user"
	OutcomeInvalidAmount   Outcome = "invalid_amount"
	OutcomeInvalidCurrency Outcome = "invalid_currency"
)

// Notifier は決済完了をユーザーへ通知する。*channel.Notifier が実装する。
type Notifier interface {
	Text(ctx context.Context, to, text string)
}

// Observer は処理結果を受け取る。metrics.Collector が実装する。
type Observer interface {
	ObservePayment(outcome string)
}

// Config は決済処理の設定。
type Config struct {
	PlanPrices       map[string]int64 // 通貨コード → 最小通貨単位のプラン価格
	SubscriptionDays int
}

// Processor は課金成功イベントを冪等に処理する。
type Processor struct {
	store    repository.Store
	notify   Notifier
	observer Observer
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewProcessor はProcessorを生成する。observer はnil可。
func NewProcessor(store repository.Store, notify Notifier, observer Observer, cfg Config, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SubscriptionDays <= 0 {
		cfg.SubscriptionDays = 30
	}
	return &Processor{store: store, notify: notify, observer: observer, cfg: cfg, logger: logger, now: time.Now}
}

// Process はイベントを処理する。
// 参照番号が台帳に記録済みなら何もしない。ユーザーを特定できない場合は記録せずに終了し、再送に委ねる。
// 金額・通貨が不正な場合は結果を記録して終了する。
// 正常な場合は参照番号の記録とサブスクリプション延長を1つのトランザクションで行い、コミット後に通知する。
func (p *Processor) Process(ctx context.Context, ev *Event) (Outcome, error) {
	outcome, err := p.process(ctx, ev)
	if err == nil && p.observer != nil {
		p.observer.ObservePayment(string(outcome))
	}
	return outcome, err
}

func (p *Processor) process(ctx context.Context, ev *Event) (Outcome, error) {
	if ev.Event != EventChargeSuccess {
		p.logger.Debug("ignoring payment event", slog.String("event", ev.Event))
		return OutcomeIgnored, nil
	}
	d := ev.Data
	ref := strings.TrimSpace(d.Reference)
	if ref == "" {
		return "", model.NewInvalidPayloadError("missing reference")
	}
	log := p.logger.With(slog.String("reference", ref))

	done, err := p.store.Repos().Idempotency.Exists(ctx, model.IdempotencyPayment, ref)
	if err != nil {
		return "", fmt.Errorf("決済参照番号の確認に失敗しました: %w", err)
	}
	if done {
		log.Info("duplicate payment event")
		return OutcomeDuplicate, nil
	}

	user, err := p.resolveUser(ctx, d)
	if err != nil {
		return "", err
	}
	if user == nil {
		log.Warn("payment user could not be resolved", slog.String("email", d.Customer.Email))
		return OutcomeUnresolved, nil
	}
	log = log.With(slog.String("user_id", user.ID))

	currency := strings.ToUpper(strings.TrimSpace(d.Currency))
	rec := &model.IdempotencyRecord{
		Kind:        model.IdempotencyPayment,
		Reference:   ref,
		UserID:      user.ID,
		AmountMinor: d.Amount,
		Currency:    currency,
		CreatedAt:   p.now(),
	}

	price, ok := p.cfg.PlanPrices[currency]
	switch {
	case !ok:
		rec.Outcome = model.OutcomeInvalidCurrency
		return p.reject(ctx, log, user, rec, OutcomeInvalidCurrency,
			fmt.Sprintf("⚠️ We received a payment in %s, which we can't accept. Please pay in %s, or contact support for a refund.",
				currency, p.acceptedCurrencies()))
	case d.Amount < price:
		rec.Outcome = model.OutcomeInvalidAmount
		return p.reject(ctx, log, user, rec, OutcomeInvalidAmount,
			fmt.Sprintf("⚠️ We received %s, but ChatBooks Pro costs %s. Your payment is %s short, so your subscription was not extended. Please contact support.",
				money.Format(currency, money.FromMinorUnits(d.Amount)),
				money.Format(currency, money.FromMinorUnits(price)),
				money.Format(currency, money.FromMinorUnits(price-d.Amount))))
	case d.Amount > price:
		log.Warn("overpayment accepted",
			slog.Int64("amount", d.Amount),
			slog.Int64("price", price),
			slog.Int64("overpaid", d.Amount-price),
		)
	}

	rec.Outcome = model.OutcomeProcessed
	var expires time.Time
	duplicate := false
	err = p.store.WithinTx(ctx, func(ctx context.Context, r repository.Repos) error {
		inserted, err := r.Idempotency.Record(ctx, rec)
		if err != nil {
			return err
		}
		if !inserted {
			duplicate = true
			return nil
		}

		current, err := r.Users.FindByID(ctx, user.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("user disappeared during payment: %s", user.ID)
		}
		expires = p.extendFrom(current).AddDate(0, 0, p.cfg.SubscriptionDays)
		return r.Users.UpdateSubscription(ctx, current.ID, model.SubscriptionActive, &expires)
	})
	if err != nil {
		return "", fmt.Errorf("サブスクリプションの延長に失敗しました: %w", err)
	}
	if duplicate {
		log.Info("duplicate payment event")
		return OutcomeDuplicate, nil
	}

	log.Info("subscription extended", slog.Time("expires_at", expires))
	if p.notify != nil {
		p.notify.Text(ctx, user.ChannelID, fmt.Sprintf(
			"✅ Payment of %s received, thank you! ChatBooks Pro is active until %s.",
			money.Format(currency, money.FromMinorUnits(d.Amount)), expires.Format("2 Jan 2006")))
	}
	return OutcomeProcessed, nil
}

// extendFrom は延長の起点を返す。有効期間中であれば現在の期限、そうでなければ現在時刻。
func (p *Processor) extendFrom(u *model.User) time.Time {
	now := p.now()
	if u.SubscriptionActiveAt(now) {
		return *u.SubscriptionExpiresAt
	}
	return now
}

func (p *Processor) resolveUser(ctx context.Context, d EventData) (*model.User, error) {
	id := d.UserID()
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	user, err := p.store.Repos().Users.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("決済ユーザーの取得に失敗しました: %w", err)
	}
	return user, nil
}

// acceptedCurrencies はプラン価格が設定された通貨コードを昇順に列挙する。
func (p *Processor) acceptedCurrencies() string {
	codes := make([]string, 0, len(p.cfg.PlanPrices))
	for c := range p.cfg.PlanPrices {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return strings.Join(codes, " or ")
}

// reject は不正な決済を記録し、初回のみユーザーへ理由を通知する。
func (p *Processor) reject(ctx context.Context, log *slog.Logger, user *model.User, rec *model.IdempotencyRecord, outcome Outcome, message string) (Outcome, error) {
	inserted, err := p.store.Repos().Idempotency.Record(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("決済結果の記録に失敗しました: %w", err)
	}
	if !inserted {
		return OutcomeDuplicate, nil
	}
	log.Warn("payment rejected",
		slog.String("outcome", string(rec.Outcome)),
		slog.Int64("amount", rec.AmountMinor),
		slog.String("currency", rec.Currency),
	)
	if p.notify != nil {
		p.notify.Text(ctx, user.ChannelID, message)
	}
	return outcome, nil
}
