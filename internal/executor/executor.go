// Package executor は検証済みコマンドを帳簿・在庫・顧客残高へ適用する。
// 各操作は1つの作業単位として実行され、ユーザーへそのまま返信できる Result を返す。
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/chatbooks/internal/llm"
	"github.com/hitoshi/chatbooks/internal/model"
	"github.com/hitoshi/chatbooks/internal/money"
	"github.com/hitoshi/chatbooks/internal/repository"
	"github.com/shopspring/decimal"
)

// GenericFailureMessage は予期しないエラー時の定型応答。原因はログにのみ記録する。
const GenericFailureMessage = "Sorry, something went wrong on our side. Please try again in a moment."

// Result はユーザーへ中継する実行結果。
type Result struct {
	Success bool
	Message string
}

// Observer は操作ごとの成否を受け取る。metrics.Collector が実装する。
type Observer interface {
	ObserveTask(op string, success bool)
}

// Executor はタスク実行層。
type Executor struct {
	store    repository.Store
	insights llm.Provider
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

// Option はExecutorの任意設定。
type Option func(*Executor)

// WithInsightProvider は財務コメント生成に使うプロバイダを設定する。
func WithInsightProvider(p llm.Provider) Option {
	return func(e *Executor) { e.insights = p }
}

// WithObserver は実行結果の観測先を設定する。
func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observer = o }
}

// New はExecutorを生成する。
func New(store repository.Store, logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{store: store, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// mutate はfnを1トランザクションで実行し、エラーを Result に変換する。
// ユーザー修正可能なエラーはそのメッセージを返し、それ以外は定型応答にする。
func (e *Executor) mutate(ctx context.Context, op string, user *model.User, fn func(ctx context.Context, r repository.Repos) (string, error)) Result {
	var msg string
	err := e.store.WithinTx(ctx, func(ctx context.Context, r repository.Repos) error {
		var err error
		msg, err = fn(ctx, r)
		return err
	})
	return e.result(op, user, msg, err)
}

// query は読み取り専用の操作を実行する。
func (e *Executor) query(ctx context.Context, op string, user *model.User, fn func(ctx context.Context, r repository.Repos) (string, error)) Result {
	msg, err := fn(ctx, e.store.Repos())
	return e.result(op, user, msg, err)
}

func (e *Executor) result(op string, user *model.User, msg string, err error) Result {
	res := Result{Success: err == nil, Message: msg}
	if err != nil {
		if userMsg, ok := model.UserMessage(err); ok {
			e.logger.Info("task rejected",
				slog.String("op", op),
				slog.String("user_id", user.ID),
				slog.String("reason", err.Error()),
			)
			res.Message = userMsg
		} else {
			e.logger.Error("task failed",
				slog.String("op", op),
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
			res.Message = GenericFailureMessage
		}
	}
	if e.observer != nil {
		e.observer.ObserveTask(op, res.Success)
	}
	return res
}

func (e *Executor) stamp() time.Time {
	return e.now().UTC()
}

func currencyOf(user *model.User) string {
	if user.Currency == "" {
		return "NGN"
	}
	return user.Currency
}

func (e *Executor) format(user *model.User, d decimal.Decimal) string {
	return money.Format(currencyOf(user), d)
}

// resolveBank は指定された口座を取得する。IDが空なら nil を返す。
func resolveBank(ctx context.Context, r repository.Repos, userID, accountID string) (*model.BankAccount, error) {
	if accountID == "" {
		return nil, nil
	}
	acct, err := r.BankAccounts.FindByID(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, &model.NotFoundError{
			Entity:  "bank account",
			Name:    accountID,
			Message: "That bank account no longer exists. Please try again and pick another account.",
		}
	}
	return acct, nil
}

// resolveCustomer は名前で顧客を取得し、存在しなければ作成する。
func (e *Executor) resolveCustomer(ctx context.Context, r repository.Repos, userID, name string) (*model.Customer, error) {
	c, err := r.Customers.FindByName(ctx, userID, name)
	if err != nil {
		return nil, err
	}
	if c != nil {
		return c, nil
	}
	now := e.stamp()
	c = &model.Customer{UserID: userID, Name: name, BalanceOwed: decimal.Zero, CreatedAt: now, UpdatedAt: now}
	if err := r.Customers.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func requirePositive(field string, d decimal.Decimal, message string) error {
	if !d.IsPositive() {
		return &model.ValidationError{Field: field, Message: message}
	}
	return nil
}
