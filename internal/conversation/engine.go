// Package conversation はユーザーごとの会話ステートマシンを実装する。
// 受信テキストを現在の状態に応じてオンボーディング、インテント分類、スロットフィリング、
// 選択待ちの各ハンドラへ振り分け、状態遷移は (state, stateContext) の1回の書き込みで行う。
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/chatbooks/internal/channel"
	"github.com/hitoshi/chatbooks/internal/executor"
	"github.com/hitoshi/chatbooks/internal/model"
	"github.com/hitoshi/chatbooks/internal/repository"
	"github.com/hitoshi/chatbooks/internal/slotfill"
)

// Classifier はIDLE時のインテント分類器。*intent.Classifier が実装する。
type Classifier interface {
	Classify(ctx context.Context, text string) model.Classification
}

// SlotFiller は収集フローの1ターンを処理する。*slotfill.Engine が実装する。
type SlotFiller interface {
	Continue(ctx context.Context, user *model.User, flow model.FlowKind, scratch *model.CollectScratch, text string) slotfill.Result
}

// Tasks はタスク実行層。*executor.Executor が実装する。
type Tasks interface {
	LogSale(ctx context.Context, user *model.User, cmd *model.SaleCommand) executor.Result
	LogExpense(ctx context.Context, user *model.User, cmd *model.ExpenseCommand) executor.Result
	AddProduct(ctx context.Context, user *model.User, cmd *model.ProductCommand) executor.Result
	LogCustomerPayment(ctx context.Context, user *model.User, cmd *model.CustomerPaymentCommand) executor.Result
	AddBankAccount(ctx context.Context, user *model.User, cmd *model.BankAccountCommand) executor.Result
	ReconcileTransaction(ctx context.Context, user *model.User, cmd *model.ReconcileCommand) executor.Result

	CheckStock(ctx context.Context, user *model.User, name string) executor.Result
	FinancialSummary(ctx context.Context, user *model.User, rng *model.DateRange) executor.Result
	FinancialInsight(ctx context.Context, user *model.User, rng *model.DateRange) executor.Result
	Report(ctx context.Context, user *model.User, reportType model.ReportType, rng *model.DateRange) executor.Result
	BankBalances(ctx context.Context, user *model.User) executor.Result
	CustomerBalances(ctx context.Context, user *model.User) executor.Result

	BankAccounts(ctx context.Context, user *model.User) ([]*model.BankAccount, error)
	RecentTransactions(ctx context.Context, user *model.User, limit int) ([]*model.Transaction, error)
}

// Replier はユーザーへの返信口。*channel.Notifier が実装する。失敗は呼び出し側へ返さない。
type Replier interface {
	Text(ctx context.Context, to, text string)
	Buttons(ctx context.Context, to, body string, buttons []channel.Button)
	List(ctx context.Context, to, header, body string, sections []channel.ListSection)
}

// Observer は分類結果を受け取る。metrics.Collector が実装する。
type Observer interface {
	ObserveIntent(intent model.Intent, source model.IntentSource)
}

// Config は会話エンジンの設定。
type Config struct {
	TrialDays       int
	FlowTTL         time.Duration // 0 の場合は期限切れ判定をしない
	DefaultCurrency string
	PaymentPageURL  string
	PlanPrices      map[string]int64 // 通貨コード → 最小通貨単位
}

// Deps は会話エンジンの依存先。
type Deps struct {
	Users      repository.UserRepository
	Classifier Classifier
	Slots      SlotFiller
	Tasks      Tasks
	Reply      Replier
	OTP        OTPSender
	Observer   Observer // nil可
}

// Engine は会話ステートマシン。
type Engine struct {
	users      repository.UserRepository
	classifier Classifier
	slots      SlotFiller
	tasks      Tasks
	reply      Replier
	otp        OTPSender
	observer   Observer
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
	otpCode    func() (string, error)
}

// New はEngineを生成する。
func New(deps Deps, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "NGN"
	}
	otp := deps.OTP
	if otp == nil {
		otp = NewLogOTPSender(logger)
	}
	return &Engine{
		users:      deps.Users,
		classifier: deps.Classifier,
		slots:      deps.Slots,
		tasks:      deps.Tasks,
		reply:      deps.Reply,
		otp:        otp,
		observer:   deps.Observer,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		otpCode:    generateOTP,
	}
}

// turn は1イベント分の処理対象。
type turn struct {
	user *model.User
	to   string
	text string
	now  time.Time
}

// Handle は1件の受信イベントを処理する。
// 予期しないエラーは安全な状態へ戻して定型応答を返した上で、呼び出し側へも返す。
func (e *Engine) Handle(ctx context.Context, ev channel.Event) error {
	text := strings.TrimSpace(ev.Body)
	if text == "" {
		switch ev.Type {
		case channel.EventImage, channel.EventAudio, channel.EventDocument:
			e.reply.Text(ctx, ev.SenderID, msgMediaHint)
		}
		return nil
	}

	user, err := e.loadUser(ctx, ev.SenderID)
	if err != nil {
		e.reply.Text(ctx, ev.SenderID, executor.GenericFailureMessage)
		return err
	}

	t := &turn{user: user, to: ev.SenderID, text: text, now: e.now()}
	if err := e.route(ctx, t); err != nil {
		e.resetAfterFailure(ctx, t, err)
		return err
	}
	return nil
}

func (e *Engine) loadUser(ctx context.Context, channelID string) (*model.User, error) {
	user, err := e.users.FindByChannelID(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user != nil {
		return user, nil
	}

	now := e.now()
	user = &model.User{
		ChannelID:          channelID,
		State:              model.StateNew,
		SubscriptionStatus: model.SubscriptionNone,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := e.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return e.users.FindByChannelID(ctx, channelID)
		}
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}
	e.logger.Info("新規ユーザーを作成", slog.String("user_id", user.ID))
	return user, nil
}

// resetAfterFailure は予期しないエラーの後、フロー中であればIDLEへ戻して定型応答を返す。
func (e *Engine) resetAfterFailure(ctx context.Context, t *turn, cause error) {
	e.logger.Error("turn failed",
		slog.String("user_id", t.user.ID),
		slog.String("state", string(t.user.State)),
		slog.String("error", cause.Error()),
	)
	if t.user.State.IsFlow() {
		if err := e.save(ctx, t, model.StateIdle, nil); err != nil {
			e.logger.Error("failed to reset state after error",
				slog.String("user_id", t.user.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	e.reply.Text(ctx, t.to, executor.GenericFailureMessage)
}

// save は (state, stateContext) を1回の書き込みで保存する。IDLE では stateContext を常に破棄する。
func (e *Engine) save(ctx context.Context, t *turn, state model.State, sc *model.StateContext) error {
	if state == model.StateIdle {
		sc = nil
	}
	if sc != nil {
		sc.UpdatedAt = t.now
	}
	if err := e.users.SaveState(ctx, t.user.ID, state, sc); err != nil {
		return fmt.Errorf("状態の保存に失敗しました: %w", err)
	}
	t.user.State = state
	t.user.StateContext = sc
	return nil
}

func (e *Engine) route(ctx context.Context, t *turn) error {
	u := t.user

	if e.flowExpired(t) {
		label := flowLabel(u.StateContext)
		if err := e.save(ctx, t, model.StateIdle, nil); err != nil {
			return err
		}
		e.reply.Text(ctx, t.to, fmt.Sprintf(msgFlowExpired, label))
		if isCancel(t.text) {
			return nil
		}
	}

	if u.State != model.StateIdle && isCancel(t.text) {
		return e.cancel(ctx, t)
	}

	switch u.State {
	case model.StateNew:
		return e.startOnboarding(ctx, t)
	case model.StateOnboardingBusinessName, model.StateOnboardingEmail,
		model.StateOnboardingOTP, model.StateOnboardingCurrency:
		return e.handleOnboarding(ctx, t)
	case model.StateIdle:
		return e.handleIdle(ctx, t)
	case model.StateAwaitingBankSelection:
		return e.handleBankSelection(ctx, t)
	case model.StateAwaitingItemSelection:
		return e.handleItemSelection(ctx, t)
	case model.StateAwaitingEditField:
		return e.handleEditField(ctx, t)
	case model.StateAwaitingEditValue:
		return e.handleEditValue(ctx, t)
	}
	if flow, ok := collectFlows[u.State]; ok {
		return e.handleCollect(ctx, t, flow)
	}
	return e.recoverUnknownState(ctx, t)
}

// recoverUnknownState は未知の状態や壊れた stateContext をIDLEへ戻す。
func (e *Engine) recoverUnknownState(ctx context.Context, t *turn) error {
	e.logger.Error("unknown conversation state, resetting to IDLE",
		slog.String("user_id", t.user.ID),
		slog.String("state", string(t.user.State)),
	)
	if err := e.save(ctx, t, model.StateIdle, nil); err != nil {
		return err
	}
	e.reply.Text(ctx, t.to, msgRecovered)
	e.sendMenu(ctx, t)
	return nil
}

func (e *Engine) flowExpired(t *turn) bool {
	sc := t.user.StateContext
	if e.cfg.FlowTTL <= 0 || !t.user.State.IsFlow() || sc == nil || sc.UpdatedAt.IsZero() {
		return false
	}
	return t.now.Sub(sc.UpdatedAt) > e.cfg.FlowTTL
}

// cancel は現在のフローを破棄してIDLEへ戻す。オンボーディング前またはオンボーディング中なら既定値で完了させる。
func (e *Engine) cancel(ctx context.Context, t *turn) error {
	if t.user.State == model.StateNew || t.user.State.IsOnboarding() {
		return e.finishOnboarding(ctx, t, "", msgOnboardingSkipped)
	}
	if err := e.save(ctx, t, model.StateIdle, nil); err != nil {
		return err
	}
	e.reply.Text(ctx, t.to, msgCancelled)
	return nil
}
