package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/chatbooks/internal/channel"
	"github.com/hitoshi/chatbooks/internal/intent"
	"github.com/hitoshi/chatbooks/internal/model"
	"github.com/hitoshi/chatbooks/internal/money"
)

const maxBusinessNameRunes = 80

// currencyAliases は通貨コードの代わりに送られる呼び名。
var currencyAliases = map[string]string{
	"naira":     "NGN",
	"dollar":    "USD",
	"dollars":   "USD",
	"cedi":      "GHS",
	"cedis":     "GHS",
	"shilling":  "KES",
	"shillings": "KES",
}

var currencyNames = map[string]string{
	"NGN": "Nigerian Naira",
	"USD": "US Dollar",
	"GHS": "Ghanaian Cedi",
	"KES": "Kenyan Shilling",
}

func (e *Engine) startOnboarding(ctx context.Context, t *turn) error {
	if err := e.save(ctx, t, model.StateOnboardingBusinessName, model.NewOnboardingContext(t.now)); err != nil {
		return err
	}
	e.reply.Text(ctx, t.to, msgWelcome)
	return nil
}

func (e *Engine) handleOnboarding(ctx context.Context, t *turn) error {
	sc := t.user.StateContext
	if sc == nil || sc.Flow != model.FlowOnboarding || sc.Onboarding == nil {
		// 以前のバージョンで保存された状態などは最初からやり直す
		sc = model.NewOnboardingContext(t.now)
	}

	switch t.user.State {
	case model.StateOnboardingBusinessName:
		return e.onboardBusinessName(ctx, t, sc)
	case model.StateOnboardingEmail:
		return e.onboardEmail(ctx, t, sc)
	case model.StateOnboardingOTP:
		return e.onboardOTP(ctx, t, sc)
	default:
		return e.onboardCurrency(ctx, t)
	}
}

func (e *Engine) onboardBusinessName(ctx context.Context, t *turn, sc *model.StateContext) error {
	name := strings.TrimSpace(t.text)
	if name == "" || utf8.RuneCountInString(name) > maxBusinessNameRunes {
		e.reply.Text(ctx, t.to, msgAskBusinessNameAgain)
		return nil
	}

	t.user.BusinessName = name
	t.user.UpdatedAt = t.now
	if err := e.users.UpdateProfile(ctx, t.user); err != nil {
		return fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}
	if err := e.save(ctx, t, model.StateOnboardingEmail, sc); err != nil {
		return err
	}
	e.reply.Text(ctx, t.to, fmt.Sprintf(msgAskEmail, name))
	return nil
}

func validEmail(s string) (string, bool) {
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "", false
	}
	at := strings.LastIndex(addr.Address, "@")
	if at < 1 || !strings.Contains(addr.Address[at+1:], ".") {
		return "", false
	}
	return strings.ToLower(addr.Address), true
}

func (e *Engine) onboardEmail(ctx context.Context, t *turn, sc *model.StateContext) error {
	email, ok := validEmail(strings.TrimSpace(t.text))
	if !ok {
		e.reply.Text(ctx, t.to, msgInvalidEmail)
		return nil
	}
	sent, err := e.issueOTP(ctx, t, sc, email)
	if err != nil {
		return err
	}
	if !sent {
		e.reply.Text(ctx, t.to, msgOTPSendFailed)
		return nil
	}
	e.reply.Text(ctx, t.to, fmt.Sprintf(msgOTPSent, email))
	return nil
}

// issueOTP は新しいコードを発行して送信し、ONBOARDING_OTP へ遷移する。
// 送信に失敗した場合は状態を変えずに sent=false を返す。
func (e *Engine) issueOTP(ctx context.Context, t *turn, sc *model.StateContext, email string) (bool, error) {
	code, err := e.otpCode()
	if err != nil {
		return false, err
	}
	if err := e.otp.SendOTP(ctx, email, code); err != nil {
		e.logger.Warn("ワンタイムコードの送信に失敗",
			slog.String("user_id", t.user.ID),
			slog.String("error", err.Error()),
		)
		return false, nil
	}
	sc.Onboarding = &model.OnboardingScratch{
		PendingEmail: email,
		OTPDigest:    digestOTP(code),
		OTPExpiresAt: t.now.Add(otpTTL),
	}
	if err := e.save(ctx, t, model.StateOnboardingOTP, sc); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) onboardOTP(ctx context.Context, t *turn, sc *model.StateContext) error {
	ob := sc.Onboarding
	if ob.PendingEmail == "" {
		if err := e.save(ctx, t, model.StateOnboardingEmail, model.NewOnboardingContext(t.now)); err != nil {
			return err
		}
		e.reply.Text(ctx, t.to, msgAskEmailAgain)
		return nil
	}

	code := strings.ReplaceAll(strings.TrimSpace(t.text), " ", "")
	if intent.Normalize(code) == "resend" || !t.now.Before(ob.OTPExpiresAt) {
		msg := msgOTPResent
		if intent.Normalize(code) != "resend" {
			msg = msgOTPExpired
		}
		sent, err := e.issueOTP(ctx, t, sc, ob.PendingEmail)
		if err != nil {
			return err
		}
		if !sent {
			e.reply.Text(ctx, t.to, msgOTPSendFailed)
			return nil
		}
		e.reply.Text(ctx, t.to, fmt.Sprintf(msg, ob.PendingEmail))
		return nil
	}

	if !otpMatches(code, ob.OTPDigest) {
		ob.Attempts++
		if ob.Attempts >= maxOTPAttempts {
			if err := e.save(ctx, t, model.StateOnboardingEmail, model.NewOnboardingContext(t.now)); err != nil {
				return err
			}
			e.reply.Text(ctx, t.to, msgOTPTooManyAttempts)
			return nil
		}
		if err := e.save(ctx, t, model.StateOnboardingOTP, sc); err != nil {
			return err
		}
		e.reply.Text(ctx, t.to, fmt.Sprintf(msgOTPWrong, maxOTPAttempts-ob.Attempts))
		return nil
	}

	t.user.Email = ob.PendingEmail
	t.user.UpdatedAt = t.now
	if err := e.users.UpdateProfile(ctx, t.user); err != nil {
		return fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}
	if err := e.save(ctx, t, model.StateOnboardingCurrency, model.NewOnboardingContext(t.now)); err != nil {
		return err
	}
	e.sendCurrencyList(ctx, t, msgEmailVerified)
	return nil
}

func (e *Engine) sendCurrencyList(ctx context.Context, t *turn, body string) {
	rows := make([]channel.ListRow, 0, len(money.SupportedCurrencies))
	for _, code := range money.SupportedCurrencies {
		rows = append(rows, channel.ListRow{ID: code, Title: code, Description: currencyNames[code]})
	}
	e.reply.List(ctx, t.to, "Currency", body, []channel.ListSection{{Title: "Currencies", Rows: rows}})
}

func parseCurrency(text string) (string, bool) {
	v := strings.TrimSpace(text)
	if code, ok := currencyAliases[strings.ToLower(v)]; ok {
		return code, true
	}
	code := strings.ToUpper(v)
	return code, money.IsSupportedCurrency(code)
}

func (e *Engine) onboardCurrency(ctx context.Context, t *turn) error {
	code, ok := parseCurrency(t.text)
	if !ok {
		e.sendCurrencyList(ctx, t, msgPickCurrency)
		return nil
	}
	return e.finishOnboarding(ctx, t, code, "")
}

// finishOnboarding は通貨を確定し、トライアルを開始してIDLEへ遷移する。
// currencyが空の場合は設定済みの通貨か既定の通貨を使う。
func (e *Engine) finishOnboarding(ctx context.Context, t *turn, currency, notice string) error {
	u := t.user
	switch {
	case currency != "":
		u.Currency = currency
	case u.Currency == "":
		u.Currency = e.cfg.DefaultCurrency
	}
	u.UpdatedAt = t.now
	if err := e.users.UpdateProfile(ctx, u); err != nil {
		return fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}

	if u.SubscriptionStatus == model.SubscriptionNone || u.SubscriptionStatus == "" {
		expires := t.now.AddDate(0, 0, e.cfg.TrialDays)
		if err := e.users.UpdateSubscription(ctx, u.ID, model.SubscriptionTrial, &expires); err != nil {
			return fmt.Errorf("トライアルの開始に失敗しました: %w", err)
		}
		u.SubscriptionStatus = model.SubscriptionTrial
		u.SubscriptionExpiresAt = &expires
	}

	if err := e.save(ctx, t, model.StateIdle, nil); err != nil {
		return err
	}
	e.logger.Info("オンボーディング完了",
		slog.String("user_id", u.ID),
		slog.String("currency", u.Currency),
	)

	if notice != "" {
		e.reply.Text(ctx, t.to, notice)
	}
	e.reply.Text(ctx, t.to, fmt.Sprintf(msgOnboardingDone, businessOrFriend(u), e.cfg.TrialDays))
	e.sendMenu(ctx, t)
	return nil
}

func businessOrFriend(u *model.User) string {
	if u.BusinessName == "" {
		return "friend"
	}
	return u.BusinessName
}
