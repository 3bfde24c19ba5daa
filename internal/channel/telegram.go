package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// Telegram はTelegram Bot APIを使用した Sender。
// 送信は perSecond で平準化し、Bot APIの送信上限を超えないようにする。
type Telegram struct {
	bot     *tgbotapi.BotAPI
	limiter *rate.Limiter
}

// TelegramConfig はTelegramアダプタの設定。
type TelegramConfig struct {
	Token      string
	Endpoint   string // 空の場合は tgbotapi.APIEndpoint
	HTTPClient *http.Client
	PerSecond  int
}

// NewTelegram はTelegramを生成する。生成時に getMe でトークンを検証する。
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	perSecond := cfg.PerSecond
	if perSecond <= 0 {
		perSecond = 25
	}
	return &Telegram{
		bot:     bot,
		limiter: rate.NewLimiter(rate.Limit(perSecond), perSecond),
	}, nil
}

// chatIDError はチャネルアドレスがTelegramのchat idとして解釈できないことを表す。
type chatIDError struct {
	to  string
	err error
}

func (e *chatIDError) Error() string {
	return fmt.Sprintf("invalid telegram chat id %q: %v", e.to, e.err)
}

func (e *chatIDError) Unwrap() error { return e.err }

func chatID(to string) (int64, error) {
	id, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return 0, &chatIDError{to: to, err: err}
	}
	return id, nil
}

func (t *Telegram) send(ctx context.Context, c tgbotapi.Chattable) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send rate wait interrupted: %w", err)
	}
	if _, err := t.bot.Send(c); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// SendText はテキストメッセージを送信する。
func (t *Telegram) SendText(ctx context.Context, to, text string) error {
	id, err := chatID(to)
	if err != nil {
		return err
	}
	return t.send(ctx, tgbotapi.NewMessage(id, text))
}

// SendButtons はインラインキーボード付きメッセージを送信する。
func (t *Telegram) SendButtons(ctx context.Context, to, body string, buttons []Button) error {
	id, err := chatID(to)
	if err != nil {
		return err
	}
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Title, b.ID))
	}
	msg := tgbotapi.NewMessage(id, body)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(row)
	return t.send(ctx, msg)
}

// SendList はリストを1行1ボタンのインラインキーボードとして送信する。
// セクション名は本文に含める。
func (t *Telegram) SendList(ctx context.Context, to, header, body string, sections []ListSection) error {
	id, err := chatID(to)
	if err != nil {
		return err
	}
	text := body
	if header != "" {
		text = header + "\n" + body
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, s := range sections {
		for _, r := range s.Rows {
			title := r.Title
			if r.Description != "" {
				title += " · " + r.Description
			}
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(title, r.ID)))
		}
	}
	msg := tgbotapi.NewMessage(id, text)
	if len(rows) > 0 {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	return t.send(ctx, msg)
}

// SendDocument はURLで参照されるドキュメントを送信する。
func (t *Telegram) SendDocument(ctx context.Context, to, ref, filename, caption string) error {
	id, err := chatID(to)
	if err != nil {
		return err
	}
	doc := tgbotapi.NewDocument(id, tgbotapi.FileURL(ref))
	doc.Caption = caption
	if caption == "" {
		doc.Caption = filename
	}
	return t.send(ctx, doc)
}

// AckCallback はボタン押下の通知を確認済みにする。
func (t *Telegram) AckCallback(ctx context.Context, callbackID string) error {
	if callbackID == "" {
		return nil
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := t.bot.Request(tgbotapi.NewCallback(callbackID, "")); err != nil {
		return fmt.Errorf("failed to answer callback query: %w", err)
	}
	return nil
}

// DecodeUpdate はWebhookのボディを Event に変換する。
// 処理対象外の更新（編集通知など）は ok=false を返す。callbackID はボタン押下時のみ設定される。
func DecodeUpdate(body []byte) (ev Event, callbackID string, ok bool, err error) {
	var u tgbotapi.Update
	if err := json.Unmarshal(body, &u); err != nil {
		return Event{}, "", false, fmt.Errorf("failed to decode telegram update: %w", err)
	}

	ev.MessageID = strconv.Itoa(u.UpdateID)

	if cq := u.CallbackQuery; cq != nil {
		if cq.From == nil {
			return Event{}, "", false, nil
		}
		ev.SenderID = strconv.FormatInt(cq.From.ID, 10)
		if cq.Message != nil && cq.Message.Chat != nil {
			ev.SenderID = strconv.FormatInt(cq.Message.Chat.ID, 10)
		}
		ev.Type = EventInteractive
		ev.Body = cq.Data
		ev.ReceivedAt = time.Now()
		return ev, cq.ID, true, nil
	}

	m := u.Message
	if m == nil || m.Chat == nil {
		return Event{}, "", false, nil
	}
	ev.SenderID = strconv.FormatInt(m.Chat.ID, 10)
	ev.ReceivedAt = time.Unix(int64(m.Date), 0)

	switch {
	case m.Text != "":
		ev.Type = EventText
		ev.Body = m.Text
	case len(m.Photo) > 0:
		ev.Type = EventImage
		ev.MediaRef = m.Photo[len(m.Photo)-1].FileID
		ev.Body = m.Caption
	case m.Voice != nil:
		ev.Type = EventAudio
		ev.MediaRef = m.Voice.FileID
	case m.Audio != nil:
		ev.Type = EventAudio
		ev.MediaRef = m.Audio.FileID
		ev.Body = m.Caption
	case m.Document != nil:
		ev.Type = EventDocument
		ev.MediaRef = m.Document.FileID
		ev.Body = m.Caption
	default:
		return Event{}, "", false, nil
	}
	return ev, "", true, nil
}

// compile-time interface check
var _ Sender = (*Telegram)(nil)
