// Package payment は決済プロバイダのWebhookを検証し、サブスクリプションを延長する。
package payment

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// SignatureHeader は署名を運ぶHTTPヘッダー名。
const SignatureHeader = "X-Paystack-Signature"

// EventChargeSuccess は課金成功イベント。これ以外のイベントは処理しない。
const EventChargeSuccess = "charge.success"

// Event は決済Webhookのペイロード。
type Event struct {
	Event string    `json:"event"`
	Data  EventData `json:"data"`
}

// EventData はイベント本体。Amount は最小通貨単位。
type EventData struct {
	Reference string          `json:"reference"`
	Status    string          `json:"status"`
	Amount    int64           `json:"amount"`
	Currency  string          `json:"currency"`
	Customer  Customer        `json:"customer"`
	Metadata  json.RawMessage `json:"metadata"`
}

// Customer は支払者の情報。
type Customer struct {
	Email string `json:"email"`
}

type metadata struct {
	UserID string `json:"userId"`
}

// UserID は metadata に埋め込まれた userId を返す。
// metadata はオブジェクトのほか、JSONを文字列化した形式でも届く。
func (d EventData) UserID() string {
	raw := d.Metadata
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		raw = json.RawMessage(s)
	}
	var md metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return ""
	}
	return strings.TrimSpace(md.UserID)
}

// Sign は本文のHMAC-SHA512を16進文字列で返す。
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature は署名ヘッダーの値が本文の署名と一致するかを定数時間で比較する。
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// ParseEvent は署名検証済みの本文をデコードする。
func ParseEvent(body []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode payment event: %w", err)
	}
	if ev.Event == "" {
		return nil, fmt.Errorf("payment event has no type")
	}
	return &ev, nil
}
