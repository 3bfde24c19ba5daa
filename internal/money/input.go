package money

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Input はAI応答中の数値フィールド。文字列・数値・null のいずれも受け付け、
// 解釈は ParsePrice / ParseQuantity に委ねる。
type Input struct {
	Raw   string
	Valid bool // フィールドが存在しnullでない
}

// UnmarshalJSON は文字列または数値リテラルを受け付ける。
func (in *Input) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*in = Input{}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*in = Input{Raw: s, Valid: s != ""}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("number field must be a string or number: %w", err)
	}
	*in = Input{Raw: n.String(), Valid: true}
	return nil
}

// MarshalJSON は元の文字列表現を保持する。
func (in Input) MarshalJSON() ([]byte, error) {
	if !in.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(in.Raw)
}

// Price は価格として解釈する。未指定の場合も ErrNotANumber を返す。
func (in Input) Price() (decimal.Decimal, error) {
	if !in.Valid {
		return decimal.Decimal{}, ErrNotANumber
	}
	return ParsePrice(in.Raw)
}

// Quantity は数量として解釈する。
func (in Input) Quantity() (int, error) {
	if !in.Valid {
		return 0, ErrNotANumber
	}
	return ParseQuantity(in.Raw)
}

// Text は文字列として返す。
func Text(s string) Input {
	return Input{Raw: s, Valid: s != ""}
}
