// Package money は金額・数量文字列の正規パースと表示整形を提供する。
// AI境界を越えるすべての数値はこのパッケージを経由して解釈する。
package money

import (
	"errors"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ErrNotANumber は数値として解釈できない入力を表す。ゼロとして扱ってはならない。
var ErrNotANumber = errors.New("not a number")

var (
	thousand = decimal.NewFromInt(1_000)
	million  = decimal.NewFromInt(1_000_000)
)

// currencyWords は記号の代わりに書かれる通貨表記。
var currencyWords = []string{"ngn", "naira", "usd", "ghs", "kes", "ksh", "cedis"}

// ParsePrice は価格文字列を正規のルールで数値に変換する。
//   - 通貨記号・通貨コード・桁区切りのカンマを除去する
//   - 末尾の k は1,000倍、m は1,000,000倍（大文字小文字を区別しない）
//   - それ以外は通常の10進数として解釈する
//
// 解釈できない入力には ErrNotANumber を返す。
func ParsePrice(s string) (decimal.Decimal, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for _, w := range currencyWords {
		v = strings.TrimPrefix(v, w)
		v = strings.TrimSuffix(v, w)
	}

	v = strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Sc, r) || r == ',' || r == '_' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, v)

	multiplier := decimal.NewFromInt(1)
	switch {
	case strings.HasSuffix(v, "k"):
		multiplier = thousand
		v = strings.TrimSuffix(v, "k")
	case strings.HasSuffix(v, "m"):
		multiplier = million
		v = strings.TrimSuffix(v, "m")
	}

	if v == "" || strings.ContainsAny(v, "eE") {
		return decimal.Decimal{}, ErrNotANumber
	}

	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Decimal{}, ErrNotANumber
	}
	return d.Mul(multiplier), nil
}

// ParseQuantity は数量文字列を正の整数として解釈する。
// 価格と同じ正規ルールを通した上で、整数でない・0以下の値は ErrNotANumber を返す。
func ParseQuantity(s string) (int, error) {
	d, err := ParsePrice(s)
	if err != nil {
		return 0, err
	}
	if !d.IsInteger() || !d.IsPositive() || d.GreaterThan(decimal.NewFromInt(1_000_000_000)) {
		return 0, ErrNotANumber
	}
	return int(d.IntPart()), nil
}
