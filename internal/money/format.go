package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// symbols は通貨コードごとの表示記号。
var symbols = map[string]string{
	"NGN": "₦",
	"USD": "$",
	"GHS": "₵",
	"KES": "KSh ",
	"GBP": "£",
	"EUR": "€",
}

// SupportedCurrencies はオンボーディングで選択可能な通貨コード。
var SupportedCurrencies = []string{"NGN", "USD", "GHS", "KES"}

// IsSupportedCurrency は通貨コードが選択可能かどうかを返す。
func IsSupportedCurrency(code string) bool {
	for _, c := range SupportedCurrencies {
		if c == code {
			return true
		}
	}
	return false
}

// Format は金額を通貨記号付き・桁区切り付きで整形する。
// 小数部が0の場合は整数表示にする（例: ₦5,000 / ₦2,500.50）。
func Format(currency string, d decimal.Decimal) string {
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Abs()
	}

	s := d.StringFixed(2)
	intPart, frac, _ := strings.Cut(s, ".")
	if frac == "00" {
		frac = ""
	}

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if frac != "" {
		b.WriteByte('.')
		b.WriteString(frac)
	}

	symbol, ok := symbols[currency]
	if !ok {
		symbol = currency + " "
	}
	return sign + symbol + b.String()
}

// MinorUnits は金額を最小通貨単位（コボ、セント）の整数に変換する。
func MinorUnits(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// FromMinorUnits は最小通貨単位の整数を金額に変換する。
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
