// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は受信メッセージ本文からマークアップと制御文字を取り除き、
// 分類・抽出・保存の前に平文へ正規化する。
package security

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// DefaultMaxRunes は受信本文の最大文字数。超過分は切り捨てる。
const DefaultMaxRunes = 2000

// TextSanitizer は受信テキストのサニタイズ機能のインターフェースを定義する。
type TextSanitizer interface {
	// Sanitize はHTMLタグを除去した平文を返す。
	// 改行以外の制御文字を除き、前後の空白を取り除く。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのStrictPolicyは全タグを除去する。
type textSanitizer struct {
	policy   *bluemonday.Policy
	maxRunes int
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
// maxRunes が0以下の場合は DefaultMaxRunes を使用する。
func NewTextSanitizer(maxRunes int) *textSanitizer {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxRunes
	}
	return &textSanitizer{policy: bluemonday.StrictPolicy(), maxRunes: maxRunes}
}

// Sanitize はテキストをサニタイズする。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	if !utf8.ValidString(raw) {
		raw = strings.ToValidUTF8(raw, "")
	}

	raw = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, raw)

	// StrictPolicy は & などをエスケープするため、平文に戻す
	text := strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))

	if utf8.RuneCountInString(text) > s.maxRunes {
		runes := []rune(text)
		text = string(runes[:s.maxRunes])
	}
	return text
}
