package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// maxDisplayNameRunes は保存する表示名の最大文字数。
const maxDisplayNameRunes = 100

// ProfileSanitizer はプロバイダーから受け取った表示名を平文に整える。
// bluemondayのStrictPolicyで全タグを除去する。
type ProfileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerを生成する。
func NewProfileSanitizer() *ProfileSanitizer {
	return &ProfileSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeDisplayName はタグと制御文字を取り除き、連続する空白を1つにまとめる。
// StrictPolicyがエスケープした実体参照は元の文字に戻す（JSONで返すため）。
func (s *ProfileSanitizer) SanitizeDisplayName(name string) string {
	stripped := html.UnescapeString(s.policy.Sanitize(name))

	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, stripped)
	cleaned = strings.Join(strings.Fields(cleaned), " ")

	if runes := []rune(cleaned); len(runes) > maxDisplayNameRunes {
		cleaned = string(runes[:maxDisplayNameRunes])
	}
	return cleaned
}
