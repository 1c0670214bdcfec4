// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ProfileSanitizer はTelegramから受け取った表示名とユーザー名を
// アカウントに保存する前にプレーンテキストへ正規化する。
// マークアップの除去にはbluemondayのStrictPolicyを使用する。
package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"

	"github.com/neurocode/neurocode/internal/model"
)

const (
	// MaxDisplayNameLength は表示名の最大文字数（rune単位）。
	MaxDisplayNameLength = 64
	// MaxHandleLength はハンドルの最大文字数。Telegramのユーザー名上限に合わせる。
	MaxHandleLength = 32
)

// ProfileSanitizer はユーザープロフィールの正規化機能を提供する。
// bluemondayのポリシーはスレッドセーフなため、1つのインスタンスを共有してよい。
type ProfileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerを生成する。
func NewProfileSanitizer() *ProfileSanitizer {
	return &ProfileSanitizer{policy: bluemonday.StrictPolicy()}
}

// Profile はTelegramのユーザー情報からプロフィールを組み立てる。
//   - 表示名: first_name と last_name を空白で連結し、タグと制御文字を除去する
//   - ハンドル: 先頭の@を除き、英数字とアンダースコアのみを残す
//   - ハンドルが空の場合は "user<externalID>"、表示名が空の場合はハンドルを使う
func (s *ProfileSanitizer) Profile(externalID, firstName, lastName, username string) model.Profile {
	name := strings.TrimSpace(firstName + " " + lastName)
	displayName := s.Text(name, MaxDisplayNameLength)

	handle := sanitizeHandle(username)
	if handle == "" {
		handle = "user" + externalID
	}
	if displayName == "" {
		displayName = handle
	}

	return model.Profile{DisplayName: displayName, Handle: handle}
}

// Text はマークアップと制御文字を除去し、連続する空白を1つにまとめ、
// maxRunes文字で切り詰めたプレーンテキストを返す。
func (s *ProfileSanitizer) Text(raw string, maxRunes int) string {
	// StrictPolicyは残したテキストをエスケープするため元に戻す
	plain := html.UnescapeString(s.policy.Sanitize(raw))

	var b strings.Builder
	space := false
	for _, r := range plain {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}

	out := []rune(b.String())
	if maxRunes > 0 && len(out) > maxRunes {
		out = out[:maxRunes]
	}
	return strings.TrimSpace(string(out))
}

func sanitizeHandle(username string) string {
	u := strings.TrimPrefix(strings.TrimSpace(username), "@")
	var b strings.Builder
	for _, r := range u {
		if r == '_' || (r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))) {
			b.WriteRune(r)
		}
		if b.Len() == MaxHandleLength {
			break
		}
	}
	return b.String()
}
