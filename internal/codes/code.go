package codes

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/neurocode/neurocode/internal/model"
)

const (
	// CodeLength は認証コードの文字数。
	CodeLength = 6
	// Alphabet は認証コードに使用する文字集合（英大文字と数字）。
	Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Generator は認証コードの候補を1つ生成する関数。
type Generator func() (string, error)

// RandomCode はAlphabetから一様にCodeLength文字を選んだコードを生成する。
func RandomCode() (string, error) {
	max := big.NewInt(int64(len(Alphabet)))
	buf := make([]byte, CodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		buf[i] = Alphabet[n.Int64()]
	}
	return string(buf), nil
}

// Normalize は提出されたコードの前後空白を除去し大文字化する。
// 形式が不正な場合はmodel.ErrInvalidCodeFormatを返す。
func Normalize(code string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if len(c) != CodeLength {
		return "", model.ErrInvalidCodeFormat
	}
	for i := 0; i < len(c); i++ {
		if strings.IndexByte(Alphabet, c[i]) < 0 {
			return "", model.ErrInvalidCodeFormat
		}
	}
	return c, nil
}

// Mask はログ出力用に先頭2文字以外を伏せたコードを返す。
func Mask(code string) string {
	if len(code) <= 2 {
		return strings.Repeat("*", len(code))
	}
	return code[:2] + strings.Repeat("*", len(code)-2)
}
