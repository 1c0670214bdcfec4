package account

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	// CredentialPrefix はAPIキーの接頭辞。
	CredentialPrefix = "nc_"
	// credentialBodyLength は接頭辞を除いたAPIキーの文字数。
	credentialBodyLength = 48
	credentialAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// GenerateCredential は "nc_" に続けて62文字の英数字から一様に48文字を選んだAPIキーを生成する。
func GenerateCredential() (string, error) {
	max := big.NewInt(int64(len(credentialAlphabet)))
	buf := make([]byte, credentialBodyLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate credential: %w", err)
		}
		buf[i] = credentialAlphabet[n.Int64()]
	}
	return CredentialPrefix + string(buf), nil
}

// MaskCredential は表示用に先頭10文字と末尾6文字以外を省略したAPIキーを返す。
func MaskCredential(credential string) string {
	if len(credential) <= 16 {
		return strings.Repeat("*", len(credential))
	}
	return credential[:10] + "..." + credential[len(credential)-6:]
}
