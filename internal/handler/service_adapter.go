package handler

import (
	"context"

	"github.com/neurocode/neurocode/internal/auth"
)

// CodeVerifier はコード検証のドメインサービス。auth.Serviceが満たす。
type CodeVerifier interface {
	Verify(ctx context.Context, submitted string) (*auth.VerifyResult, error)
}

// AuthServiceAdapter は auth.Service を AuthServiceInterface に適合させるアダプタ。
type AuthServiceAdapter struct {
	svc CodeVerifier
}

// NewAuthServiceAdapter はAuthServiceAdapterを生成する。
func NewAuthServiceAdapter(svc CodeVerifier) *AuthServiceAdapter {
	return &AuthServiceAdapter{svc: svc}
}

// Verify はコードを検証し、handlerのレスポンス型で返す。
func (a *AuthServiceAdapter) Verify(ctx context.Context, code string) (*verifyResponse, error) {
	result, err := a.svc.Verify(ctx, code)
	if err != nil {
		return nil, err
	}
	return &verifyResponse{
		AccessToken: result.AccessToken,
		TokenType:   "Bearer",
		ExpiresAt:   result.ExpiresAt,
		Created:     result.Created,
		Account:     toAccountResponse(result.Account),
	}, nil
}

// --- compile-time interface checks ---

var _ AuthServiceInterface = (*AuthServiceAdapter)(nil)
var _ CodeVerifier = (*auth.Service)(nil)
