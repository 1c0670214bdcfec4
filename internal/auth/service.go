// Package auth はTelegramコードによる認証フローとアクセストークン管理を提供する。
//
// 検証フローはコードレジストリとアカウントストアを合成する唯一の場所であり、
// 次の順序で処理する: 形式チェック → コードの消費 → アカウントのUpsert → トークン発行。
// Upsertに失敗した場合もコードは消費済みのままとなる。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/neurocode/neurocode/internal/codes"
	"github.com/neurocode/neurocode/internal/model"
)

var tracer = otel.Tracer("github.com/neurocode/neurocode/internal/auth")

// 検証失敗の内部理由。ログとメトリクスでのみ区別する。
const (
	FailureInvalidFormat    = "invalid_format"
	FailureUnknown          = "unknown"
	FailureExpired          = "expired"
	FailureStoreUnavailable = "store_unavailable"
)

// CodeResolver は認証コードを消費するインターフェース。
type CodeResolver interface {
	ResolveAndConsume(code string) (*model.PendingAuth, error)
}

// AccountUpserter はアカウントを作成または取得するインターフェース。
type AccountUpserter interface {
	Upsert(ctx context.Context, externalID string, profile model.Profile) (*model.Account, bool, error)
}

// VerifyRecorder は検証結果を記録するインターフェース。
type VerifyRecorder interface {
	RecordVerifySuccess(created bool)
	RecordVerifyFailure(reason string)
}

// VerifyResult は検証成功時の結果。
type VerifyResult struct {
	Account     *model.Account
	Created     bool
	AccessToken string
	ExpiresAt   time.Time
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	codes    CodeResolver
	accounts AccountUpserter
	tokens   *TokenManager
	recorder VerifyRecorder
}

// NewService はServiceを生成する。recorderはnilでもよい。
func NewService(registry CodeResolver, accounts AccountUpserter, tokens *TokenManager, recorder VerifyRecorder) *Service {
	return &Service{
		codes:    registry,
		accounts: accounts,
		tokens:   tokens,
		recorder: recorder,
	}
}

// Verify は提出されたコードを検証し、対応するアカウントとアクセストークンを返す。
//
// 形式不正はmodel.ErrInvalidCodeFormat、未発行・使用済み・期限切れは
// いずれもmodel.ErrInvalidOrExpiredCode、ストア障害はmodel.ErrStoreUnavailableを返す。
func (s *Service) Verify(ctx context.Context, submitted string) (*VerifyResult, error) {
	ctx, span := tracer.Start(ctx, "auth.Verify")
	defer span.End()

	code, err := codes.Normalize(submitted)
	if err != nil {
		s.fail(ctx, span, FailureInvalidFormat, "")
		return nil, model.ErrInvalidCodeFormat
	}

	pending, err := s.codes.ResolveAndConsume(code)
	if err != nil {
		switch {
		case errors.Is(err, codes.ErrExpired):
			s.fail(ctx, span, FailureExpired, code)
			return nil, model.ErrInvalidOrExpiredCode
		case errors.Is(err, codes.ErrNotFound):
			s.fail(ctx, span, FailureUnknown, code)
			return nil, model.ErrInvalidOrExpiredCode
		case errors.Is(err, model.ErrInvalidCodeFormat):
			s.fail(ctx, span, FailureInvalidFormat, "")
			return nil, model.ErrInvalidCodeFormat
		default:
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, "resolve failed")
			return nil, fmt.Errorf("failed to resolve code: %w", err)
		}
	}

	account, created, err := s.accounts.Upsert(ctx, pending.ExternalID, pending.Profile)
	if err != nil {
		s.fail(ctx, span, FailureStoreUnavailable, code)
		span.RecordError(err)
		if !errors.Is(err, model.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
		}
		return nil, fmt.Errorf("failed to upsert account: %w", err)
	}

	token, expiresAt, err := s.tokens.Issue(account.ID, string(account.Plan))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "token issue failed")
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	span.SetAttributes(
		attribute.String("neurocode.account_id", account.ID),
		attribute.Bool("neurocode.account_created", created),
	)
	if s.recorder != nil {
		s.recorder.RecordVerifySuccess(created)
	}
	slog.InfoContext(ctx, "verification succeeded",
		slog.String("account_id", account.ID),
		slog.Bool("created", created),
	)

	return &VerifyResult{
		Account:     account,
		Created:     created,
		AccessToken: token,
		ExpiresAt:   expiresAt,
	}, nil
}

// Authenticate はアクセストークンを検証し、アカウントIDを返す。
func (s *Service) Authenticate(token string) (string, error) {
	return s.tokens.Validate(token)
}

func (s *Service) fail(ctx context.Context, span trace.Span, reason, code string) {
	span.SetAttributes(attribute.String("neurocode.verify_failure", reason))
	if s.recorder != nil {
		s.recorder.RecordVerifyFailure(reason)
	}
	slog.InfoContext(ctx, "verification failed",
		slog.String("reason", reason),
		slog.String("code", codes.Mask(code)),
	)
}
