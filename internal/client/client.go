// Package client はNeuroCode認証APIのHTTPクライアントを提供する。
// Telegramボットで受け取ったコードを検証エンドポイントに提出し、アクセストークンを取得する。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/neurocode/neurocode/internal/codes"
)

const (
	// DefaultTimeout はHTTPクライアントのデフォルトタイムアウト。
	DefaultTimeout = 10 * time.Second
	// maxResponseSize はレスポンスボディの最大読み取りサイズ。
	maxResponseSize = 1 << 20
)

// エラーコード。サーバーの統一エラーフォーマットのcodeと対応する。
const (
	codeInvalidCodeFormat    = "INVALID_CODE_FORMAT"
	codeInvalidOrExpiredCode = "INVALID_OR_EXPIRED_CODE"
)

// APIError はサーバーが返したエラーレスポンスを表す。
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
	Action     string `json:"action"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("neurocode API error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("neurocode API error: status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsInvalidCode はコードが不正・期限切れ・使用済みのいずれかで拒否されたかを返す。
func IsInvalidCode(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == codeInvalidCodeFormat || apiErr.Code == codeInvalidOrExpiredCode
}

// Usage はアカウントの当日利用量。
type Usage struct {
	Plan          string `json:"plan"`
	RequestsToday int    `json:"requests_today"`
	DailyLimit    int    `json:"daily_limit"`
	Remaining     int    `json:"remaining"`
	RequestsTotal int64  `json:"requests_total"`
}

// Account はサーバーが返すアカウント情報。
type Account struct {
	ID          string    `json:"id"`
	ExternalID  string    `json:"external_id"`
	Handle      string    `json:"handle,omitempty"`
	DisplayName string    `json:"display_name"`
	APIKey      string    `json:"api_key"`
	Usage       Usage     `json:"usage"`
	CreatedAt   time.Time `json:"created_at"`
}

// Session はコード検証の結果。
type Session struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	Created     bool      `json:"created"`
	Account     Account   `json:"account"`
}

// Client はNeuroCode APIのクライアント。
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New はClientを生成する。httpClientがnilの場合はDefaultTimeoutのクライアントを使用する。
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Verify はTelegramボットが発行したコードを提出し、セッションを返す。
// 形式が明らかに不正なコードはサーバーに送らずにエラーを返す。
func (c *Client) Verify(ctx context.Context, code string) (*Session, error) {
	normalized, err := codes.Normalize(code)
	if err != nil {
		return nil, &APIError{
			StatusCode: http.StatusBadRequest,
			Code:       codeInvalidCodeFormat,
			Message:    fmt.Sprintf("The code must be %d letters or digits.", codes.CodeLength),
		}
	}

	var s Session
	if err := c.do(ctx, http.MethodPost, "/api/auth/verify", "", map[string]string{"code": normalized}, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Me はアクセストークンに対応するアカウントを返す。
func (c *Client) Me(ctx context.Context, accessToken string) (*Account, error) {
	var a Account
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", "Bearer "+accessToken, nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// RotateAPIKey はAPIキーを再発行し、新しいキーを返す。
func (c *Client) RotateAPIKey(ctx context.Context, accessToken string) (string, error) {
	var resp struct {
		APIKey string `json:"api_key"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/account/api-key", "Bearer "+accessToken, nil, &resp); err != nil {
		return "", err
	}
	return resp.APIKey, nil
}

func (c *Client) do(ctx context.Context, method, path, authorization string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		// エラーボディが統一フォーマットでない場合はステータスのみ返す
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
