// Package bot はTelegramボットのコマンド処理とBot APIクライアントを提供する。
package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultAPIURL はTelegram Bot APIのベースURL。
	DefaultAPIURL = "https://api.telegram.org"
	// DefaultSendRate は1秒あたりの送信メッセージ上限。Telegramの全体上限（30/秒）より低く設定する。
	DefaultSendRate = 25
	// maxResponseSize はBot APIレスポンスの最大読み取りサイズ。
	maxResponseSize = 4 << 20
)

// ErrUnauthorized はBot APIがトークンを拒否したことを示す。
var ErrUnauthorized = errors.New("telegram bot token rejected")

// APIError はBot APIが ok=false を返した場合のエラー。
type APIError struct {
	Method      string
	StatusCode  int
	Description string
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s failed (%d): %s", e.Method, e.StatusCode, e.Description)
}

// apiResponse はBot APIの共通レスポンス形式。
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

// ClientConfig はClientの設定。
type ClientConfig struct {
	APIURL   string
	Token    string
	SendRate float64 // 1秒あたりの送信上限。0以下の場合はDefaultSendRate。1未満でもバーストは1
}

// Client はTelegram Bot APIのクライアント。
// 送信系メソッドはトークンバケットでレート制限される。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	limiter    *rate.Limiter
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, cfg ClientConfig) *Client {
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	sendRate := cfg.SendRate
	if sendRate <= 0 {
		sendRate = DefaultSendRate
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(apiURL, "/") + "/bot" + cfg.Token,
		limiter:    rate.NewLimiter(rate.Limit(sendRate), max(1, int(sendRate))),
	}
}

// SendMessage はHTML形式のメッセージを送信する。
func (c *Client) SendMessage(ctx context.Context, msg OutgoingMessage) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if msg.ParseMode == "" {
		msg.ParseMode = "HTML"
	}
	return c.call(ctx, "sendMessage", msg, nil)
}

// AnswerCallbackQuery はインラインボタン押下への応答を返し、クライアント側の読み込み表示を止める。
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackQueryID string) error {
	return c.call(ctx, "answerCallbackQuery", map[string]string{"callback_query_id": callbackQueryID}, nil)
}

// SetWebhook はWebhookのURLを登録する。secretTokenはX-Telegram-Bot-Api-Secret-Tokenヘッダで送り返される。
func (c *Client) SetWebhook(ctx context.Context, webhookURL, secretToken string) error {
	body := map[string]any{
		"url":             webhookURL,
		"allowed_updates": []string{"message", "callback_query"},
	}
	if secretToken != "" {
		body["secret_token"] = secretToken
	}
	return c.call(ctx, "setWebhook", body, nil)
}

// DeleteWebhook はWebhookの登録を解除する。ロングポーリングの前に呼び出す。
func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.call(ctx, "deleteWebhook", map[string]bool{"drop_pending_updates": false}, nil)
}

// GetUpdates はoffset以降の更新をロングポーリングで取得する。
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	body := map[string]any{
		"offset":          offset,
		"timeout":         int(timeout / time.Second),
		"allowed_updates": []string{"message", "callback_query"},
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", body, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// call はBot APIメソッドをJSONでPOSTし、resultをoutにデコードする。
func (c *Client) call(ctx context.Context, method string, payload any, out any) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// URLにトークンが含まれるためエラー文字列はログに出さない
		c.logger.Error("telegram API request failed",
			slog.String("method", method),
		)
		return fmt.Errorf("telegram %s request failed", method)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}

	var res apiResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return fmt.Errorf("failed to parse %s response (status %d): %w", method, resp.StatusCode, err)
	}
	if !res.OK {
		c.logger.Warn("telegram API returned an error",
			slog.String("method", method),
			slog.Int("http_status", resp.StatusCode),
			slog.String("description", res.Description),
		)
		return &APIError{Method: method, StatusCode: resp.StatusCode, Description: res.Description}
	}

	if out != nil && len(res.Result) > 0 {
		if err := json.Unmarshal(res.Result, out); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}
