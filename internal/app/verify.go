package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/neurocode/neurocode/internal/client"
)

// defaultAPIURL はverifyサブコマンドの接続先のデフォルト値。
const defaultAPIURL = "http://localhost:8080"

// verifyOutput はverifyサブコマンドが出力するJSON。
type verifyOutput struct {
	AccessToken string         `json:"access_token"`
	ExpiresAt   string         `json:"expires_at"`
	Created     bool           `json:"created"`
	Account     client.Account `json:"account"`
}

// runVerify はTelegramボットで受け取ったコードをAPIに提出し、結果のJSONをoutに書き込む。
// コードが引数にない場合はinから1行読み込む。
//
//	neurocode verify [-api URL] [CODE]
func runVerify(ctx context.Context, out io.Writer, in io.Reader, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(out)
	apiURL := fs.String("api", envOr("NEUROCODE_API_URL", defaultAPIURL), "NeuroCode API base URL")
	if err := fs.Parse(args); err != nil {
		return err
	}

	code := fs.Arg(0)
	if code == "" {
		fmt.Fprint(out, "Enter the code from the Telegram bot: ")
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read code: %w", err)
		}
		code = strings.TrimSpace(line)
		fmt.Fprintln(out)
	}

	session, err := client.New(*apiURL, nil).Verify(ctx, code)
	if err != nil {
		if client.IsInvalidCode(err) {
			return fmt.Errorf("invalid or expired code; request a new one with /auth in the Telegram bot")
		}
		return fmt.Errorf("verification failed: %w", err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(verifyOutput{
		AccessToken: session.AccessToken,
		ExpiresAt:   session.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
		Created:     session.Created,
		Account:     session.Account,
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
