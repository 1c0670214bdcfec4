package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/neurocode/neurocode/internal/model"
)

var tracer = otel.Tracer("github.com/neurocode/neurocode/internal/bot")

// コールバックデータ
const (
	CallbackAuth       = "auth"
	CallbackRefreshKey = "refresh_key"
	CallbackHelp       = "help"
)

// CodeIssuer は認証コードを発行するインターフェース。
type CodeIssuer interface {
	Issue(externalID string, profile model.Profile) (string, error)
}

// AccountService はボットが使用するアカウント操作のインターフェース。
type AccountService interface {
	FindByExternalID(ctx context.Context, externalID string) (*model.Account, error)
	RotateCredential(ctx context.Context, accountID string) (string, error)
}

// ProfileBuilder はTelegramのユーザー情報からプロフィールを組み立てるインターフェース。
type ProfileBuilder interface {
	Profile(externalID, firstName, lastName, username string) model.Profile
}

// Messenger はメッセージ送信のインターフェース。
type Messenger interface {
	SendMessage(ctx context.Context, msg OutgoingMessage) error
	AnswerCallbackQuery(ctx context.Context, callbackQueryID string) error
}

// CommandRecorder はコマンド処理結果を記録するインターフェース。
type CommandRecorder interface {
	RecordBotCommand(command, outcome string)
	RecordCodeIssued()
}

// DispatcherConfig はDispatcherの設定。
type DispatcherConfig struct {
	// SiteURL はボタンから開くWebサイトのURL。
	SiteURL string
	// CodeTTL はメッセージに表示するコードの有効期間。
	CodeTTL time.Duration
	// FreeDailyLimit は未登録ユーザーに案内するfreeプランの1日あたり上限。0以下の場合はデフォルト値。
	FreeDailyLimit int
}

// Dispatcher は受信した更新をコマンドごとに処理する。
//
// コードの発行はレジストリへの登録が完了してから返信する。
// 返信の送信に失敗してもレジストリの状態は巻き戻さない（コードは期限切れで消える）。
type Dispatcher struct {
	codes     CodeIssuer
	accounts  AccountService
	profiles  ProfileBuilder
	messenger Messenger
	recorder  CommandRecorder
	codeTTL   time.Duration
	siteURL   string
	freeLimit int
	logger    *slog.Logger
}

// NewDispatcher はDispatcherを生成する。recorderはnilでもよい。
func NewDispatcher(
	codes CodeIssuer,
	accounts AccountService,
	profiles ProfileBuilder,
	messenger Messenger,
	recorder CommandRecorder,
	logger *slog.Logger,
	cfg DispatcherConfig,
) *Dispatcher {
	return &Dispatcher{
		codes:     codes,
		accounts:  accounts,
		profiles:  profiles,
		messenger: messenger,
		recorder:  recorder,
		codeTTL:   cfg.CodeTTL,
		siteURL:   cfg.SiteURL,
		freeLimit: model.PlanFree.DailyLimit(cfg.FreeDailyLimit),
		logger:    logger,
	}
}

// incoming はメッセージとコールバックを共通に扱うための正規化済みイベント。
type incoming struct {
	command string
	chatID  int64
	from    User
}

// HandleUpdate は1件の更新を処理する。
// 未知のコマンドやボットからのメッセージは無視する。
func (d *Dispatcher) HandleUpdate(ctx context.Context, u Update) error {
	in, ok := d.normalize(ctx, u)
	if !ok {
		return nil
	}

	ctx, span := tracer.Start(ctx, "bot.HandleUpdate")
	defer span.End()
	span.SetAttributes(attribute.String("neurocode.bot_command", in.command))

	var err error
	switch in.command {
	case "/start":
		err = d.handleStart(ctx, in)
	case "/auth", "/login", CallbackAuth:
		err = d.handleAuth(ctx, in)
	case "/profile":
		err = d.handleProfile(ctx, in)
	case "/rotate", CallbackRefreshKey:
		err = d.handleRotate(ctx, in)
	case "/help", CallbackHelp:
		err = d.reply(ctx, in.chatID, helpText(), nil)
	default:
		return nil
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		d.logger.ErrorContext(ctx, "bot command failed",
			slog.String("command", in.command),
			slog.Int64("telegram_id", in.from.ID),
			slog.String("error", err.Error()),
		)
	}
	if d.recorder != nil {
		d.recorder.RecordBotCommand(in.command, outcome)
	}
	return err
}

func (d *Dispatcher) normalize(ctx context.Context, u Update) (incoming, bool) {
	switch {
	case u.Message != nil:
		m := u.Message
		if m.From == nil || m.From.IsBot {
			return incoming{}, false
		}
		return incoming{command: parseCommand(m.Text), chatID: m.Chat.ID, from: *m.From}, true
	case u.CallbackQuery != nil:
		q := u.CallbackQuery
		if q.Message == nil || q.From.IsBot {
			return incoming{}, false
		}
		if err := d.messenger.AnswerCallbackQuery(ctx, q.ID); err != nil {
			d.logger.WarnContext(ctx, "failed to answer callback query", slog.String("error", err.Error()))
		}
		return incoming{command: q.Data, chatID: q.Message.Chat.ID, from: q.From}, true
	}
	return incoming{}, false
}

// parseCommand はメッセージ本文からコマンド名を取り出す。
// "/auth@NeuroCodeBot arg" は "/auth" になる。
func parseCommand(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(cmd)
}

func externalID(u User) string {
	return strconv.FormatInt(u.ID, 10)
}

func (d *Dispatcher) handleStart(ctx context.Context, in incoming) error {
	a, err := d.accounts.FindByExternalID(ctx, externalID(in.from))
	if err != nil {
		// アカウント状態が取れなくても挨拶は返す
		d.logger.WarnContext(ctx, "failed to look up account for /start", slog.String("error", err.Error()))
		a = nil
	}
	name := d.profiles.Profile(externalID(in.from), in.from.FirstName, in.from.LastName, in.from.Username).DisplayName
	return d.reply(ctx, in.chatID, startText(name, a, d.freeLimit), startKeyboard(d.siteURL, a != nil))
}

func (d *Dispatcher) handleAuth(ctx context.Context, in incoming) error {
	id := externalID(in.from)
	profile := d.profiles.Profile(id, in.from.FirstName, in.from.LastName, in.from.Username)

	code, err := d.codes.Issue(id, profile)
	if err != nil {
		if replyErr := d.reply(ctx, in.chatID, unavailableText(), nil); replyErr != nil {
			return errors.Join(err, replyErr)
		}
		return fmt.Errorf("failed to issue code: %w", err)
	}
	if d.recorder != nil {
		d.recorder.RecordCodeIssued()
	}
	d.logger.InfoContext(ctx, "auth code issued", slog.String("telegram_id", id))

	return d.reply(ctx, in.chatID, codeText(code, d.codeTTL), siteKeyboard(d.siteURL))
}

func (d *Dispatcher) handleProfile(ctx context.Context, in incoming) error {
	a, err := d.accounts.FindByExternalID(ctx, externalID(in.from))
	if err != nil {
		if replyErr := d.reply(ctx, in.chatID, unavailableText(), nil); replyErr != nil {
			return errors.Join(err, replyErr)
		}
		return err
	}
	if a == nil {
		return d.reply(ctx, in.chatID, notSignedInText(), authKeyboard())
	}
	return d.reply(ctx, in.chatID, profileText(a), profileKeyboard(d.siteURL))
}

func (d *Dispatcher) handleRotate(ctx context.Context, in incoming) error {
	a, err := d.accounts.FindByExternalID(ctx, externalID(in.from))
	if err != nil {
		if replyErr := d.reply(ctx, in.chatID, unavailableText(), nil); replyErr != nil {
			return errors.Join(err, replyErr)
		}
		return err
	}
	if a == nil {
		return d.reply(ctx, in.chatID, notSignedInText(), authKeyboard())
	}

	credential, err := d.accounts.RotateCredential(ctx, a.ID)
	if err != nil {
		if replyErr := d.reply(ctx, in.chatID, unavailableText(), nil); replyErr != nil {
			return errors.Join(err, replyErr)
		}
		return err
	}
	return d.reply(ctx, in.chatID, rotatedText(credential), nil)
}

func (d *Dispatcher) reply(ctx context.Context, chatID int64, text string, markup *InlineKeyboardMarkup) error {
	return d.messenger.SendMessage(ctx, OutgoingMessage{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   "HTML",
		ReplyMarkup: markup,
	})
}
