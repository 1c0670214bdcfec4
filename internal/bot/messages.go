package bot

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/neurocode/neurocode/internal/account"
	"github.com/neurocode/neurocode/internal/model"
)

// メッセージ本文はすべてparse_mode=HTMLで送信する。
// ユーザー由来の文字列は必ずhtml.EscapeStringを通す。

func startText(name string, a *model.Account, freeLimit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Welcome to <b>NeuroCode AI</b>, %s!\n\n", html.EscapeString(name))
	b.WriteString("NeuroCode AI is a coding assistant available on the web and through the API.\n\n")
	if a != nil {
		fmt.Fprintf(&b, "Plan: <b>%s</b>\nRequests today: %d / %d\n\n",
			strings.ToUpper(string(a.Plan)), a.UsageToday, a.UsageLimit)
		b.WriteString("Use /auth to get a sign-in code for the website, or /profile to see your API key.")
	} else {
		fmt.Fprintf(&b, "The free plan includes %d requests per day.\n\n", freeLimit)
		b.WriteString("Use /auth to get a sign-in code for the website.")
	}
	return b.String()
}

func codeText(code string, ttl time.Duration) string {
	return fmt.Sprintf(
		"Your sign-in code:\n\n<pre>%s</pre>\n\n"+
			"The code is valid for %s and can be used once.\n"+
			"Open the website, choose \"Sign in with Telegram\" and enter the code.",
		html.EscapeString(code), formatTTL(ttl),
	)
}

func formatTTL(ttl time.Duration) string {
	if ttl >= time.Minute && ttl%time.Minute == 0 {
		m := int(ttl / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
	return ttl.String()
}

func profileText(a *model.Account) string {
	var b strings.Builder
	b.WriteString("<b>Your profile</b>\n\n")
	fmt.Fprintf(&b, "Name: %s\n", html.EscapeString(a.DisplayName))
	fmt.Fprintf(&b, "Username: @%s\n", html.EscapeString(a.Handle))
	fmt.Fprintf(&b, "Plan: <b>%s</b>\n\n", strings.ToUpper(string(a.Plan)))
	fmt.Fprintf(&b, "Requests today: %d / %d\n", a.UsageToday, a.UsageLimit)
	fmt.Fprintf(&b, "Requests total: %d\n\n", a.UsageTotal)
	fmt.Fprintf(&b, "API key: <code>%s</code>", html.EscapeString(account.MaskCredential(a.Credential)))
	return b.String()
}

func rotatedText(credential string) string {
	return fmt.Sprintf(
		"Your API key has been regenerated.\n\nNew key: <code>%s</code>\n\n"+
			"The previous key no longer works. The full key is available in your profile on the website.",
		html.EscapeString(account.MaskCredential(credential)),
	)
}

func notSignedInText() string {
	return "You don't have an account yet. Use /auth to sign in to the website first."
}

func unavailableText() string {
	return "The service is temporarily unavailable. Please try again in a minute."
}

func helpText() string {
	return "<b>Commands</b>\n\n" +
		"/auth - get a one-time sign-in code\n" +
		"/profile - show your plan, usage and API key\n" +
		"/rotate - regenerate your API key\n" +
		"/help - show this message"
}

func startKeyboard(siteURL string, signedIn bool) *InlineKeyboardMarkup {
	second := InlineKeyboardButton{Text: "Get sign-in code", CallbackData: CallbackAuth}
	if signedIn {
		second = InlineKeyboardButton{Text: "Regenerate API key", CallbackData: CallbackRefreshKey}
	}
	rows := [][]InlineKeyboardButton{{second}}
	if siteURL != "" {
		base := strings.TrimRight(siteURL, "/")
		rows = [][]InlineKeyboardButton{
			{{Text: "Open NeuroCode AI", URL: base}},
			{second},
			{
				{Text: "API docs", URL: base + "/#api"},
				{Text: "Examples", URL: base + "/#examples"},
			},
		}
	}
	rows = append(rows, []InlineKeyboardButton{{Text: "Help", CallbackData: CallbackHelp}})
	return &InlineKeyboardMarkup{InlineKeyboard: rows}
}

func siteKeyboard(siteURL string) *InlineKeyboardMarkup {
	if siteURL == "" {
		return nil
	}
	return &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{
		{{Text: "Open website", URL: strings.TrimRight(siteURL, "/")}},
	}}
}

func authKeyboard() *InlineKeyboardMarkup {
	return &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{
		{{Text: "Get sign-in code", CallbackData: CallbackAuth}},
	}}
}

func profileKeyboard(siteURL string) *InlineKeyboardMarkup {
	rows := [][]InlineKeyboardButton{
		{{Text: "Regenerate API key", CallbackData: CallbackRefreshKey}},
	}
	if siteURL != "" {
		rows = append([][]InlineKeyboardButton{
			{{Text: "Open profile", URL: strings.TrimRight(siteURL, "/") + "/#profile"}},
		}, rows...)
	}
	return &InlineKeyboardMarkup{InlineKeyboard: rows}
}
