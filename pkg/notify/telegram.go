// Package notify sends benchmark regression alerts to a Telegram chat,
// following the same bot-API wrapping agents/telegram-bot/main.go uses
// for its own outbound notifications: a single BotAPI client, HTML
// parse mode, edit-in-place by message ID when re-alerting the same
// regression.
package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram sends regression alerts to one configured chat.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram constructs a Telegram notifier from a bot token and
// destination chat ID.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notify: initializing telegram bot: %w", err)
	}
	bot.Debug = false
	return &Telegram{bot: bot, chatID: chatID}, nil
}

// RegressionAlert is the minimal content needed to render an alert
// message for a benchmark regression.
type RegressionAlert struct {
	Benchmark   string
	Metric      string
	BaselineCI  [2]float64
	CandidateCI [2]float64
	IssueURL    string
}

// SendRegression posts a new alert message, returning the message ID so
// a future update to the same regression can edit it in place rather
// than spamming a new message.
func (t *Telegram) SendRegression(alert RegressionAlert) (int, error) {
	text := formatAlert(alert)
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = false
	sent, err := t.bot.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("notify: sending regression alert: %w", err)
	}
	return sent.MessageID, nil
}

// UpdateRegression edits a previously sent alert message in place,
// falling back to a fresh send if the edit fails for any reason (for
// example, the message was deleted or is too old to edit).
func (t *Telegram) UpdateRegression(messageID int, alert RegressionAlert) (int, error) {
	text := formatAlert(alert)
	edit := tgbotapi.NewEditMessageText(t.chatID, messageID, text)
	edit.ParseMode = "HTML"
	if _, err := t.bot.Send(edit); err != nil {
		return t.SendRegression(alert)
	}
	return messageID, nil
}

func formatAlert(a RegressionAlert) string {
	text := fmt.Sprintf(
		"\U0001F6A8 <b>Benchmark regression</b>\nBenchmark: %s\nMetric: %s\nBaseline 95%% CI: [%.4f, %.4f]\nCandidate 95%% CI: [%.4f, %.4f]",
		a.Benchmark, a.Metric, a.BaselineCI[0], a.BaselineCI[1], a.CandidateCI[0], a.CandidateCI[1],
	)
	if a.IssueURL != "" {
		text += fmt.Sprintf("\n%s", a.IssueURL)
	}
	return text
}
