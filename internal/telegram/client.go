// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/tickwatch/internal/logger"
	"github.com/rewired-gh/tickwatch/internal/models"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	api            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	c := newClient(bot, chatIDInt, maxRetries, retryDelayBase)
	c.bot = bot
	return c, nil
}

func newClient(api sender, chatID int64, maxRetries int, retryDelayBase time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		api:            api,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// status renders the reply to /status. It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context, status func() string) {
	if c.bot == nil {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message.Chat.ID, update.Message.Command(), status)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(chatID int64, command string, status func() string) {
	var text string
	switch command {
	case "ping":
		text = "Pong"
	case "status":
		if status == nil {
			return
		}
		text = status()
	default:
		return
	}
	if _, err := c.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		logger.Warn("Failed to reply to /%s: %v", command, err)
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.api.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if i == c.maxRetries-1 {
			break
		}
		select {
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		case <-ctx.Done():
			return fmt.Errorf("send cancelled: %w", ctx.Err())
		}
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// Notify sends a triggered alert.
func (c *Client) Notify(ctx context.Context, t models.TriggeredAlert) error {
	return c.sendMarkdownV2(ctx, formatAlert(t))
}

// SendFeedDown reports the first failure of a consecutive feed error sequence.
func (c *Client) SendFeedDown(ctx context.Context, address string) error {
	text := fmt.Sprintf("⚠️ *Feed connection lost*\n`%s`", escapeMarkdownV2(address))
	return c.sendMarkdownV2(ctx, text)
}

// SendFeedRecovered reports a reconnect after consecutive failures.
func (c *Client) SendFeedRecovered(ctx context.Context, failureCount int, since time.Time) error {
	text := fmt.Sprintf("✅ *Feed recovered* after %d consecutive failure\\(s\\), down since %s",
		failureCount, escapeMarkdownV2(humanize.Time(since)))
	return c.sendMarkdownV2(ctx, text)
}

// formatAlert formats a triggered alert into a Telegram MarkdownV2 message.
func formatAlert(t models.TriggeredAlert) string {
	var b strings.Builder
	b.WriteString("🚨 *Alert triggered*\n\n")
	fmt.Fprintf(&b, "📅 %s\n", escapeMarkdownV2(t.TriggeredAt.Format("2006-01-02 15:04:05")))
	fmt.Fprintf(&b, "*%s* \\= %s \\> %s\n",
		escapeMarkdownV2(string(t.Alert.Metric)),
		escapeMarkdownV2(humanize.FtoaWithDigits(t.Value, 4)),
		escapeMarkdownV2(humanize.FtoaWithDigits(t.Alert.Threshold, 4)),
	)
	fmt.Fprintf(&b, "alert `%s`, created %s", escapeMarkdownV2(t.Alert.ID), escapeMarkdownV2(humanize.Time(t.Alert.CreatedAt)))
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
