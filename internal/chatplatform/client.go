// Package chatplatform is the thin boundary to the out-of-scope chat
// transport: message send/edit with inline buttons, callback
// answering, and attachment download. The core never depends on a concrete
// bot SDK directly — only on the Client interface below — so the pipeline
// can be exercised against a fake in tests.
package chatplatform

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Button is one inline-keyboard button: visible Text plus the opaque
// CallbackData the platform echoes back on tap.
type Button struct {
	Text         string
	CallbackData string
}

// Keyboard is a grid of inline buttons, rendered row by row.
type Keyboard struct {
	Rows [][]Button
}

// Attachment describes an inbound photo or document upload. IsDocument is
// true when the user sent the file through the lossless document channel
// rather than the auto-compressed photo channel — it drives
// Job.PreserveEXIF.
type Attachment struct {
	FileID     string
	IsDocument bool
}

// Client is everything the core needs from the chat platform.
type Client interface {
	// SendMessage posts a new message with an optional inline keyboard and
	// returns the platform's message ID (captured as progress_msg_id).
	SendMessage(ctx context.Context, chatID int64, text string, kb *Keyboard) (messageID int64, err error)
	// EditMessage replaces the text/keyboard of an existing message in place.
	EditMessage(ctx context.Context, chatID, messageID int64, text string, kb *Keyboard) error
	// AnswerCallback acknowledges a callback-action tap, optionally showing a
	// transient toast.
	AnswerCallback(ctx context.Context, callbackID string, text string) error
	// Download fetches the raw bytes of an uploaded attachment by file ID.
	Download(ctx context.Context, fileID string) ([]byte, error)
}

// TelegramClient adapts tgbotapi.BotAPI to Client.
type TelegramClient struct {
	bot *tgbotapi.BotAPI
	hc  *http.Client
}

// NewTelegramClient wraps an already-authenticated bot handle.
func NewTelegramClient(bot *tgbotapi.BotAPI) *TelegramClient {
	return &TelegramClient{bot: bot, hc: &http.Client{}}
}

func toInlineKeyboard(kb *Keyboard) *tgbotapi.InlineKeyboardMarkup {
	if kb == nil || len(kb.Rows) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb.Rows))
	for _, row := range kb.Rows {
		btns := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			btns = append(btns, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.CallbackData))
		}
		rows = append(rows, btns)
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

// SendMessage implements Client.
func (c *TelegramClient) SendMessage(ctx context.Context, chatID int64, text string, kb *Keyboard) (int64, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if markup := toInlineKeyboard(kb); markup != nil {
		msg.ReplyMarkup = markup
	}
	sent, err := c.bot.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("chatplatform.SendMessage: %w", err)
	}
	return int64(sent.MessageID), nil
}

// EditMessage implements Client.
func (c *TelegramClient) EditMessage(ctx context.Context, chatID, messageID int64, text string, kb *Keyboard) error {
	edit := tgbotapi.NewEditMessageText(chatID, int(messageID), text)
	edit.ParseMode = tgbotapi.ModeHTML
	if markup := toInlineKeyboard(kb); markup != nil {
		edit.ReplyMarkup = markup
	}
	if _, err := c.bot.Send(edit); err != nil {
		return fmt.Errorf("chatplatform.EditMessage: %w", err)
	}
	return nil
}

// AnswerCallback implements Client.
func (c *TelegramClient) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	cfg := tgbotapi.NewCallback(callbackID, text)
	if _, err := c.bot.Request(cfg); err != nil {
		return fmt.Errorf("chatplatform.AnswerCallback: %w", err)
	}
	return nil
}

// Download implements Client.
func (c *TelegramClient) Download(ctx context.Context, fileID string) ([]byte, error) {
	file, err := c.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("chatplatform.Download: get file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Link(c.bot.Token), nil)
	if err != nil {
		return nil, fmt.Errorf("chatplatform.Download: build request: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chatplatform.Download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chatplatform.Download: status %d", resp.StatusCode)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return nil, fmt.Errorf("chatplatform.Download: read body: %w", err)
	}
	return buf.Bytes(), nil
}
