// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/blockcaptain/jackwatch/internal/models"
)

// Client sends MarkdownV2 messages into topic threads of a single group chat.
// Retry policy lives in the dispatcher; a Client.Send is exactly one API call.
type Client struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewClient creates a new Telegram client bound to one chat.
func NewClient(botToken, chatID string) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	return &Client{bot: bot, chatID: chatIDInt}, nil
}

// Send delivers one pre-escaped MarkdownV2 message to the given forum thread.
// A zero threadID posts to the chat's general topic. Errors the API reports
// as client mistakes (bad request, forbidden) wrap models.ErrRejected so the
// caller does not retry them.
func (c *Client) Send(ctx context.Context, threadID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", c.chatID)
	params.AddNonZero64("message_thread_id", threadID)
	params.AddNonEmpty("text", text)
	params.AddNonEmpty("parse_mode", "MarkdownV2")
	params.AddBool("disable_web_page_preview", true)

	if _, err := c.bot.MakeRequest("sendMessage", params); err != nil {
		if apiErr, ok := err.(*tgbotapi.Error); ok && apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != 429 {
			return fmt.Errorf("telegram rejected message (%d %s): %w", apiErr.Code, apiErr.Message, models.ErrRejected)
		}
		return fmt.Errorf("failed to send Telegram message: %w", err)
	}
	return nil
}
