// Package telegram adapts the Telegram Bot API to bot events and replies.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"doubtdesk/bot/internal/bot"
)

// api is the subset of *tgbotapi.BotAPI used here.
type api interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	HandleUpdate(r *http.Request) (*tgbotapi.Update, error)
}

type Client struct {
	api        api
	downloader *http.Client
}

// New validates the token with getMe and returns a client.
func New(token string) (*Client, error) {
	botAPI, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram: %w", err)
	}
	log.Printf("telegram: authorized as @%s", botAPI.Self.UserName)
	return newClient(botAPI), nil
}

func newClient(a api) *Client {
	return &Client{
		api:        a,
		downloader: &http.Client{Timeout: 60 * time.Second},
	}
}

// SetWebhook registers the public webhook URL and the command menu.
func (c *Client) SetWebhook(link string) error {
	wh, err := tgbotapi.NewWebhook(link)
	if err != nil {
		return fmt.Errorf("build webhook: %w", err)
	}
	wh.AllowedUpdates = []string{"message", "callback_query"}
	if _, err := c.api.Request(wh); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}

	commands := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "start", Description: "Log in or sign up"},
		tgbotapi.BotCommand{Command: "cancel", Description: "Cancel the current step"},
		tgbotapi.BotCommand{Command: "logout", Description: "Log out"},
	)
	if _, err := c.api.Request(commands); err != nil {
		log.Printf("telegram: set commands: %v", err)
	}
	return nil
}

// ParseRequest decodes a webhook request. ok is false for updates the bot
// ignores. Button presses are acknowledged so the client stops its spinner.
func (c *Client) ParseRequest(r *http.Request) (bot.Event, bool, error) {
	update, err := c.api.HandleUpdate(r)
	if err != nil {
		return bot.Event{}, false, fmt.Errorf("decode update: %w", err)
	}
	ev, callbackID, ok := Translate(*update)
	if callbackID != "" {
		if _, err := c.api.Request(tgbotapi.NewCallback(callbackID, "")); err != nil {
			log.Printf("telegram: answer callback %s: %v", callbackID, err)
		}
	}
	return ev, ok, nil
}

// Translate maps an update to a bot event. Only private chats are handled.
func Translate(update tgbotapi.Update) (bot.Event, string, bool) {
	if cb := update.CallbackQuery; cb != nil {
		if cb.From == nil {
			return bot.Event{}, cb.ID, false
		}
		ev := bot.Event{
			Identity: strconv.FormatInt(cb.From.ID, 10),
			Kind:     bot.EventButton,
			Payload:  cb.Data,
		}
		if cb.Message != nil {
			ev.MessageRef = cb.Message.MessageID
		}
		return ev, cb.ID, true
	}

	msg := update.Message
	if msg == nil || msg.From == nil {
		return bot.Event{}, "", false
	}
	if msg.Chat != nil && !msg.Chat.IsPrivate() {
		return bot.Event{}, "", false
	}

	ev := bot.Event{Identity: strconv.FormatInt(msg.From.ID, 10)}
	switch {
	case msg.IsCommand():
		ev.Kind = bot.EventCommand
		ev.Payload = msg.Command()
	case len(msg.Photo) > 0:
		ev.Kind = bot.EventPhoto
		ev.FileID = msg.Photo[len(msg.Photo)-1].FileID
		ev.Payload = msg.Caption
	default:
		ev.Kind = bot.EventText
		ev.Payload = msg.Text
	}
	return ev, "", true
}

// Deliver sends a reply, or edits the referenced message in place.
func (c *Client) Deliver(_ context.Context, reply bot.Reply) error {
	chatID, err := strconv.ParseInt(reply.Identity, 10, 64)
	if err != nil {
		return fmt.Errorf("parse chat id %q: %w", reply.Identity, err)
	}

	if reply.EditRef != 0 {
		var edit tgbotapi.EditMessageTextConfig
		if len(reply.Keyboard) > 0 {
			edit = tgbotapi.NewEditMessageTextAndMarkup(chatID, reply.EditRef, reply.Text, markup(reply.Keyboard))
		} else {
			edit = tgbotapi.NewEditMessageText(chatID, reply.EditRef, reply.Text)
		}
		if _, err := c.api.Request(edit); err != nil {
			return fmt.Errorf("edit message %d: %w", reply.EditRef, err)
		}
		return nil
	}

	msg := tgbotapi.NewMessage(chatID, reply.Text)
	if len(reply.Keyboard) > 0 {
		msg.ReplyMarkup = markup(reply.Keyboard)
	}
	if _, err := c.api.Send(msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// FetchPhoto downloads a photo by file id into w.
func (c *Client) FetchPhoto(ctx context.Context, fileID string, w io.Writer) error {
	link, err := c.api.GetFileDirectURL(fileID)
	if err != nil {
		return fmt.Errorf("resolve file %s: %w", fileID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	resp, err := c.downloader.Do(req)
	if err != nil {
		return fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download file: unexpected status %d", resp.StatusCode)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("copy file: %w", err)
	}
	return nil
}

func markup(keyboard bot.Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(keyboard))
	for _, row := range keyboard {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Token))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
