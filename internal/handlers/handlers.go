package handlers

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/kirillgpt-bot-go/internal/services/ai"
)

// Sender is the part of the Bot API the handlers talk to. *tgbotapi.BotAPI satisfies it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Responder produces a persona reply to a user message
type Responder interface {
	Respond(ctx context.Context, userID int64, text string, chatID int64) string
}

// ImageResponder draws a picture for a description
type ImageResponder interface {
	Generate(ctx context.Context, userID int64, description string) (*ai.ImageResult, error)
}

// HistoryClearer forgets a user's conversation
type HistoryClearer interface {
	Clear(userID int64)
}

// Command is a slash command parsed from message text
type Command struct {
	Name string
	// Args is the text after the first whitespace; HasArgs is false when there was none
	Args    string
	HasArgs bool
}

// ParseCommand extracts a slash command from text. Telegram does not mark
// non-Latin commands such as /картинка as bot commands, so the text itself is
// parsed. Commands addressed to another bot (/start@other_bot) are ignored.
func ParseCommand(text, botUsername string) (Command, bool) {
	if !strings.HasPrefix(text, "/") {
		return Command{}, false
	}

	head, args, hasArgs := text, "", false
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		_, size := utf8.DecodeRuneInString(text[i:])
		head, args, hasArgs = text[:i], text[i+size:], true
	}

	name := head[1:]
	if at := strings.IndexByte(name, '@'); at >= 0 {
		if botUsername != "" && !strings.EqualFold(name[at+1:], botUsername) {
			return Command{}, false
		}
		name = name[:at]
	}
	if name == "" {
		return Command{}, false
	}

	return Command{Name: strings.ToLower(name), Args: args, HasArgs: hasArgs}, true
}

func replyTo(sender Sender, message *tgbotapi.Message, text string) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(message.Chat.ID, text)
	msg.ReplyToMessageID = message.MessageID
	return sender.Send(msg)
}

func chatType(chat *tgbotapi.Chat) string {
	switch {
	case chat == nil:
		return "unknown"
	case chat.IsPrivate():
		return "private"
	case chat.IsGroup() || chat.IsSuperGroup():
		return "group"
	default:
		return chat.Type
	}
}
