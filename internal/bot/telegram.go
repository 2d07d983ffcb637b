package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/efebarandurmaz/chatrelay/internal/conversation"
	"github.com/efebarandurmaz/chatrelay/internal/llmutil"
	"github.com/efebarandurmaz/chatrelay/internal/store"
)

// toConversation converts a Telegram message and the reply chain it carries.
func toConversation(m *tgbotapi.Message) *conversation.Message {
	if m == nil {
		return nil
	}
	out := &conversation.Message{
		ID:      m.MessageID,
		Text:    m.Text,
		Caption: m.Caption,
		ReplyTo: toConversation(m.ReplyToMessage),
	}
	if m.From != nil {
		out.From = &conversation.Actor{ID: m.From.ID, IsBot: m.From.IsBot}
	}
	return out
}

func storedMessage(m *tgbotapi.Message) store.ChatMessage {
	out := store.ChatMessage{
		ChatName:  chatName(m.Chat),
		Timestamp: int64(m.Date),
		Text:      m.Text,
	}
	if m.From != nil {
		out.FromUsername = m.From.UserName
		out.FromFullName = strings.TrimSpace(m.From.FirstName + " " + m.From.LastName)
	}
	return out
}

func chatName(c *tgbotapi.Chat) string {
	if c.Title != "" {
		return c.Title
	}
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// sendText sends generated text, split to fit Telegram limits. Only the
// first chunk is threaded as a reply. Generated text is sent without a parse
// mode so stray markup cannot break delivery.
func (h *handler) sendText(ctx context.Context, text string, reply bool) {
	for i, chunk := range llmutil.SplitMessage(text, llmutil.MaxMessageLength) {
		m := tgbotapi.NewMessage(h.chatID, chunk)
		if reply && i == 0 {
			m.ReplyToMessageID = h.msg.MessageID
		}
		if !h.send(ctx, m) {
			return
		}
	}
}

// sendHTML sends text the bot composed itself, formatted as Telegram HTML.
func (h *handler) sendHTML(ctx context.Context, text string, reply bool) {
	m := tgbotapi.NewMessage(h.chatID, text)
	m.ParseMode = tgbotapi.ModeHTML
	if reply {
		m.ReplyToMessageID = h.msg.MessageID
	}
	h.send(ctx, m)
}

func (h *handler) action(ctx context.Context, action string) {
	if err := h.bot.pace(ctx); err != nil {
		return
	}
	if _, err := h.bot.api.Request(tgbotapi.NewChatAction(h.chatID, action)); err != nil {
		h.log.Debug("chat action failed", "action", action, "error", err)
	}
}

func (h *handler) send(ctx context.Context, c tgbotapi.Chattable) bool {
	if err := h.bot.pace(ctx); err != nil {
		h.log.Warn("send abandoned", "error", err)
		return false
	}
	if _, err := h.bot.api.Send(c); err != nil {
		h.log.Error("send failed", "error", err)
		return false
	}
	return true
}

func (b *Bot) pace(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	return b.limiter.Wait(ctx)
}
