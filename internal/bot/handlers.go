package bot

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/efebarandurmaz/chatrelay/internal/conversation"
	"github.com/efebarandurmaz/chatrelay/internal/gateway"
	"github.com/efebarandurmaz/chatrelay/internal/imagegen"
	"github.com/efebarandurmaz/chatrelay/internal/llm"
)

// Command names.
const (
	CommandBlerb  = "blerb"
	CommandPrompt = "prompt"
	CommandPic    = "pic"
	CommandRU     = "ru"
	CommandEN     = "en"

	kindText    = "text"
	kindIgnored = "ignored"
)

const (
	textPromptChanged  = "okie-dokie 👌 prompt изменён но нет никаких гарантий что это надолго"
	textPromptRejected = "nope 🙅"
	textPicUsage       = "/pic <что нарисовать>"

	picRefusalPrompt = "объясни трагикомичной шуткой почему %s не может сгенерировать картинку по запросу \"%s\""
)

// handler carries the state of one update.
type handler struct {
	bot    *Bot
	log    *slog.Logger
	msg    *tgbotapi.Message
	chatID int64
}

// route dispatches the update and returns the kind recorded in metrics.
func (h *handler) route(ctx context.Context, command string) string {
	if command == CommandBlerb {
		h.blerb(ctx)
		return command
	}

	if !h.bot.settings.FilterChatAllowed(h.chatID) {
		h.log.Debug("chat not allowed", "command", command)
		return kindIgnored
	}

	switch command {
	case CommandPrompt:
		h.prompt(ctx)
	case CommandPic:
		h.pic(ctx)
	case CommandRU, CommandEN:
		h.translate(ctx, command)
	default:
		h.freeText(ctx)
		return kindText
	}
	return command
}

func (h *handler) blerb(ctx context.Context) {
	h.log.Info("incoming blerb")
	h.sendHTML(ctx, fmt.Sprintf("chat id: <code>%d</code>", h.chatID), true)
}

func (h *handler) prompt(ctx context.Context) {
	args := strings.TrimSpace(h.msg.CommandArguments())
	if args == "" {
		h.sendHTML(ctx, h.bot.settings.RichInfo(h.chatID), true)
		return
	}

	if h.bot.settings.OverridePromptForChat(h.chatID, args) {
		h.log.Info("prompt overridden")
		h.sendText(ctx, textPromptChanged, false)
		return
	}
	h.sendText(ctx, textPromptRejected, false)
}

func (h *handler) pic(ctx context.Context) {
	prompt := strings.TrimSpace(h.msg.CommandArguments())
	if prompt == "" {
		h.sendText(ctx, textPicUsage, true)
		return
	}

	mode := h.bot.imageMode
	h.action(ctx, tgbotapi.ChatUploadPhoto)
	res := h.bot.images.Generate(ctx, prompt, mode)

	switch {
	case res.Success:
		h.sendPhoto(ctx, res, prompt, mode)
	case res.Failure == llm.FailureRejected:
		h.explainRefusal(ctx, prompt, mode)
	default:
		h.sendText(ctx, gateway.FailureText(res.Failure, mode), false)
	}
}

// explainRefusal asks the text model to joke about a refused image prompt.
func (h *handler) explainRefusal(ctx context.Context, prompt, mode string) {
	h.log.Info("image prompt rejected, asking for an explanation", "mode", mode)
	transcript := []llm.Message{
		h.bot.settings.PromptMessageForUser(h.chatID),
		{Role: llm.RoleUser, Content: fmt.Sprintf(picRefusalPrompt, backendName(mode), prompt)},
	}
	h.action(ctx, tgbotapi.ChatTyping)
	res := h.bot.text.Generate(ctx, h.chatID, transcript)
	h.sendText(ctx, res.Text, false)
}

func (h *handler) translate(ctx context.Context, direction string) {
	system, ok := h.bot.settings.FetchTranslationPromptMessage(direction)
	if !ok {
		h.log.Warn("no translation prompt", "direction", direction)
		return
	}

	text := strings.TrimSpace(h.msg.CommandArguments())
	if text == "" && h.msg.ReplyToMessage != nil {
		text = h.msg.ReplyToMessage.Text
	}
	if text == "" {
		return
	}

	transcript := []llm.Message{system, {Role: llm.RoleUser, Content: text}}
	h.action(ctx, tgbotapi.ChatTyping)
	res := h.bot.text.Generate(ctx, h.chatID, transcript)
	h.sendText(ctx, res.Text, res.Success)
}

func (h *handler) freeText(ctx context.Context) {
	if h.msg.Text == "" {
		return
	}

	chain := conversation.ExtractChain(toConversation(h.msg), h.bot.selfID)
	decision := h.bot.gate.Decide(h.chatID, h.msg.Text, chain)
	if h.bot.metrics != nil {
		h.bot.metrics.RecordGating(string(decision.Reason))
	}
	if !decision.Respond {
		h.log.Debug("staying quiet", "reason", decision.Reason, "chain", len(chain))
		return
	}

	transcript := make([]llm.Message, 0, len(chain)+1)
	transcript = append(transcript, h.bot.settings.PromptMessageForUser(h.chatID))
	transcript = append(transcript, chain...)

	h.action(ctx, tgbotapi.ChatTyping)
	res := h.bot.text.Generate(ctx, h.chatID, transcript)
	h.sendText(ctx, res.Text, res.Success)
}

func (h *handler) sendPhoto(ctx context.Context, res imagegen.Result, prompt, mode string) {
	var file tgbotapi.RequestFileData
	switch res.Encoding {
	case imagegen.EncodingBase64:
		data, err := base64.StdEncoding.DecodeString(res.ImageRef)
		if err != nil {
			h.log.Error("decoding image failed", "mode", mode, "error", err)
			h.sendText(ctx, gateway.TextUnavailable, false)
			return
		}
		file = tgbotapi.FileBytes{Name: mode + ".png", Bytes: data}
	default:
		file = tgbotapi.FileURL(res.ImageRef)
	}

	photo := tgbotapi.NewPhoto(h.chatID, file)
	photo.Caption = fmt.Sprintf("%s prompt: %s", backendName(mode), prompt)
	if res.Censored {
		photo.Caption += " 🙈"
	}
	h.action(ctx, tgbotapi.ChatUploadPhoto)
	h.send(ctx, photo)
}

func backendName(mode string) string {
	switch mode {
	case imagegen.ModeDallE:
		return "DALL-E"
	case imagegen.ModeKandinsky:
		return "Kandinsky"
	default:
		return mode
	}
}
