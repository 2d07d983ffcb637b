// Package bot connects Telegram updates to the gating policy, the text and
// image gateways and the message store.
package bot

import (
	"context"
	"log/slog"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/efebarandurmaz/chatrelay/internal/gateway"
	"github.com/efebarandurmaz/chatrelay/internal/gating"
	"github.com/efebarandurmaz/chatrelay/internal/imagegen"
	"github.com/efebarandurmaz/chatrelay/internal/llm"
	"github.com/efebarandurmaz/chatrelay/internal/observability"
	"github.com/efebarandurmaz/chatrelay/internal/store"
)

// Sender is the subset of *tgbotapi.BotAPI the bot uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Settings is the per-chat configuration contract.
type Settings interface {
	FilterChatAllowed(chatID int64) bool
	PromptMessageForUser(chatID int64) llm.Message
	OverridePromptForChat(chatID int64, prompt string) bool
	FetchTranslationPromptMessage(direction string) (llm.Message, bool)
	RichInfo(chatID int64) string
}

// TextGenerator produces replies; *gateway.Gateway implements it.
type TextGenerator interface {
	Generate(ctx context.Context, chatID int64, transcript []llm.Message) gateway.Result
}

// ImageGenerator produces pictures; *imagegen.Gateway implements it.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt, mode string) imagegen.Result
}

// Decider gates free-text messages; *gating.Policy implements it.
type Decider interface {
	Decide(chatID int64, text string, transcript []llm.Message) gating.Decision
}

// Options wires a Bot.
type Options struct {
	API      Sender
	SelfID   int64
	Settings Settings
	Text     TextGenerator
	Images   ImageGenerator
	// ImageMode is passed to Images for /pic, "dall-e" or "kandinsky".
	ImageMode string
	Gate      Decider
	Store     store.Store
	// TagPrefix namespaces store keys, see store.Tag.
	TagPrefix string
	// Limiter paces outgoing Bot API calls. Nil disables pacing.
	Limiter *rate.Limiter
	Metrics *observability.RelayMetrics
	Logger  *slog.Logger
}

// Bot handles Telegram updates. Each update runs on its own goroutine;
// updates of the same chat are serialized.
type Bot struct {
	api       Sender
	selfID    int64
	settings  Settings
	text      TextGenerator
	images    ImageGenerator
	imageMode string
	gate      Decider
	store     store.Store
	tagPrefix string
	limiter   *rate.Limiter
	metrics   *observability.RelayMetrics
	logger    *slog.Logger

	locks chatLocks
	wg    sync.WaitGroup
}

// New creates a Bot from opts.
func New(opts Options) *Bot {
	b := &Bot{
		api:       opts.API,
		selfID:    opts.SelfID,
		settings:  opts.Settings,
		text:      opts.Text,
		images:    opts.Images,
		imageMode: opts.ImageMode,
		gate:      opts.Gate,
		store:     opts.Store,
		tagPrefix: opts.TagPrefix,
		limiter:   opts.Limiter,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
	if b.store == nil {
		b.store = store.Discard{}
	}
	if b.imageMode == "" {
		b.imageMode = imagegen.ModeDallE
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Run dispatches updates until ctx is cancelled or the channel closes, then
// waits for in-flight handlers.
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) {
	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.HandleUpdate(ctx, u)
			}()
		}
	}
}

// Wait blocks until every dispatched handler has returned.
func (b *Bot) Wait() {
	b.wg.Wait()
}

// HandleUpdate processes a single update synchronously.
func (b *Bot) HandleUpdate(ctx context.Context, u tgbotapi.Update) {
	msg := u.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID
	command := ""
	if msg.IsCommand() {
		command = msg.Command()
	}

	requestID := uuid.NewString()
	ctx, span := observability.StartUpdateSpan(ctx, requestID, chatID, command)
	defer span.End()

	log := b.logger.With("request_id", requestID, "chat_id", chatID)

	unlock := b.locks.lock(chatID)
	defer unlock()

	if b.metrics != nil {
		inflight := b.metrics.InflightChats()
		inflight.Inc()
		defer inflight.Dec()
	}

	b.save(ctx, log, msg)

	h := &handler{bot: b, log: log, msg: msg, chatID: chatID}
	kind := h.route(ctx, command)
	if b.metrics != nil {
		b.metrics.RecordUpdate(kind)
	}
}

func (b *Bot) save(ctx context.Context, log *slog.Logger, msg *tgbotapi.Message) {
	if msg.Text == "" {
		return
	}
	err := b.store.Save(ctx, store.Tag(b.tagPrefix, msg.Chat.ID), storedMessage(msg))
	if b.metrics != nil {
		b.metrics.RecordStoreWrite(b.store.Name(), err)
	}
	if err != nil {
		log.Warn("saving message failed", "backend", b.store.Name(), "error", err)
	}
}

// chatLocks hands out one mutex per chat and forgets it once no handler
// holds or waits for it.
type chatLocks struct {
	mu sync.Mutex
	m  map[int64]*chatLock
}

type chatLock struct {
	mu   sync.Mutex
	refs int
}

func (l *chatLocks) lock(chatID int64) (unlock func()) {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[int64]*chatLock)
	}
	cl, ok := l.m[chatID]
	if !ok {
		cl = &chatLock{}
		l.m[chatID] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.mu.Lock()
	return func() {
		cl.mu.Unlock()
		l.mu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(l.m, chatID)
		}
		l.mu.Unlock()
	}
}
