package config

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/efebarandurmaz/chatrelay/internal/llm"
)

// Config holds all application configuration.
type Config struct {
	Telegram    TelegramConfig        `mapstructure:"telegram" yaml:"telegram"`
	Bot         BotConfig             `mapstructure:"bot" yaml:"bot"`
	Providers   ProvidersConfig       `mapstructure:"providers" yaml:"providers"`
	Image       ImageConfig           `mapstructure:"image" yaml:"image"`
	Defaults    ChatConfig            `mapstructure:"defaults" yaml:"defaults"`
	Chats       map[string]ChatConfig `mapstructure:"chats" yaml:"chats"`
	Translation TranslationConfig     `mapstructure:"translation" yaml:"translation"`
	Store       StoreConfig           `mapstructure:"store" yaml:"store"`
	Log         LogConfig             `mapstructure:"log" yaml:"log"`
	Tracing     TracingConfig         `mapstructure:"tracing" yaml:"tracing"`
	Health      HealthConfig          `mapstructure:"health" yaml:"health"`
	Secrets     SecretsConfig         `mapstructure:"secrets" yaml:"secrets"`

	state *chatState
}

type TelegramConfig struct {
	Token string `mapstructure:"token" yaml:"token"`
	// PollTimeout is the long-polling timeout in seconds.
	PollTimeout int  `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	Debug       bool `mapstructure:"debug" yaml:"debug"`

	// SendRate and SendBurst pace outgoing Bot API calls.
	SendRate  float64 `mapstructure:"send_rate" yaml:"send_rate"`
	SendBurst int     `mapstructure:"send_burst" yaml:"send_burst"`
}

type BotConfig struct {
	// Me is the token that addresses the bot in group chats, e.g. "@relay_bot".
	Me                 string  `mapstructure:"me" yaml:"me"`
	SilenceProbability float64 `mapstructure:"silence_probability" yaml:"silence_probability"`
}

type ProvidersConfig struct {
	OpenAI    ProviderConfig `mapstructure:"openai" yaml:"openai"`
	Anthropic ProviderConfig `mapstructure:"anthropic" yaml:"anthropic"`
	YandexGPT ProviderConfig `mapstructure:"yandexgpt" yaml:"yandexgpt"`
}

type ProviderConfig struct {
	APIKey   string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL  string        `mapstructure:"base_url" yaml:"base_url"`
	FolderID string        `mapstructure:"folder_id" yaml:"folder_id,omitempty"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type ImageConfig struct {
	// Mode selects the image backend: "dall-e" or "kandinsky".
	Mode      string          `mapstructure:"mode" yaml:"mode"`
	Kandinsky KandinskyConfig `mapstructure:"kandinsky" yaml:"kandinsky"`
}

type KandinskyConfig struct {
	APIKey       string        `mapstructure:"api_key" yaml:"api_key"`
	APISecret    string        `mapstructure:"api_secret" yaml:"api_secret"`
	BaseURL      string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	PollAttempts int           `mapstructure:"poll_attempts" yaml:"poll_attempts"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// ChatConfig is the per-chat setup. Unset fields fall back to Defaults.
type ChatConfig struct {
	Name     string `mapstructure:"name" yaml:"name,omitempty"`
	Provider string `mapstructure:"provider" yaml:"provider,omitempty"`
	Model    string `mapstructure:"model" yaml:"model,omitempty"`
	Prompt   string `mapstructure:"prompt" yaml:"prompt,omitempty"`
	// LockPrompt rejects /prompt overrides for the chat.
	LockPrompt bool `mapstructure:"lock_prompt" yaml:"lock_prompt,omitempty"`
}

type TranslationConfig struct {
	RU string `mapstructure:"ru" yaml:"ru"`
	EN string `mapstructure:"en" yaml:"en"`
}

type StoreConfig struct {
	// Backend is one of "redis", "sqlite" or "none".
	Backend    string `mapstructure:"backend" yaml:"backend"`
	RedisURL   string `mapstructure:"redis_url" yaml:"redis_url"`
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	KeyPrefix  string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"`
	Environment string  `mapstructure:"environment" yaml:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

type HealthConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// SecretsConfig points credential references at a Vault server. Credentials
// may be written as "env:NAME", "file:/path" or "vault:path#field".
type SecretsConfig struct {
	Vault VaultConfig `mapstructure:"vault" yaml:"vault"`
}

type VaultConfig struct {
	Address string        `mapstructure:"address" yaml:"address"`
	Token   string        `mapstructure:"token" yaml:"token"`
	Mount   string        `mapstructure:"mount" yaml:"mount"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// chatState is the parsed, mutable view of the chat table. Prompt overrides
// made through /prompt live here and are lost on restart.
type chatState struct {
	mu        sync.RWMutex
	chats     map[int64]ChatConfig
	overrides map[int64]string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.poll_timeout", 60)
	v.SetDefault("telegram.debug", false)
	v.SetDefault("telegram.send_rate", 20.0)
	v.SetDefault("telegram.send_burst", 5)

	v.SetDefault("bot.me", "")
	v.SetDefault("bot.silence_probability", 0.95)

	for _, kind := range []string{llm.KindOpenAI, llm.KindAnthropic, llm.KindYandexGPT} {
		v.SetDefault("providers."+kind+".api_key", "")
		v.SetDefault("providers."+kind+".base_url", "")
		v.SetDefault("providers."+kind+".timeout", llm.DefaultTimeout)
	}
	v.SetDefault("providers.yandexgpt.folder_id", "")

	v.SetDefault("image.mode", "dall-e")
	v.SetDefault("image.kandinsky.api_key", "")
	v.SetDefault("image.kandinsky.api_secret", "")
	v.SetDefault("image.kandinsky.base_url", "")
	v.SetDefault("image.kandinsky.timeout", 30*time.Second)
	v.SetDefault("image.kandinsky.poll_attempts", 10)
	v.SetDefault("image.kandinsky.poll_interval", 10*time.Second)

	v.SetDefault("defaults.provider", llm.KindOpenAI)
	v.SetDefault("defaults.model", "")
	v.SetDefault("defaults.prompt", "You are a helpful chat bot. Keep answers short.")

	v.SetDefault("translation.ru", "Translate the user's message into Russian. Reply with the translation only.")
	v.SetDefault("translation.en", "Translate the user's message into English. Reply with the translation only.")

	v.SetDefault("store.backend", "none")
	v.SetDefault("store.redis_url", "redis://localhost:6379/0")
	v.SetDefault("store.sqlite_path", "chatrelay.db")
	v.SetDefault("store.key_prefix", "chatrelay")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.sample_rate", 1.0)

	v.SetDefault("health.addr", ":8080")

	v.SetDefault("secrets.vault.address", "")
	v.SetDefault("secrets.vault.token", "")
	v.SetDefault("secrets.vault.mount", "secret")
	v.SetDefault("secrets.vault.timeout", 10*time.Second)
}

// Load reads configuration from file and environment. Environment variables
// use the CHATRELAY_ prefix with dots replaced by underscores, e.g.
// CHATRELAY_TELEGRAM_TOKEN. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CHATRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	cfg.init()

	for _, warning := range cfg.Validate() {
		slog.Warn("config", "warning", warning)
	}

	return &cfg, nil
}

// init parses chat ids. Keys that are not integers are skipped and reported
// by Validate.
func (c *Config) init() {
	st := &chatState{
		chats:     make(map[int64]ChatConfig, len(c.Chats)),
		overrides: make(map[int64]string),
	}
	for key, chat := range c.Chats {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		st.chats[id] = chat
	}
	c.state = st
}

func (c *Config) chats() *chatState {
	if c.state == nil {
		c.init()
	}
	return c.state
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if c.Telegram.Token == "" {
		warnings = append(warnings, "telegram.token is empty; only offline commands will work")
	}

	if c.Bot.SilenceProbability < 0 || c.Bot.SilenceProbability > 1 {
		warnings = append(warnings, fmt.Sprintf("bot.silence_probability %.2f is outside [0, 1]", c.Bot.SilenceProbability))
	}

	keys := map[string]string{
		llm.KindOpenAI:    c.Providers.OpenAI.APIKey,
		llm.KindAnthropic: c.Providers.Anthropic.APIKey,
		llm.KindYandexGPT: c.Providers.YandexGPT.APIKey,
	}
	for _, kind := range c.UsedProviders() {
		key, known := keys[kind]
		switch {
		case !known:
			warnings = append(warnings, fmt.Sprintf("provider '%s' is not supported", kind))
		case key == "":
			warnings = append(warnings, fmt.Sprintf("provider '%s' is used but api_key is empty", kind))
		}
	}
	if c.Providers.YandexGPT.APIKey != "" && c.Providers.YandexGPT.FolderID == "" {
		warnings = append(warnings, "providers.yandexgpt.folder_id is empty")
	}

	for key := range c.Chats {
		if _, err := strconv.ParseInt(key, 10, 64); err != nil {
			warnings = append(warnings, fmt.Sprintf("chat key '%s' is not a numeric chat id and is ignored", key))
		}
	}

	switch c.Image.Mode {
	case "dall-e":
		if c.Providers.OpenAI.APIKey == "" {
			warnings = append(warnings, "image.mode is dall-e but providers.openai.api_key is empty")
		}
	case "kandinsky":
		if c.Image.Kandinsky.APIKey == "" || c.Image.Kandinsky.APISecret == "" {
			warnings = append(warnings, "image.mode is kandinsky but api_key or api_secret is empty")
		}
	default:
		warnings = append(warnings, fmt.Sprintf("image.mode '%s' is not supported", c.Image.Mode))
	}
	if c.Image.Kandinsky.PollAttempts < 1 {
		warnings = append(warnings, fmt.Sprintf("image.kandinsky.poll_attempts %d is below 1", c.Image.Kandinsky.PollAttempts))
	}
	if c.Image.Kandinsky.Timeout <= 0 {
		warnings = append(warnings, "image.kandinsky.timeout is not positive; the 30s default applies")
	}
	if c.Image.Kandinsky.PollInterval < 0 {
		warnings = append(warnings, "image.kandinsky.poll_interval is negative")
	}

	switch c.Store.Backend {
	case "redis", "sqlite", "none", "":
	default:
		warnings = append(warnings, fmt.Sprintf("store.backend '%s' is not supported", c.Store.Backend))
	}

	return warnings
}

// UsedProviders lists the provider kinds referenced by the defaults and the
// chat table, without duplicates.
func (c *Config) UsedProviders() []string {
	seen := map[string]bool{}
	var out []string
	add := func(kind string) {
		if kind != "" && !seen[kind] {
			seen[kind] = true
			out = append(out, kind)
		}
	}
	add(c.Defaults.Provider)
	for _, chat := range c.Chats {
		add(chat.Provider)
	}
	return out
}

// ProviderConfigs returns factory configs for every provider with an API key.
func (c *Config) ProviderConfigs() []llm.ProviderConfig {
	var out []llm.ProviderConfig
	add := func(kind string, p ProviderConfig) {
		if p.APIKey == "" {
			return
		}
		out = append(out, llm.ProviderConfig{
			Kind:     kind,
			APIKey:   p.APIKey,
			BaseURL:  p.BaseURL,
			FolderID: p.FolderID,
			Timeout:  p.Timeout,
		})
	}
	add(llm.KindOpenAI, c.Providers.OpenAI)
	add(llm.KindAnthropic, c.Providers.Anthropic)
	add(llm.KindYandexGPT, c.Providers.YandexGPT)
	return out
}

func (c *Config) chat(chatID int64) (ChatConfig, bool) {
	st := c.chats()
	st.mu.RLock()
	defer st.mu.RUnlock()
	chat, ok := st.chats[chatID]
	return chat, ok
}

// FilterChatAllowed reports whether the bot serves chatID.
func (c *Config) FilterChatAllowed(chatID int64) bool {
	_, ok := c.chat(chatID)
	return ok
}

// ProviderForChat returns the provider kind configured for chatID.
func (c *Config) ProviderForChat(chatID int64) string {
	if chat, ok := c.chat(chatID); ok && chat.Provider != "" {
		return chat.Provider
	}
	return c.Defaults.Provider
}

// ModelForChat returns the model for chatID. An empty result lets the
// adapter pick its default, which happens when a chat switches provider
// without naming a model.
func (c *Config) ModelForChat(chatID int64) string {
	chat, ok := c.chat(chatID)
	if !ok {
		return c.Defaults.Model
	}
	if chat.Model != "" {
		return chat.Model
	}
	if chat.Provider != "" && chat.Provider != c.Defaults.Provider {
		return ""
	}
	return c.Defaults.Model
}

func (c *Config) promptForChat(chatID int64) string {
	st := c.chats()
	st.mu.RLock()
	override, overridden := st.overrides[chatID]
	chat := st.chats[chatID]
	st.mu.RUnlock()

	switch {
	case overridden:
		return override
	case chat.Prompt != "":
		return chat.Prompt
	default:
		return c.Defaults.Prompt
	}
}

// PromptMessageForUser returns the system entry that opens every transcript
// sent on behalf of chatID.
func (c *Config) PromptMessageForUser(chatID int64) llm.Message {
	return llm.Message{Role: llm.RoleSystem, Content: c.promptForChat(chatID)}
}

// OverridePromptForChat replaces the prompt of an allowed chat until restart.
// It refuses empty prompts, unknown chats and chats with a locked prompt.
func (c *Config) OverridePromptForChat(chatID int64, prompt string) bool {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return false
	}

	st := c.chats()
	st.mu.Lock()
	defer st.mu.Unlock()

	chat, ok := st.chats[chatID]
	if !ok || chat.LockPrompt {
		return false
	}
	st.overrides[chatID] = prompt
	return true
}

// FetchTranslationPromptMessage returns the system entry for the "ru" or
// "en" translation command.
func (c *Config) FetchTranslationPromptMessage(direction string) (llm.Message, bool) {
	var prompt string
	switch direction {
	case "ru":
		prompt = c.Translation.RU
	case "en":
		prompt = c.Translation.EN
	}
	if prompt == "" {
		return llm.Message{}, false
	}
	return llm.Message{Role: llm.RoleSystem, Content: prompt}, true
}

// RichInfo renders the chat setup as Telegram HTML.
func (c *Config) RichInfo(chatID int64) string {
	chat, _ := c.chat(chatID)
	model := c.ModelForChat(chatID)
	if model == "" {
		model = "default"
	}

	var b strings.Builder
	if chat.Name != "" {
		fmt.Fprintf(&b, "chat: <b>%s</b>\n", html.EscapeString(chat.Name))
	}
	fmt.Fprintf(&b, "provider: <code>%s</code>\n", html.EscapeString(c.ProviderForChat(chatID)))
	fmt.Fprintf(&b, "model: <code>%s</code>\n", html.EscapeString(model))
	fmt.Fprintf(&b, "prompt: <code>%s</code>", html.EscapeString(c.promptForChat(chatID)))
	return b.String()
}

// SecretResolver turns a credential reference into its value. Plain values
// are returned unchanged.
type SecretResolver interface {
	Resolve(ctx context.Context, value string) (string, error)
}

// ResolveSecrets replaces every credential reference in place.
func (c *Config) ResolveSecrets(ctx context.Context, r SecretResolver) error {
	fields := []struct {
		name string
		ptr  *string
	}{
		{"telegram.token", &c.Telegram.Token},
		{"providers.openai.api_key", &c.Providers.OpenAI.APIKey},
		{"providers.anthropic.api_key", &c.Providers.Anthropic.APIKey},
		{"providers.yandexgpt.api_key", &c.Providers.YandexGPT.APIKey},
		{"image.kandinsky.api_key", &c.Image.Kandinsky.APIKey},
		{"image.kandinsky.api_secret", &c.Image.Kandinsky.APISecret},
		{"store.redis_url", &c.Store.RedisURL},
	}
	for _, f := range fields {
		val, err := r.Resolve(ctx, *f.ptr)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", f.name, err)
		}
		*f.ptr = val
	}
	return nil
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() Config {
	out := *c
	out.state = nil
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	out.Telegram.Token = mask(c.Telegram.Token)
	out.Providers.OpenAI.APIKey = mask(c.Providers.OpenAI.APIKey)
	out.Providers.Anthropic.APIKey = mask(c.Providers.Anthropic.APIKey)
	out.Providers.YandexGPT.APIKey = mask(c.Providers.YandexGPT.APIKey)
	out.Image.Kandinsky.APIKey = mask(c.Image.Kandinsky.APIKey)
	out.Image.Kandinsky.APISecret = mask(c.Image.Kandinsky.APISecret)
	out.Secrets.Vault.Token = mask(c.Secrets.Vault.Token)
	out.Store.RedisURL = redactURL(c.Store.RedisURL)
	return out
}

// redactURL masks the password in a connection URL. Unparseable values are
// masked whole.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}
