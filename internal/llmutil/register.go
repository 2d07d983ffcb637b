package llmutil

import (
	"github.com/efebarandurmaz/chatrelay/internal/llm"
	"github.com/efebarandurmaz/chatrelay/internal/llm/anthropic"
	"github.com/efebarandurmaz/chatrelay/internal/llm/openai"
	"github.com/efebarandurmaz/chatrelay/internal/llm/yandexgpt"
)

// RegisterDefaultProviders registers the built-in provider constructors
// (openai, anthropic, yandexgpt) into factory. Both the serve and ask
// commands call this so the registry stays identical across entry points.
func RegisterDefaultProviders(factory *llm.ProviderFactory) {
	factory.Register(llm.KindOpenAI, func(c llm.ProviderConfig) (llm.Provider, error) {
		return openai.New(c.APIKey, c.BaseURL, c.TimeoutOrDefault()), nil
	})
	factory.Register(llm.KindAnthropic, func(c llm.ProviderConfig) (llm.Provider, error) {
		return anthropic.New(c.APIKey, c.BaseURL, c.TimeoutOrDefault()), nil
	})
	factory.Register(llm.KindYandexGPT, func(c llm.ProviderConfig) (llm.Provider, error) {
		return yandexgpt.New(c.APIKey, c.FolderID, c.BaseURL, c.TimeoutOrDefault()), nil
	})
}

// DefaultFactory returns a factory with the built-in providers registered.
func DefaultFactory() *llm.ProviderFactory {
	f := llm.NewFactory()
	RegisterDefaultProviders(f)
	return f
}
