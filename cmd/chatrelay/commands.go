package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/efebarandurmaz/chatrelay/internal/config"
	"github.com/efebarandurmaz/chatrelay/internal/gateway"
	"github.com/efebarandurmaz/chatrelay/internal/llm"
	"github.com/efebarandurmaz/chatrelay/internal/llmutil"
	"github.com/efebarandurmaz/chatrelay/internal/report"
	"github.com/efebarandurmaz/chatrelay/internal/store"
)

// askSettings pins the provider and model chosen on the command line.
type askSettings struct {
	*config.Config
	provider string
	model    string
}

func (s askSettings) ProviderForChat(chatID int64) string {
	if s.provider != "" {
		return s.provider
	}
	return s.Config.ProviderForChat(chatID)
}

func (s askSettings) ModelForChat(chatID int64) string {
	if s.model != "" {
		return s.model
	}
	if s.provider != "" {
		return ""
	}
	return s.Config.ModelForChat(chatID)
}

func newSpinner(msg string) *spinner.Spinner {
	s := spinner.New(spinner.CharSets[14], 80*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = "  " + msg
	s.Color("cyan")
	return s
}

func runAsk(cmd *cobra.Command, configPath string, chatID int64, provider, model string, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(ctx, configPath)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	providers, err := llmutil.DefaultFactory().CreateAll(cfg.ProviderConfigs())
	if err != nil {
		return fmt.Errorf("creating LLM providers: %w", err)
	}
	gw := gateway.New(providers, askSettings{Config: cfg, provider: provider, model: model},
		gateway.WithLogger(newLogger(cmd.ErrOrStderr(), cfg.Log)))

	transcript := []llm.Message{
		cfg.PromptMessageForUser(chatID),
		{Role: llm.RoleUser, Content: strings.Join(args, " ")},
	}

	sp := newSpinner("Thinking...")
	sp.Start()
	res := gw.Generate(ctx, chatID, transcript)
	sp.Stop()

	out := cmd.OutOrStdout()
	dim := color.New(color.FgHiBlack)
	if !res.Success {
		color.New(color.FgYellow).Fprintf(out, "\n  %s\n\n", res.Text)
		return fmt.Errorf("generation failed: %s", res.Failure)
	}

	dim.Fprintf(out, "\n  %s · %s\n\n", res.Provider, orDefault(res.Model))
	fmt.Fprintf(out, "%s\n\n", res.Text)
	return nil
}

func orDefault(model string) string {
	if model == "" {
		return "default model"
	}
	return model
}

func runProviders(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(cmd.Context(), configPath)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	configured := map[string]bool{}
	for _, pc := range cfg.ProviderConfigs() {
		configured[pc.Kind] = true
	}
	used := map[string]bool{}
	for _, kind := range cfg.UsedProviders() {
		used[kind] = true
	}

	kinds := make([]string, 0, len(llm.KnownProviders))
	for kind := range llm.KnownProviders {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	out := cmd.OutOrStdout()
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	dim := color.New(color.FgHiBlack)

	cyan.Fprintf(out, "\n  LLM providers\n\n")
	for _, kind := range kinds {
		fmt.Fprintf(out, "  %-10s ", kind)
		if configured[kind] {
			green.Fprint(out, "✓ configured")
		} else {
			dim.Fprint(out, "- no api key")
		}
		if used[kind] {
			fmt.Fprint(out, "  (in use)")
		}
		dim.Fprintf(out, "  %s\n", llm.KnownProviders[kind])
	}
	fmt.Fprintln(out)
	dim.Fprintln(out, "  Configure via chatrelay.yaml or environment, e.g. CHATRELAY_PROVIDERS_OPENAI_API_KEY=sk-...")
	fmt.Fprintln(out)
	return nil
}

func runHistory(cmd *cobra.Command, configPath, chatArg string, limit int, raw bool) error {
	chatID, err := strconv.ParseInt(chatArg, 10, 64)
	if err != nil {
		return fmt.Errorf("chat id must be an integer: %w", err)
	}
	if limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", limit)
	}

	ctx := cmd.Context()
	cfg, err := loadConfig(ctx, configPath)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	key := store.Tag(cfg.Store.KeyPrefix, chatID)
	out := cmd.OutOrStdout()

	if raw {
		records, err := st.FetchRaw(ctx, key, limit)
		if err != nil {
			return fmt.Errorf("fetching %s: %w", key, err)
		}
		for _, r := range records {
			fmt.Fprintln(out, r)
		}
		return nil
	}

	msgs, err := st.FetchMessages(ctx, key, limit)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", key, err)
	}
	if len(msgs) == 0 {
		color.New(color.FgHiBlack).Fprintf(out, "  No messages logged for %s.\n", key)
		return nil
	}
	report.PrintHistory(out, msgs)
	return nil
}

func runStats(cmd *cobra.Command, configPath, pattern string, asJSON bool) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(ctx, configPath)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if pattern == "" {
		pattern = defaultPattern(cfg.Store.KeyPrefix)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.FetchStats(ctx, pattern)
	if err != nil {
		return fmt.Errorf("fetching stats: %w", err)
	}

	r := report.NewStats(st.Name(), pattern, stats)
	if asJSON {
		data, err := r.JSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	r.PrintSummary(cmd.OutOrStdout())
	return nil
}

func defaultPattern(prefix string) string {
	if prefix == "" {
		return "*"
	}
	return prefix + ":*"
}

func runConfig(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	data, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return fmt.Errorf("rendering config: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprint(out, string(data))

	if warnings := cfg.Validate(); len(warnings) > 0 {
		yellow := color.New(color.FgYellow)
		fmt.Fprintln(out)
		for _, w := range warnings {
			yellow.Fprintf(out, "# warning: %s\n", w)
		}
	}
	return nil
}
