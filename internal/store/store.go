// Package store keeps a log of chat messages per chat. Each chat is a list
// keyed by a tag, newest message first.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendNone   = "none"
)

// Store is a message log.
type Store interface {
	// Save prepends msg to the list named tag.
	Save(ctx context.Context, tag string, msg ChatMessage) error
	// FetchMessages returns up to limit most recent messages, newest first.
	FetchMessages(ctx context.Context, key string, limit int) ([]ChatMessage, error)
	// FetchRaw is FetchMessages without decoding.
	FetchRaw(ctx context.Context, key string, limit int) ([]string, error)
	// FetchStats lists message lists whose key matches a glob pattern.
	FetchStats(ctx context.Context, pattern string) ([]KeyStat, error)
	Ping(ctx context.Context) error
	Close() error
	Name() string
}

// KeyStat is the length of one message list.
type KeyStat struct {
	Key    string `json:"key"`
	Length int64  `json:"length"`
}

// ChatMessage is one logged message.
type ChatMessage struct {
	ChatName     string `json:"chat_name"`
	FromUsername string `json:"from_username"`
	FromFullName string `json:"from_full_name"`
	Timestamp    int64  `json:"timestamp"`
	Text         string `json:"text"`
}

// Marshal encodes m as JSON with non-ASCII text and HTML characters kept
// verbatim.
func (m ChatMessage) Marshal() (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// Unmarshal decodes a stored message. The timestamp is accepted as an
// integer, a float or a numeric string and truncated to whole seconds.
func Unmarshal(data []byte) (ChatMessage, error) {
	var raw struct {
		ChatName     *string         `json:"chat_name"`
		FromUsername *string         `json:"from_username"`
		FromFullName *string         `json:"from_full_name"`
		Timestamp    json.RawMessage `json:"timestamp"`
		Text         *string         `json:"text"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return ChatMessage{}, fmt.Errorf("decode chat message: %w", err)
	}

	ts, err := coerceTimestamp(raw.Timestamp)
	if err != nil {
		return ChatMessage{}, err
	}

	return ChatMessage{
		ChatName:     deref(raw.ChatName),
		FromUsername: deref(raw.FromUsername),
		FromFullName: deref(raw.FromFullName),
		Timestamp:    ts,
		Text:         deref(raw.Text),
	}, nil
}

func coerceTimestamp(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}

	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("decode timestamp: %w", err)
		}
		s = strings.TrimSpace(s)
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("timestamp %s is not numeric", raw)
	}
	return int64(f), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Tag returns the list key for a chat.
func Tag(prefix string, chatID int64) string {
	id := strconv.FormatInt(chatID, 10)
	if prefix == "" {
		return id
	}
	return prefix + ":" + id
}

// Config selects and configures a backend.
type Config struct {
	Backend    string
	RedisURL   string
	SQLitePath string
}

// Open connects the configured backend and checks that it answers.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Backend {
	case BackendRedis:
		s, err = NewRedis(cfg.RedisURL)
	case BackendSQLite:
		s, err = NewSQLite(ctx, cfg.SQLitePath)
	case BackendNone, "":
		return Discard{}, nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if err := s.Ping(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("%s store unreachable: %w", cfg.Backend, err)
	}
	return s, nil
}

func decodeAll(raw []string) ([]ChatMessage, error) {
	out := make([]ChatMessage, 0, len(raw))
	for _, r := range raw {
		m, err := Unmarshal([]byte(r))
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Discard is a Store that keeps nothing.
type Discard struct{}

func (Discard) Save(context.Context, string, ChatMessage) error { return nil }

func (Discard) FetchMessages(context.Context, string, int) ([]ChatMessage, error) { return nil, nil }

func (Discard) FetchRaw(context.Context, string, int) ([]string, error) { return nil, nil }

func (Discard) FetchStats(context.Context, string) ([]KeyStat, error) { return nil, nil }

func (Discard) Ping(context.Context) error { return nil }

func (Discard) Close() error { return nil }

func (Discard) Name() string { return BackendNone }
