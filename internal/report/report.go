// Package report renders message store contents for the CLI.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/efebarandurmaz/chatrelay/internal/store"
)

// StatsReport summarizes the message lists held by a store.
type StatsReport struct {
	GeneratedAt   time.Time       `json:"generated_at"`
	Backend       string          `json:"backend"`
	Pattern       string          `json:"pattern"`
	Lists         []store.KeyStat `json:"lists"`
	TotalMessages int64           `json:"total_messages"`
}

// NewStats builds a report from store stats. Lists are ordered by length,
// longest first, then by key.
func NewStats(backend, pattern string, stats []store.KeyStat) *StatsReport {
	lists := append([]store.KeyStat(nil), stats...)
	sort.SliceStable(lists, func(i, j int) bool {
		if lists[i].Length != lists[j].Length {
			return lists[i].Length > lists[j].Length
		}
		return lists[i].Key < lists[j].Key
	})

	r := &StatsReport{
		GeneratedAt: time.Now().UTC(),
		Backend:     backend,
		Pattern:     pattern,
		Lists:       lists,
	}
	for _, l := range lists {
		r.TotalMessages += l.Length
	}
	return r
}

// Top returns at most n of the longest lists.
func (r *StatsReport) Top(n int) []store.KeyStat {
	if n < 0 || n > len(r.Lists) {
		n = len(r.Lists)
	}
	return r.Lists[:n]
}

// PrintSummary writes a human-readable summary.
func (r *StatsReport) PrintSummary(w io.Writer) {
	fmt.Fprintf(w, "\n╔══════════════════════════════════════╗\n")
	fmt.Fprintf(w, "║        CHATRELAY STORE REPORT        ║\n")
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ Backend:     %-23s║\n", r.Backend)
	fmt.Fprintf(w, "║ Pattern:     %-23s║\n", truncate(r.Pattern, 23))
	fmt.Fprintf(w, "║ Lists:       %-23d║\n", len(r.Lists))
	fmt.Fprintf(w, "║ Messages:    %-23d║\n", r.TotalMessages)
	if len(r.Lists) > 0 {
		fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
		fmt.Fprintf(w, "║ CHATS\n")
		for _, l := range r.Lists {
			fmt.Fprintf(w, "║   %-24s %8d  %s\n", l.Key, l.Length, share(l.Length, r.TotalMessages))
		}
	}
	fmt.Fprintf(w, "╚══════════════════════════════════════╝\n")
}

// JSON returns the report as formatted JSON.
func (r *StatsReport) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

func share(n, total int64) string {
	if total == 0 {
		return ""
	}
	return fmt.Sprintf("%.0f%%", float64(n)/float64(total)*100)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// PrintHistory writes messages oldest first, one per line. msgs is expected
// newest first, as returned by the store.
func PrintHistory(w io.Writer, msgs []store.ChatMessage) {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		ts := time.Unix(m.Timestamp, 0).UTC().Format("2006-01-02 15:04:05")
		text := strings.ReplaceAll(m.Text, "\n", " ")
		fmt.Fprintf(w, "[%s] %s: %s\n", ts, author(m), text)
	}
}

func author(m store.ChatMessage) string {
	switch {
	case m.FromUsername != "":
		return "@" + m.FromUsername
	case m.FromFullName != "":
		return m.FromFullName
	default:
		return "unknown"
	}
}
