package session

import (
	"fmt"
	"net/url"
	"strings"
)

// Persisted record keys. The detail record carries everything but the
// message history; history lives under its own composite key so older
// writers that used the tab-scoped layout can still be read.
const (
	indexKey      = "session_index"
	detailPrefix  = "session_"
	historyPrefix = "chat_history_"
)

func detailKey(pageLoadID string) string {
	return detailPrefix + pageLoadID
}

// historyKey is the canonical chat-history key: domain + pageLoadId.
func historyKey(domain, pageLoadID string) string {
	return fmt.Sprintf("%s%s_%s", historyPrefix, domain, pageLoadID)
}

// legacyHistoryKey is the tab-scoped layout written by older surfaces.
// Read-only fallback; never written.
func legacyHistoryKey(tabID int, rawURL, pageLoadID string) string {
	return fmt.Sprintf("%s%d_%s_%s", historyPrefix, tabID, rawURL, pageLoadID)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Hostname()
}
