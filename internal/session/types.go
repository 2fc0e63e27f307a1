package session

import (
	"time"

	"pagechat/internal/chat"
)

// Session 会话记录，按 pageLoadId 索引
// Session is one conversation record, keyed by pageLoadId
type Session struct {
	PageLoadID            string         `json:"pageLoadId"`
	URL                   string         `json:"url"`
	Title                 string         `json:"title"`
	Messages              []chat.Message `json:"messages"`
	Created               time.Time      `json:"created"`
	LastUpdated           time.Time      `json:"lastUpdated"`
	ModelName             string         `json:"modelName,omitempty"`
	Temperature           float64        `json:"temperature,omitempty"`
	IsWebSearchEnabled    bool           `json:"isWebSearchEnabled"`
	IsPageScrapingEnabled bool           `json:"isPageScrapingEnabled"`
}

// Summary 轻量索引条目 / Summary is the lightweight index entry for a session.
type Summary struct {
	PageLoadID   string    `json:"pageLoadId"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	Created      time.Time `json:"created"`
	LastUpdated  time.Time `json:"lastUpdated"`
	MessageCount int       `json:"messageCount"`
}

// Options are the per-session completion settings captured at creation.
type Options struct {
	ModelName             string
	Temperature           float64
	IsWebSearchEnabled    bool
	IsPageScrapingEnabled bool
}

// Partial is a shallow per-field override for Update. Nil fields keep the
// existing value; last write wins per field.
type Partial struct {
	URL                   *string
	Title                 *string
	Messages              []chat.Message
	ModelName             *string
	Temperature           *float64
	IsWebSearchEnabled    *bool
	IsPageScrapingEnabled *bool
}

func (p Partial) apply(s *Session) {
	if p.URL != nil {
		s.URL = *p.URL
	}
	if p.Title != nil {
		s.Title = *p.Title
	}
	if p.Messages != nil {
		s.Messages = p.Messages
	}
	if p.ModelName != nil {
		s.ModelName = *p.ModelName
	}
	if p.Temperature != nil {
		s.Temperature = *p.Temperature
	}
	if p.IsWebSearchEnabled != nil {
		s.IsWebSearchEnabled = *p.IsWebSearchEnabled
	}
	if p.IsPageScrapingEnabled != nil {
		s.IsPageScrapingEnabled = *p.IsPageScrapingEnabled
	}
}
