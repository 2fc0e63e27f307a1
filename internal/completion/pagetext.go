package completion

import (
	"strings"
	"sync"

	"pagechat/internal/chat"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

const pageContentHeader = "\n\n---\nContent of the current page:\n"

// pageTokenBudget bounds how much scraped page text is attached to a turn,
// so the request payload stays flat as the page grows.
const pageTokenBudget = 4096

// tokenClipper 用 tiktoken 截断页面文本，初始化失败时回退到字符启发式
// tokenClipper truncates page text with tiktoken, falling back to a
// character heuristic when the encoding is unavailable (offline BPE cache).
type tokenClipper struct {
	encoder  *tiktoken.Tiktoken
	fallback bool
}

var (
	defaultClipper     *tokenClipper
	defaultClipperOnce sync.Once
)

func newTokenClipper() *tokenClipper {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &tokenClipper{fallback: true}
	}
	return &tokenClipper{encoder: enc}
}

func clipper() *tokenClipper {
	defaultClipperOnce.Do(func() {
		defaultClipper = newTokenClipper()
	})
	return defaultClipper
}

func (t *tokenClipper) clip(text string, budget int) string {
	if text == "" || budget <= 0 {
		return ""
	}
	if t.fallback {
		// ~4 chars per token for mostly-English page text.
		limit := budget * 4
		runes := []rune(text)
		if len(runes) <= limit {
			return text
		}
		return string(runes[:limit])
	}
	tokens := t.encoder.Encode(text, nil, nil)
	if len(tokens) <= budget {
		return text
	}
	return t.encoder.Decode(tokens[:budget])
}

// withPageContent returns a copy of messages where page text is appended to
// the content of only the most recent user message. Earlier turns are never
// touched, so history growth does not multiply the page payload.
func withPageContent(messages []chat.Message, page string) []chat.Message {
	page = strings.TrimSpace(page)
	if page == "" {
		return messages
	}
	out := make([]chat.Message, len(messages))
	copy(out, messages)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Role != chat.RoleUser {
			continue
		}
		out[i].Content = out[i].Content + pageContentHeader + clipper().clip(page, pageTokenBudget)
		break
	}
	return out
}
