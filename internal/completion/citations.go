package completion

import (
	"strings"

	"pagechat/internal/chat"
)

// snippetRadius is how many runes of surrounding context a citation
// snippet keeps on each side of the cited span.
const snippetRadius = 60

// citationSources turns url-citation annotations into sources, slicing the
// snippet out of the text the annotation points into.
func citationSources(text string, annotations []urlAnnotation) []chat.Source {
	var sources []chat.Source
	for _, ann := range annotations {
		if ann.Type != "url_citation" || ann.URL == "" {
			continue
		}
		sources = append(sources, chat.Source{
			URL:     ann.URL,
			Title:   ann.Title,
			Snippet: sliceAround(text, ann.StartIndex, ann.EndIndex),
		})
	}
	return sources
}

// sliceAround returns text around [start, end), clamped to valid bounds and
// widened by snippetRadius runes on each side. Offsets reported by the
// service are character offsets, so the slice is rune-based.
func sliceAround(text string, start, end int) string {
	runes := []rune(text)
	if len(runes) == 0 {
		return ""
	}
	if start < 0 {
		start = 0
	}
	if end < start {
		end = start
	}
	if start > len(runes) {
		start = len(runes)
	}
	if end > len(runes) {
		end = len(runes)
	}
	from := start - snippetRadius
	if from < 0 {
		from = 0
	}
	to := end + snippetRadius
	if to > len(runes) {
		to = len(runes)
	}
	return strings.TrimSpace(string(runes[from:to]))
}

// dedupeSources keeps the first source seen for each URL.
func dedupeSources(sources []chat.Source) []chat.Source {
	if len(sources) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(sources))
	out := make([]chat.Source, 0, len(sources))
	for _, src := range sources {
		if src.URL == "" || seen[src.URL] {
			continue
		}
		seen[src.URL] = true
		out = append(out, src)
	}
	return out
}
