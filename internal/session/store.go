package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"pagechat/internal/chat"
	"pagechat/internal/kvstore"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotFound is returned by strict updates on a missing session. Plain
// reads report absence via their bool instead.
var ErrNotFound = errors.New("session not found")

// Store 会话持久层：会话记录 + 摘要索引的唯一写入路径
// Store is the single source of truth for session records and their
// summary index. The key-value layer underneath has no transactions, so
// the index is always rebuilt by a stateless sort rather than positional
// moves; concurrent writers can lose a touch but not corrupt ordering.
type Store struct {
	kv     kvstore.Store
	logger *zap.Logger

	// Serializes read-modify-write cycles within this process. Writers in
	// other surfaces race with last-write-wins semantics; one session is
	// assumed to be edited from one surface at a time.
	mu sync.Mutex

	now func() time.Time
}

func New(kv kvstore.Store, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{kv: kv, logger: logger, now: time.Now}
}

// Create mints a pageLoadId, writes the session record and prepends its
// summary to the index.
func (s *Store) Create(ctx context.Context, rawURL, title string, opts Options) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	sess := &Session{
		PageLoadID:            uuid.NewString(),
		URL:                   strings.TrimSpace(rawURL),
		Title:                 strings.TrimSpace(title),
		Messages:              []chat.Message{},
		Created:               now,
		LastUpdated:           now,
		ModelName:             opts.ModelName,
		Temperature:           opts.Temperature,
		IsWebSearchEnabled:    opts.IsWebSearchEnabled,
		IsPageScrapingEnabled: opts.IsPageScrapingEnabled,
	}
	if err := s.saveDetail(ctx, sess); err != nil {
		return nil, err
	}
	if err := s.reconcileSummary(ctx, sess); err != nil {
		return nil, err
	}
	s.logger.Debug("session created",
		zap.String("pageLoadId", sess.PageLoadID), zap.String("url", sess.URL))
	return sess, nil
}

// Get is a pure read: absence is (nil, false, nil), never an error. The
// history read probes the canonical key first and falls back to the legacy
// tab-scoped key; a legacy hit is rewritten under the canonical key.
func (s *Store) Get(ctx context.Context, pageLoadID string) (*Session, bool, error) {
	return s.get(ctx, pageLoadID)
}

func (s *Store) get(ctx context.Context, pageLoadID string) (*Session, bool, error) {
	sess, ok, err := s.loadDetail(ctx, pageLoadID)
	if err != nil || !ok {
		return nil, false, err
	}
	messages, err := s.loadHistory(ctx, sess.URL, pageLoadID)
	if err != nil {
		return nil, false, err
	}
	if messages != nil {
		sess.Messages = messages
	}
	if sess.Messages == nil {
		sess.Messages = []chat.Message{}
	}
	return sess, true, nil
}

// Update merges partial onto the existing record (shallow, last write wins
// per field) and bumps LastUpdated. By default a missing session is created
// from partial; with strict it returns ErrNotFound instead.
func (s *Store) Update(ctx context.Context, pageLoadID string, partial Partial, strict bool) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(ctx, pageLoadID, partial, strict)
}

func (s *Store) update(ctx context.Context, pageLoadID string, partial Partial, strict bool) (*Session, error) {
	sess, ok, err := s.get(ctx, pageLoadID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if strict {
			return nil, fmt.Errorf("update %s: %w", pageLoadID, ErrNotFound)
		}
		now := s.now().UTC()
		sess = &Session{PageLoadID: pageLoadID, Messages: []chat.Message{}, Created: now}
	}

	historyChanged := partial.Messages != nil
	partial.apply(sess)
	s.bump(sess)

	if err := s.saveDetail(ctx, sess); err != nil {
		return nil, err
	}
	if historyChanged {
		if err := s.saveHistory(ctx, sess); err != nil {
			return nil, err
		}
	}
	if err := s.reconcileSummary(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// AppendMessage appends msg to the session's history, then reconciles the
// summary index. History is append-only: interior entries are never
// reordered or dropped.
func (s *Store) AppendMessage(ctx context.Context, pageLoadID string, msg chat.Message) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now().UTC()
	}
	sess, ok, err := s.get(ctx, pageLoadID)
	if err != nil {
		return nil, err
	}
	var messages []chat.Message
	if ok {
		messages = sess.Messages
	}
	return s.update(ctx, pageLoadID, Partial{Messages: append(messages, msg)}, false)
}

// Delete removes the session record, its chat history (canonical and any
// legacy copies) and its summary entry together.
func (s *Store) Delete(ctx context.Context, pageLoadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok, err := s.loadDetail(ctx, pageLoadID)
	if err != nil {
		return err
	}
	if ok {
		if err := s.kv.Delete(ctx, historyKey(hostOf(sess.URL), pageLoadID)); err != nil {
			return err
		}
	}
	keys, err := s.kv.Keys(ctx, historyPrefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if strings.HasSuffix(key, "_"+pageLoadID) {
			if err := s.kv.Delete(ctx, key); err != nil {
				return err
			}
		}
	}
	if err := s.kv.Delete(ctx, detailKey(pageLoadID)); err != nil {
		return err
	}

	index, err := s.loadIndex(ctx)
	if err != nil {
		return err
	}
	kept := index[:0]
	for _, entry := range index {
		if entry.PageLoadID != pageLoadID {
			kept = append(kept, entry)
		}
	}
	return s.saveIndex(ctx, kept)
}

// List returns the summary index, newest first, optionally filtered to
// entries whose URL hostname contains domainFilter.
func (s *Store) List(ctx context.Context, domainFilter string) ([]Summary, error) {
	index, err := s.loadIndex(ctx)
	if err != nil {
		return nil, err
	}
	sortIndex(index)
	if strings.TrimSpace(domainFilter) == "" {
		return index, nil
	}
	filtered := make([]Summary, 0, len(index))
	for _, entry := range index {
		if strings.Contains(hostOf(entry.URL), domainFilter) {
			filtered = append(filtered, entry)
		}
	}
	return filtered, nil
}

// --- record helpers ---

func (s *Store) loadDetail(ctx context.Context, pageLoadID string) (*Session, bool, error) {
	data, ok, err := s.kv.Get(ctx, detailKey(pageLoadID))
	if err != nil || !ok {
		return nil, false, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, false, fmt.Errorf("parse session %s: %w", pageLoadID, err)
	}
	sess.Messages = nil
	return &sess, true, nil
}

func (s *Store) saveDetail(ctx context.Context, sess *Session) error {
	stripped := *sess
	stripped.Messages = nil
	data, err := json.Marshal(&stripped)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", sess.PageLoadID, err)
	}
	return s.kv.Set(ctx, detailKey(sess.PageLoadID), data)
}

func (s *Store) loadHistory(ctx context.Context, rawURL, pageLoadID string) ([]chat.Message, error) {
	canonical := historyKey(hostOf(rawURL), pageLoadID)
	data, ok, err := s.kv.Get(ctx, canonical)
	if err != nil {
		return nil, err
	}
	if ok {
		return decodeHistory(canonical, data)
	}

	// Legacy probe: any tab-scoped key ending in this pageLoadId.
	keys, err := s.kv.Keys(ctx, historyPrefix)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		if key == canonical || !strings.HasSuffix(key, "_"+pageLoadID) {
			continue
		}
		data, ok, err := s.kv.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		messages, err := decodeHistory(key, data)
		if err != nil {
			return nil, err
		}
		// Lazy migration: rewrite under the canonical key. A failed
		// rewrite only delays migration to the next read.
		if err := s.kv.Set(ctx, canonical, data); err != nil {
			s.logger.Warn("legacy history migration failed",
				zap.String("from", key), zap.String("to", canonical), zap.Error(err))
		} else {
			s.logger.Debug("legacy history migrated",
				zap.String("from", key), zap.String("to", canonical))
		}
		return messages, nil
	}
	return nil, nil
}

func (s *Store) saveHistory(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess.Messages)
	if err != nil {
		return fmt.Errorf("marshal history %s: %w", sess.PageLoadID, err)
	}
	return s.kv.Set(ctx, historyKey(hostOf(sess.URL), sess.PageLoadID), data)
}

func decodeHistory(key string, data []byte) ([]chat.Message, error) {
	var messages []chat.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("parse history %s: %w", key, err)
	}
	return messages, nil
}

// --- summary index ---

func (s *Store) loadIndex(ctx context.Context) ([]Summary, error) {
	data, ok, err := s.kv.Get(ctx, indexKey)
	if err != nil || !ok {
		return nil, err
	}
	var index []Summary
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parse session index: %w", err)
	}
	return index, nil
}

func (s *Store) saveIndex(ctx context.Context, index []Summary) error {
	sortIndex(index)
	data, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("marshal session index: %w", err)
	}
	return s.kv.Set(ctx, indexKey, data)
}

// reconcileSummary upserts the session's index entry, keeping exactly one
// entry per pageLoadId.
func (s *Store) reconcileSummary(ctx context.Context, sess *Session) error {
	index, err := s.loadIndex(ctx)
	if err != nil {
		return err
	}
	entry := Summary{
		PageLoadID:   sess.PageLoadID,
		URL:          sess.URL,
		Title:        sess.Title,
		Created:      sess.Created,
		LastUpdated:  sess.LastUpdated,
		MessageCount: len(sess.Messages),
	}
	replaced := false
	for i := range index {
		if index[i].PageLoadID == sess.PageLoadID {
			index[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		index = append([]Summary{entry}, index...)
	}
	return s.saveIndex(ctx, index)
}

func sortIndex(index []Summary) {
	sort.SliceStable(index, func(i, j int) bool {
		return index[i].LastUpdated.After(index[j].LastUpdated)
	})
}

// bump advances LastUpdated monotonically even under a coarse clock.
func (s *Store) bump(sess *Session) {
	now := s.now().UTC()
	if !now.After(sess.LastUpdated) {
		now = sess.LastUpdated.Add(time.Millisecond)
	}
	sess.LastUpdated = now
}
