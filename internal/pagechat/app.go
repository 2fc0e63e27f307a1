// Package pagechat 将各子系统装配为一个应用 / wires the subsystems into one
// application: sessions, completion, trigger evaluation and the surface
// registry, with all UI-facing state held explicitly on the App.
package pagechat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"pagechat/internal/chat"
	"pagechat/internal/completion"
	"pagechat/internal/envelope"
	"pagechat/internal/kvstore"
	"pagechat/internal/scheduler"
	"pagechat/internal/session"
	"pagechat/internal/trigger"

	"go.uber.org/zap"
)

const (
	draftPrefix      = "draft_"
	draftDebounce    = 2 * time.Second
	surfaceCheckWait = 2 * time.Second
)

// Tab identifies the page a surface is attached to.
type Tab struct {
	ID    int
	URL   string
	Title string
}

// PageContentProvider returns the readable text of a page. Implementations
// live with the embedding surface; the core never scrapes on its own.
type PageContentProvider interface {
	PageText(ctx context.Context, tabID int) (string, error)
}

// TabQuery resolves the currently focused tab.
type TabQuery interface {
	ActiveTab(ctx context.Context) (Tab, error)
}

// UIRenderer is the surface-side rendering contract.
type UIRenderer interface {
	RenderMessages(msgs []chat.Message)
	SetBusy(busy bool)
	ShowError(msg string)
}

// Completer is the slice of the completion client the app depends on.
type Completer interface {
	Send(ctx context.Context, req Request) (completion.Result, error)
}

// Request aliases the completion request so collaborators only import
// this package.
type Request = completion.Request

// Deps carries everything App needs; nil optional collaborators disable
// the corresponding behavior.
type Deps struct {
	Sessions  *session.Store
	Completer Completer
	Trigger   *trigger.Machine
	Scheduler *scheduler.Scheduler
	Registry  *envelope.Registry
	KV        kvstore.Store
	Pages     PageContentProvider
	Settings  SettingsStore
	Tabs      TabQuery
	Logger    *zap.Logger
}

// App owns the conversation flow end to end. All mutable UI-facing state
// lives on the struct behind one mutex; there are no package-level
// globals.
type App struct {
	sessions  *session.Store
	completer Completer
	trig      *trigger.Machine
	sched     *scheduler.Scheduler
	registry  *envelope.Registry
	kv        kvstore.Store
	pages     PageContentProvider
	settings  SettingsStore
	tabs      TabQuery
	logger    *zap.Logger

	mu           sync.Mutex
	sessionByTab map[int]string
	drafts       map[int]string
	busy         bool
	renderer     UIRenderer
}

func New(deps Deps) *App {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		sessions:     deps.Sessions,
		completer:    deps.Completer,
		trig:         deps.Trigger,
		sched:        deps.Scheduler,
		registry:     deps.Registry,
		kv:           deps.KV,
		pages:        deps.Pages,
		settings:     deps.Settings,
		tabs:         deps.Tabs,
		logger:       logger,
		sessionByTab: make(map[int]string),
		drafts:       make(map[int]string),
	}
}

// SetRenderer attaches the active surface renderer. May be nil when the
// app runs headless.
func (a *App) SetRenderer(r UIRenderer) {
	a.mu.Lock()
	a.renderer = r
	a.mu.Unlock()
}

// SessionFor returns the live session for a tab, creating one on first
// use or when the remembered one has been deleted underneath us.
func (a *App) SessionFor(ctx context.Context, tab Tab) (*session.Session, error) {
	a.mu.Lock()
	id := a.sessionByTab[tab.ID]
	a.mu.Unlock()

	if id != "" {
		sess, ok, err := a.sessions.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			return sess, nil
		}
		a.logger.Debug("remembered session gone, creating a new one",
			zap.Int("tabId", tab.ID), zap.String("pageLoadId", id))
	}

	st, err := a.currentSettings(ctx)
	if err != nil {
		return nil, err
	}
	sess, err := a.sessions.Create(ctx, tab.URL, tab.Title, session.Options{
		ModelName:             st.ModelName,
		Temperature:           st.Temperature,
		IsWebSearchEnabled:    st.WebSearchEnabled,
		IsPageScrapingEnabled: st.PageScrapingEnabled,
	})
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.sessionByTab[tab.ID] = sess.PageLoadID
	a.mu.Unlock()
	return sess, nil
}

// RunTurn runs one full chat turn: persist the user message, gather page
// text, call the completion service, persist the reply. A completion
// failure still produces a visible assistant message with the error flag
// set so the surface renders something instead of going silent; the
// error is returned alongside for banner display. ErrBusy is the one
// exception: the user message has already been persisted by then, but no
// assistant message is recorded and the caller keeps the input for retry.
func (a *App) RunTurn(ctx context.Context, tab Tab, input string) (chat.Message, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return chat.Message{}, completion.ErrEmptyMessages
	}

	st, err := a.currentSettings(ctx)
	if err != nil {
		return chat.Message{}, err
	}
	sess, err := a.SessionFor(ctx, tab)
	if err != nil {
		return chat.Message{}, err
	}

	a.setBusy(true)
	defer a.setBusy(false)

	sess, err = a.sessions.AppendMessage(ctx, sess.PageLoadID, chat.Message{
		Role:    chat.RoleUser,
		Content: input,
	})
	if err != nil {
		return chat.Message{}, err
	}

	var pageText string
	if st.PageScrapingEnabled && a.pages != nil {
		pageText, err = a.pages.PageText(ctx, tab.ID)
		if err != nil {
			// Scraping is best effort; the turn proceeds without the page.
			a.logger.Warn("page text unavailable", zap.Int("tabId", tab.ID), zap.Error(err))
			pageText = ""
		}
	}

	res, err := a.completer.Send(ctx, Request{
		Messages:    sess.Messages,
		PageContent: pageText,
		WebSearch:   st.WebSearchEnabled,
	})
	if err != nil {
		if errors.Is(err, completion.ErrBusy) {
			return chat.Message{}, err
		}
		reply := chat.Message{
			Role:     chat.RoleAssistant,
			Content:  userFacingError(err),
			Metadata: &chat.Metadata{Error: true},
		}
		if _, appendErr := a.sessions.AppendMessage(ctx, sess.PageLoadID, reply); appendErr != nil {
			a.logger.Error("persist error reply failed", zap.Error(appendErr))
		}
		a.showError(userFacingError(err))
		return reply, err
	}

	reply := chat.Message{
		Role:    chat.RoleAssistant,
		Content: res.Content,
	}
	if len(res.Metadata.Sources) > 0 || res.Metadata.WebSearchInProgress {
		md := res.Metadata
		reply.Metadata = &md
	}
	updated, err := a.sessions.AppendMessage(ctx, sess.PageLoadID, reply)
	if err != nil {
		return reply, err
	}

	a.clearDraft(tab.ID)
	a.renderMessages(updated.Messages)
	return reply, nil
}

// SetDraft remembers in-progress input immediately and persists it after
// a quiet period, so rapid typing costs one write instead of one per
// keystroke.
func (a *App) SetDraft(tabID int, text string) {
	a.mu.Lock()
	a.drafts[tabID] = text
	a.mu.Unlock()

	if a.sched == nil || a.kv == nil {
		return
	}
	a.sched.Schedule(draftTimerName(tabID), draftDebounce, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.kv.Set(ctx, draftPrefix+strconv.Itoa(tabID), []byte(text)); err != nil {
			a.logger.Warn("persist draft failed", zap.Int("tabId", tabID), zap.Error(err))
		}
	})
}

// Draft returns the latest draft for a tab, falling back to the
// persisted copy after a restart.
func (a *App) Draft(ctx context.Context, tabID int) (string, error) {
	a.mu.Lock()
	text, ok := a.drafts[tabID]
	a.mu.Unlock()
	if ok {
		return text, nil
	}
	if a.kv == nil {
		return "", nil
	}
	data, ok, err := a.kv.Get(ctx, draftPrefix+strconv.Itoa(tabID))
	if err != nil || !ok {
		return "", err
	}
	return string(data), nil
}

func (a *App) clearDraft(tabID int) {
	a.mu.Lock()
	delete(a.drafts, tabID)
	a.mu.Unlock()
	if a.sched != nil {
		a.sched.Cancel(draftTimerName(tabID))
	}
	if a.kv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.kv.Delete(ctx, draftPrefix+strconv.Itoa(tabID)); err != nil {
			a.logger.Warn("clear draft failed", zap.Int("tabId", tabID), zap.Error(err))
		}
	}
}

func draftTimerName(tabID int) string {
	return "draft_" + strconv.Itoa(tabID)
}

// SurfaceOpened registers the surface as the tab's active one, runs the
// trigger decision with the surface's own modifier observation fused
// against the relayed key state, and replays the pending command when
// the decision is execute. A periodic liveness check pings the surface
// so one that died without saying goodbye gets dropped from the
// registry.
func (a *App) SurfaceOpened(ctx context.Context, hello envelope.SurfaceHello, send envelope.Sender) error {
	if a.registry != nil {
		a.registry.Register(hello.TabID, hello.Surface, send)
		a.scheduleSurfaceCheck(hello.TabID, hello.Surface)
	}

	if a.trig == nil {
		return nil
	}
	st, err := a.currentSettings(ctx)
	if err != nil {
		return err
	}

	flow := a.trig.NewFlow(st.TriggerMode)
	flow.Report(trigger.ChannelPopup, hello.ModifierHeld)
	if _, err := flow.ReportFromKeyState(ctx, hello.TabID); err != nil {
		a.logger.Warn("key state unavailable", zap.Int("tabId", hello.TabID), zap.Error(err))
	}

	// Non-consuming pre-check against the frozen snapshot, then the
	// consuming decision. Both run so Finalize can still clear stale or
	// disabled-mode commands when the pre-check says no.
	replay, err := flow.Revalidate(ctx)
	if err != nil {
		return err
	}
	cmd, execute, err := flow.Finalize(ctx)
	if err != nil {
		return err
	}
	if clearErr := a.trig.ClearKeyState(ctx, hello.TabID); clearErr != nil {
		a.logger.Warn("clear key state failed", zap.Int("tabId", hello.TabID), zap.Error(clearErr))
	}
	if !replay || !execute || cmd == nil {
		return nil
	}

	tab := Tab{ID: hello.TabID, URL: hello.URL}
	if cmd.URL != "" {
		tab.URL = cmd.URL
	}
	a.logger.Info("replaying pending command", zap.Int("tabId", tab.ID))
	reply, err := a.RunTurn(ctx, tab, cmd.Text)
	if err != nil {
		a.logger.Warn("pending command replay failed", zap.Error(err))
	}
	if reply.Content != "" && a.registry != nil {
		a.pushReply(ctx, tab, reply)
	}
	return nil
}

// SurfaceClosed drops the surface and its timers.
func (a *App) SurfaceClosed(close envelope.SurfaceClose) {
	if a.registry != nil {
		a.registry.Unregister(close.TabID, close.Surface)
	}
	if a.sched != nil {
		a.sched.Cancel(surfaceCheckName(close.TabID))
	}
}

func (a *App) scheduleSurfaceCheck(tabID int, surface string) {
	if a.sched == nil {
		return
	}
	a.sched.Every(surfaceCheckName(tabID), surfaceCheckWait, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		st, err := a.currentSettings(ctx)
		if err != nil {
			return
		}
		found, sendErr := a.registry.Send(tabID, settingsPayload(st))
		if !found {
			a.sched.Cancel(surfaceCheckName(tabID))
			return
		}
		if sendErr != nil {
			a.logger.Debug("surface unresponsive, dropping",
				zap.Int("tabId", tabID), zap.Error(sendErr))
			a.registry.Unregister(tabID, surface)
			a.sched.Cancel(surfaceCheckName(tabID))
		}
	})
}

func surfaceCheckName(tabID int) string {
	return "surface_check_" + strconv.Itoa(tabID)
}

func (a *App) pushReply(ctx context.Context, tab Tab, reply chat.Message) {
	a.mu.Lock()
	id := a.sessionByTab[tab.ID]
	a.mu.Unlock()
	if _, err := a.registry.Send(tab.ID, envelope.AskResult{SessionID: id, Message: reply}); err != nil {
		a.logger.Warn("push reply failed", zap.Int("tabId", tab.ID), zap.Error(err))
	}
}

func (a *App) currentSettings(ctx context.Context) (Settings, error) {
	if a.settings == nil {
		return defaultSettings(), nil
	}
	return a.settings.Settings(ctx)
}

func (a *App) setBusy(busy bool) {
	a.mu.Lock()
	a.busy = busy
	r := a.renderer
	a.mu.Unlock()
	if r != nil {
		r.SetBusy(busy)
	}
}

// Busy reports whether a turn is currently in flight.
func (a *App) Busy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.busy
}

func (a *App) showError(msg string) {
	a.mu.Lock()
	r := a.renderer
	a.mu.Unlock()
	if r != nil {
		r.ShowError(msg)
	}
}

func (a *App) renderMessages(msgs []chat.Message) {
	a.mu.Lock()
	r := a.renderer
	a.mu.Unlock()
	if r != nil {
		r.RenderMessages(msgs)
	}
}

// userFacingError turns transport failures into a sentence a chat bubble
// can show.
func userFacingError(err error) string {
	var remote *completion.RemoteError
	switch {
	case errors.Is(err, completion.ErrMissingAPIKey):
		return "No API key is configured. Add one in settings to start chatting."
	case errors.As(err, &remote):
		return fmt.Sprintf("The completion service rejected the request (HTTP %d): %s", remote.Status, remote.Message)
	default:
		return "Something went wrong: " + err.Error()
	}
}
