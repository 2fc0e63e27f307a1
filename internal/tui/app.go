package tui

import (
	"context"
	"strings"
	"time"

	"pagechat/internal/chat"
	"pagechat/internal/pagechat"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const bannerTTL = 5 * time.Second

// Runner is the slice of the application the surface drives.
type Runner interface {
	RunTurn(ctx context.Context, tab pagechat.Tab, input string) (chat.Message, error)
	Draft(ctx context.Context, tabID int) (string, error)
	SetDraft(tabID int, text string)
}

// --- Tea Messages ---

// TurnDoneMsg 回合完成
// TurnDoneMsg indicates a turn is done
type TurnDoneMsg struct {
	Reply chat.Message
	Err   error
}

// MessagesMsg 替换整个对话内容
// MessagesMsg replaces the whole transcript
type MessagesMsg struct{ Msgs []chat.Message }

// BannerMsg 显示错误横幅
// BannerMsg shows the error banner
type BannerMsg struct{ Text string }

type bannerExpiredMsg struct{ seq int }

// Popup Bubble Tea 主 Model：单个页面的聊天弹层
// Popup is the main Bubble Tea model, the chat overlay for one page
type Popup struct {
	width  int
	height int

	view  viewport.Model
	input textarea.Model
	spin  spinner.Model

	messages  []chat.Message
	busy      bool
	banner    string
	bannerSeq int

	tab    pagechat.Tab
	runner Runner

	theme Theme
	keys  KeyMap
}

// NewPopup 创建弹层 / NewPopup creates the popup surface for one tab.
func NewPopup(runner Runner, tab pagechat.Tab) Popup {
	ta := textarea.New()
	ta.Placeholder = "Ask about this page…"
	ta.CharLimit = 8192
	ta.SetHeight(3)
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	p := Popup{
		input:  ta,
		spin:   sp,
		tab:    tab,
		runner: runner,
		theme:  DarkTheme(),
		keys:   DefaultKeyMap(),
	}

	// Restore any half-typed input from the last time the popup was open.
	if runner != nil {
		if draft, err := runner.Draft(context.Background(), tab.ID); err == nil && draft != "" {
			p.input.SetValue(draft)
		}
	}
	return p
}

func (p Popup) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, p.spin.Tick)
}

func (p Popup) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, p.keys.Quit):
			return p, tea.Quit
		case key.Matches(msg, p.keys.DismissBanner):
			p.banner = ""
			return p, nil
		case key.Matches(msg, p.keys.Submit):
			return p.submit()
		}

	case tea.WindowSizeMsg:
		p.width = msg.Width
		p.height = msg.Height
		p.relayout()
		return p, nil

	case TurnDoneMsg:
		p.busy = false
		p.input.Focus()
		if msg.Reply.Content != "" {
			p.messages = append(p.messages, msg.Reply)
			p.refreshView()
		}
		if msg.Err != nil {
			return p, p.showBanner(msg.Err.Error())
		}
		return p, nil

	case MessagesMsg:
		p.messages = msg.Msgs
		p.refreshView()
		return p, nil

	case BannerMsg:
		return p, p.showBanner(msg.Text)

	case bannerExpiredMsg:
		// A newer banner restarts the clock; only the matching expiry
		// clears it.
		if msg.seq == p.bannerSeq {
			p.banner = ""
		}
		return p, nil

	case spinner.TickMsg:
		if p.busy {
			var cmd tea.Cmd
			p.spin, cmd = p.spin.Update(msg)
			return p, cmd
		}
		return p, nil
	}

	if !p.busy {
		var cmd tea.Cmd
		before := p.input.Value()
		p.input, cmd = p.input.Update(msg)
		cmds = append(cmds, cmd)
		if p.runner != nil && p.input.Value() != before {
			p.runner.SetDraft(p.tab.ID, p.input.Value())
		}
	}

	var cmd tea.Cmd
	p.view, cmd = p.view.Update(msg)
	cmds = append(cmds, cmd)

	return p, tea.Batch(cmds...)
}

func (p Popup) submit() (tea.Model, tea.Cmd) {
	if p.busy {
		return p, nil
	}
	text := strings.TrimSpace(p.input.Value())
	if text == "" {
		return p, nil
	}

	p.input.Reset()
	p.input.Blur()
	p.busy = true

	// Optimistic echo so the user turn shows before the reply lands.
	p.messages = append(p.messages, chat.Message{Role: chat.RoleUser, Content: text})
	p.refreshView()

	runner, tab := p.runner, p.tab
	run := func() tea.Msg {
		reply, err := runner.RunTurn(context.Background(), tab, text)
		return TurnDoneMsg{Reply: reply, Err: err}
	}
	return p, tea.Batch(p.spin.Tick, run)
}

func (p *Popup) showBanner(text string) tea.Cmd {
	p.banner = text
	p.bannerSeq++
	seq := p.bannerSeq
	return tea.Tick(bannerTTL, func(time.Time) tea.Msg {
		return bannerExpiredMsg{seq: seq}
	})
}

func (p *Popup) relayout() {
	inputHeight := 5
	statusHeight := 1
	titleHeight := 1
	viewHeight := p.height - inputHeight - statusHeight - titleHeight
	if viewHeight < 3 {
		viewHeight = 3
	}

	p.view = viewport.New(p.width, viewHeight)
	p.input.SetWidth(p.width - 4)
	p.refreshView()
}

func (p *Popup) refreshView() {
	p.view.SetContent(RenderTranscript(p.messages, p.width, p.theme))
	p.view.GotoBottom()
}

func (p Popup) View() string {
	if p.width == 0 || p.height == 0 {
		return "Initializing..."
	}

	title := p.tab.Title
	if title == "" {
		title = p.tab.URL
	}
	header := p.theme.TitleStyle.Render(" pagechat ") + p.theme.MutedStyle.Render(title)

	sections := []string{header, p.view.View()}
	if p.banner != "" {
		sections = append(sections, p.theme.BannerStyle.Width(p.width).Render(p.banner))
	}
	sections = append(sections, p.theme.InputStyle.Width(p.width).Render(p.input.View()))
	sections = append(sections, p.renderStatusBar())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (p Popup) renderStatusBar() string {
	status := "ready · enter to send"
	if p.busy {
		status = p.spin.View() + " thinking…"
	}
	left := " " + status
	right := p.tab.URL + "  "

	gap := p.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}
	return p.theme.StatusBarStyle.Width(p.width).Render(left + strings.Repeat(" ", gap) + right)
}

// Run 启动 Bubble Tea 弹层 / Run starts the popup surface.
func Run(runner Runner, tab pagechat.Tab) error {
	program := tea.NewProgram(NewPopup(runner, tab), tea.WithAltScreen())
	_, err := program.Run()
	return err
}
