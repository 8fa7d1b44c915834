package main

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"mimir/capture"
	"mimir/config"
)

// TUI message types
type ReplyMsg struct {
	User   string
	Reply  string
	Failed bool
}
type SpeechTextMsg struct{ Text string }
type CaptureStateMsg struct{ State capture.State }
type WarningMsg struct{ On bool }
type StatusMsg struct{ Text string }
type statusExpireMsg struct{ seq int }

const statusLinger = 4 * time.Second

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
)

func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// tuiSink adapts the event sink onto the Bubble Tea program.
type tuiSink struct{}

func (tuiSink) Reply(user, reply string, failed bool) {
	tuiSend(ReplyMsg{User: user, Reply: reply, Failed: failed})
}
func (tuiSink) SpeechText(text string)            { tuiSend(SpeechTextMsg{Text: text}) }
func (tuiSink) CaptureState(state capture.State)  { tuiSend(CaptureStateMsg{State: state}) }
func (tuiSink) NoVoiceWarning(on bool)            { tuiSend(WarningMsg{On: on}) }
func (tuiSink) Status(text string)                { tuiSend(StatusMsg{Text: text}) }
func (tuiSink) Show()                             {} // terminal is already visible

func startTUI() {
	tuiMu.Lock()
	tuiProgram = tea.NewProgram(newTUIModel(), tea.WithAltScreen())
	tuiMu.Unlock()
	setSink(tuiSink{})

	go func() {
		if _, err := tuiProgram.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		}
		gracefulShutdown()
	}()
}

type tuiEntry struct {
	user   bool
	text   string
	failed bool
}

type tuiModel struct {
	entries []tuiEntry
	pending string // submitted user text awaiting its reply

	input  []rune
	cursor int

	state   capture.State
	warning bool

	status    string
	statusSeq int

	width, height int
}

var (
	userStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	replyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	recStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	transStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	cursorStyle  = lipgloss.NewStyle().Reverse(true)
)

func newTUIModel() tuiModel {
	return tuiModel{}
}

func (m tuiModel) Init() tea.Cmd {
	return nil
}

func (m tuiModel) expireStatus() tea.Cmd {
	seq := m.statusSeq
	return tea.Tick(statusLinger, func(time.Time) tea.Msg {
		return statusExpireMsg{seq: seq}
	})
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		return m.handleKey(msg)

	case ReplyMsg:
		m.pending = ""
		m.entries = append(m.entries, tuiEntry{user: true, text: msg.User})
		m.entries = append(m.entries, tuiEntry{text: msg.Reply, failed: msg.Failed})

	case SpeechTextMsg:
		m.insertAtCursor(msg.Text)

	case CaptureStateMsg:
		m.state = msg.State
		if msg.State != capture.Recording {
			m.warning = false
		}

	case WarningMsg:
		m.warning = msg.On

	case StatusMsg:
		m.status = msg.Text
		m.statusSeq++
		return m, m.expireStatus()

	case statusExpireMsg:
		// A newer status has its own timer; only the matching one clears.
		if msg.seq == m.statusSeq {
			m.status = ""
		}
	}
	return m, nil
}

func (m *tuiModel) insertAtCursor(text string) {
	runes := []rune(text)
	m.input = append(m.input[:m.cursor], append(runes, m.input[m.cursor:]...)...)
	m.cursor += len(runes)
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit

	case "ctrl+n":
		newChat()
		m.entries = nil
		m.pending = ""
		m.status = "New conversation"
		m.statusSeq++
		return m, m.expireStatus()

	case "ctrl+y":
		copyLastReply()

	case "enter":
		text := strings.TrimSpace(string(m.input))
		if text == "" {
			return m, nil
		}
		if submitChat(text) {
			m.pending = text
			m.input = nil
			m.cursor = 0
		}

	case "backspace":
		if m.cursor > 0 {
			m.input = append(m.input[:m.cursor-1], m.input[m.cursor:]...)
			m.cursor--
		}

	case "left":
		if m.cursor > 0 {
			m.cursor--
		}

	case "right":
		if m.cursor < len(m.input) {
			m.cursor++
		}

	case "home":
		m.cursor = 0

	case "end":
		m.cursor = len(m.input)

	case "space":
		m.insertAtCursor(" ")

	default:
		if msg.Type == tea.KeyRunes {
			m.insertAtCursor(string(msg.Runes))
		}
	}
	return m, nil
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	wrapWidth := m.width - 2
	if wrapWidth < 10 {
		wrapWidth = 10
	}

	// Conversation transcript, newest at the bottom.
	var lines []string
	for _, e := range m.entries {
		var prefix string
		var style lipgloss.Style
		switch {
		case e.user:
			prefix = "you"
			style = userStyle
		case e.failed:
			prefix = "mimir"
			style = failStyle
		default:
			prefix = "mimir"
			style = replyStyle
		}
		for i, l := range wrapText(e.text, wrapWidth-7) {
			if i == 0 {
				lines = append(lines, style.Render(fmt.Sprintf("%5s  %s", prefix, l)))
			} else {
				lines = append(lines, strings.Repeat(" ", 7)+style.Render(l))
			}
		}
		if !e.user {
			lines = append(lines, "")
		}
	}
	if m.pending != "" {
		for i, l := range wrapText(m.pending, wrapWidth-7) {
			if i == 0 {
				lines = append(lines, userStyle.Render("  you  ")+replyStyle.Render(l))
			} else {
				lines = append(lines, strings.Repeat(" ", 7)+replyStyle.Render(l))
			}
		}
		lines = append(lines, pendingStyle.Render("mimir  thinking..."))
	}

	transcriptH := m.height - 4
	if transcriptH < 1 {
		transcriptH = 1
	}
	if len(lines) > transcriptH {
		lines = lines[len(lines)-transcriptH:]
	}
	for len(lines) < transcriptH {
		lines = append(lines, "")
	}

	// Status line: capture phase, warning, transient notices.
	var statusParts []string
	switch m.state {
	case capture.Recording:
		statusParts = append(statusParts, recStyle.Render("● REC"))
		if m.warning {
			statusParts = append(statusParts, warnStyle.Render("⚠ no voice detected"))
		}
	case capture.Transcribing:
		statusParts = append(statusParts, transStyle.Render("◌ transcribing..."))
	}
	if m.status != "" {
		statusParts = append(statusParts, statusStyle.Render(m.status))
	}
	statusLine := strings.Join(statusParts, "  ")

	inputLine := promptStyle.Render("> ") + m.renderInput()

	helpLine := helpStyle.Render(fmt.Sprintf(
		"hold %s to speak | enter send | ctrl+n new chat | ctrl+y copy reply | ctrl+c quit",
		speechHotkeyLabel()))

	return strings.Join(lines, "\n") + "\n" +
		statusLine + "\n" +
		inputLine + "\n" +
		helpLine
}

func (m tuiModel) renderInput() string {
	if m.cursor >= len(m.input) {
		return string(m.input) + cursorStyle.Render(" ")
	}
	return string(m.input[:m.cursor]) +
		cursorStyle.Render(string(m.input[m.cursor])) +
		string(m.input[m.cursor+1:])
}

func speechHotkeyLabel() string {
	if cfg == nil {
		return "the speech key"
	}
	raw, err := cfg.GetString(config.KeySpeechHotkey)
	if err != nil {
		return "the speech key"
	}
	return raw
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for _, para := range strings.Split(text, "\n") {
		runes := []rune(para)
		for len(runes) > width {
			splitAt := width
			for i := width; i > 0; i-- {
				if runes[i] == ' ' {
					splitAt = i
					break
				}
			}
			lines = append(lines, string(runes[:splitAt]))
			runes = runes[splitAt:]
			for len(runes) > 0 && runes[0] == ' ' {
				runes = runes[1:]
			}
		}
		lines = append(lines, string(runes))
	}
	return lines
}
