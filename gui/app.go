//go:build gui

package gui

import (
	_ "embed"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/widget"
	"github.com/go-gl/glfw/v3.3/glfw"

	"mimir/capture"
)

//go:embed assets/tray.png
var trayIcon []byte

const statusLinger = 4 * time.Second

// Handlers are the application callbacks the window drives. They are wired
// after the orchestrator finishes starting up.
type Handlers struct {
	Submit        func(text string) bool
	NewChat       func()
	CopyLastReply func()
	SaveSettings  func(doc map[string]any) error
	Snapshot      func() map[string]any
	Quit          func()
}

// App is the Fyne conversation window plus system tray. Its event-sink
// methods may be called from any goroutine; they marshal via fyne.Do.
type App struct {
	fyneApp fyne.App
	window  fyne.Window
	onReady func()

	mu       sync.Mutex
	handlers Handlers

	conversation *fyne.Container
	scroll       *container.Scroll
	entry        *widget.Entry
	stateLabel   *widget.Label
	statusLabel  *widget.Label
	statusSeq    int

	pending *widget.Label // placeholder while a reply is generating
}

func NewApp(onReady func()) *App {
	return &App{onReady: onReady}
}

// SetHandlers attaches the application callbacks once the orchestrator is up.
func (a *App) SetHandlers(h Handlers) {
	a.mu.Lock()
	a.handlers = h
	a.mu.Unlock()
}

func (a *App) getHandlers() Handlers {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handlers
}

func Run(a *App) error {
	a.fyneApp = app.NewWithID("io.mimir.gui")
	a.fyneApp.Settings().SetTheme(&darkTheme{})

	a.window = a.fyneApp.NewWindow("Mimir")

	a.conversation = container.NewVBox()
	a.scroll = container.NewVScroll(a.conversation)

	a.entry = widget.NewEntry()
	a.entry.SetPlaceHolder("Ask anything, or hold the speech key...")
	a.entry.OnSubmitted = func(text string) {
		if h := a.getHandlers(); h.Submit != nil && h.Submit(text) {
			a.appendUser(text)
			a.entry.SetText("")
		}
	}

	a.stateLabel = widget.NewLabel("")
	a.statusLabel = widget.NewLabel("")
	sendBtn := widget.NewButton("Send", func() {
		a.entry.OnSubmitted(a.entry.Text)
	})

	bottom := container.NewVBox(
		container.NewBorder(nil, nil, nil, sendBtn, a.entry),
		container.NewHBox(a.stateLabel, a.statusLabel),
	)
	a.window.SetContent(container.NewBorder(nil, bottom, nil, nil, a.scroll))
	a.window.Resize(fyne.NewSize(520, 640))

	// Closing the window hides to the tray; Quit lives in the tray menu.
	a.window.SetCloseIntercept(func() {
		a.hideAndReset()
	})

	a.setupTray()
	a.window.Show()

	go a.onReady()

	a.fyneApp.Run()
	return nil
}

func (a *App) setupTray() {
	desk, ok := a.fyneApp.(desktop.App)
	if !ok {
		return
	}
	icon := fyne.NewStaticResource("tray.png", trayIcon)
	menu := fyne.NewMenu("Mimir",
		fyne.NewMenuItem("Show", func() { a.Show() }),
		fyne.NewMenuItem("Hide", func() { a.hideAndReset() }),
		fyne.NewMenuItemSeparator(),
		fyne.NewMenuItem("New chat", func() {
			if h := a.getHandlers(); h.NewChat != nil {
				h.NewChat()
			}
			a.clearConversation()
		}),
		fyne.NewMenuItem("Copy last reply", func() {
			if h := a.getHandlers(); h.CopyLastReply != nil {
				h.CopyLastReply()
			}
		}),
		fyne.NewMenuItem("Settings...", func() { a.showSettings() }),
		fyne.NewMenuItemSeparator(),
		fyne.NewMenuItem("Quit", func() {
			if h := a.getHandlers(); h.Quit != nil {
				h.Quit()
			}
			a.fyneApp.Quit()
		}),
	)
	desk.SetSystemTrayMenu(menu)
	desk.SetSystemTrayIcon(icon)
}

func (a *App) Quit() {
	if a.fyneApp != nil {
		fyne.Do(func() { a.fyneApp.Quit() })
	}
}

// Show raises the window above other windows and focuses the input.
func (a *App) Show() {
	fyne.Do(func() {
		if a.window == nil {
			return
		}
		a.window.Show()
		a.window.RequestFocus()
		if glfwWin := glfw.GetCurrentContext(); glfwWin != nil {
			glfwWin.SetAttrib(glfw.Floating, glfw.True)
		}
		a.window.Canvas().Focus(a.entry)
	})
}

func (a *App) Hide() {
	fyne.Do(func() {
		if a.window != nil {
			a.window.Hide()
		}
	})
}

// hideAndReset hides to the tray and discards the conversation, so the next
// Show starts a fresh session.
func (a *App) hideAndReset() {
	a.Hide()
	if h := a.getHandlers(); h.NewChat != nil {
		h.NewChat()
	}
	a.clearConversation()
}

func (a *App) clearConversation() {
	fyne.Do(func() {
		a.conversation.RemoveAll()
		a.pending = nil
		a.conversation.Refresh()
	})
}

// appendUser echoes accepted input and shows the thinking placeholder.
// Runs on the UI thread (called from widget callbacks).
func (a *App) appendUser(text string) {
	a.addMessage("You", text, false)
	a.pending = widget.NewLabel("thinking...")
	a.conversation.Add(a.pending)
	a.scroll.ScrollToBottom()
}

func (a *App) addMessage(who, text string, emphasis bool) {
	name := widget.NewLabelWithStyle(who, fyne.TextAlignLeading, fyne.TextStyle{Bold: true})
	body := widget.NewLabel(text)
	body.Wrapping = fyne.TextWrapWord
	if emphasis {
		body.Importance = widget.WarningImportance
	}
	a.conversation.Add(container.NewVBox(name, body))
}

// Event sink

func (a *App) Reply(user, reply string, failed bool) {
	fyne.Do(func() {
		if a.pending != nil {
			a.conversation.Remove(a.pending)
			a.pending = nil
		} else {
			// Submitted away from this window (no echo yet).
			a.addMessage("You", user, false)
		}
		a.addMessage("Mimir", reply, failed)
		a.scroll.ScrollToBottom()
	})
}

func (a *App) SpeechText(text string) {
	fyne.Do(func() {
		col := a.entry.CursorColumn
		runes := []rune(a.entry.Text)
		if col > len(runes) {
			col = len(runes)
		}
		inserted := append(runes[:col:col], append([]rune(text), runes[col:]...)...)
		a.entry.SetText(string(inserted))
		a.entry.CursorColumn = col + len([]rune(text))
		a.entry.Refresh()
	})
}

func (a *App) CaptureState(state capture.State) {
	fyne.Do(func() {
		switch state {
		case capture.Recording:
			a.stateLabel.SetText("● recording")
		case capture.Transcribing:
			a.stateLabel.SetText("◌ transcribing...")
		default:
			a.stateLabel.SetText("")
		}
	})
}

func (a *App) NoVoiceWarning(on bool) {
	fyne.Do(func() {
		if on {
			a.stateLabel.SetText("● recording (no voice detected)")
		} else if a.stateLabel.Text != "" {
			a.stateLabel.SetText("● recording")
		}
	})
}

func (a *App) Status(text string) {
	fyne.Do(func() {
		a.statusSeq++
		seq := a.statusSeq
		a.statusLabel.SetText(text)
		time.AfterFunc(statusLinger, func() {
			fyne.Do(func() {
				if a.statusSeq == seq {
					a.statusLabel.SetText("")
				}
			})
		})
	})
}
