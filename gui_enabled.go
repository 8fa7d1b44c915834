//go:build gui

package main

import (
	"fmt"
	"os"
	"runtime"

	"mimir/audio"
	"mimir/gui"
)

var guiApp *gui.App

// Audio context initialized on the main thread for macOS Core Audio
// compatibility, before Fyne takes over the thread.
var guiAudioCtx audio.Context

func initGUI() {
	guiMode = true

	var err error
	guiAudioCtx, err = audio.NewContext()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: speech capture unavailable: %v\n", err)
		guiAudioCtx = nil
	}

	// Lock this goroutine to the OS thread for Fyne/GLFW
	runtime.LockOSThread()

	guiApp = gui.NewApp(func() {
		run()
	})
	setSink(guiApp)
	if err := gui.Run(guiApp); err != nil {
		if guiAudioCtx != nil {
			guiAudioCtx.Close()
		}
		panic(err)
	}
}

// attachGUIHandlers wires the window callbacks once run() has the pipeline up.
func attachGUIHandlers() {
	guiApp.SetHandlers(gui.Handlers{
		Submit:        submitChat,
		NewChat:       newChat,
		CopyLastReply: copyLastReply,
		SaveSettings:  saveSettings,
		Snapshot:      cfg.Snapshot,
		Quit:          gracefulShutdown,
	})
}

func guiQuit() {
	if guiApp != nil {
		guiApp.Quit()
	}
}
