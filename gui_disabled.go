//go:build !gui

package main

import "mimir/audio"

// Stubs for non-GUI builds (never used since guiMode stays false)
var guiAudioCtx audio.Context

func initGUI() {
	panic("mimir: built without GUI support (rebuild with -tags gui)")
}

func attachGUIHandlers() {}

func guiQuit() {}
