package main

import "mimir/capture"

// EventSink abstracts the display layer so both the Bubble Tea TUI and the
// Fyne GUI receive the same conversation events. Implementations marshal
// onto their own UI thread; callers may emit from any goroutine.
type EventSink interface {
	// Reply delivers one finished generation. On failure reply holds a
	// human-readable message instead of model output.
	Reply(user, reply string, failed bool)

	// SpeechText inserts a transcription at the input caret.
	SpeechText(text string)

	CaptureState(state capture.State)
	NoVoiceWarning(on bool)

	// Status shows a transient notice.
	Status(text string)

	// Show raises and focuses the conversation window.
	Show()
}
