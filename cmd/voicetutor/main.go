// Package main provides the voice tutor CLI.
//
// Usage:
//
//	voicetutor <command> [flags]
//
// Commands:
//
//	serve - Serve browser voice sessions over WebSocket
//	chat  - Talk to the tutor from the terminal, replies are spoken aloud
//	say   - Speak one sentence while drawing it on the terminal whiteboard
//
// Configuration is read from the environment and an optional .env file.
package main

import (
	"fmt"
	"os"

	"github.com/chakravyuh/voice-tutor/cmd/voicetutor/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
