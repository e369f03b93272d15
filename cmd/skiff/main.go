package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"skiff/pkg/tui"
)

func main() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		slog.Error("Error getting home directory", "error", err)
		os.Exit(1)
	}

	dataDir := filepath.Join(homeDir, ".skiff")
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		slog.Error("Error creating data directory", "error", err)
		os.Exit(1)
	}

	// The TUI owns the terminal, so all logging goes to a file.
	logFile, err := os.OpenFile(
		filepath.Join(dataDir, "debug.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND,
		0600,
	)
	if err != nil {
		slog.Error("Error opening log file", "error", err)
		os.Exit(1)
	}
	defer logFile.Close()

	log.SetOutput(logFile)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	slog.SetDefault(slog.New(slog.NewTextHandler(logFile, nil)))

	appModel, err := tui.NewAppModel()
	if err != nil {
		slog.Error("Error initializing application", "error", err)
		fmt.Fprintf(os.Stderr, "Error initializing application: %v\n", err)
		os.Exit(1)
	}

	p := tea.NewProgram(
		appModel,
		tea.WithAltScreen(),
	)

	if _, err := p.Run(); err != nil {
		slog.Error("Error running program", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
