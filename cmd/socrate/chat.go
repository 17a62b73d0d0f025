package main

import (
	"context"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/johncui/socrate/pkg/diary"
	"github.com/johncui/socrate/pkg/gateway"
	"github.com/johncui/socrate/pkg/session"
	"github.com/johncui/socrate/pkg/store"
	"github.com/johncui/socrate/pkg/tui"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start the interactive terminal chat",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd)
	},
}

// runChat keeps one session in memory for the life of the program. The UI
// owns the terminal, so logs go to the configured file or nowhere.
func runChat(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cfg.Log, io.Discard)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var upstream gateway.Upstream
	if cfg.Gateway.URL == "" {
		upstream, err = gateway.NewGenAIUpstream(ctx, cfg.Gateway.APIKey, cfg.Gateway.Timeout)
		if err != nil {
			return err
		}
	}
	gw, err := buildGateway(cfg.Gateway, upstream)
	if err != nil {
		return err
	}

	backend, err := store.Open(ctx, store.Options{Driver: store.DriverMemory, Capacity: 1, Logger: logger})
	if err != nil {
		return err
	}
	defer backend.Close()

	sessions, err := session.NewService(session.Options{Store: backend, Gateway: gw, Logger: logger})
	if err != nil {
		return err
	}
	st, err := sessions.Create(ctx)
	if err != nil {
		return err
	}

	m := tui.New(ctx, sessions, st, tui.Options{
		Copier: diary.NewCopier(diary.SystemClipboard{}, logger),
		Diary:  diary.Options{Layout: cfg.Diary.Layout, Location: cfg.Diary.Location()},
		Logger: logger,
	})
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}
