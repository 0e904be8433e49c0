package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/harborchat/harbor/internal/client/config"
	"github.com/harborchat/harbor/internal/client/engine"
	"github.com/harborchat/harbor/internal/client/history"
	"github.com/harborchat/harbor/internal/client/logging"
	"github.com/harborchat/harbor/internal/client/presence"
	"github.com/harborchat/harbor/internal/client/rest"
	"github.com/harborchat/harbor/internal/client/session"
	"github.com/harborchat/harbor/internal/client/store"
	"github.com/harborchat/harbor/internal/client/transport"
	"github.com/harborchat/harbor/internal/client/ui"
)

func main() {
	profile := os.Getenv("HARBOR_PROFILE")
	if profile == "" {
		profile = "default"
	}

	cfg, err := config.Load(session.GetConfigDir(profile))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{Level: cfg.Log.Level, File: cfg.Log.File})
	logger := logging.L()
	logger.Info().Str("profile", profile).Msg("starting")

	// The program pointer is captured by the engine change callback below;
	// it is set before Run, and the engine only exists after Start.
	var program *tea.Program

	deps := ui.Deps{
		Profile:  profile,
		Restored: session.Load(profile),
		Login: func(ctx context.Context, email, password string) (*rest.LoginResult, error) {
			api := rest.NewClient(cfg.Server.APIBaseURL, func() string { return "" })
			return api.Login(ctx, email, password)
		},
		Start: func(sess *session.Session) (*ui.Runtime, error) {
			if sess.APIBaseURL == "" {
				sess.APIBaseURL = cfg.Server.APIBaseURL
			}
			if sess.SocketURL == "" {
				sess.SocketURL = cfg.Socket.URL
			}
			if err := session.Save(profile, *sess); err != nil {
				logger := logging.L()
				logger.Warn().Err(err).Msg("session not saved")
			}

			api := rest.NewClient(sess.APIBaseURL, func() string { return sess.Token })
			st := store.New()
			tracker := presence.NewTracker()
			tracker.SetExpiry(cfg.Messaging.TypingExpiry)
			loader := history.NewLoader(api, st, cfg.Messaging.PageSize)
			tr := transport.New(sess.SocketURL, transport.Options{
				MaxReconnects:    cfg.Socket.MaxReconnects,
				ReconnectBackoff: cfg.Socket.ReconnectBackoff,
				Logger:           logging.L(),
			})
			eng := engine.New(sess.User, tr, api, st, tracker, loader, engine.Options{
				TypingIdleWait: cfg.Messaging.TypingIdleWait,
				TypingHardStop: cfg.Messaging.TypingHardStop,
				Logger:         logging.L(),
			})
			eng.OnChange(func() {
				if program != nil {
					program.Send(ui.RefreshMsg{})
				}
			})

			if err := eng.Connect(sess.Token); err != nil {
				return nil, err
			}

			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				eng.LoadConversations(ctx, 50)
			}()

			return &ui.Runtime{Engine: eng, Store: st, Tracker: tracker, Session: sess}, nil
		},
	}

	program = tea.NewProgram(ui.New(deps), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
