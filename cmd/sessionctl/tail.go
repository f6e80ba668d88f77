package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/astromechza/shiftsession/pkg/devserver"
)

func tailCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "tail",
		Short: "Stream every write accepted for the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			defer c.Close()
			hc := c.HTTPClient()

			if g.sessionID == "" {
				// the index page hands out a fresh session cookie
				resp, err := hc.Get(c.BaseURL().String())
				if err != nil {
					return fmt.Errorf("failed to open session: %w", err)
				}
				_ = resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
				}
			}
			printSession(cmd.ErrOrStderr(), sessionCookie(c))

			u := c.BaseURL().JoinPath("/api/session/events")
			if u.Scheme == "https" {
				u.Scheme = "wss"
			} else {
				u.Scheme = "ws"
			}
			dialer := websocket.Dialer{Jar: hc.Jar}
			conn, _, err := dialer.DialContext(cmd.Context(), u.String(), nil)
			if err != nil {
				return fmt.Errorf("failed to dial: %w", err)
			}
			defer conn.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go func() {
				exit := make(chan os.Signal, 1)
				signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
				defer signal.Stop(exit)
				select {
				case sig := <-exit:
					slog.Info("Signal caught", "sig", sig)
				case <-ctx.Done():
				}
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				_ = conn.Close()
			}()

			out := cmd.OutOrStdout()
			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, net.ErrClosed) {
						return nil
					}
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("failed to read event: %w", err)
				}
				var e devserver.Event
				if err := json.Unmarshal(msg, &e); err != nil {
					slog.Error("failed to decode event", "err", err)
					continue
				}
				for k, v := range e.Values {
					fmt.Fprintf(out, "%s %s %s=%s\n", e.At.Format("15:04:05.000"), e.Source, k, v)
				}
			}
		},
	}
}
