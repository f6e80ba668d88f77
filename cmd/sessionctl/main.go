// Command sessionctl pokes at a session endpoint the way a shift form tab would.
package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/astromechza/shiftsession/pkg/devserver"
	"github.com/astromechza/shiftsession/pkg/session"
	"github.com/astromechza/shiftsession/pkg/tab"
)

type globals struct {
	cfg       tab.Config
	sessionID string
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:           "sessionctl",
		Short:         "Read, write and watch shift session state",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := tab.LoadConfigFromEnv()
			if err != nil {
				return err
			}
			if f := cmd.Flags().Lookup("base-url"); f != nil && f.Changed {
				cfg.BaseURL = f.Value.String()
			}
			if f := cmd.Flags().Lookup("token"); f != nil && f.Changed {
				cfg.CSRFToken = f.Value.String()
			}
			g.cfg = cfg
			return nil
		},
	}
	cmd.PersistentFlags().String("base-url", "", "session server base url, overrides SHIFTSESSION_BASE_URL")
	cmd.PersistentFlags().String("token", "", "csrf token to send instead of reading it from the page")
	cmd.PersistentFlags().StringVar(&g.sessionID, "session", "", "reuse an existing session id instead of starting a new one")

	cmd.AddCommand(
		loadCmd(g),
		saveCmd(g),
		patchCmd(g),
		tailCmd(g),
		simulateCmd(g),
		inspectCmd(),
	)
	return cmd
}

// httpClient returns a cookie-carrying client, seeded with the --session cookie when given.
func (g *globals) httpClient() (*http.Client, error) {
	hc, err := session.NewHTTPClient()
	if err != nil {
		return nil, err
	}
	if g.sessionID != "" {
		u, err := url.Parse(g.cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse base url: %w", err)
		}
		hc.Jar.SetCookies(u, []*http.Cookie{{Name: devserver.SessionCookie, Value: g.sessionID, Path: "/"}})
	}
	return hc, nil
}

func (g *globals) client() (*session.Client, error) {
	hc, err := g.httpClient()
	if err != nil {
		return nil, err
	}
	opts := []session.Option{session.WithHTTPClient(hc)}
	if g.cfg.CSRFToken != "" {
		opts = append(opts, session.WithTokenSource(session.StaticToken(g.cfg.CSRFToken)))
	}
	return session.New(g.cfg.BaseURL, opts...)
}

// sessionCookie reports the session id the server handed out, if any.
func sessionCookie(c *session.Client) string {
	for _, cookie := range c.HTTPClient().Jar.Cookies(c.BaseURL()) {
		if cookie.Name == devserver.SessionCookie {
			return cookie.Value
		}
	}
	return ""
}
