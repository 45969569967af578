package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haven-im/haven-server/internal/client"
	"github.com/haven-im/haven-server/internal/log"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "havenctl",
		Short:        "Haven smoke-test client",
		SilenceUsage: true,
	}
	root.AddCommand(smokeCmd())
	return root
}

func smokeCmd() *cobra.Command {
	var (
		server   string
		username string
		password string
		channel  string
		voice    bool
	)

	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Connect, join a channel and print broker events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSmoke(server, username, password, channel, voice)
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "server base URL")
	cmd.Flags().StringVar(&username, "username", "", "username (empty for a guest session)")
	cmd.Flags().StringVar(&password, "password", "", "password")
	cmd.Flags().StringVar(&channel, "channel", "general", "channel to join")
	cmd.Flags().BoolVar(&voice, "voice", false, "also join the channel's voice room")
	return cmd
}

func runSmoke(server, username, password, channel string, voice bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	token, err := obtainToken(ctx, server, username, password)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	wsURL := strings.Replace(server, "http", "ws", 1) + "/ws"
	logger := log.New("info", true)

	conn, err := client.Dial(ctx, wsURL, token, client.Handlers{
		OnEvent: func(event client.WireEvent) {
			if event.Error != nil {
				fmt.Printf("! %s: %s\n", event.Error.Code, event.Error.Msg)
				return
			}
			fmt.Printf("< %s %s\n", event.Event, string(event.Data))
		},
	}, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.JoinChannel(channel); err != nil {
		return fmt.Errorf("join channel: %w", err)
	}
	fmt.Printf("joined channel %s\n", channel)

	if voice {
		if err := conn.VoiceJoin(channel); err != nil {
			return fmt.Errorf("join voice: %w", err)
		}
		fmt.Printf("joined voice in %s\n", channel)
	}

	select {
	case <-ctx.Done():
	case <-conn.Done():
		return fmt.Errorf("connection closed by server")
	}
	return nil
}

// obtainToken logs in with credentials, or creates a guest session when no
// username is given.
func obtainToken(ctx context.Context, server, username, password string) (string, error) {
	path := "/api/auth/guest"
	body := []byte(`{}`)
	if username != "" {
		path = "/api/auth/login"
		var err error
		body, err = json.Marshal(map[string]string{"username": username, "password": password})
		if err != nil {
			return "", err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server+path, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := &http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("no token in response")
	}
	return out.Token, nil
}
