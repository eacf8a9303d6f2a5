// Command chat is a terminal client for a running relay.
package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"chat-relay/internal/presets"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env file", "err", err)
	}
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := chatOptions{}
	root := &cobra.Command{
		Use:          "chat",
		Short:        "Chat with a relay from the terminal",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.temperatureSet = cmd.Flags().Changed("temperature")
			return runChat(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVar(&opts.presetsFile, "presets-file", "", "presets file (default: user config dir)")
	root.Flags().StringVar(&opts.url, "url", envOr("CHAT_RELAY_URL", "http://localhost:3000"), "relay base URL")
	root.Flags().StringVar(&opts.password, "password", os.Getenv("SITE_PASSWORD"), "site password")
	root.Flags().StringVar(&opts.secret, "secret", os.Getenv("PUBLIC_SECRET_KEY"), "request signing key")
	root.Flags().StringVar(&opts.system, "system", "", "system role for this conversation")
	root.Flags().StringVar(&opts.preset, "preset", "", "use the saved system role with this name")
	root.Flags().IntVar(&opts.temperature, "temperature", presets.DefaultTemperature, "temperature percentage (0-100), saved as the new default")

	root.AddCommand(newPresetsCmd(&opts.presetsFile))
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func openStore(path string) (*presets.Store, error) {
	if path == "" {
		p, err := presets.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return presets.NewStore(path)
}
