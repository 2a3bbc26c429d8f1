package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tubedrift/tubedrift/server/internal/client"
)

var (
	flagServer  string
	flagKeyEnv  string
	flagHeader  string
	flagTimeout time.Duration
	flagLimit   int
	flagJSON    bool
)

var rootCmd = &cobra.Command{
	Use:          "tubedrift",
	Short:        "Query a tubedrift server",
	Long:         "tubedrift searches videos, channels and tags through a tubedrift server and inspects its drift-polled sessions.",
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagServer, "server", envOr("TUBEDRIFT_SERVER", "http://localhost:8080"), "server base URL")
	pf.StringVar(&flagKeyEnv, "key-env", "TUBEDRIFT_API_KEY", "environment variable holding the API key")
	pf.StringVar(&flagHeader, "header", "x-api-key", "header the API key is sent in")
	pf.DurationVar(&flagTimeout, "timeout", client.DefaultTimeout, "per-request timeout")
	pf.BoolVar(&flagJSON, "json", false, "print raw JSON instead of a table")

	for _, c := range []*cobra.Command{searchCmd, tagCmd, channelCmd} {
		c.Flags().IntVar(&flagLimit, "limit", 0, "maximum number of videos to show")
	}

	rootCmd.AddCommand(healthCmd, searchCmd, tagCmd, channelCmd, videoCmd,
		sessionsCmd, historyCmd, refreshCmd)
}

func newClient() (*client.Client, error) {
	return client.New(flagServer, flagHeader, os.Getenv(flagKeyEnv), flagTimeout)
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), flagTimeout)
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}
