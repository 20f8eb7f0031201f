package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type globalFlags struct {
	server      string
	sessionFile string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:          "reminders",
		Short:        "Therapist reminders over WhatsApp",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.server, "server", envOr("REMINDERS_SERVER", "http://localhost:8080"), "API base URL")
	root.PersistentFlags().StringVar(&g.sessionFile, "session-file", envOr("REMINDERS_SESSION_FILE", defaultSessionFile()), "where the login token is kept")

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(loginCmd(g))
	root.AddCommand(logoutCmd(g))
	root.AddCommand(patientsCmd(g))
	root.AddCommand(composeCmd(g))
	root.AddCommand(messagesCmd(g))
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".reminders-session.json"
	}
	return filepath.Join(dir, "reminders", "session.json")
}
