// Command jobchat запускает бэкенд чатов и клиентские утилиты к нему.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const appName = "jobchat"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   appName,
		Short: "Job-opportunity chat service",
		Long: `jobchat serves chats about candidates, jobs and partner organizations,
with per-user read markers pushed live to connected clients.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(serveCmd(), vapidCmd(), watchCmd())
	return cmd
}
