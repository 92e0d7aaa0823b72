package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jobchat/internal/push"
)

func vapidCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "vapid",
		Short: "Generate a Web Push VAPID key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := push.GenerateVAPIDKeys()
			if err != nil {
				return fmt.Errorf("generate keys: %w", err)
			}
			data, err := json.MarshalIndent(keys, "", "  ")
			if err != nil {
				return err
			}
			if out == "" {
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			if err := os.WriteFile(out, data, 0o600); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "VAPID keys written to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write keys to this file instead of stdout")
	return cmd
}
