package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func (a *app) checkCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the bot, interpreter, .env and token without installing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.bindLocal(cmd, map[string]string{"verify_token": "verify-token"})

			report, err := a.launcher().Check(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "bot:     %s\n", report.Layout.EntryFile())
			fmt.Fprintf(out, "python:  %s\n", report.Interpreter)
			if report.EnvFile.Loaded {
				fmt.Fprintf(out, ".env:    %s (%d keys)\n", report.EnvFile.Path, len(report.EnvFile.KeysSet)+len(report.EnvFile.KeysKept))
			} else {
				fmt.Fprintf(out, ".env:    %s (missing)\n", report.EnvFile.Path)
			}
			if report.BotUsername != "" {
				fmt.Fprintf(out, "token:   ok (@%s)\n", report.BotUsername)
			} else {
				fmt.Fprintln(out, "token:   set")
			}
			if len(report.MissingOptional) > 0 {
				fmt.Fprintf(out, "missing: %s\n", strings.Join(report.MissingOptional, ", "))
			}
			return nil
		},
	}

	cmd.Flags().Bool("verify-token", false, "check the token against the Telegram API")
	return cmd
}
