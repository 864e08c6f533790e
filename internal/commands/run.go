package commands

import (
	"github.com/spf13/cobra"
)

func (a *app) runCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [-- bot args...]",
		Short: "Prepare everything and start the bot (the default)",
		Args:  cobra.ArbitraryArgs,
		RunE:  a.runLaunch,
	}
	a.addRunFlags(cmd)
	return cmd
}

// addRunFlags registers the install flags on both the root command and
// "run", since a bare "botlauncher" launches too.
func (a *app) addRunFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Bool("force-install", false, "reinstall requirements even when unchanged")
	flags.Bool("upgrade-pip", false, "upgrade pip inside the virtual environment before installing")
	flags.Bool("verify-token", false, "check the token against the Telegram API before starting")
}

func (a *app) runLaunch(cmd *cobra.Command, args []string) error {
	a.bindLocal(cmd, map[string]string{
		"force_install": "force-install",
		"upgrade_pip":   "upgrade-pip",
		"verify_token":  "verify-token",
	})
	return a.launcher().Run(cmd.Context(), args)
}

// bindLocal copies explicitly set local flags into the config. Local flags
// exist on several commands, so they cannot be bound to viper up front.
func (a *app) bindLocal(cmd *cobra.Command, keys map[string]string) {
	for key, name := range keys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		a.cfg.Set(key, flag.Value.String())
	}
}
