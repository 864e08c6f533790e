package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"botlauncher/internal/config"
	"botlauncher/internal/launcher"
	"botlauncher/internal/runner"
)

// Version is stamped at build time with -ldflags "-X botlauncher/internal/commands.Version=...".
var Version = "dev"

// skipConfig marks commands that run without loading configuration.
const skipConfig = "skip-config"

type app struct {
	v    *viper.Viper
	cfg  *config.Config
	opts []launcher.Option
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{v: viper.New()}
	root := a.rootCommand()

	if err := root.ExecuteContext(ctx); err != nil {
		logger := log.Default()
		if a.cfg != nil {
			logger = a.cfg.Logger
		}
		logger.Error("botlauncher failed", "err", err)
		return runner.ExitCode(err)
	}
	return 0
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "botlauncher [-- bot args...]",
		Short: "Prepare the Python environment and start the bot",
		Long: "Locates the bot, checks the Python version, creates the virtual environment,\n" +
			"installs requirements, loads .env, checks the token and hands over to the bot.",
		Args:              cobra.ArbitraryArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.loadConfig,
		RunE:              a.runLaunch,
	}

	flags := root.PersistentFlags()
	flags.String("dir", "", "directory holding the bot (default: launcher directory, then working directory)")
	flags.String("config", "", "config file (default: botlauncher.yaml next to the bot)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("python", "", "python interpreter to use (default: python3, then python)")

	a.bindFlag("bot_dir", flags, "dir")
	a.bindFlag("config", flags, "config")
	a.bindFlag("log_level", flags, "log-level")
	a.bindFlag("python", flags, "python")

	a.addRunFlags(root)

	root.AddCommand(
		a.runCommand(),
		a.checkCommand(),
		a.historyCommand(),
		versionCommand(),
	)

	return root
}

func (a *app) bindFlag(key string, flags *pflag.FlagSet, name string) {
	if err := a.v.BindPFlag(key, flags.Lookup(name)); err != nil {
		// Only fails on a nil flag, which is a programming error.
		panic(fmt.Sprintf("binding flag %s: %v", name, err))
	}
}

func (a *app) loadConfig(cmd *cobra.Command, _ []string) error {
	if _, ok := cmd.Annotations[skipConfig]; ok {
		return nil
	}

	cfg, err := config.NewConfig(a.v)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.cfg = cfg
	return nil
}

func (a *app) launcher() *launcher.Launcher {
	return launcher.New(a.cfg, a.opts...)
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the launcher version",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "botlauncher %s\n", Version)
			return err
		},
	}
}
