package launcher

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"botlauncher/internal/config"
	"botlauncher/internal/database"
	"botlauncher/internal/envfile"
	"botlauncher/internal/locate"
	"botlauncher/internal/python"
	"botlauncher/internal/runner"
	"botlauncher/internal/token"
	"botlauncher/internal/venv"
)

// ExecFunc hands the process over to the entry point. On Unix it does not
// return on success.
type ExecFunc func(path string, argv []string, env []string, dir string) error

// Launcher prepares the Python environment and starts the bot
type Launcher struct {
	config   *config.Config
	verifier token.Verifier
	exec     ExecFunc
}

type Option func(*Launcher)

// WithExec replaces the process hand-off, mostly for tests.
func WithExec(fn ExecFunc) Option {
	return func(l *Launcher) { l.exec = fn }
}

// WithVerifier replaces the Telegram token verifier.
func WithVerifier(v token.Verifier) Option {
	return func(l *Launcher) { l.verifier = v }
}

// New creates a new Launcher instance
func New(cfg *config.Config, opts ...Option) *Launcher {
	l := &Launcher{
		config:   cfg,
		verifier: token.NewTelegramVerifier(cfg.GetTelegramAPIEndpoint()),
		exec:     runner.Exec,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Report collects what the preflight steps found.
type Report struct {
	Layout          locate.Layout
	Interpreter     python.Interpreter
	EnvFile         envfile.Result
	MissingOptional []string
	BotUsername     string
}

// Check runs the read-only steps: locate the bot, gate the interpreter
// version, load the .env file and validate the token. Nothing is created or
// installed.
func (l *Launcher) Check(ctx context.Context) (*Report, error) {
	report := &Report{}

	layout, err := l.locate()
	if err != nil {
		return report, err
	}
	report.Layout = layout

	interp, err := l.requirePython(ctx, layout)
	if err != nil {
		return report, err
	}
	report.Interpreter = interp

	if err := l.prepareEnv(layout, report, l.config.GetVerifyToken()); err != nil {
		return report, err
	}

	return report, nil
}

// Run performs every step and then replaces the launcher with
// "<venv python> -m <entry module> args...".
func (l *Launcher) Run(ctx context.Context, args []string) error {
	logger := l.config.Logger

	layout, err := l.locate()
	if err != nil {
		return err
	}

	if err := l.config.OpenLogFile(layout.Root); err != nil {
		return err
	}
	defer l.config.CloseLogFile()

	interp, err := l.requirePython(ctx, layout)
	if err != nil {
		return err
	}

	db := l.openState(layout)
	defer func() {
		if db != nil {
			db.Close()
		}
	}()

	env, err := l.prepareVenv(ctx, layout, interp, db)
	if err != nil {
		return err
	}

	report := &Report{Layout: layout, Interpreter: interp}
	if err := l.prepareEnv(layout, report, l.config.GetVerifyToken()); err != nil {
		return err
	}

	environ, err := l.childEnviron(layout, env)
	if err != nil {
		return err
	}

	argv := append([]string{env.Python, "-m", l.config.GetEntryModule()}, args...)

	if db != nil {
		launch := database.Launch{
			PythonVersion: interp.Version.String(),
			Root:          layout.Root,
			EntryModule:   l.config.GetEntryModule(),
		}
		if err := db.RecordLaunch(launch); err != nil {
			logger.Warn("failed to record launch", "err", err)
		}
		// The exec below never returns on success, so close now.
		db.Close()
		db = nil
	}

	logger.Info("starting bot",
		"module", l.config.GetEntryModule(),
		"python", env.Python,
		"args", strings.Join(args, " "),
	)

	if err := l.exec(env.Python, argv, environ, layout.Root); err != nil {
		return fmt.Errorf("failed to start %s: %w", l.config.GetEntryModule(), err)
	}
	return nil
}

// locate resolves the bot layout from the configured directory, or from the
// launcher binary's directory and then the working directory.
func (l *Launcher) locate() (locate.Layout, error) {
	var dirs []string
	if dir := l.config.GetBotDir(); dir != "" {
		dirs = append(dirs, dir)
	} else {
		if exeDir, err := locate.ExecutableDir(); err == nil {
			dirs = append(dirs, exeDir)
		} else {
			l.config.Logger.Debug("cannot determine launcher directory", "err", err)
		}
		if wd, err := os.Getwd(); err == nil {
			dirs = append(dirs, wd)
		}
	}

	layout, err := locate.Resolve(l.config.GetMarkerFile(), dirs...)
	if err != nil {
		return layout, err
	}

	l.config.Logger.Info("found bot", "root", layout.Root, "entry", layout.EntryFile())
	return layout, nil
}

func (l *Launcher) newRunner(layout locate.Layout) *runner.Runner {
	return &runner.Runner{
		Logger:  l.config.Logger,
		Dir:     layout.Root,
		Timeout: l.config.GetCommandTimeout(),
	}
}

func (l *Launcher) requirePython(ctx context.Context, layout locate.Layout) (python.Interpreter, error) {
	interp, err := python.Require(ctx, l.newRunner(layout), l.config.GetPython(), l.config.GetMinPythonVersion())
	if err != nil {
		return interp, err
	}

	l.config.Logger.Info("python ok",
		"path", interp.Path,
		"version", interp.Version.String(),
		"minimum", l.config.GetMinPythonVersion(),
	)
	return interp, nil
}

// openState opens the state store. The store only saves work, so failures
// are logged and the launch goes on without it.
func (l *Launcher) openState(layout locate.Layout) *database.DB {
	path := l.config.ResolvePath(layout.Root, l.config.GetStatePath())
	db, err := database.NewDB(path)
	if err != nil {
		l.config.Logger.Warn("state store unavailable, dependencies will be reinstalled", "path", path, "err", err)
		return nil
	}
	return db
}

func (l *Launcher) prepareVenv(ctx context.Context, layout locate.Layout, interp python.Interpreter, db *database.DB) (venv.Env, error) {
	r := l.newRunner(layout)
	dir := l.config.ResolvePath(layout.Root, l.config.GetVenvDir())

	env, err := venv.Ensure(ctx, r, l.config.Logger, interp.Path, dir)
	if err != nil {
		return env, err
	}

	// pip runs inside the activated environment, like the entry point.
	r.Env = env.Activate(os.Environ())

	installer := &venv.Installer{
		Runner:     r,
		Logger:     l.config.Logger,
		Force:      l.config.GetForceInstall(),
		UpgradePip: l.config.GetUpgradePip(),
	}
	if db != nil {
		installer.Stamps = db
	}

	requirements := l.config.ResolvePath(layout.Root, l.config.GetRequirementsFile())
	res, err := installer.Install(ctx, env, requirements)
	if err != nil {
		return env, err
	}

	l.config.Logger.Debug("dependency step done", "result", res.String())
	return env, nil
}

// prepareEnv loads the .env file and validates the token variables.
func (l *Launcher) prepareEnv(layout locate.Layout, report *Report, verify bool) error {
	logger := l.config.Logger
	path := l.config.ResolvePath(layout.Root, l.config.GetEnvFile())

	res, err := envfile.Load(path, l.config.GetEnvOverride())
	if err != nil {
		return err
	}
	report.EnvFile = res

	if res.Loaded {
		logger.Info("loaded environment file", "path", path, "keys", strings.Join(res.KeysSet, ","))
		if len(res.KeysKept) > 0 {
			logger.Info("kept variables already set", "keys", strings.Join(res.KeysKept, ","))
		}
	} else {
		logger.Warn("no environment file, using the inherited environment only", "path", path)
	}

	tok, err := token.Require(l.config.GetTokenVar(), path)
	if err != nil {
		return err
	}

	report.MissingOptional = token.MissingOptional(l.config.GetOptionalVars())
	for _, name := range report.MissingOptional {
		logger.Warn("optional variable is not set", "var", name)
	}

	if verify {
		username, err := l.verifier.Verify(tok)
		if err != nil {
			return err
		}
		report.BotUsername = username
		logger.Info("token accepted", "bot", "@"+username)
	}

	return nil
}

// childEnviron builds the entry point's environment: the current process
// environment (now including .env values) with the venv activated and
// DATA_DIR defaulted to an existing directory under the root.
func (l *Launcher) childEnviron(layout locate.Layout, env venv.Env) ([]string, error) {
	environ := env.Activate(os.Environ())

	if _, set := os.LookupEnv("DATA_DIR"); set {
		return environ, nil
	}

	dataDir := l.config.GetDataDir()
	if dataDir == "" {
		return environ, nil
	}

	dataDir = l.config.ResolvePath(layout.Root, dataDir)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return envfile.Merge(environ, map[string]string{"DATA_DIR": dataDir}), nil
}

// History returns recorded launches since the given time along with store
// statistics.
func (l *Launcher) History(since time.Time) ([]database.Launch, map[string]interface{}, error) {
	layout, err := l.locate()
	if err != nil {
		return nil, nil, err
	}

	path := l.config.ResolvePath(layout.Root, l.config.GetStatePath())
	db, err := database.NewDB(path)
	if err != nil {
		return nil, nil, err
	}
	defer db.Close()

	launches, err := db.ListLaunches(since)
	if err != nil {
		return nil, nil, err
	}

	stats, err := db.GetStats()
	if err != nil {
		return nil, nil, err
	}

	return launches, stats, nil
}
