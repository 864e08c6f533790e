package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botlauncher/internal/launcher"
)

const fakePython = `#!/bin/sh
case "$1" in
  --version) echo "Python 3.11.4" ;;
  -m) [ "$2" = venv ] && mkdir -p "$3/bin" && cp "$0" "$3/bin/python" ;;
esac
exit 0
`

func setupBot(t *testing.T) (root, py string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake interpreter is a shell script")
	}

	root = t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bot"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bot", "bot.py"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("BOT_TOKEN=123:abc\n"), 0600))

	py = filepath.Join(t.TempDir(), "python3")
	require.NoError(t, os.WriteFile(py, []byte(fakePython), 0755))

	t.Setenv("BOT_TOKEN", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("DATA_DIR", "")
	os.Unsetenv("DATA_DIR")
	return root, py
}

func execute(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	root := a.rootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, &app{v: viper.New()}, "version")
	require.NoError(t, err)
	assert.Equal(t, "botlauncher dev\n", out)
}

func TestCheckCommand(t *testing.T) {
	root, py := setupBot(t)

	out, err := execute(t, &app{v: viper.New()}, "check", "--dir", root, "--python", py, "--log-level", "error")
	require.NoError(t, err)

	assert.Contains(t, out, filepath.Join(root, "bot", "bot.py"))
	assert.Contains(t, out, "3.11.4")
	assert.Contains(t, out, "token:   set")
	assert.Contains(t, out, "missing: OPENAI_API_KEY")
	assert.NoDirExists(t, filepath.Join(root, ".venv"))
}

func TestRunCommandHandsOff(t *testing.T) {
	root, py := setupBot(t)

	var gotArgv []string
	a := &app{
		v: viper.New(),
		opts: []launcher.Option{launcher.WithExec(func(path string, argv, env []string, dir string) error {
			gotArgv = argv
			return nil
		})},
	}

	_, err := execute(t, a, "run", "--dir", root, "--python", py, "--log-level", "error", "--", "--debug")
	require.NoError(t, err)

	venvPython := filepath.Join(root, ".venv", "bin", "python")
	assert.Equal(t, []string{venvPython, "-m", "bot.bot", "--debug"}, gotArgv)

	out, err := execute(t, &app{v: viper.New()}, "history", "--dir", root, "--log-level", "error", "--since", "1 day ago")
	require.NoError(t, err)
	assert.Contains(t, out, "bot.bot")
	assert.Contains(t, out, "total launches: 1")
}

func TestBareCommandLaunches(t *testing.T) {
	root, py := setupBot(t)

	called := false
	a := &app{
		v: viper.New(),
		opts: []launcher.Option{launcher.WithExec(func(string, []string, []string, string) error {
			called = true
			return nil
		})},
	}

	_, err := execute(t, a, "--dir", root, "--python", py, "--log-level", "error")
	require.NoError(t, err)
	assert.True(t, called)
}

func TestCheckCommandFailsWithoutBot(t *testing.T) {
	_, err := execute(t, &app{v: viper.New()}, "check", "--dir", t.TempDir(), "--log-level", "error")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot application not found")
}
