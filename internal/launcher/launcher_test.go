package launcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botlauncher/internal/config"
	"botlauncher/internal/locate"
	"botlauncher/internal/python"
	"botlauncher/internal/token"
)

// fakePythonScript answers --version, creates a venv by copying itself and
// appends pip invocations to pip.log and the environment pip saw to pip.env
// in the working directory.
const fakePythonScript = `#!/bin/sh
case "$1" in
  --version)
    echo "Python %s"
    ;;
  -m)
    case "$2" in
      venv)
        mkdir -p "$3/bin" && cp "$0" "$3/bin/python"
        ;;
      pip)
        echo "$@" >> pip.log
        echo "VIRTUAL_ENV=$VIRTUAL_ENV PYTHONHOME=$PYTHONHOME" >> pip.env
        ;;
    esac
    ;;
esac
`

type execCall struct {
	path string
	argv []string
	env  []string
	dir  string
}

type recordingExec struct {
	calls []execCall
	err   error
}

func (r *recordingExec) exec(path string, argv []string, env []string, dir string) error {
	r.calls = append(r.calls, execCall{path: path, argv: argv, env: env, dir: dir})
	return r.err
}

type stubVerifier struct {
	username string
	err      error
	tokens   []string
}

func (s *stubVerifier) Verify(tok string) (string, error) {
	s.tokens = append(s.tokens, tok)
	return s.username, s.err
}

type fixture struct {
	root   string
	python string
}

func newFixture(t *testing.T, pyVersion string) fixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake interpreter is a shell script")
	}

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bot"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bot", "bot.py"), []byte("print('hi')\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "requirements.txt"), []byte("aiogram==3.4.1\n"), 0644))

	py := filepath.Join(t.TempDir(), "python3")
	script := strings.Replace(fakePythonScript, "%s", pyVersion, 1)
	require.NoError(t, os.WriteFile(py, []byte(script), 0755))

	// Keys the launcher may set through os.Setenv, restored after the test.
	t.Setenv("LT_BOT_TOKEN", "")
	t.Setenv("LT_OPTIONAL", "")
	t.Setenv("DATA_DIR", "")
	os.Unsetenv("DATA_DIR")

	return fixture{root: root, python: py}
}

func (f fixture) writeEnv(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.root, ".env"), []byte(content), 0600))
}

func (f fixture) config(extra map[string]interface{}) *config.Config {
	kv := map[string]interface{}{
		"bot_dir":       f.root,
		"python":        f.python,
		"token_var":     "LT_BOT_TOKEN",
		"optional_vars": []string{"LT_OPTIONAL"},
		"log_level":     "error",
	}
	for k, v := range extra {
		kv[k] = v
	}
	return config.NewMockConfig(kv)
}

func (f fixture) pipCalls(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.root, "pip.log"))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func envValue(env []string, key string) (string, bool) {
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			return v, true
		}
	}
	return "", false
}

func TestRun(t *testing.T) {
	f := newFixture(t, "3.11.4")
	f.writeEnv(t, heredoc.Doc(`
		# telegram
		LT_BOT_TOKEN=123:abc
		LT_OPTIONAL=present
	`))

	rec := &recordingExec{}
	l := New(f.config(nil), WithExec(rec.exec))

	require.NoError(t, l.Run(context.Background(), []string{"--polling"}))

	venvPython := filepath.Join(f.root, ".venv", "bin", "python")
	require.Len(t, rec.calls, 1)
	call := rec.calls[0]
	assert.Equal(t, venvPython, call.path)
	assert.Equal(t, []string{venvPython, "-m", "bot.bot", "--polling"}, call.argv)
	assert.Equal(t, f.root, call.dir)

	tok, ok := envValue(call.env, "LT_BOT_TOKEN")
	assert.True(t, ok)
	assert.Equal(t, "123:abc", tok)

	venvDir, _ := envValue(call.env, "VIRTUAL_ENV")
	assert.Equal(t, filepath.Join(f.root, ".venv"), venvDir)

	path, _ := envValue(call.env, "PATH")
	assert.True(t, strings.HasPrefix(path, filepath.Join(f.root, ".venv", "bin")))

	dataDir, _ := envValue(call.env, "DATA_DIR")
	assert.Equal(t, filepath.Join(f.root, "data"), dataDir)
	assert.DirExists(t, dataDir)

	pip := f.pipCalls(t)
	require.Len(t, pip, 1)
	assert.Equal(t, "-m pip install -r "+filepath.Join(f.root, "requirements.txt"), pip[0])

	entries, err := os.ReadDir(filepath.Join(f.root, "logs"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	launches, stats, err := l.History(time.Time{})
	require.NoError(t, err)
	require.Len(t, launches, 1)
	assert.Equal(t, "3.11.4", launches[0].PythonVersion)
	assert.Equal(t, "bot.bot", launches[0].EntryModule)
	assert.Equal(t, 1, stats["install_stamps"])
}

func TestRunInstallsInsideVenv(t *testing.T) {
	f := newFixture(t, "3.11.4")
	f.writeEnv(t, "LT_BOT_TOKEN=123:abc\n")
	t.Setenv("PYTHONHOME", "/opt/broken")

	rec := &recordingExec{}
	l := New(f.config(map[string]interface{}{"upgrade_pip": true}), WithExec(rec.exec))
	require.NoError(t, l.Run(context.Background(), nil))

	data, err := os.ReadFile(filepath.Join(f.root, "pip.env"))
	require.NoError(t, err)

	venvDir := filepath.Join(f.root, ".venv")
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.Equal(t, "VIRTUAL_ENV="+venvDir+" PYTHONHOME=", line)
	}
}

func TestRunSkipsUnchangedRequirements(t *testing.T) {
	f := newFixture(t, "3.12.0")
	f.writeEnv(t, "LT_BOT_TOKEN=123:abc\n")

	rec := &recordingExec{}
	for i := 0; i < 2; i++ {
		l := New(f.config(nil), WithExec(rec.exec))
		require.NoError(t, l.Run(context.Background(), nil))
	}
	assert.Len(t, rec.calls, 2)
	assert.Len(t, f.pipCalls(t), 1, "second run should reuse the install")

	l := New(f.config(map[string]interface{}{"force_install": true}), WithExec(rec.exec))
	require.NoError(t, l.Run(context.Background(), nil))
	assert.Len(t, f.pipCalls(t), 2)
}

func TestRunWithoutRequirements(t *testing.T) {
	f := newFixture(t, "3.10.0")
	require.NoError(t, os.Remove(filepath.Join(f.root, "requirements.txt")))
	t.Setenv("LT_BOT_TOKEN", "from-shell")

	rec := &recordingExec{}
	l := New(f.config(nil), WithExec(rec.exec))

	require.NoError(t, l.Run(context.Background(), nil))
	assert.Empty(t, f.pipCalls(t))
	require.Len(t, rec.calls, 1)

	tok, _ := envValue(rec.calls[0].env, "LT_BOT_TOKEN")
	assert.Equal(t, "from-shell", tok)
}

func TestRunKeepsExistingDataDir(t *testing.T) {
	f := newFixture(t, "3.11.4")
	f.writeEnv(t, "LT_BOT_TOKEN=123:abc\nDATA_DIR=/var/lib/bot\n")

	rec := &recordingExec{}
	l := New(f.config(nil), WithExec(rec.exec))
	require.NoError(t, l.Run(context.Background(), nil))

	dataDir, _ := envValue(rec.calls[0].env, "DATA_DIR")
	assert.Equal(t, "/var/lib/bot", dataDir)
	assert.NoDirExists(t, filepath.Join(f.root, "data"))
}

func TestRunFailures(t *testing.T) {
	tests := []struct {
		name      string
		pyVersion string
		env       string
		extra     map[string]interface{}
		execErr   error
		wantErr   error
		wantMsg   string
	}{
		{
			name:      "python too old",
			pyVersion: "3.9.18",
			env:       "LT_BOT_TOKEN=123:abc\n",
			wantErr:   python.ErrVersionTooOld,
		},
		{
			name:      "token missing",
			pyVersion: "3.11.4",
			env:       "# nothing here\n",
			wantErr:   token.ErrMissing,
		},
		{
			name:      "bot not found",
			pyVersion: "3.11.4",
			extra:     map[string]interface{}{"marker_file": "main.py"},
			wantErr:   locate.ErrNotFound,
		},
		{
			name:      "exec fails",
			pyVersion: "3.11.4",
			env:       "LT_BOT_TOKEN=123:abc\n",
			execErr:   errors.New("permission denied"),
			wantMsg:   "failed to start bot.bot",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.pyVersion)
			if tt.env != "" {
				f.writeEnv(t, tt.env)
			}

			rec := &recordingExec{err: tt.execErr}
			l := New(f.config(tt.extra), WithExec(rec.exec))

			err := l.Run(context.Background(), nil)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, rec.calls, "must not hand off after a failed step")
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestCheckCreatesNothing(t *testing.T) {
	f := newFixture(t, "3.11.4")
	f.writeEnv(t, "LT_BOT_TOKEN=123:abc\n")

	rec := &recordingExec{}
	l := New(f.config(nil), WithExec(rec.exec))

	report, err := l.Check(context.Background())
	require.NoError(t, err)

	assert.Equal(t, f.root, report.Layout.Root)
	assert.Equal(t, "3.11.4", report.Interpreter.Version.String())
	assert.True(t, report.EnvFile.Loaded)
	assert.Equal(t, []string{"LT_OPTIONAL"}, report.MissingOptional)
	assert.Empty(t, report.BotUsername)

	assert.Empty(t, rec.calls)
	assert.NoDirExists(t, filepath.Join(f.root, ".venv"))
	assert.NoDirExists(t, filepath.Join(f.root, "logs"))
	assert.Empty(t, f.pipCalls(t))
}

func TestCheckVerifiesToken(t *testing.T) {
	f := newFixture(t, "3.11.4")
	f.writeEnv(t, "LT_BOT_TOKEN=123:abc\n")

	verifier := &stubVerifier{username: "productive_bot"}
	l := New(f.config(map[string]interface{}{"verify_token": true}), WithVerifier(verifier))

	report, err := l.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "productive_bot", report.BotUsername)
	assert.Equal(t, []string{"123:abc"}, verifier.tokens)
}

func TestCheckRejectedToken(t *testing.T) {
	f := newFixture(t, "3.11.4")
	f.writeEnv(t, "LT_BOT_TOKEN=123:abc\n")

	verifier := &stubVerifier{err: token.ErrRejected}
	l := New(f.config(map[string]interface{}{"verify_token": true}), WithVerifier(verifier))

	_, err := l.Check(context.Background())
	require.ErrorIs(t, err, token.ErrRejected)
}
