package process

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/aretw0/kiln/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses POSIX shell utilities")
	}
}

func TestRunner_Execute(t *testing.T) {
	skipOnWindows(t)

	runner := NewRunner()
	runner.Register(ToolConfig{Name: "upper", Command: "tr", Args: []string{"a-z", "A-Z"}})
	runner.Register(ToolConfig{Name: "echo_env", Command: "sh", Args: []string{"-c", `printf %s "$KILN_ARG_MSG-$GREETING"`},
		Environment: map[string]string{"GREETING": "hi"}})
	runner.Register(ToolConfig{Name: "broken", Command: "sh", Args: []string{"-c", "echo 'unexpected token' >&2; exit 3"}})

	t.Run("Pipes Stdin To Stdout", func(t *testing.T) {
		out, err := runner.Execute(context.Background(), Invocation{Tool: "upper", Stdin: []byte("body{}")})
		require.NoError(t, err)
		assert.Equal(t, "BODY{}", string(out))
	})

	t.Run("Fails For Unregistered Command", func(t *testing.T) {
		_, err := runner.Execute(context.Background(), Invocation{Tool: "hacker_script"})
		assert.True(t, domain.IsConfiguration(err))
	})

	t.Run("Passes Arguments via Env Vars", func(t *testing.T) {
		out, err := runner.Execute(context.Background(), Invocation{Tool: "echo_env", Args: map[string]any{"msg": "SecretMessage"}})
		require.NoError(t, err)
		assert.Equal(t, "SecretMessage-hi", string(out))
	})

	t.Run("Non-Zero Exit Carries Stderr", func(t *testing.T) {
		_, err := runner.Execute(context.Background(), Invocation{Tool: "broken"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unexpected token")
	})
}

func TestRunner_Timeout(t *testing.T) {
	skipOnWindows(t)

	runner := NewRunner(WithTimeout(100 * time.Millisecond))
	runner.Register(ToolConfig{Name: "slow", Command: "sleep", Args: []string{"5"}})

	start := time.Now()
	_, err := runner.Execute(context.Background(), Invocation{Tool: "slow"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestStage(t *testing.T) {
	skipOnWindows(t)

	runner := NewRunner(WithRegistry(map[string]ToolConfig{
		"upper":  {Command: "tr", Args: []string{"a-z", "A-Z"}, Pure: true},
		"stamp":  {Command: "sh", Args: []string{"-c", `cat; printf '/*%s*/' "$KILN_ARG_PATH"`}},
		"broken": {Command: "false"},
	}))

	upper, err := runner.Stage("upper", nil)
	require.NoError(t, err)
	assert.Equal(t, "exec:upper", upper.Name())
	assert.NotEmpty(t, upper.Identity())

	other, err := runner.Stage("upper", map[string]any{"mode": "x"})
	require.NoError(t, err)
	assert.NotEqual(t, upper.Identity(), other.Identity())

	stamp, err := runner.Stage("stamp", nil)
	require.NoError(t, err)
	assert.Empty(t, stamp.Identity(), "impure tools are not cacheable")

	in := []domain.FileRecord{domain.NewRecord("css/a.css", []byte("a{}"), time.Time{})}
	out, err := stamp.Transform(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "a{}/*css/a.css*/", string(out[0].Content))

	broken, err := runner.Stage("broken", nil)
	require.NoError(t, err)
	_, err = broken.Transform(context.Background(), in)
	var ste *domain.SourceTransformError
	require.ErrorAs(t, err, &ste)
	assert.Equal(t, "css/a.css", ste.Path)

	_, err = runner.Stage("missing", nil)
	assert.True(t, domain.IsConfiguration(err))
}

func TestStage_OptionalMissingToolPassesThrough(t *testing.T) {
	runner := NewRunner(WithRegistry(map[string]ToolConfig{
		"postcss": {Command: "kiln-no-such-binary", Optional: true, Pure: true},
	}))

	s, err := runner.Stage("postcss", nil)
	require.NoError(t, err)
	assert.False(t, s.Available())
	assert.Empty(t, s.Identity())

	out, err := s.Process(context.Background(), domain.NewRecord("a.css", []byte("a{}"), time.Time{}))
	require.NoError(t, err)
	assert.Equal(t, "a{}", string(out))
}

func TestRunner_Task(t *testing.T) {
	skipOnWindows(t)

	dir := t.TempDir()
	runner := NewRunner(WithBaseDir(dir), WithRegistry(map[string]ToolConfig{
		"touch": {Command: "touch", Args: []string{"done"}},
	}))

	require.NoError(t, runner.Task("touch", nil).Run(context.Background()))
	assert.FileExists(t, filepath.Join(dir, "done"))
	assert.Equal(t, []string{"touch"}, runner.Tools())
}

func TestLoadTools(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tools.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
tools:
  - name: sass
    command: sass
    args: ["--stdin", "--load-path=app/scss"]
    pure: true
  - command: ignored
`), 0644))

	tools, err := LoadTools(p)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, []string{"--stdin", "--load-path=app/scss"}, tools["sass"].Args)
	assert.True(t, tools["sass"].Pure)

	tools, err = LoadTools(filepath.Join(dir, "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, tools)
}
