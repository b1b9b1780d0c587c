package kiln_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/kiln"
	"github.com/aretw0/kiln/pkg/domain"
	"github.com/aretw0/kiln/pkg/pipeline"
	"github.com/aretw0/kiln/pkg/watch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const projectYAML = `
dist: dist
cache:
  backend: memory
server:
  debounce: 20ms
pipelines:
  styles:
    source:
      base: app/scss
      patterns: ["**/*.scss"]
      exclude: ["**/_*.scss"]
    stages:
      - use: rename
        with: {extname: .css, suffix: .min}
      - use: minify
    sinks:
      - use: dest
        with: {dir: app/css}
  images:
    source:
      base: app/images
      patterns: ["**/*"]
    stages:
      - use: optimize-image
    sinks:
      - use: dest
        with: {dir: dist/images}
  dist:
    source:
      base: app
      patterns: ["*.html"]
    stages:
      - use: useref
    sinks:
      - use: dest
        with: {dir: dist}
tasks:
  build:
    series:
      - parallel: [styles, images]
      - dist
  watch-init: styles
  default: build
watch:
  - name: styles
    patterns: ["app/scss/**/*.scss"]
    tasks: [styles]
    effect: style-update
`

const indexHTML = `<html><head>
<!-- build:css css/site.css -->
<link rel="stylesheet" href="css/main.min.css">
<!-- endbuild -->
</head><body></body></html>`

func write(t *testing.T, root, rel string, data []byte) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, data, 0o644))
}

func pngBytes(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	write(t, dir, "kiln.yaml", []byte(projectYAML))
	write(t, dir, "app/scss/main.scss", []byte("body {\n  color : red ;\n}\n"))
	write(t, dir, "app/scss/_partial.scss", []byte("$x: 1;"))
	write(t, dir, "app/index.html", []byte(indexHTML))
	write(t, dir, "app/images/a.png", pngBytes(t, color.RGBA{R: 255, A: 255}))
	write(t, dir, "app/images/b.png", pngBytes(t, color.RGBA{B: 255, A: 255}))
	return dir
}

func newEngine(t *testing.T, dir string, opts ...kiln.Option) *kiln.Engine {
	t.Helper()
	eng, err := kiln.New(dir, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func TestEngine_Build(t *testing.T) {
	dir := newProject(t)
	eng := newEngine(t, dir)

	out := eng.Build(context.Background())
	require.True(t, out.Succeeded(), out.Summary())

	css, err := os.ReadFile(filepath.Join(dir, "app/css/main.min.css"))
	require.NoError(t, err)
	assert.Equal(t, "body{color:red}", string(css))
	assert.NoFileExists(t, filepath.Join(dir, "app/css/_partial.min.css"))

	page, err := os.ReadFile(filepath.Join(dir, "dist/index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(page), `<link rel="stylesheet" href="css/site.css">`)

	bundle, err := os.ReadFile(filepath.Join(dir, "dist/css/site.css"))
	require.NoError(t, err)
	assert.Equal(t, "body{color:red}", string(bundle))

	assert.FileExists(t, filepath.Join(dir, "dist/images/a.png"))
	assert.FileExists(t, filepath.Join(dir, "dist/images/b.png"))
}

func TestEngine_RebuildIsIdempotent(t *testing.T) {
	dir := newProject(t)
	eng := newEngine(t, dir)
	ctx := context.Background()

	require.True(t, eng.Build(ctx).Succeeded())
	target := filepath.Join(dir, "app/css/main.min.css")
	before, err := os.Stat(target)
	require.NoError(t, err)
	first, err := os.ReadFile(filepath.Join(dir, "dist/images/a.png"))
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	require.True(t, eng.Build(ctx).Succeeded())

	after, err := os.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())

	second, err := os.ReadFile(filepath.Join(dir, "dist/images/a.png"))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	stats := eng.CacheStats()
	assert.EqualValues(t, 2, stats.Misses)
	assert.EqualValues(t, 2, stats.Hits)
}

func TestEngine_ChangedImageIsRecomputed(t *testing.T) {
	dir := newProject(t)
	eng := newEngine(t, dir)
	ctx := context.Background()

	require.True(t, eng.Build(ctx).Succeeded())
	write(t, dir, "app/images/b.png", pngBytes(t, color.RGBA{G: 255, A: 255}))
	require.True(t, eng.Build(ctx).Succeeded())

	stats := eng.CacheStats()
	assert.EqualValues(t, 3, stats.Misses)
	assert.EqualValues(t, 1, stats.Hits)
}

func TestEngine_RunUnknownTask(t *testing.T) {
	eng := newEngine(t, newProject(t))

	out := eng.Run(context.Background(), "deploy")
	assert.False(t, out.Succeeded())
	assert.True(t, errors.Is(out.Err, domain.ErrTaskNotFound))
}

func TestEngine_FailureIsolatesSinks(t *testing.T) {
	dir := newProject(t)
	write(t, dir, "app/index.html", []byte(`<!-- build:js js/site.js --><script src="js/missing.js"></script><!-- endbuild -->`))
	eng := newEngine(t, dir)

	out := eng.Build(context.Background())
	require.False(t, out.Succeeded())
	assert.Contains(t, out.Failed, "build")
	assert.NoFileExists(t, filepath.Join(dir, "dist/index.html"))

	var ioErr *domain.IOError
	assert.ErrorAs(t, out.Err, &ioErr)
}

func TestNew_ConfigurationError(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "kiln.yaml", []byte("tasks:\n  a: {series: [missing]}\n"))

	_, err := kiln.New(dir)
	require.Error(t, err)
	assert.True(t, domain.IsConfiguration(err))
}

func TestNew_DefaultProjectWithoutConfig(t *testing.T) {
	eng := newEngine(t, t.TempDir())

	names := make([]string, 0)
	for _, info := range eng.Tasks() {
		names = append(names, info.Name)
	}
	assert.Contains(t, names, "build")
	assert.Contains(t, names, "watch-init")
	assert.Contains(t, names, "clean")
	assert.Len(t, eng.Rules(), 4)
}

func TestEngine_CustomStage(t *testing.T) {
	dir := newProject(t)
	write(t, dir, "kiln.yaml", []byte(`
cache: {backend: none}
pipelines:
  banner:
    source: {base: app/scss, patterns: ["main.scss"]}
    stages:
      - use: stamp
        with: {text: "/* kiln */"}
    sinks:
      - use: dest
        with: {dir: out}
`))
	stamp := func(with map[string]any) (pipeline.Stage, error) {
		text, _ := with["text"].(string)
		return pipeline.Header(text), nil
	}
	eng := newEngine(t, dir, kiln.WithStageFactory("stamp", stamp))

	require.True(t, eng.Run(context.Background(), "banner").Succeeded())
	got, err := os.ReadFile(filepath.Join(dir, "out/main.scss"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(got), "/* kiln */body"))
}

type recorder struct {
	mu  sync.Mutex
	got []domain.Signal
}

func (r *recorder) Broadcast(sig domain.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, sig)
}

func (r *recorder) kinds() []domain.SignalKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.SignalKind, len(r.got))
	for i, s := range r.got {
		out[i] = s.Kind
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = nil
}

const watchYAML = `
cache: {backend: none}
server: {debounce: 100ms}
pipelines:
  styles:
    source:
      base: app/scss
      patterns: ["**/*.scss"]
      exclude: ["**/_*.scss"]
    stages:
      - use: scss
      - use: rename
        with: {extname: .css, suffix: .min}
      - use: minify
    sinks:
      - use: dest
        with: {dir: app/css}
tasks:
  watch-init: styles
watch:
  - name: styles
    patterns: ["app/scss/**/*.scss"]
    tasks: [styles]
    effect: style-update
`

// scssStage inlines `@import "variables";` by substituting the $vars declared
// in _variables.scss next to the entry point.
func scssStage(root string) func(map[string]any) (pipeline.Stage, error) {
	return func(map[string]any) (pipeline.Stage, error) {
		return pipeline.Each("scss", func(_ context.Context, rec domain.FileRecord) ([]byte, error) {
			vars, err := os.ReadFile(filepath.Join(root, "app/scss/_variables.scss"))
			if err != nil {
				return nil, err
			}
			var pairs []string
			for _, line := range strings.Split(string(vars), "\n") {
				name, value, ok := strings.Cut(strings.TrimSpace(line), ":")
				if !ok || !strings.HasPrefix(name, "$") {
					continue
				}
				pairs = append(pairs, name, strings.TrimSuffix(strings.TrimSpace(value), ";"))
			}
			var out []string
			for _, line := range strings.Split(string(rec.Content), "\n") {
				if strings.HasPrefix(strings.TrimSpace(line), "@import") {
					continue
				}
				out = append(out, line)
			}
			return []byte(strings.NewReplacer(pairs...).Replace(strings.Join(out, "\n"))), nil
		}), nil
	}
}

// settle drains reports until none arrives for quiet.
func settle(reports <-chan watch.Report, quiet time.Duration) {
	for {
		select {
		case <-reports:
		case <-time.After(quiet):
			return
		}
	}
}

func TestEngine_WatchRebuildsStylesOnPartialChange(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "kiln.yaml", []byte(watchYAML))
	write(t, dir, "app/scss/main.scss", []byte("@import \"variables\";\nbody {\n  color: $brand;\n}\n"))
	write(t, dir, "app/scss/_variables.scss", []byte("$brand: red;\n"))

	rec := &recorder{}
	reports := make(chan watch.Report, 64)
	eng := newEngine(t, dir,
		kiln.WithBroadcaster(rec),
		kiln.WithWatchReport(func(r watch.Report) { reports <- r }),
		kiln.WithStageFactory("scss", scssStage(dir)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Watch(ctx) }()

	target := filepath.Join(dir, "app/css/main.min.css")
	require.Eventually(t, func() bool {
		css, err := os.ReadFile(target)
		return err == nil && string(css) == "body{color:red}"
	}, 5*time.Second, 20*time.Millisecond)

	// The watcher starts after the init run; touch the partial until a run is reported.
	require.Eventually(t, func() bool {
		write(t, dir, "app/scss/_variables.scss", []byte("$brand: red;\n"))
		select {
		case <-reports:
			return true
		default:
			return false
		}
	}, 5*time.Second, 150*time.Millisecond)
	settle(reports, 500*time.Millisecond)
	rec.reset()

	write(t, dir, "app/scss/_variables.scss", []byte("$brand: blue;\n"))

	var report watch.Report
	select {
	case report = <-reports:
	case <-time.After(5 * time.Second):
		t.Fatal("no rebuild after editing the partial")
	}
	settle(reports, 500*time.Millisecond)

	assert.Equal(t, "styles", report.Rule)
	assert.NoError(t, report.Err)
	assert.Equal(t, []domain.SignalKind{domain.SignalStyleUpdate}, rec.kinds())

	css, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "body{color:blue}", string(css))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestEngine_BuildDoesNotBroadcast(t *testing.T) {
	rec := &recorder{}
	eng := newEngine(t, newProject(t), kiln.WithBroadcaster(rec))

	require.True(t, eng.Build(context.Background()).Succeeded())
	assert.Empty(t, rec.kinds())
}
