package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/kiln/pkg/domain"
	"github.com/aretw0/kiln/pkg/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(p, content string) domain.FileRecord {
	return domain.NewRecord(p, []byte(content), time.Time{})
}

func TestConcat(t *testing.T) {
	in := []domain.FileRecord{rec("a.js", "var a;"), rec("b.js", "var b;")}

	out, err := pipeline.Concat("bundle.min.js", "\n").Transform(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "bundle.min.js", out[0].Path)
	assert.Equal(t, "var a;\nvar b;", string(out[0].Content))
	assert.Equal(t, domain.CategoryScript, out[0].Category)

	out, err = pipeline.Concat("bundle.min.js", "\n").Transform(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRename(t *testing.T) {
	cases := []struct {
		opts pipeline.RenameOptions
		in   string
		want string
	}{
		{pipeline.RenameOptions{Suffix: ".min"}, "css/app.css", "css/app.min.css"},
		{pipeline.RenameOptions{Extname: ".css"}, "main.scss", "main.css"},
		{pipeline.RenameOptions{Dirname: "dist", Prefix: "x-"}, "a/b.js", "dist/x-b.js"},
		{pipeline.RenameOptions{Basename: "index"}, "home.html", "index.html"},
	}
	for _, tc := range cases {
		out, err := pipeline.Rename(tc.opts).Transform(context.Background(), []domain.FileRecord{rec(tc.in, "")})
		require.NoError(t, err)
		assert.Equal(t, tc.want, out[0].Path)
	}
}

func TestRename_UpdatesCategory(t *testing.T) {
	out, err := pipeline.Rename(pipeline.RenameOptions{Extname: ".css"}).
		Transform(context.Background(), []domain.FileRecord{rec("main.scss", "")})
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryStyle, out[0].Category)
}

func TestFilterAndReject(t *testing.T) {
	in := []domain.FileRecord{rec("a.js", ""), rec("a.css", ""), rec("lib/b.js", "")}

	kept, err := pipeline.Filter("**/*.js").Transform(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.js", "lib/b.js"}, paths(kept))

	dropped, err := pipeline.Reject("**/*.js").Transform(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.css"}, paths(dropped))
}

func TestIf_AppliesOnlyToMatches(t *testing.T) {
	in := []domain.FileRecord{rec("index.html", "<p>x</p>"), rec("app.js", "a")}
	upper := pipeline.Header("// top\n")

	out, err := pipeline.If("**/*.js", upper).Transform(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "<p>x</p>", string(out[0].Content))
	assert.Equal(t, "// top\na", string(out[1].Content))
}

func TestReplace(t *testing.T) {
	out, err := pipeline.Replace("@VERSION@", "1.2.0").
		Transform(context.Background(), []domain.FileRecord{rec("a.js", "v=@VERSION@;w=@VERSION@")})
	require.NoError(t, err)
	assert.Equal(t, "v=1.2.0;w=1.2.0", string(out[0].Content))
}

func TestMap_ErrorCarriesPath(t *testing.T) {
	boom := errors.New("syntax error")
	s := pipeline.Map("compile", func(_ context.Context, r domain.FileRecord) (domain.FileRecord, error) {
		return r, boom
	})

	_, err := s.Transform(context.Background(), []domain.FileRecord{rec("main.scss", "")})

	var ste *domain.SourceTransformError
	require.ErrorAs(t, err, &ste)
	assert.Equal(t, "compile", ste.Stage)
	assert.Equal(t, "main.scss", ste.Path)
	assert.ErrorIs(t, err, boom)
}

func TestMinify(t *testing.T) {
	in := []domain.FileRecord{
		rec("a.css", "body {\n  color : red ;\n}\n"),
		rec("a.js", "function add ( a , b ) {\n  return a + b ;\n}\n"),
		rec("font.woff", "binary"),
	}

	out, err := pipeline.Minify().Transform(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "body{color:red}", string(out[0].Content))
	assert.Less(t, len(out[1].Content), len(in[1].Content))
	assert.Contains(t, string(out[1].Content), "return a+b")
	assert.Equal(t, "binary", string(out[2].Content))
}

func TestUseref(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "css/a.css", "a{}")
	writeFile(t, root, "css/b.css", "b{}")
	writeFile(t, root, "js/app.js", "app();")

	html := `<html><head>
<!-- build:css css/site.css -->
<link rel="stylesheet" href="css/a.css">
<link rel="stylesheet" href="css/b.css">
<!-- endbuild -->
</head><body>
<!-- build:js js/site.js -->
<script src="js/app.js"></script>
<script src="https://cdn.example.com/lib.js"></script>
<!-- endbuild -->
</body></html>`

	out, err := pipeline.Useref(root).Transform(context.Background(), []domain.FileRecord{rec("index.html", html)})
	require.NoError(t, err)
	require.Equal(t, []string{"index.html", "css/site.css", "js/site.js"}, paths(out))

	page := string(out[0].Content)
	assert.Contains(t, page, `<link rel="stylesheet" href="css/site.css">`)
	assert.Contains(t, page, `<script src="js/site.js"></script>`)
	assert.NotContains(t, page, "build:")
	assert.Equal(t, "a{}\nb{}", string(out[1].Content))
	assert.Equal(t, "app();", string(out[2].Content))
}

func TestUseref_MissingAssetIsIOError(t *testing.T) {
	html := "<!-- build:js js/site.js --><script src=\"js/missing.js\"></script><!-- endbuild -->"

	_, err := pipeline.Useref(t.TempDir()).Transform(context.Background(), []domain.FileRecord{rec("index.html", html)})

	var ioe *domain.IOError
	assert.ErrorAs(t, err, &ioe)
}
