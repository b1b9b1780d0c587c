package pipeline

import (
	"context"
	"path"
	"regexp"
	"strings"

	"github.com/aretw0/kiln/pkg/domain"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
	"github.com/tdewolff/minify/v2/json"
	"github.com/tdewolff/minify/v2/svg"
)

const (
	mediaCSS  = "text/css"
	mediaJS   = "application/javascript"
	mediaHTML = "text/html"
	mediaSVG  = "image/svg+xml"
	mediaJSON = "application/json"
)

var minifier = newMinifier()

func newMinifier() *minify.M {
	m := minify.New()
	m.AddFunc(mediaCSS, css.Minify)
	m.AddFunc(mediaHTML, html.Minify)
	m.AddFunc(mediaSVG, svg.Minify)
	m.AddFunc(mediaJSON, json.Minify)
	m.AddFuncRegexp(regexp.MustCompile(`^(application|text)/(x-)?(java|ecma)script$`), js.Minify)
	return m
}

// mediaTypeOf returns the minifier media type for p, or "" when unsupported.
func mediaTypeOf(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".css":
		return mediaCSS
	case ".js", ".mjs":
		return mediaJS
	case ".html", ".htm":
		return mediaHTML
	case ".svg":
		return mediaSVG
	case ".json":
		return mediaJSON
	}
	return ""
}

// Minify compresses stylesheets, scripts, markup, SVG and JSON. Other
// records pass through unchanged.
func Minify() Stage {
	return Each("minify", minifyRecord)
}

func minifyRecord(_ context.Context, rec domain.FileRecord) ([]byte, error) {
	mt := mediaTypeOf(rec.Path)
	if mt == "" {
		return rec.Content, nil
	}
	return minifier.Bytes(mt, rec.Content)
}
