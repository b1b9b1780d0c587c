package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/aretw0/kiln/pkg/domain"
)

var (
	buildBlock = regexp.MustCompile(`(?s)<!--\s*build:(css|js)\s+(\S+)\s*-->(.*?)<!--\s*endbuild\s*-->`)
	cssRef     = regexp.MustCompile(`<link[^>]*\bhref\s*=\s*["']([^"']+)["'][^>]*>`)
	jsRef      = regexp.MustCompile(`<script[^>]*\bsrc\s*=\s*["']([^"']+)["'][^>]*>`)
)

type userefStage struct {
	root string
}

// Useref resolves build blocks in HTML records:
//
//	<!-- build:css css/site.css --> ... <!-- endbuild -->
//
// Every referenced asset is read from root (relative to the HTML file),
// concatenated into the block target and emitted as a new record, while the
// block is replaced by a single reference. Non-HTML records pass through.
func Useref(root string) Stage {
	return &userefStage{root: root}
}

func (u *userefStage) Name() string { return "useref" }

func (u *userefStage) Transform(_ context.Context, in []domain.FileRecord) ([]domain.FileRecord, error) {
	out := make([]domain.FileRecord, 0, len(in))
	emitted := make(map[string]bool)
	var assets []domain.FileRecord

	for _, rec := range in {
		if rec.Category != domain.CategoryMarkup {
			out = append(out, rec)
			continue
		}
		dir := path.Dir(rec.Path)
		var failure error
		html := buildBlock.ReplaceAllFunc(rec.Content, func(block []byte) []byte {
			if failure != nil {
				return block
			}
			m := buildBlock.FindSubmatch(block)
			kind, target, body := string(m[1]), string(m[2]), m[3]
			assetPath := path.Join(dir, target)
			if !emitted[assetPath] {
				content, modTime, err := u.collect(dir, kind, body)
				if err != nil {
					failure = err
					return block
				}
				emitted[assetPath] = true
				assets = append(assets, domain.NewRecord(assetPath, content, modTime))
			}
			if kind == "css" {
				return []byte(fmt.Sprintf(`<link rel="stylesheet" href="%s">`, target))
			}
			return []byte(fmt.Sprintf(`<script src="%s"></script>`, target))
		})
		if failure != nil {
			return nil, failure
		}
		out = append(out, rec.WithContent(html))
	}
	return append(out, assets...), nil
}

func (u *userefStage) collect(dir, kind string, body []byte) ([]byte, time.Time, error) {
	re := cssRef
	if kind == "js" {
		re = jsRef
	}
	var (
		buf    bytes.Buffer
		latest time.Time
	)
	for i, m := range re.FindAllSubmatch(body, -1) {
		ref := string(m[1])
		if isRemote(ref) {
			continue
		}
		var p string
		if strings.HasPrefix(ref, "/") {
			p = filepath.Join(u.root, filepath.FromSlash(ref))
		} else {
			p = filepath.Join(u.root, filepath.FromSlash(path.Join(dir, ref)))
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, time.Time{}, &domain.IOError{Op: "read", Path: p, Err: err}
		}
		if info, err := os.Stat(p); err == nil && info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.Write(data)
	}
	return buf.Bytes(), latest, nil
}

func isRemote(ref string) bool {
	return strings.HasPrefix(ref, "//") || strings.Contains(ref, "://")
}
