package domain

import (
	"path"
	"strings"
	"time"
)

// Category classifies a FileRecord by content type.
type Category string

const (
	CategoryStyle  Category = "style"
	CategorySource Category = "source" // pre-compilation styles (scss, sass)
	CategoryScript Category = "script"
	CategoryMarkup Category = "markup"
	CategoryImage  Category = "image"
	CategoryFont   Category = "font"
	CategoryOther  Category = "other"
)

var categoryByExt = map[string]Category{
	".css":   CategoryStyle,
	".scss":  CategorySource,
	".sass":  CategorySource,
	".js":    CategoryScript,
	".mjs":   CategoryScript,
	".html":  CategoryMarkup,
	".htm":   CategoryMarkup,
	".png":   CategoryImage,
	".jpg":   CategoryImage,
	".jpeg":  CategoryImage,
	".gif":   CategoryImage,
	".svg":   CategoryImage,
	".webp":  CategoryImage,
	".woff":  CategoryFont,
	".woff2": CategoryFont,
	".ttf":   CategoryFont,
	".otf":   CategoryFont,
	".eot":   CategoryFont,
}

// CategoryOf returns the category implied by the extension of p.
func CategoryOf(p string) Category {
	if c, ok := categoryByExt[strings.ToLower(path.Ext(p))]; ok {
		return c
	}
	return CategoryOther
}

// FileRecord is a single file flowing through a pipeline.
// Path is slash-separated and relative to the pipeline source base.
type FileRecord struct {
	Path     string    `json:"path"`
	Content  []byte    `json:"-"`
	Category Category  `json:"category"`
	ModTime  time.Time `json:"mod_time"`
}

// NewRecord builds a record and derives its category from the path.
func NewRecord(p string, content []byte, modTime time.Time) FileRecord {
	p = path.Clean(strings.ReplaceAll(p, "\\", "/"))
	return FileRecord{
		Path:     p,
		Content:  content,
		Category: CategoryOf(p),
		ModTime:  modTime,
	}
}

// WithPath returns a copy of r moved to p; the category follows the new extension.
func (r FileRecord) WithPath(p string) FileRecord {
	r.Path = path.Clean(p)
	r.Category = CategoryOf(r.Path)
	return r
}

// WithContent returns a copy of r holding content.
func (r FileRecord) WithContent(content []byte) FileRecord {
	r.Content = content
	return r
}
