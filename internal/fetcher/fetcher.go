// Package fetcher loads cost documents and renders them as marker-delimited
// text: one "=== Sheet: <name> ===" line per sheet followed by its rows.
package fetcher

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
)

// Document is a loaded cost document.
type Document struct {
	Name string
	Text string
}

// Source resolves document references. Local references are confined to
// Dir when it is set; http(s) references are downloaded.
type Source struct {
	Dir  string
	HTTP *HTTPFetcher
}

// NewSource creates a Source rooted at dir.
func NewSource(dir string, http *HTTPFetcher) *Source {
	if http == nil {
		http = NewHTTPFetcher(HTTPOptions{})
	}
	return &Source{Dir: dir, HTTP: http}
}

// Load reads a document by file path or URL.
func (s *Source) Load(ctx context.Context, ref string) (Document, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Document{}, eris.New("fetcher: empty document reference")
	}

	if u, err := url.Parse(ref); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		data, err := s.HTTP.Download(ctx, ref)
		if err != nil {
			return Document{}, err
		}
		name := path.Base(u.Path)
		text, err := Decode(name, data)
		return Document{Name: name, Text: text}, err
	}

	p, err := s.resolve(ref)
	if err != nil {
		return Document{}, err
	}
	return LoadFile(p)
}

func (s *Source) resolve(ref string) (string, error) {
	if s.Dir == "" {
		return ref, nil
	}
	if filepath.IsAbs(ref) {
		return "", eris.Errorf("fetcher: absolute path %q not allowed", ref)
	}
	p := filepath.Join(s.Dir, ref)
	rel, err := filepath.Rel(s.Dir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", eris.Errorf("fetcher: reference %q escapes document dir", ref)
	}
	return p, nil
}

// LoadFile reads a local document.
func LoadFile(p string) (Document, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return Document{}, eris.Wrap(err, "fetcher: read document")
	}
	name := filepath.Base(p)
	text, err := Decode(name, data)
	return Document{Name: name, Text: text}, err
}

// Decode renders raw document bytes as text, choosing the format from the
// file name. Workbooks become marker-delimited sheets; anything else must be
// UTF-8 text and is returned unchanged.
func Decode(name string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return ParseWorkbook(data)
	case ".xls":
		return "", eris.Errorf("fetcher: legacy .xls workbooks are not supported (%s)", name)
	}
	if !utf8.Valid(data) {
		return "", eris.Errorf("fetcher: %s is not UTF-8 text", name)
	}
	return string(data), nil
}
