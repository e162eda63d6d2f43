// Package route classifies request paths into static pages, static assets
// and API endpoints. There is no route table: the class follows from the
// shape of the path alone.
package route

import (
	"mime"
	"path"
	"slices"
	"strings"
)

type Class int

const (
	StaticPage Class = iota
	StaticAsset
	ApiEndpoint
)

func (c Class) String() string {
	switch c {
	case StaticPage:
		return "static_page"
	case StaticAsset:
		return "static_asset"
	case ApiEndpoint:
		return "api"
	default:
		return "unknown"
	}
}

const (
	PagesDir  = "pages"
	ImagesDir = "images"
	ApiDir    = "api"
	IndexPage = "index.html"
)

var imageExtensions = []string{"png", "jpg", "jpeg", "gif", "ico"}

// Param is one key=value pair from a query string or form body.
type Param struct {
	Key   string
	Value string
}

type Params []Param

// Get returns the first value for key.
func (p Params) Get(key string) (string, bool) {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

type Target struct {
	Class     Class
	Directory string
	Resource  string
	Query     Params
	// Binary marks image assets, served as raw bytes.
	Binary      bool
	ContentType string
}

// Resolve maps a request path, including any ?query suffix, to a Target.
func Resolve(rawPath string) Target {
	p, rawQuery, _ := strings.Cut(rawPath, "?")
	t := classify(p)
	t.Query = ParseQuery(rawQuery)

	ext := extension(t.Resource)
	switch {
	case slices.Contains(imageExtensions, ext):
		t.Directory = ImagesDir
		t.Binary = true
		t.ContentType = "image/" + ext
	case t.Class == ApiEndpoint:
		t.ContentType = "application/json"
	case ext == "html":
		t.ContentType = "text/html; charset=utf-8"
	default:
		t.ContentType = mime.TypeByExtension("." + ext)
		if t.ContentType == "" {
			t.ContentType = "application/octet-stream"
		}
	}
	return t
}

func classify(p string) Target {
	if p == "/" || p == "" {
		return Target{Class: StaticPage, Directory: PagesDir, Resource: IndexPage}
	}

	segments := strings.Split(p, "/")
	last := segments[len(segments)-1]

	if !strings.Contains(p, ".") {
		if slices.Contains(segments, ApiDir) {
			return Target{Class: ApiEndpoint, Directory: ApiDir, Resource: last}
		}
		if last == "" {
			last = strings.TrimSuffix(IndexPage, ".html")
		}
		return Target{Class: StaticPage, Directory: PagesDir, Resource: last + ".html"}
	}

	dir := strings.Join(segments[:len(segments)-1], "/")
	dir = strings.TrimPrefix(dir, "/")
	return Target{Class: StaticAsset, Directory: dir, Resource: last}
}

func extension(resource string) string {
	ext := path.Ext(resource)
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// ParseQuery splits raw on '&' and then on the first '='. Order and
// duplicates are kept; a pair without '=' gets an empty value.
func ParseQuery(raw string) Params {
	if raw == "" {
		return nil
	}
	var out Params
	for pair := range strings.SplitSeq(raw, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		out = append(out, Param{Key: k, Value: v})
	}
	return out
}
