// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package static

import (
	"html/template"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/z5labs/staticd/http1"
)

var listingTemplate = template.Must(template.New("listing").Parse(
	`<html><head><title>{{.Title}}</title></head><body>` +
		`{{if .Parent}}<a href="{{.Parent}}">..</a><br>{{end}}` +
		`{{range .Entries}}<a href="{{.Href}}">{{.Name}}</a><br>{{end}}` +
		`</body></html>`,
))

type listingEntry struct {
	Name string
	Href string
}

type listing struct {
	Title   string
	Parent  string
	Entries []listingEntry
}

// listDirectory renders the immediate children of dir, which is served at
// urlPath. urlPath must be clean and absolute.
func listDirectory(dir, urlPath string) (*http1.StringEntity, error) {
	children, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	l := listing{
		Title:   path.Base(urlPath),
		Entries: make([]listingEntry, 0, len(children)),
	}
	if urlPath != "/" {
		l.Parent = escapePath(path.Dir(urlPath))
	}
	for _, child := range children {
		href := path.Join(urlPath, child.Name())
		if child.IsDir() {
			href += "/"
		}
		l.Entries = append(l.Entries, listingEntry{
			Name: child.Name(),
			Href: escapePath(href),
		})
	}

	var sb strings.Builder
	err = listingTemplate.Execute(&sb, l)
	if err != nil {
		return nil, err
	}
	return http1.NewStringEntity(sb.String(), htmlContentType), nil
}

// escapePath percent-encodes p so that names containing '?', '#' or '%'
// survive the trip back through the request URI.
func escapePath(p string) string {
	return (&url.URL{Path: p}).EscapedPath()
}
