// Package opengraph extracts Open Graph metadata from fetched pages and
// normalizes it into a linkpreview.Record.
package opengraph

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// RawMetadata maps a metadata property name (e.g. "og:title") to its values
// in document order. Repeated tags append to the slice.
type RawMetadata map[string][]string

// Add appends value to the values of property.
func (m RawMetadata) Add(property, value string) {
	m[property] = append(m[property], value)
}

// First returns the first value of property.
func (m RawMetadata) First(property string) (string, bool) {
	values := m[property]
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// Parse collects the <meta> properties of an HTML document. Both the
// property= form used by Open Graph and the name= form used by Twitter cards
// are read; tags without a content attribute are skipped.
func Parse(r io.Reader) (RawMetadata, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}

	meta := make(RawMetadata)
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		content, ok := s.Attr("content")
		if !ok {
			return
		}
		name := s.AttrOr("property", "")
		if name == "" {
			name = s.AttrOr("name", "")
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			return
		}
		meta.Add(name, strings.TrimSpace(content))
	})
	return meta, nil
}
