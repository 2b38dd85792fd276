// Package linkpreview holds the types shared by the link preview extractor,
// cache and renderer.
package linkpreview

// Record is the normalized link preview for a single URL.
//
// Every field is optional. A nil field means the source page did not carry
// the corresponding metadata; it is never replaced with an empty string or a
// synthesized value. The zero Record is the empty preview returned whenever a
// fetch or parse fails.
type Record struct {
	Title       *string `json:"title"`
	URL         *string `json:"url"`
	Domain      *string `json:"domain"`
	Image       *string `json:"image"`
	Description *string `json:"description"`
}

// String returns a pointer to s for populating Record fields.
func String(s string) *string {
	return &s
}

// Value dereferences p, returning "" for nil.
func Value(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// IsEmpty reports whether no field of the record is set.
func (r Record) IsEmpty() bool {
	return r.Title == nil && r.URL == nil && r.Domain == nil && r.Image == nil && r.Description == nil
}

// Equal reports whether r and o carry the same fields with the same values.
func (r Record) Equal(o Record) bool {
	return equalField(r.Title, o.Title) &&
		equalField(r.URL, o.URL) &&
		equalField(r.Domain, o.Domain) &&
		equalField(r.Image, o.Image) &&
		equalField(r.Description, o.Description)
}

func equalField(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
