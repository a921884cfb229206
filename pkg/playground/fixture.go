package playground

import (
	"encoding/json"
	"net/url"
)

// FixtureID identifies one fixture. A nil Name means the default export of
// the file at Path.
type FixtureID struct {
	Path string  `json:"path"`
	Name *string `json:"name"`
}

// NewFixtureID returns the id of a named fixture.
func NewFixtureID(path, name string) FixtureID {
	return FixtureID{Path: path, Name: &name}
}

// DefaultFixtureID returns the id of the default export of path.
func DefaultFixtureID(path string) FixtureID {
	return FixtureID{Path: path}
}

// Equal compares two ids by value.
func (f FixtureID) Equal(other FixtureID) bool {
	if f.Path != other.Path {
		return false
	}
	if f.Name == nil || other.Name == nil {
		return f.Name == nil && other.Name == nil
	}
	return *f.Name == *other.Name
}

// IsDefault reports whether the id names the default export of its file.
func (f FixtureID) IsDefault() bool {
	return f.Name == nil
}

func (f FixtureID) String() string {
	if f.Name == nil {
		return f.Path
	}
	return f.Path + "#" + *f.Name
}

// FixtureNamesByPath maps a fixture file path to the names of the fixtures
// it exports. A nil slice means the file has a single default export.
type FixtureNamesByPath map[string][]string

// FixtureIDs flattens the mapping into fixture ids. Order is unspecified.
func (f FixtureNamesByPath) FixtureIDs() []FixtureID {
	ids := make([]FixtureID, 0, len(f))
	for path, names := range f {
		if names == nil {
			ids = append(ids, DefaultFixtureID(path))
			continue
		}
		for _, name := range names {
			ids = append(ids, NewFixtureID(path, name))
		}
	}
	return ids
}

// FixtureState is the renderer-owned state of a selected fixture. It is
// opaque to everything that only routes it.
type FixtureState map[string]any

// FixtureURL returns the playground query string that selects id, e.g.
// "?fixtureId=%7B%22path%22%3A%22a.js%22%2C%22name%22%3Anull%7D".
func FixtureURL(id FixtureID) string {
	encoded, err := json.Marshal(id)
	if err != nil {
		return ""
	}
	query := url.Values{}
	query.Set("fixtureId", string(encoded))
	return "?" + query.Encode()
}

// ParseFixtureURL is the inverse of FixtureURL. It accepts the query string
// with or without the leading "?".
func ParseFixtureURL(rawQuery string) (FixtureID, bool) {
	if len(rawQuery) > 0 && rawQuery[0] == '?' {
		rawQuery = rawQuery[1:]
	}
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return FixtureID{}, false
	}
	encoded := query.Get("fixtureId")
	if encoded == "" {
		return FixtureID{}, false
	}
	var id FixtureID
	if err := json.Unmarshal([]byte(encoded), &id); err != nil || id.Path == "" {
		return FixtureID{}, false
	}
	return id, true
}
