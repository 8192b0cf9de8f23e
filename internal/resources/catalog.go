// file: internal/resources/catalog.go
// version: 1.1.0
// guid: 9a0b1c2d-3e4f-4a5b-8c6d-7e8f9a0b1c2d

// Package resources binds the ERP backend's resources to cached providers.
package resources

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/jdfalk/erpcache/internal/cache"
)

var (
	// ErrUnknownResource is returned for names missing from the catalog.
	ErrUnknownResource = errors.New("unknown resource")
	// ErrInvalidParams is returned for missing or unexpected parameters.
	ErrInvalidParams = errors.New("invalid parameters")
)

// Definition describes one backend resource.
type Definition struct {
	Name string `json:"name"`
	// Path may contain {param} placeholders filled from request params.
	Path       string        `json:"path"`
	TTL        time.Duration `json:"ttl"`
	Params     []string      `json:"params,omitempty"`
	Collection bool          `json:"collection"`
}

// Catalog lists every resource with its default TTL.
var Catalog = []Definition{
	{Name: "schools", Path: "/schools", TTL: 60 * time.Minute, Collection: true},
	{Name: "books", Path: "/books", TTL: 30 * time.Minute, Params: []string{"class", "subject"}, Collection: true},
	{Name: "topics", Path: "/books/{book}/topics", TTL: 30 * time.Minute, Params: []string{"book"}, Collection: true},
	{Name: "inventory", Path: "/inventory", TTL: 10 * time.Minute, Params: []string{"school"}, Collection: true},
	{Name: "finance", Path: "/finance/summary", TTL: 15 * time.Minute, Params: []string{"school", "period"}},
	{Name: "profile", Path: "/users/me", TTL: 60 * time.Minute},
	{Name: "notifications", Path: "/notifications", TTL: 2 * time.Minute, Collection: true},
	{Name: "dashboard", Path: "/dashboard/{role}", TTL: 5 * time.Minute, Params: []string{"role"}},
}

// Lookup returns the catalog entry for name.
func Lookup(name string) (Definition, error) {
	for _, d := range Catalog {
		if d.Name == name {
			return d, nil
		}
	}
	return Definition{}, fmt.Errorf("%w: %q", ErrUnknownResource, name)
}

// Names returns the catalog's resource names in sorted order.
func Names() []string {
	names := make([]string, 0, len(Catalog))
	for _, d := range Catalog {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	return names
}

// PathParams lists the placeholders in the definition's path.
func (d Definition) PathParams() []string {
	var out []string
	rest := d.Path
	for {
		start := strings.IndexByte(rest, '{')
		if start < 0 {
			return out
		}
		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			return out
		}
		out = append(out, rest[start+1:start+end])
		rest = rest[start+end+1:]
	}
}

// Request splits params into the request path and the remaining query
// params. Every path placeholder must be set.
func (d Definition) Request(params cache.Params) (string, cache.Params, error) {
	query := make(cache.Params, len(params))
	for k, v := range params {
		query[k] = v
	}
	path := d.Path
	for _, name := range d.PathParams() {
		s, ok := cache.ParamString(query[name])
		if !ok || s == "" {
			return "", nil, fmt.Errorf("%w: resource %s requires parameter %q", ErrInvalidParams, d.Name, name)
		}
		path = strings.ReplaceAll(path, "{"+name+"}", url.PathEscape(s))
		delete(query, name)
	}
	return path, query, nil
}

// ValidateParams rejects params the resource does not accept.
func (d Definition) ValidateParams(params cache.Params) error {
	for name := range params {
		known := false
		for _, p := range d.Params {
			if p == name {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("%w: resource %s does not accept parameter %q", ErrInvalidParams, d.Name, name)
		}
	}
	return nil
}
