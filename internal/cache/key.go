// file: internal/cache/key.go
// version: 1.0.0
// guid: 6b7c8d9e-0f1a-4b2c-9d3e-4f5a6b7c8d9e

package cache

import (
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strings"
)

// DefaultNamespace prefixes every key derived through Scoped("") or the
// package-level helpers.
const DefaultNamespace = "erp:"

// Params are the query parameters of a resource request.
type Params map[string]any

// KeyPolicy derives cache keys for one namespace (tenant scope).
type KeyPolicy struct {
	Namespace string
}

// Scoped returns a KeyPolicy for ns, falling back to DefaultNamespace.
func Scoped(ns string) KeyPolicy {
	if ns == "" {
		ns = DefaultNamespace
	}
	return KeyPolicy{Namespace: ns}
}

// DeriveKey builds a deterministic key for resource and params. Parameter
// names are sorted and unset (nil) parameters are dropped, so requests that
// differ only in ordering or in omitted optional filters share a key.
func (p KeyPolicy) DeriveKey(resource string, params Params) string {
	names := make([]string, 0, len(params))
	values := make(map[string]string, len(params))
	for name, v := range params {
		s, ok := ParamString(v)
		if !ok {
			continue
		}
		names = append(names, name)
		values[name] = s
	}

	prefix := p.Prefix(resource)
	if len(names) == 0 {
		return strings.TrimSuffix(prefix, "?")
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(prefix)
	for i, name := range names {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(values[name]))
	}
	return b.String()
}

// Prefix is the part shared by every key of resource. It ends in '?', which
// an escaped resource name never contains, so one resource's prefix never
// matches another resource's keys.
func (p KeyPolicy) Prefix(resource string) string {
	return p.Namespace + url.PathEscape(resource) + "?"
}

// BareKey is the key of resource requested without parameters.
func (p KeyPolicy) BareKey(resource string) string {
	return strings.TrimSuffix(p.Prefix(resource), "?")
}

// DeriveKey derives a key in DefaultNamespace.
func DeriveKey(resource string, params Params) string {
	return Scoped("").DeriveKey(resource, params)
}

// ParamString formats a parameter value. ok is false for unset values: nil
// and nil pointers, maps or slices.
func ParamString(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return "", false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return "", false
		}
	}
	return fmt.Sprint(rv.Interface()), true
}
