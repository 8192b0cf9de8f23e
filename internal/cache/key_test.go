// file: internal/cache/key_test.go
// version: 1.0.0
// guid: c3d4e5f6-a7b8-4c9d-8e0f-1a2b3c4d5e6f

package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveKeyOrderIndependent(t *testing.T) {
	a := DeriveKey("books", Params{"a": 1, "b": 2})
	b := DeriveKey("books", Params{"b": 2, "a": 1})
	assert.Equal(t, a, b)
	assert.Equal(t, "erp:books?a=1&b=2", a)
}

func TestDeriveKeyOmitsUnsetParams(t *testing.T) {
	var unsetClass *string
	var nilSlice []string
	subject := "math"

	tests := []struct {
		name   string
		params Params
	}{
		{"nil value", Params{"class": nil, "subject": "math"}},
		{"nil pointer", Params{"class": unsetClass, "subject": "math"}},
		{"nil slice", Params{"tags": nilSlice, "subject": "math"}},
		{"pointer deref", Params{"subject": &subject}},
	}
	want := DeriveKey("books", Params{"subject": "math"})
	for _, tt := range tests {
		assert.Equal(t, want, DeriveKey("books", tt.params), tt.name)
	}
}

func TestDeriveKeyNoParams(t *testing.T) {
	assert.Equal(t, "erp:schools", DeriveKey("schools", nil))
	assert.Equal(t, "erp:schools", DeriveKey("schools", Params{"x": nil}))
}

func TestDeriveKeyDistinctResourcesNeverCollide(t *testing.T) {
	keys := map[string]bool{}
	cases := []struct {
		resource string
		params   Params
	}{
		{"books", nil},
		{"books", Params{"class": 5}},
		{"books?class=5", nil},
		{"books%3Fclass=5", nil},
		{"topics", Params{"class": 5}},
		{"books", Params{"class": "5&subject=x"}},
		{"books", Params{"class": 5, "subject": "x"}},
	}
	for _, c := range cases {
		k := DeriveKey(c.resource, c.params)
		assert.False(t, keys[k], "collision on %q", k)
		keys[k] = true
	}
}

func TestPrefixMatchesOnlyOwnResource(t *testing.T) {
	p := Scoped("")
	prefix := p.Prefix("books")

	assert.True(t, strings.HasPrefix(p.DeriveKey("books", Params{"class": 1}), prefix))
	assert.False(t, strings.HasPrefix(p.DeriveKey("booksx", Params{"class": 1}), prefix))
	assert.Equal(t, "erp:books", p.BareKey("books"))
}

func TestScopedNamespaces(t *testing.T) {
	tenantA := Scoped("tenant-a:")
	tenantB := Scoped("tenant-b:")
	assert.NotEqual(t, tenantA.DeriveKey("schools", nil), tenantB.DeriveKey("schools", nil))
	assert.Equal(t, DefaultNamespace, Scoped("").Namespace)
}
