// file: internal/cache/find_test.go
// version: 1.0.0
// guid: 5c8d2e4a-1f6b-4a9c-8e3d-7b0a2c4e6f81

package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindKeys(t *testing.T) {
	keys := []string{"erp:books?class=5", "erp:schools", "erp:notifications", "auth:token"}

	assert.Equal(t, keys, FindKeys(keys, ""))
	assert.Equal(t, []string{"erp:schools"}, FindKeys(keys, "SCHOOLS"))
	assert.ElementsMatch(t, []string{"erp:books?class=5"}, FindKeys(keys, "bks5"))
	assert.Empty(t, FindKeys(keys, "payroll"))
}

func TestFindKeysRanksCloserMatchesFirst(t *testing.T) {
	keys := []string{"erp:books?class=5&subject=math", "erp:books"}
	assert.Equal(t, []string{"erp:books", "erp:books?class=5&subject=math"}, FindKeys(keys, "books"))
}
