// file: internal/provider/list.go
// version: 1.0.0
// guid: 4b5c6d7e-8f9a-4b0c-9d1e-2f3a4b5c6d7e

package provider

import (
	"fmt"

	"github.com/jdfalk/erpcache/internal/fetchguard"
)

// Identifiable is an element of a cached collection.
type Identifiable interface {
	CacheID() string
}

// Op is a local mutation applied to a cached collection.
type Op int

const (
	OpAdd Op = iota + 1
	OpUpdate
	OpRemove
)

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpUpdate:
		return "update"
	case OpRemove:
		return "remove"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// ParseOp maps "add", "update" and "remove" to an Op.
func ParseOp(s string) (Op, error) {
	switch s {
	case "add":
		return OpAdd, nil
	case "update":
		return OpUpdate, nil
	case "remove":
		return OpRemove, nil
	}
	return 0, fmt.Errorf("unknown mutation %q", s)
}

// ListProvider is a Provider over a collection that supports MutateLocal.
type ListProvider[E Identifiable] struct {
	*Provider[[]E]
}

// NewList creates a ListProvider. A nil Default yields an empty slice.
func NewList[E Identifiable](guard *fetchguard.Guard, sess Session, res Resource[[]E], opts ...Option) *ListProvider[E] {
	if res.Default == nil {
		res.Default = func() []E { return []E{} }
	}
	return &ListProvider[E]{Provider: New(guard, sess, res, opts...)}
}

// MutateLocal patches the collection after a successful write to the
// backend. Adding an existing id replaces it, updating a missing id appends
// it and removing a missing id changes nothing. The result is always a new
// slice so values shared with other readers are never modified.
func (l *ListProvider[E]) MutateLocal(op Op, item E) error {
	if op < OpAdd || op > OpRemove {
		return fmt.Errorf("unknown mutation %v", op)
	}
	l.Mutate(func(items []E) []E {
		return apply(items, op, item)
	})
	return nil
}

func apply[E Identifiable](items []E, op Op, item E) []E {
	id := item.CacheID()
	idx := -1
	for i, it := range items {
		if it.CacheID() == id {
			idx = i
			break
		}
	}

	switch op {
	case OpRemove:
		out := make([]E, 0, len(items))
		for i, it := range items {
			if i != idx {
				out = append(out, it)
			}
		}
		return out
	default:
		out := make([]E, len(items), len(items)+1)
		copy(out, items)
		if idx >= 0 {
			out[idx] = item
			return out
		}
		return append(out, item)
	}
}
