// Package rotation implements the persisted round-robin cursor used to hand
// out duties fairly across a season.
//
// A Cursor is a value: Advance returns the chosen member together with the
// next cursor instead of mutating in place, so callers decide when the new
// position becomes durable.
package rotation

import "slices"

// Cursor is a position in an ordered pool of recipient names.
type Cursor struct {
	Pool []string `json:"pool"`
	Next int      `json:"next"`
}

// New returns a cursor at the start of pool.
func New(pool []string) Cursor {
	return Cursor{Pool: slices.Clone(pool)}
}

// Empty reports whether the cursor has no members to hand out.
func (c Cursor) Empty() bool {
	return len(c.Pool) == 0
}

// Advance returns the member at the current position and the cursor moved one
// step forward, wrapping at the end of the pool. An empty cursor returns ""
// and itself.
func (c Cursor) Advance() (string, Cursor) {
	if c.Empty() {
		return "", c
	}
	idx := c.Next % len(c.Pool)
	if idx < 0 {
		idx += len(c.Pool)
	}
	return c.Pool[idx], Cursor{Pool: c.Pool, Next: (idx + 1) % len(c.Pool)}
}

// Skip advances past members for which skip returns true, trying each member
// at most once. It returns "" and the unchanged cursor when every member is
// skipped.
func (c Cursor) Skip(skip func(name string) bool) (string, Cursor) {
	cur := c
	for range c.Pool {
		name, next := cur.Advance()
		if !skip(name) {
			return name, next
		}
		cur = next
	}
	return "", c
}

// Rebase adapts the cursor to a changed pool. If the member that would be
// handed out next is still present, the new cursor points at it; otherwise the
// old index is kept, wrapped into the new pool's bounds.
func (c Cursor) Rebase(pool []string) Cursor {
	if slices.Equal(c.Pool, pool) {
		return c
	}
	if len(pool) == 0 {
		return Cursor{}
	}
	next := 0
	if !c.Empty() {
		upcoming := c.Pool[((c.Next%len(c.Pool))+len(c.Pool))%len(c.Pool)]
		if i := slices.Index(pool, upcoming); i >= 0 {
			next = i
		} else {
			next = c.Next % len(pool)
		}
	}
	return Cursor{Pool: slices.Clone(pool), Next: next}
}
