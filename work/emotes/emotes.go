// Package emotes holds the name→id lookup tables used to resolve chat emote
// names to upstream assets. The two mappings (channel-scoped and global) are
// replaced wholesale on each reconciliation; readers always see a complete
// table, never a partial refresh.
package emotes

import "sync/atomic"

type snapshot struct {
	global  map[string]string
	channel map[string]string
}

// Table is the snapshot holder. The zero value is not usable; call NewTable.
type Table struct {
	current atomic.Pointer[snapshot]
}

// NewTable returns an empty table.
func NewTable() *Table {
	t := &Table{}
	t.current.Store(&snapshot{
		global:  map[string]string{},
		channel: map[string]string{},
	})
	return t
}

// Replace swaps in a new complete pair of mappings. The maps are owned by
// the table after the call and must not be mutated by the caller.
func (t *Table) Replace(global, channel map[string]string) {
	if global == nil {
		global = map[string]string{}
	}
	if channel == nil {
		channel = map[string]string{}
	}
	t.current.Store(&snapshot{global: global, channel: channel})
}

// Resolve maps a display name to an upstream emote id. Channel emotes
// shadow global ones.
func (t *Table) Resolve(name string) (string, bool) {
	snap := t.current.Load()
	if id, ok := snap.channel[name]; ok {
		return id, true
	}
	id, ok := snap.global[name]
	return id, ok
}

// Len returns the total number of known emote names.
func (t *Table) Len() int {
	snap := t.current.Load()
	return len(snap.global) + len(snap.channel)
}
