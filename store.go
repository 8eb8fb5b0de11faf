package txcore

import (
	"bytes"
	"fmt"

	"github.com/benbjohnson/immutable"
)

// LowerInterpolantStore maps shadow-memory keys to interpolant values.
type LowerInterpolantStore map[*Variable]*InterpolantValue

// TopInterpolantStore groups interpolant values per allocation context.
type TopInterpolantStore map[*AllocationContext]LowerInterpolantStore

// contextComparer orders *AllocationContext keys. Implements immutable.Comparer.
type contextComparer struct{}

func (contextComparer) Compare(a, b interface{}) int {
	return CompareAllocationContext(a.(*AllocationContext), b.(*AllocationContext))
}

// variableComparer orders *Variable keys. Implements immutable.Comparer.
type variableComparer struct{}

func (variableComparer) Compare(a, b interface{}) int {
	return CompareVariable(a.(*Variable), b.(*Variable))
}

func newVariableMap() *immutable.SortedMap {
	return immutable.NewSortedMap(variableComparer{})
}

// MiddleStore is the per-object slice of shadow memory: an allocation
// generation tag plus one map per addressing mode. A key never appears
// in both maps, since a variable's offset is either a literal or not.
type MiddleStore struct {
	allocInfo AllocationInfo
	concrete  *immutable.SortedMap // *Variable -> *StoreEntry
	symbolic  *immutable.SortedMap // *Variable -> *StoreEntry
}

func newMiddleStore(info AllocationInfo) *MiddleStore {
	return &MiddleStore{
		allocInfo: info,
		concrete:  newVariableMap(),
		symbolic:  newVariableMap(),
	}
}

// HasAllocationInfo returns true if the store holds the given generation.
func (m *MiddleStore) HasAllocationInfo(info AllocationInfo) bool {
	return m.allocInfo == info
}

// Find returns the latest entry for loc, dispatching on addressing mode.
func (m *MiddleStore) Find(loc *StateAddress) *StoreEntry {
	var v interface{}
	if loc.HasConstantAddress() {
		v, _ = m.concrete.Get(loc.AsVariable())
	} else {
		v, _ = m.symbolic.Get(loc.AsVariable())
	}
	if v == nil {
		return nil
	}
	return v.(*StoreEntry)
}

// updateStore inserts a fresh entry for a write to loc, returning the
// updated store and the entry. A location from another allocation
// generation yields a nil entry; the caller evicts to the historical
// stores and retries on a fresh middle store.
func (m *MiddleStore) updateStore(loc *StateAddress, address, value *StateValue, depth uint64) (*MiddleStore, *StoreEntry) {
	if !m.HasAllocationInfo(loc.Info) {
		return m, nil
	}

	entry := NewStoreEntry(loc, address, value, depth)
	other := &MiddleStore{allocInfo: m.allocInfo, concrete: m.concrete, symbolic: m.symbolic}
	if loc.HasConstantAddress() {
		other.concrete = other.concrete.Set(loc.AsVariable(), entry)
	} else {
		other.symbolic = other.symbolic.Set(loc.AsVariable(), entry)
	}
	return other, entry
}

// Dump returns a human-readable rendering of the store under prefix.
func (m *MiddleStore) Dump(prefix string) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s%s:\n", prefix, m.allocInfo)
	dumpLowerStore(&buf, prefix, "concretely-addressed store", m.concrete)
	buf.WriteString("\n")
	dumpLowerStore(&buf, prefix, "symbolically-addressed store", m.symbolic)
	return buf.String()
}

func dumpLowerStore(buf *bytes.Buffer, prefix, label string, m *immutable.SortedMap) {
	next := appendTab(prefix)
	fmt.Fprintf(buf, "%s%s = [", prefix, label)
	if m.Len() > 0 {
		buf.WriteString("\n")
		itr := m.Iterator()
		for !itr.Done() {
			k, v := itr.Next()
			fmt.Fprintf(buf, "%s%s:\n%s\n", next, k.(*Variable), v.(*StoreEntry).Dump(appendTab(next)))
		}
		buf.WriteString(prefix)
	}
	buf.WriteString("]")
}

// TxStore is the per-path shadow memory. It records the latest value
// written to every cell together with the provenance needed to later
// extract a minimal interpolant, and mirrors the interpolation tree:
// child stores are snapshots created on split, and the used-by-path
// sets name the entries proven relevant to each child.
type TxStore struct {
	depth  uint64
	parent *TxStore
	left   *TxStore
	right  *TxStore

	store              *immutable.SortedMap // *AllocationContext -> *MiddleStore
	concreteHistorical *immutable.SortedMap // *Variable -> *StoreEntry
	symbolicHistorical *immutable.SortedMap // *Variable -> *StoreEntry

	usedByLeftPath  map[*StoreEntry]struct{}
	usedByRightPath map[*StoreEntry]struct{}
}

// NewTxStore returns an empty root shadow memory.
func NewTxStore() *TxStore {
	return &TxStore{
		store:              immutable.NewSortedMap(contextComparer{}),
		concreteHistorical: newVariableMap(),
		symbolicHistorical: newVariableMap(),
		usedByLeftPath:     make(map[*StoreEntry]struct{}),
		usedByRightPath:    make(map[*StoreEntry]struct{}),
	}
}

// Depth returns the tree depth of the store.
func (s *TxStore) Depth() uint64 { return s.depth }

// fork returns a child snapshot of the store. Entries are shared by
// reference; the maps are persistent, so later writes to either copy
// never disturb the other.
func (s *TxStore) fork() *TxStore {
	return &TxStore{
		depth:              s.depth + 1,
		parent:             s,
		store:              s.store,
		concreteHistorical: s.concreteHistorical,
		symbolicHistorical: s.symbolicHistorical,
		usedByLeftPath:     make(map[*StoreEntry]struct{}),
		usedByRightPath:    make(map[*StoreEntry]struct{}),
	}
}

// Find returns the latest entry written at loc, or nil.
func (s *TxStore) Find(loc *StateAddress) *StoreEntry {
	v, _ := s.store.Get(loc.Context)
	if v == nil {
		return nil
	}
	return v.(*MiddleStore).Find(loc)
}

// FindByExpr returns the addresses whose latest concretely-addressed
// entry holds expr as its content.
func (s *TxStore) FindByExpr(expr Expr) []*StateAddress {
	var result []*StateAddress
	itr := s.store.Iterator()
	for !itr.Done() {
		_, v := itr.Next()
		lower := v.(*MiddleStore).concrete.Iterator()
		for !lower.Done() {
			_, lv := lower.Next()
			entry := lv.(*StoreEntry)
			if CompareExpr(entry.Content.Expression(), expr) == 0 {
				result = append(result, entry.Location)
			}
		}
	}
	return result
}

// UpdateStoreWithLoadedValue records a load: the store is updated as for
// a write, and address is remembered as a load address of value.
func (s *TxStore) UpdateStoreWithLoadedValue(loc *StateAddress, address, value *StateValue) {
	s.UpdateStore(loc, address, value)
	value.AddLoadAddress(address)
}

// UpdateStore records a write of value at loc. The provenance of value
// is marked used on the current path before being renewed, and a
// location whose allocation generation changed evicts the stale middle
// store to the historical stores first.
func (s *TxStore) UpdateStore(loc *StateAddress, address, value *StateValue) {
	if loc == nil {
		return
	}

	// Only used entries end up in the interpolant.
	s.MarkUsed(value.EntryList())
	value.ResetEntryList()

	if v, ok := s.store.Get(loc.Context); ok {
		middle := v.(*MiddleStore)
		if middle.HasAllocationInfo(loc.Info) {
			middle, entry := middle.updateStore(loc, address, value, s.depth)
			s.store = s.store.Set(loc.Context, middle)
			if entry != nil {
				value.AddStoreEntry(entry)
			}
			return
		}

		// The allocation was recycled; save the old generation.
		s.concreteHistorical = mergeLowerStore(s.concreteHistorical, middle.concrete)
		s.symbolicHistorical = mergeLowerStore(s.symbolicHistorical, middle.symbolic)
	}

	middle, entry := newMiddleStore(loc.Info).updateStore(loc, address, value, s.depth)
	s.store = s.store.Set(loc.Context, middle)
	if entry != nil {
		value.AddStoreEntry(entry)
	}
}

func mergeLowerStore(dst, src *immutable.SortedMap) *immutable.SortedMap {
	itr := src.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		dst = dst.Set(k, v)
	}
	return dst
}

// MarkUsed registers every entry as used on the path leading here: each
// ancestor store at or above the entry's creation depth records the
// entry on the side its subtree was reached through. The walk stops
// early once an ancestor already holds the entry on that side, since an
// earlier walk is guaranteed to have reached the rest.
func (s *TxStore) MarkUsed(entries []*StoreEntry) {
	for _, e := range entries {
		// Entries created in or below this node are locally owned.
		// Note e.Depth > s.depth is possible, since values are
		// associated with newly created entries in UpdateStore.
		if e.Depth >= s.depth {
			continue
		}

		prev, current := s, s.parent
		for current != nil && e.Depth <= current.depth {
			var used map[*StoreEntry]struct{}
			switch prev {
			case current.left:
				used = current.usedByLeftPath
			case current.right:
				used = current.usedByRightPath
			default:
				assert(false, "child store is neither left nor right")
			}
			if _, ok := used[e]; ok {
				break
			}
			used[e] = struct{}{}
			prev, current = current, current.parent
		}
	}
}

// UsedOnPath reports whether e is recorded used for the given side.
func (s *TxStore) UsedOnPath(e *StoreEntry, left bool) bool {
	if left {
		_, ok := s.usedByLeftPath[e]
		return ok
	}
	_, ok := s.usedByRightPath[e]
	return ok
}

// GetStoredExpressions flattens the live and historical stores into four
// interpolant maps: concretely and symbolically addressed live entries
// grouped per allocation context, and the two historical counterparts.
//
// With coreOnly false every entry is emitted with its original value
// retained. With coreOnly true an entry is emitted only when its content
// carries the core flag and the entry is recorded used on the side
// selected by leftRetrieval; symbolically-addressed entries are then
// re-keyed by their address after substitution. Substitution through
// replacements is suppressed by cfg.NoExistential.
func (s *TxStore) GetStoredExpressions(c *Context, cfg Config, replacements map[*Array]*Array, coreOnly, leftRetrieval bool) (concrete, symbolic TopInterpolantStore, concreteHistorical, symbolicHistorical LowerInterpolantStore) {
	concrete = make(TopInterpolantStore)
	symbolic = make(TopInterpolantStore)
	concreteHistorical = make(LowerInterpolantStore)
	symbolicHistorical = make(LowerInterpolantStore)

	itr := s.store.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		context, middle := k.(*AllocationContext), v.(*MiddleStore)

		if m := s.lowerToInterpolant(c, cfg, replacements, coreOnly, leftRetrieval, false, middle.concrete); len(m) > 0 {
			concrete[context] = m
		}
		if m := s.lowerToInterpolant(c, cfg, replacements, coreOnly, leftRetrieval, true, middle.symbolic); len(m) > 0 {
			symbolic[context] = m
		}
	}

	s.lowerToInterpolantInto(c, cfg, replacements, coreOnly, leftRetrieval, false, s.concreteHistorical, concreteHistorical)
	s.lowerToInterpolantInto(c, cfg, replacements, coreOnly, leftRetrieval, true, s.symbolicHistorical, symbolicHistorical)
	return concrete, symbolic, concreteHistorical, symbolicHistorical
}

func (s *TxStore) lowerToInterpolant(c *Context, cfg Config, replacements map[*Array]*Array, coreOnly, leftRetrieval, symbolic bool, src *immutable.SortedMap) LowerInterpolantStore {
	out := make(LowerInterpolantStore)
	s.lowerToInterpolantInto(c, cfg, replacements, coreOnly, leftRetrieval, symbolic, src, out)
	return out
}

func (s *TxStore) lowerToInterpolantInto(c *Context, cfg Config, replacements map[*Array]*Array, coreOnly, leftRetrieval, symbolic bool, src *immutable.SortedMap, out LowerInterpolantStore) {
	itr := src.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		variable, entry := k.(*Variable), v.(*StoreEntry)

		if !coreOnly {
			iv := entry.Content.InterpolantValue(c, nil)
			iv.SetOriginalValue(entry.Content)
			out[variable] = iv
			continue
		}

		// An address is in the core if it stores a value that is in
		// the core, and only used entries may enter the interpolant.
		if !entry.Content.IsCore() || !s.UsedOnPath(entry, leftRetrieval) {
			continue
		}

		if cfg.NoExistential {
			out[variable] = entry.Content.InterpolantValue(c, nil)
			continue
		}
		if symbolic {
			variable = entry.Location.Substitute(c, replacements).AsVariable()
		}
		out[variable] = entry.Content.InterpolantValue(c, replacements)
	}
}

// Dump returns a human-readable rendering of the whole store at the
// given indentation depth.
func (s *TxStore) Dump(indent int) string {
	tabs := makeTabs(indent)
	next := appendTab(tabs)
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "%sstore = [", tabs)
	if s.store.Len() > 0 {
		buf.WriteString("\n")
		itr := s.store.Iterator()
		for !itr.Done() {
			k, v := itr.Next()
			fmt.Fprintf(&buf, "%s%s:\n%s\n", next, k.(*AllocationContext), v.(*MiddleStore).Dump(appendTab(next)))
		}
		buf.WriteString(tabs)
	}
	buf.WriteString("]")

	buf.WriteString("\n")
	dumpLowerStore(&buf, tabs, "concretely-addressed historical store", s.concreteHistorical)
	buf.WriteString("\n")
	dumpLowerStore(&buf, tabs, "symbolically-addressed historical store", s.symbolicHistorical)
	return buf.String()
}
