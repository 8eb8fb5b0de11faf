package txcore

import (
	"bytes"
	"fmt"
)

// AllocationInfo identifies one generation of a memory object. Two
// locations belong to the same generation iff their infos are equal.
type AllocationInfo struct {
	ID   uint64
	Size uint
}

// String returns the string representation of the allocation info.
func (i AllocationInfo) String() string {
	return fmt.Sprintf("(alloc #%d %d)", i.ID, i.Size)
}

// AllocationContext identifies a single memory object: the allocation
// site plus the call history that reached it. The interpreter interns
// contexts, so pointer identity coincides with context identity.
type AllocationContext struct {
	Site        uint64   // program point of the allocation site
	CallHistory []uint64 // program points of the originating call chain
}

// NewAllocationContext returns a context for the given site and call history.
func NewAllocationContext(site uint64, callHistory []uint64) *AllocationContext {
	return &AllocationContext{Site: site, CallHistory: callHistory}
}

// String returns the string representation of the context.
func (c *AllocationContext) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "(context %d [", c.Site)
	for i, pp := range c.CallHistory {
		if i > 0 {
			buf.WriteRune(' ')
		}
		fmt.Fprintf(&buf, "%d", pp)
	}
	buf.WriteString("])")
	return buf.String()
}

// CompareAllocationContext returns an integer ordering two contexts.
func CompareAllocationContext(a, b *AllocationContext) int {
	if a == b {
		return 0
	}
	if a == nil {
		return -1
	} else if b == nil {
		return 1
	}

	if a.Site < b.Site {
		return -1
	} else if a.Site > b.Site {
		return 1
	}

	if len(a.CallHistory) < len(b.CallHistory) {
		return -1
	} else if len(a.CallHistory) > len(b.CallHistory) {
		return 1
	}
	for i := range a.CallHistory {
		if a.CallHistory[i] < b.CallHistory[i] {
			return -1
		} else if a.CallHistory[i] > b.CallHistory[i] {
			return 1
		}
	}
	return 0
}

// StateAddress is a symbolic address: an allocation context plus a
// symbolic offset into the object.
type StateAddress struct {
	Context *AllocationContext
	Info    AllocationInfo
	Offset  Expr
}

// NewStateAddress returns a state address for the given object and offset.
func NewStateAddress(context *AllocationContext, info AllocationInfo, offset Expr) *StateAddress {
	assert(context != nil, "state address requires an allocation context")
	return &StateAddress{Context: context, Info: info, Offset: offset}
}

// HasConstantAddress returns true when the offset is a literal.
func (a *StateAddress) HasConstantAddress() bool {
	return isConstant(a.Offset)
}

// AsVariable returns the canonical shadow-memory key for the address.
// Offsets built through a Context are already normalised, so the key
// reuses the interned offset directly.
func (a *StateAddress) AsVariable() *Variable {
	return &Variable{Context: a.Context, Offset: a.Offset}
}

// Substitute returns the address with repl applied to its offset.
func (a *StateAddress) Substitute(c *Context, repl map[*Array]*Array) *StateAddress {
	return NewStateAddress(a.Context, a.Info, c.ReplaceArrays(a.Offset, repl))
}

// String returns the string representation of the address.
func (a *StateAddress) String() string {
	return fmt.Sprintf("(address %s %s %s)", a.Context, a.Info, a.Offset)
}

// Variable is the canonical key of one shadow-memory cell: the
// allocation context plus the normalised offset.
type Variable struct {
	Context *AllocationContext
	Offset  Expr
}

// String returns the string representation of the variable.
func (v *Variable) String() string {
	return fmt.Sprintf("(variable %s %s)", v.Context, v.Offset)
}

// CompareVariable returns an integer ordering two shadow-memory keys.
func CompareVariable(a, b *Variable) int {
	if a == b {
		return 0
	}
	if a == nil {
		return -1
	} else if b == nil {
		return 1
	}

	if cmp := CompareAllocationContext(a.Context, b.Context); cmp != 0 {
		return cmp
	}
	return CompareExpr(a.Offset, b.Offset)
}

// StateValue is a symbolic value on a path, together with the store
// entries that produced it and the addresses it was loaded from.
type StateValue struct {
	expr          Expr
	entries       []*StoreEntry
	loadAddresses []*StateValue
	core          bool
}

// NewStateValue returns a state value wrapping expr.
func NewStateValue(expr Expr) *StateValue {
	return &StateValue{expr: expr}
}

// Expression returns the wrapped expression.
func (v *StateValue) Expression() Expr { return v.expr }

// EntryList returns the provenance of the value: the store entries that
// contributed to producing it.
func (v *StateValue) EntryList() []*StoreEntry { return v.entries }

// AddStoreEntry associates the value with a store entry, signifying that
// the entry matters whenever the value is used.
func (v *StateValue) AddStoreEntry(e *StoreEntry) {
	for _, other := range v.entries {
		if other == e {
			return
		}
	}
	v.entries = append(v.entries, e)
}

// ResetEntryList clears the provenance ahead of a fresh store.
func (v *StateValue) ResetEntryList() { v.entries = nil }

// AddLoadAddress records the symbolic address value the load read from.
// Loads at distinct addresses of the same content stay distinct.
func (v *StateValue) AddLoadAddress(a *StateValue) {
	for _, other := range v.loadAddresses {
		if other == a {
			return
		}
	}
	v.loadAddresses = append(v.loadAddresses, a)
}

// LoadAddresses returns the addresses the value was read at.
func (v *StateValue) LoadAddresses() []*StateValue { return v.loadAddresses }

// SetCore marks the value as flowing into a proof obligation.
func (v *StateValue) SetCore() { v.core = true }

// IsCore returns true if the value flows into a proof obligation.
func (v *StateValue) IsCore() bool { return v.core }

// InterpolantValue adapts the value to its interpolant form. A non-nil
// repl substitutes free arrays in the emitted expression.
func (v *StateValue) InterpolantValue(c *Context, repl map[*Array]*Array) *InterpolantValue {
	expr := v.expr
	if repl != nil {
		expr = c.ReplaceArrays(expr, repl)
	}
	return &InterpolantValue{Expr: expr}
}

// String returns the string representation of the value.
func (v *StateValue) String() string {
	if v.core {
		return fmt.Sprintf("(value! %s)", v.expr)
	}
	return fmt.Sprintf("(value %s)", v.expr)
}

// StoreEntry is the immutable record of one store: the location written,
// the address and content values, and the tree depth of the write.
// Identity is by allocation slot; two entries for the same slot at
// different depths are different entries.
type StoreEntry struct {
	Location *StateAddress
	Address  *StateValue
	Content  *StateValue
	Depth    uint64
}

// NewStoreEntry returns a store entry for a write at the given depth.
func NewStoreEntry(location *StateAddress, address, content *StateValue, depth uint64) *StoreEntry {
	return &StoreEntry{Location: location, Address: address, Content: content, Depth: depth}
}

// Dump returns a human-readable rendering of the entry under prefix.
func (e *StoreEntry) Dump(prefix string) string {
	next := appendTab(prefix)
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%sdepth = %d\n", prefix, e.Depth)
	fmt.Fprintf(&buf, "%saddress:\n%s%s\n", prefix, next, e.Address)
	fmt.Fprintf(&buf, "%scontent:\n%s%s", prefix, next, e.Content)
	return buf.String()
}

// InterpolantValue is a value adapted for inclusion in an interpolant.
// Original is retained only on full (non-core) retrievals.
type InterpolantValue struct {
	Expr     Expr
	Original *StateValue
}

// SetOriginalValue retains the state value the interpolant value came from.
func (iv *InterpolantValue) SetOriginalValue(v *StateValue) { iv.Original = v }

// String returns the string representation of the interpolant value.
func (iv *InterpolantValue) String() string {
	return fmt.Sprintf("(interpolant-value %s)", iv.Expr)
}
