package txcore

import (
	"bytes"
	"fmt"
)

// ConstraintList is the persistent path condition: an immutable cons
// list of boolean expressions. Sibling nodes share tails, so extending
// a parent's list never disturbs the other child.
type ConstraintList struct {
	constraint Expr
	tail       *ConstraintList
}

// NewConstraintList returns a list cell holding constraint in front of tail.
// A nil tail starts a new list.
func NewConstraintList(constraint Expr, tail *ConstraintList) *ConstraintList {
	assert(constraint != nil, "nil constraint")
	return &ConstraintList{constraint: constraint, tail: tail}
}

// Car returns the newest constraint.
func (l *ConstraintList) Car() Expr { return l.constraint }

// Cdr returns the rest of the list.
func (l *ConstraintList) Cdr() *ConstraintList { return l.tail }

// Len returns the number of constraints in the list.
func (l *ConstraintList) Len() int {
	n := 0
	for c := l; c != nil; c = c.tail {
		n++
	}
	return n
}

// Exprs returns the constraints oldest-first.
func (l *ConstraintList) Exprs() []Expr {
	a := make([]Expr, l.Len())
	i := len(a)
	for c := l; c != nil; c = c.tail {
		i--
		a[i] = c.constraint
	}
	return a
}

// Dump returns a human-readable rendering of the list under prefix,
// newest constraint first.
func (l *ConstraintList) Dump(prefix string) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%sconstraints = [", prefix)
	if l != nil {
		buf.WriteString("\n")
		for c := l; c != nil; c = c.tail {
			fmt.Fprintf(&buf, "%s%s\n", appendTab(prefix), c.constraint)
		}
		buf.WriteString(prefix)
	}
	buf.WriteString("]")
	return buf.String()
}
