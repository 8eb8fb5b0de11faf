package txcore

import (
	"bytes"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ExecutionState is the interpreter's view of a path under exploration.
// The core only needs the accumulated constraint sequence and the
// identifier of the instruction the path currently sits at.
type ExecutionState interface {
	Constraints() []Expr
	ProgramPoint() uint64
}

// InterpolantStatus describes how much of a node's subtree has
// contributed to its interpolant.
type InterpolantStatus int

const (
	// NoInterpolant means neither child has produced an interpolant.
	NoInterpolant = InterpolantStatus(iota)

	// HalfInterpolant means exactly one child has produced one.
	HalfInterpolant

	// FullInterpolant means the node's interpolant is complete: the
	// node is a leaf that hit a proof obligation, or both children's
	// interpolants have been composed upward.
	FullInterpolant
)

// String returns the string representation of the status.
func (s InterpolantStatus) String() string {
	switch s {
	case NoInterpolant:
		return "none"
	case HalfInterpolant:
		return "half"
	case FullInterpolant:
		return "full"
	default:
		return fmt.Sprintf("InterpolantStatus<%d>", int(s))
	}
}

// InterpolantLocation pairs the base location an interpolant speaks
// about with the offset it was recorded at.
type InterpolantLocation struct {
	Base   Expr
	Offset Expr
}

// ITreeNode is one node of the interpolation tree: the snapshot of a
// path, its constraint list tail, its accumulated update relations, and
// the interpolant synthesized when the subtree completes.
type ITreeNode struct {
	ctx    *Context
	parent *ITreeNode
	left   *ITreeNode
	right  *ITreeNode
	depth  uint64

	store       *TxStore
	constraints *ConstraintList

	updateRelations    []*UpdateRelation
	newUpdateRelations []*UpdateRelation

	interpolant    Expr
	interpolantLoc InterpolantLocation
	status         InterpolantStatus

	// Data is the interpreter's state snapshot for this path.
	Data ExecutionState

	// ProgramPoint indexes the node in the subsumption table.
	ProgramPoint uint64

	// DependenciesLoc are the locations the node's obligation depends on.
	DependenciesLoc []Expr

	// LatestBranch summarises the branch that produced this node.
	LatestBranch *BranchCondition

	// IsSubsumed is set when a subsumption check has pruned the node.
	IsSubsumed bool
}

func newITreeNode(ctx *Context, parent *ITreeNode, data ExecutionState) *ITreeNode {
	n := &ITreeNode{ctx: ctx, parent: parent, Data: data}
	if parent != nil {
		n.depth = parent.depth + 1
		n.store = parent.store.fork()
		n.constraints = parent.constraints
	} else {
		n.store = NewTxStore()
	}
	if data != nil {
		n.ProgramPoint = data.ProgramPoint()
	}
	return n
}

// Parent returns the node's parent, or nil at the root.
func (n *ITreeNode) Parent() *ITreeNode { return n.parent }

// Left returns the left child.
func (n *ITreeNode) Left() *ITreeNode { return n.left }

// Right returns the right child.
func (n *ITreeNode) Right() *ITreeNode { return n.right }

// Depth returns the node's depth; the root is at zero.
func (n *ITreeNode) Depth() uint64 { return n.depth }

// Store returns the node's shadow memory.
func (n *ITreeNode) Store() *TxStore { return n.store }

// Constraints returns the node's path condition.
func (n *ITreeNode) Constraints() *ConstraintList { return n.constraints }

// AddConstraint extends the node's path condition. The previous list is
// shared with the sibling, so extension never disturbs it.
func (n *ITreeNode) AddConstraint(expr Expr) {
	n.constraints = NewConstraintList(expr, n.constraints)
}

// Split creates the node's children, each with a snapshot of the shadow
// memory and a constraint list extending this node's.
func (n *ITreeNode) Split(leftData, rightData ExecutionState) (left, right *ITreeNode) {
	assert(n.left == nil && n.right == nil, "node already split")
	n.left = newITreeNode(n.ctx, n, leftData)
	n.right = newITreeNode(n.ctx, n, rightData)
	n.store.left = n.left.store
	n.store.right = n.right.store
	return n.left, n.right
}

// AddUpdateRelations merges the caller's relations into the committed list.
func (n *ITreeNode) AddUpdateRelations(relations []*UpdateRelation) {
	n.updateRelations = append(n.updateRelations, relations...)
}

// AddUpdateRelationsFrom merges another node's committed relations.
func (n *ITreeNode) AddUpdateRelationsFrom(other *ITreeNode) {
	n.AddUpdateRelations(other.updateRelations)
}

// AddNewUpdateRelation stages a relation.
func (n *ITreeNode) AddNewUpdateRelation(u *UpdateRelation) {
	n.newUpdateRelations = append(n.newUpdateRelations, u)
}

// AddStoredNewUpdateRelationsTo drains the staged relations into out.
func (n *ITreeNode) AddStoredNewUpdateRelationsTo(out []*UpdateRelation) []*UpdateRelation {
	out = append(out, n.newUpdateRelations...)
	n.newUpdateRelations = nil
	return out
}

// BuildUpdateExpression composes the committed relations over lhs & rhs.
func (n *ITreeNode) BuildUpdateExpression(lhs, rhs Expr) Expr {
	return BuildUpdateExpression(n.ctx, n.updateRelations, lhs, rhs)
}

// BuildNewUpdateExpression composes the staged relations over lhs & rhs.
func (n *ITreeNode) BuildNewUpdateExpression(lhs, rhs Expr) Expr {
	return BuildUpdateExpression(n.ctx, n.newUpdateRelations, lhs, rhs)
}

// GetInterpolantBaseLocation returns the base location of the first
// committed relation whose base is the interpolant, or nil.
func (n *ITreeNode) GetInterpolantBaseLocation(interpolant Expr) Expr {
	for _, u := range n.updateRelations {
		if u.IsBase(interpolant) {
			return u.BaseLoc()
		}
	}
	return nil
}

// SetInterpolantStatus sets the status alone.
func (n *ITreeNode) SetInterpolantStatus(status InterpolantStatus) {
	n.status = status
}

// SetInterpolant records a completed interpolant for the node.
func (n *ITreeNode) SetInterpolant(interpolant Expr) {
	n.SetInterpolantWithStatus(interpolant, FullInterpolant)
}

// SetInterpolantWithStatus records an interpolant with an explicit status.
func (n *ITreeNode) SetInterpolantWithStatus(interpolant Expr, status InterpolantStatus) {
	n.interpolant = interpolant
	n.status = status
	if status == FullInterpolant {
		n.propagateInterpolant()
	}
}

// SetInterpolantAt records an interpolant together with its location.
func (n *ITreeNode) SetInterpolantAt(interpolant Expr, loc InterpolantLocation, status InterpolantStatus) {
	n.interpolantLoc = loc
	n.SetInterpolantWithStatus(interpolant, status)
}

// Interpolant returns the node's interpolant expression. It is
// well-formed only when Status() != NoInterpolant.
func (n *ITreeNode) Interpolant() Expr { return n.interpolant }

// InterpolantLoc returns the interpolant's location pair.
func (n *ITreeNode) InterpolantLoc() InterpolantLocation { return n.interpolantLoc }

// Status returns the node's interpolant status.
func (n *ITreeNode) Status() InterpolantStatus { return n.status }

// CorrectNodeLocation moves the node to a better program-point
// identifier discovered by the interpreter.
func (n *ITreeNode) CorrectNodeLocation(programPoint uint64) {
	n.ProgramPoint = programPoint
}

// propagateInterpolant composes completed child interpolants upward.
// A parent whose children both hold full interpolants receives their
// join under the left branch condition; with only one side done the
// parent is marked half and composition waits for the sibling.
func (n *ITreeNode) propagateInterpolant() {
	for p := n.parent; p != nil; p = p.parent {
		l, r := p.left, p.right
		if l == nil || r == nil || l.status != FullInterpolant || r.status != FullInterpolant {
			p.status = HalfInterpolant
			return
		}

		branch := p.branchExpr()
		if branch == nil {
			p.interpolant = p.ctx.And(l.interpolant, r.interpolant)
		} else {
			p.interpolant = p.ctx.Ite(branch, l.interpolant, r.interpolant)
		}
		if base := p.GetInterpolantBaseLocation(p.interpolant); base != nil {
			p.interpolantLoc = InterpolantLocation{Base: base}
		}
		p.status = FullInterpolant
	}
}

// branchExpr returns the condition that sends execution into the left
// child, or nil when no branch condition was recorded.
func (n *ITreeNode) branchExpr() Expr {
	if n.left != nil && n.left.LatestBranch != nil {
		return n.left.LatestBranch.Expr(n.ctx)
	}
	if n.right != nil && n.right.LatestBranch != nil {
		return n.ctx.Not(n.right.LatestBranch.Expr(n.ctx))
	}
	return nil
}

// Dump returns a human-readable rendering of the node and its subtree.
func (n *ITreeNode) Dump() string {
	var buf bytes.Buffer
	n.print(&buf, 0)
	return buf.String()
}

func (n *ITreeNode) print(buf *bytes.Buffer, indent int) {
	tabs := makeTabs(indent)
	fmt.Fprintf(buf, "%snode pp=%d depth=%d status=%s subsumed=%v\n", tabs, n.ProgramPoint, n.depth, n.status, n.IsSubsumed)
	if n.interpolant != nil {
		fmt.Fprintf(buf, "%sinterpolant = %s\n", tabs, n.interpolant)
	}
	if n.LatestBranch != nil {
		fmt.Fprintf(buf, "%sbranch = %s\n", tabs, n.LatestBranch)
	}
	fmt.Fprintf(buf, "%s\n", n.constraints.Dump(tabs))
	fmt.Fprintf(buf, "%s\n", n.store.Dump(indent))
	if n.left != nil {
		fmt.Fprintf(buf, "%sleft:\n", tabs)
		n.left.print(buf, indent+1)
	}
	if n.right != nil {
		fmt.Fprintf(buf, "%sright:\n", tabs)
		n.right.print(buf, indent+1)
	}
}

// SubsumptionTableEntry caches a proved safety condition at a program
// point: the interpolant and the location it speaks about.
type SubsumptionTableEntry struct {
	ProgramPoint   uint64
	Interpolant    Expr
	InterpolantLoc InterpolantLocation
}

// NewSubsumptionTableEntry captures a completed node's interpolant.
func NewSubsumptionTableEntry(node *ITreeNode) *SubsumptionTableEntry {
	assert(node.status != NoInterpolant, "subsumption entry requires an interpolant")
	return &SubsumptionTableEntry{
		ProgramPoint:   node.ProgramPoint,
		Interpolant:    node.interpolant,
		InterpolantLoc: node.interpolantLoc,
	}
}

// Subsumed reports whether the querying node's state is implied by the
// entry. The constraint set must entail the interpolant, and when the
// entry names a base location the node must currently hold that base
// at an address whose offset provably equals the recorded one. Any
// unknown from the oracle counts as not subsumed; only the
// false-negative direction is sound.
func (e *SubsumptionTableEntry) Subsumed(c *Context, solver Solver, node *ITreeNode) (bool, error) {
	if e.Interpolant == nil {
		return false, nil
	}

	constraints := node.Constraints().Exprs()
	v, err := solver.ComputeValidity(NewQuery(constraints, e.Interpolant))
	if err != nil {
		return false, err
	}
	if v != Valid {
		return false, nil
	}

	if e.InterpolantLoc.Base == nil {
		return true, nil
	}
	for _, addr := range node.Store().FindByExpr(e.InterpolantLoc.Base) {
		if e.InterpolantLoc.Offset == nil {
			return true, nil
		}
		ok, err := solver.ComputeTruth(NewQuery(constraints, c.Eq(addr.Offset, e.InterpolantLoc.Offset)))
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Dump returns a human-readable rendering of the entry.
func (e *SubsumptionTableEntry) Dump(prefix string) string {
	next := appendTab(prefix)
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%sentry pp=%d:\n", prefix, e.ProgramPoint)
	fmt.Fprintf(&buf, "%sinterpolant = %s", next, e.Interpolant)
	if e.InterpolantLoc.Base != nil {
		fmt.Fprintf(&buf, "\n%sbase = %s", next, e.InterpolantLoc.Base)
	}
	if e.InterpolantLoc.Offset != nil {
		fmt.Fprintf(&buf, "\n%soffset = %s", next, e.InterpolantLoc.Offset)
	}
	return buf.String()
}

// ITree is the interpolation tree: the per-path node structure, the
// frontier pointer, and the subsumption table.
type ITree struct {
	ctx    *Context
	cfg    Config
	solver Solver

	// Logger receives debug records of table stores and subsumption
	// checks. Nil disables logging.
	Logger *logrus.Logger

	Root    *ITreeNode
	current *ITreeNode
	table   []*SubsumptionTableEntry
}

// NewITree returns a tree rooted at the given interpreter state. All
// validity questions route through solver, normally a StagedSolver.
func NewITree(ctx *Context, root ExecutionState, solver Solver, cfg Config) *ITree {
	t := &ITree{ctx: ctx, cfg: cfg, solver: solver}
	t.Root = newITreeNode(ctx, nil, root)
	t.current = t.Root
	return t
}

// Context returns the expression context the tree builds with.
func (t *ITree) Context() *Context { return t.ctx }

// Config returns the core configuration.
func (t *ITree) Config() Config { return t.cfg }

// SetCurrentINode moves the frontier pointer.
func (t *ITree) SetCurrentINode(node *ITreeNode) { t.current = node }

// CurrentINode returns the frontier node.
func (t *ITree) CurrentINode() *ITreeNode { return t.current }

// IsCurrentNodeSubsumed returns the frontier's subsumption flag.
func (t *ITree) IsCurrentNodeSubsumed() bool { return t.current.IsSubsumed }

// TableEntries returns the published subsumption entries.
func (t *ITree) TableEntries() []*SubsumptionTableEntry { return t.table }

// Store publishes a subsumption table entry. Entries append and never
// replace; duplicates are permitted.
func (t *ITree) Store(entry *SubsumptionTableEntry) {
	t.table = append(t.table, entry)
	if t.Logger != nil {
		t.Logger.WithFields(logrus.Fields{
			"programPoint": entry.ProgramPoint,
			"interpolant":  fmt.Sprint(entry.Interpolant),
		}).Debug("subsumption entry stored")
	}
}

// CheckCurrentNodeSubsumption scans the table for entries at the
// frontier's program point; the frontier is subsumed the moment any
// entry's check succeeds. Oracle unknowns and failures count as not
// subsumed.
func (t *ITree) CheckCurrentNodeSubsumption() {
	node := t.current
	assert(node != nil, "no current node")

	for _, entry := range t.table {
		if entry.ProgramPoint != node.ProgramPoint {
			continue
		}

		subsumed, err := entry.Subsumed(t.ctx, t.solver, node)
		if err != nil {
			if t.Logger != nil {
				t.Logger.WithError(err).WithField("programPoint", node.ProgramPoint).
					Debug("subsumption check unknown")
			}
			continue
		}
		if subsumed {
			node.IsSubsumed = true
			if t.Logger != nil {
				t.Logger.WithFields(logrus.Fields{
					"programPoint": node.ProgramPoint,
					"depth":        node.depth,
				}).Debug("node subsumed")
			}
			return
		}
	}
}

// Retire detaches a completed subtree whose interpolant has been
// absorbed, so its nodes and entries can be reclaimed.
func (t *ITree) Retire(n *ITreeNode) {
	if p := n.parent; p != nil {
		switch n {
		case p.left:
			p.left = nil
			p.store.left = nil
		case p.right:
			p.right = nil
			p.store.right = nil
		default:
			assert(false, "node is neither left nor right of its parent")
		}
	}
	n.parent = nil
	n.store.parent = nil
	if t.current == n {
		t.current = nil
	}
}

// Dump returns a human-readable rendering of the whole tree and table.
func (t *ITree) Dump() string {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "ITREE")
	fmt.Fprintln(&buf, "=====")
	buf.WriteString(t.Root.Dump())
	fmt.Fprintf(&buf, "subsumption table = [")
	if len(t.table) > 0 {
		buf.WriteString("\n")
		for _, entry := range t.table {
			fmt.Fprintf(&buf, "%s\n", entry.Dump(appendTab("")))
		}
	}
	buf.WriteString("]\n")
	return buf.String()
}
