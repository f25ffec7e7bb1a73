package query

import (
	"time"

	"github.com/pthm/strata/schema"
)

// Metadata columns that predicates and ordering may name like fields.
const (
	FieldPhysicalKey = "repo_pk"
	FieldID          = "repo_id"
	FieldInserted    = "repo_inserted"
	FieldDeleted     = "repo_deleted"
	FieldParent      = "repo_parent"
	FieldType        = "repo_type"
	FieldStatus      = "repo_status"
	FieldOwner       = "repo_owner"
)

// JoinKind relates a node to its parent.
type JoinKind int

const (
	// JoinInner matches children by parent id (child.repo_parent = parent.repo_id).
	JoinInner JoinKind = iota
	// JoinOuter is JoinInner as a left outer join.
	JoinOuter
	// JoinForeignKey matches a denormalized foreign key on the parent
	// (child.ChildField = parent.ParentField).
	JoinForeignKey
	// JoinLink traverses a link table from parent to child.
	JoinLink
)

func (k JoinKind) String() string {
	switch k {
	case JoinOuter:
		return "outer"
	case JoinForeignKey:
		return "foreignKey"
	case JoinLink:
		return "link"
	default:
		return "inner"
	}
}

// Join describes how a node attaches to its parent.
type Join struct {
	Kind JoinKind
	// ParentField and ChildField override the joined columns. Empty means the
	// default of the kind.
	ParentField string
	ChildField  string
	// Link names the link type for JoinLink.
	Link string
	// Optional turns a foreign key or link join into a left outer join.
	Optional bool
}

// Outer reports whether the join is a left outer join.
func (j Join) Outer() bool { return j.Kind == JoinOuter || j.Optional }

// Order is one ORDER BY term of a node.
type Order struct {
	Field string
	Desc  bool
}

// Node is one type in the join tree.
type Node struct {
	Type     schema.TypeID
	Where    Predicate
	Return   bool
	Join     Join
	Children []*Node
	OrderBy  []Order
}

// NewNode returns a returned node of the given type.
func NewNode(typeID schema.TypeID) *Node {
	return &Node{Type: typeID, Return: true}
}

// Filter ANDs p onto the node's predicate.
func (n *Node) Filter(p Predicate) *Node {
	n.Where = Conjoin(n.Where, p)
	return n
}

// Child attaches c with the given join and returns c.
func (n *Node) Child(c *Node, j Join) *Node {
	c.Join = j
	n.Children = append(n.Children, c)
	return c
}

// Query is a complete query tree plus options.
type Query struct {
	Root *Node
	// IncludeGeometry selects geometry columns; they are omitted otherwise.
	IncludeGeometry bool
	// AsOf selects the versions that were current at the given instant.
	AsOf *time.Time
	// History selects every version, current or closed.
	History bool
}

// New returns a query rooted at a returned node of typeID.
func New(typeID schema.TypeID) *Query {
	return &Query{Root: NewNode(typeID)}
}

// Walk visits nodes in pre-order. depth is 0 for the root.
func (q *Query) Walk(fn func(n *Node, depth int) error) error {
	var walk func(n *Node, depth int) error
	walk = func(n *Node, depth int) error {
		if err := fn(n, depth); err != nil {
			return err
		}
		for _, c := range n.Children {
			if err := walk(c, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if q.Root == nil {
		return nil
	}
	return walk(q.Root, 0)
}

// Nodes returns all nodes in pre-order.
func (q *Query) Nodes() []*Node {
	var out []*Node
	_ = q.Walk(func(n *Node, _ int) error {
		out = append(out, n)
		return nil
	})
	return out
}

// Returns returns the nodes flagged Return, in pre-order.
func (q *Query) Returns() []*Node {
	var out []*Node
	for _, n := range q.Nodes() {
		if n.Return {
			out = append(out, n)
		}
	}
	return out
}

// Clone deep-copies the node tree. Predicates are shared; they are treated as
// immutable and rewrites wrap rather than modify them.
func (q *Query) Clone() *Query {
	cp := *q
	if q.AsOf != nil {
		t := *q.AsOf
		cp.AsOf = &t
	}
	cp.Root = cloneNode(q.Root)
	return &cp
}

func cloneNode(n *Node) *Node {
	if n == nil {
		return nil
	}
	cp := *n
	cp.OrderBy = append([]Order(nil), n.OrderBy...)
	cp.Children = make([]*Node, len(n.Children))
	for i, c := range n.Children {
		cp.Children[i] = cloneNode(c)
	}
	return &cp
}
