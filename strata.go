// Package strata is a metadata-driven data-access layer.
//
// Objects are typed bags of field values whose shape is described by a
// schema.Catalog rather than by Go structs. Queries are trees of per-type
// nodes (package query) compiled into parameterized SQL for one of five
// dialects, with authorization woven into the tree before compilation.
//
// # Basic Usage
//
//	cat, _ := schema.LoadFile("catalog.yaml")
//	eng, _ := strata.Open("pgx", dsn, cat)
//	defer eng.Close()
//
//	core := eng.NewCore(strata.Principal{ID: "alice"})
//	defer eng.Release(core, false)
//
//	q := query.New(invoiceType)
//	q.Root.Filter(query.C("paid", query.Eq, schema.Bool(false)))
//	invoices, err := eng.GetObjects(ctx, core, q, 50, 0)
//
// # Cores and Transactions
//
// A Core is one logical read/write context bound to a principal. Every Core
// created by Share uses the same physical connection and transaction as its
// parent, so writes through one are visible through the others. Commit and
// Rollback act on the whole tree. The connection is closed when the last Core
// of the tree is released, or immediately on a hard release.
//
// # Versioning
//
// Saving an existing object never updates it in place. The current row is
// closed by setting repo_deleted to the save time, and a new row with the
// same logical id and a fresh physical key is inserted. Reads see only
// current rows unless the query asks for history or a point in time.
//
// # Caching
//
// Types with a cache policy are cached process-locally after reads and
// evicted after commits. Evictions are published through the cluster
// Coordinator so every node drops its copy.
//
// # Errors
//
// Every operation returns *Error carrying a Code. Use the Is*Err helpers or
// CodeOf to branch on the classification.
package strata

import (
	"github.com/pthm/strata/internal/acl"
	"github.com/pthm/strata/internal/hydrate"
	"github.com/pthm/strata/object"
	"github.com/pthm/strata/schema"
)

// Principal is the actor a Core works for.
type Principal = acl.Principal

// Level is an access level.
type Level = acl.Level

// Access levels in increasing order.
const (
	LevelNone    = acl.None
	LevelRead    = acl.Read
	LevelWrite   = acl.Write
	LevelExecute = acl.Execute
	LevelModify  = acl.Modify
	LevelFull    = acl.Full
)

// Principal kinds. System and service principals are never filtered.
const (
	KindUser    = acl.KindUser
	KindSystem  = acl.KindSystem
	KindService = acl.KindService
)

// System is the principal used for internal work.
var System = acl.System

// Object is one version of a logical object.
type Object = object.Object

// TypeAll registers a save hook for every type.
const TypeAll schema.TypeID = 0

// ACLSource loads the groups and permission entries of a principal. The
// default source reads the strata_group, strata_group_member and strata_acl
// tables.
type ACLSource = acl.Source

// Group is a named set of principals.
type Group = acl.Group

// Entry grants a level on a type, or on one config row of it.
type Entry = acl.Entry

// StaticSource is an in-memory ACLSource.
type StaticSource = acl.StaticSource

// NewStaticSource returns an empty in-memory ACLSource.
func NewStaticSource() *StaticSource { return acl.NewStaticSource() }

// Group security types.
const (
	SecurityStandard        = acl.Standard
	SecurityPowerOfAttorney = acl.PowerOfAttorney
)

// Translator resolves code-list keys into display text for label fields.
type Translator = hydrate.Translator
