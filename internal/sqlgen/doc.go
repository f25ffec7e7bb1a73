// Package sqlgen compiles query trees into dialect-specific, parameterized SQL.
//
// # Overview
//
// A query.Query is a tree of per-type nodes. The compiler walks it in
// pre-order, assigns every node a table alias (T0, T1, ...) and every link
// table an alias (L0, L1, ...), and renders one SELECT through the sqldsl
// package. Values are always bound, never inlined.
//
// # Columns
//
// Every node selects the repo metadata columns, aliased with its position
// prefix:
//
//	T0.repo_pk AS T0_repo_pk, T0.repo_id AS T0_repo_id, ...
//
// Returned nodes also select their field columns (T0.amount AS T0_amount).
// Geometry columns are selected, through the dialect's WKB conversion, only
// when the query sets IncludeGeometry.
//
// # Versioning
//
// Each node is restricted to its type and to current versions
// (repo_deleted = 9999-12-31 23:59:59) unless the query asks for History, or
// for the versions live at AsOf.
//
// # Joins
//
// Filters of inner-joined nodes go to the WHERE clause in pre-order. Filters
// of a node reached through an outer join, and of everything beneath it, go
// to that node's ON clause so they cannot turn the outer join into an inner
// one.
//
// # Row Limiting
//
//   - postgres, mysql, sqlite: LIMIT n OFFSET m
//   - sqlserver: OFFSET m ROWS FETCH NEXT n ROWS ONLY, with
//     ORDER BY (SELECT NULL) injected when the query has no order
//   - oracle: ROWNUM <= n added to the WHERE clause when there is no order and
//     no offset; otherwise the query is wrapped and filtered on the row number
//
// # Write Statements
//
// Insert, CloseVersion and UniqueProbe build the statements of the versioned
// write path with the same binding rules.
package sqlgen
