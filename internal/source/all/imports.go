// Package all wires all built-in source connectors into the source registry.
//
// This package exists purely for side effects: importing it (even as a blank
// import) runs the init functions of every connector, which register their
// factories with the source package. The following kinds become available:
//
//   - "csv"      (conduit/internal/source/csv)
//   - "sqlite"   (conduit/internal/source/sqlite)
//   - "mysql"    (conduit/internal/source/mysql)
//   - "postgres" (conduit/internal/source/postgres)
//   - "mssql"    (conduit/internal/source/mssql)
//
// A binary that needs only some connectors can import those packages
// directly instead.
package all

import (
	_ "conduit/internal/source/csv"
	_ "conduit/internal/source/mssql"
	_ "conduit/internal/source/mysql"
	_ "conduit/internal/source/postgres"
	_ "conduit/internal/source/sqlite"
)
