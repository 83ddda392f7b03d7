// Package all wires every built-in storage backend into the storage factory.
//
// It exists for side effects only: a blank import runs the init functions of
// each backend, which register their factories with the storage package. The
// kinds made available are csv, sqlite, postgres, mssql, mysql and
// clickhouse; memory is always registered by storage itself.
//
//	import _ "medallion/internal/storage/all"
//
//	sink, err := storage.New(ctx, storage.Config{Kind: "sqlite", DSN: "file:gold.db"})
//
// A binary that needs only a subset can blank-import the backends directly.
package all

import (
	_ "medallion/internal/storage/clickhouse"
	_ "medallion/internal/storage/csvdir"
	_ "medallion/internal/storage/mssql"
	_ "medallion/internal/storage/mysql"
	_ "medallion/internal/storage/postgres"
	_ "medallion/internal/storage/sqlite"
)
