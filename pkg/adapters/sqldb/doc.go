// Package sqldb implements ports.ConversationStore on database/sql.
//
// Two dialects are supported: SQLite (github.com/mattn/go-sqlite3) for
// single-node deployments and tests, and PostgreSQL (github.com/lib/pq).
// Each session is one row; the version column guards conditional writes.
package sqldb
