// Package sqlstore implements credits.Store on database/sql for PostgreSQL
// (lib/pq) and SQLite (mattn/go-sqlite3).
//
// Per-user serialization comes from the database: PostgreSQL transactions read
// the balance with SELECT ... FOR UPDATE, SQLite transactions start with BEGIN
// IMMEDIATE. Serialization failures, deadlocks and SQLITE_BUSY are retried with
// exponential backoff; persistent failures surface as credits.ErrStoreUnavailable.
//
// Queries are written with ? placeholders and rebound to $N for PostgreSQL.
// All timestamps are written in UTC.
package sqlstore
