/*
Package db owns the PostgreSQL side of the repository: pool construction,
the ambient-transaction session, the schema DDL, and pg error
classification.

Session models the caller's explicit transaction. Statements lazily begin a
transaction; nothing is visible to other hosts until Commit. Rollback fires
registered hooks so per-session identity caches are dropped with the
transaction:

	sess := db.NewSession(pool)
	sess.OnRollback(stores.InvalidateCaches)
	...
	if err := sess.Commit(ctx); err != nil { ... }

The schema relies on two Postgres features the lifecycle engine is built
around: INSERT ... ON CONFLICT DO NOTHING RETURNING for race-free
find-or-create, and the partial unique index unq_current_path which admits at
most one published, unexpired file per path.
*/
package db
