/*
Package repo is the metadata-and-lifecycle engine of the content repository.

A Repository value owns the database pool, the object store, the local blob
cache, the clock, and the configuration; there is no process-global state.
Tests construct repositories against a fake clock and the offline object
store.

Files progress created → uploaded → published → expired → purgeable. Publish
makes a file the unique current version of its logical path by expiring the
previous version in the same transaction; the partial unique index on
(path_id) WHERE published AND date_expired IS NULL serializes racing
publishers. AddFile's default object key embeds the creation second, so two
writers adding at one path mint distinct rows and the race resolves at
publish time instead.

Every mutating call joins the repository's ambient transaction; Commit and
Rollback are explicit:

	f, err := r.AddFile(ctx, "reports/daily", repo.AddFileOptions{})
	...
	w, _ := f.OpenWrite(ctx)
	w.Write(payload)
	w.Close()
	if err := f.Publish(ctx); err != nil { ... }
	if err := r.Commit(ctx); err != nil { ... }

FindTagged compiles tag predicates (any / all / exclude) into one grouped
query against the current_file_tags or all_file_tags view. The maintenance
loops — MaintainCurrentHost and MaintainDatabase — are one-shot calls driven
by an external scheduler, or by the Maintainer ticker for daemonized
deployments. BackupDB and RestoreDB round-trip the whole schema through a
gzip text dump stored in the backup bucket.
*/
package repo
