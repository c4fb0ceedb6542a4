/*
Package config loads the single JSON configuration document for a repository
process.

The document is read from $S3_REPO_CFG when set, otherwise from
~/.s3repo.cfg. Dotted key names ("s3.default_bucket") are literal JSON keys:

	{
		"database": {
			"host": "localhost",
			"port": 5432,
			"user": "s3repo",
			"password": "s3repo",
			"database": "s3repo"
		},
		"s3_access_key": "abc",
		"s3_secret_key": "def",
		"s3.default_bucket": "some-bucket",
		"s3.backup_bucket": "backup-bucket",
		"local_root": "/var/cache/s3repo",
		"fs.published_stale_seconds": 604800,
		"fs.unpublished_stale_seconds": 604800,
		"num_backups": 10
	}

A missing document or missing required key fails with ErrNoConfiguration.
Optional keys receive defaults. The OFFLINE=1 environment variable disables
all object-store calls; config.Offline reports it.
*/
package config
