package repo

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wizzat/s3repo/pkg/metrics"
	"github.com/wizzat/s3repo/pkg/types"
)

// backupPath is the default logical path metadata backups publish under;
// backup.local.path overrides it. Successive backups are versions of one
// path, so publishing a new backup expires the previous one.
const backupPath = "s3repo_backups"

// backupPrefix resolves the configured backup path.
func (r *Repository) backupPrefix() string {
	if r.cfg.BackupLocalPath != "" {
		return r.cfg.BackupLocalPath
	}
	return backupPath
}

// backupKeyFormat renders the timestamped object key; keys sort
// lexicographically in time order.
const backupKeyFormat = "20060102150405"

// BackupDB dumps every metadata table into one gzip-compressed text object,
// publishes it under the backup bucket, and trims backups beyond the
// configured retention.
func (r *Repository) BackupDB(ctx context.Context) (*File, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.BackupDuration)

	prefix := r.backupPrefix()
	key := prefix + "/" + r.clock.Now().UTC().Format(backupKeyFormat) + ".sql.gz"
	f, err := r.AddFile(ctx, prefix, AddFileOptions{
		Bucket:    r.cfg.BackupBucket,
		ObjectKey: key,
	})
	if err != nil {
		metrics.BackupsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}

	w, err := f.OpenWrite(ctx)
	if err != nil {
		metrics.BackupsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}
	if err := r.writeDump(ctx, w); err != nil {
		w.Close()
		metrics.BackupsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}
	if err := w.Close(); err != nil {
		metrics.BackupsTotal.WithLabelValues("failure").Inc()
		return nil, fmt.Errorf("failed to finish backup dump: %w", err)
	}

	if err := f.Publish(ctx); err != nil {
		metrics.BackupsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}

	if err := r.trimBackups(ctx); err != nil {
		return nil, err
	}

	metrics.BackupsTotal.WithLabelValues("success").Inc()
	r.logger.Info().Str("object_key", key).Int64("file_size", f.FileSize).Msg("backup published")
	return f, nil
}

// trimBackups keeps the newest num_backups backup rows and purges the rest.
func (r *Repository) trimBackups(ctx context.Context) error {
	bucket, err := r.stores.Buckets.FindOrCreate(ctx, r.cfg.BackupBucket)
	if err != nil {
		return err
	}

	rows, err := r.stores.Files.FindBySQL(ctx, `
		SELECT`+fileSelectList+`
		FROM s3_repo.files
		WHERE bucket_id = $1 AND object_key LIKE $2
		ORDER BY object_key DESC
	`, bucket.BucketID, r.backupPrefix()+"/%")
	if err != nil {
		return err
	}

	for i, row := range rows {
		if i < r.cfg.NumBackups {
			continue
		}
		f := r.file(row)
		if f.Published {
			// The newest backup is current; anything published beyond the
			// retention window is unexpected and left alone.
			continue
		}
		if err := f.Purge(ctx); err != nil {
			r.logger.Error().Err(err).Int64("file_id", f.FileID).Msg("failed to trim old backup")
		}
	}
	return nil
}

// RestoreDB creates the schema if absent, fetches the most recent backup
// object, and bulk-loads every table in a single transaction. The restored
// backup file's own row is marked with file_size = -1: the dump embeds
// pre-dump state, so that row can never describe the object containing it.
func (r *Repository) RestoreDB(ctx context.Context) (*File, error) {
	keys, err := r.store.List(ctx, r.cfg.BackupBucket, r.backupPrefix()+"/")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	if len(keys) == 0 {
		return nil, ErrNoBackups
	}
	sort.Strings(keys)
	lastKey := keys[len(keys)-1]

	if err := r.CreateRepository(ctx, false); err != nil {
		return nil, err
	}

	if !r.cache.Exists(r.cfg.BackupBucket, lastKey) {
		localPath := r.cache.LocalPath(r.cfg.BackupBucket, lastKey)
		if err := r.store.GetFile(ctx, r.cfg.BackupBucket, lastKey, localPath); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
		}
	}

	rd, err := r.cache.OpenRead(r.cfg.BackupBucket, lastKey)
	if err != nil {
		return nil, err
	}
	defer rd.Close()

	if err := r.loadDump(ctx, rd); err != nil {
		return nil, err
	}
	if err := r.resetSequences(ctx); err != nil {
		return nil, err
	}

	// Mark the restore artifact.
	bucket, err := r.stores.Buckets.FindOrCreate(ctx, r.cfg.BackupBucket)
	if err != nil {
		return nil, err
	}
	row, err := r.stores.Files.FindByKey(ctx, bucket.BucketID, lastKey)
	if err != nil {
		return nil, err
	}
	var restored *File
	if row != nil {
		restored = r.file(row)
		restored.FileSize = -1
		if err := restored.update(ctx); err != nil {
			return nil, err
		}
	}

	if err := r.Commit(ctx); err != nil {
		return nil, err
	}
	r.logger.Info().Str("object_key", lastKey).Msg("repository restored")
	return restored, nil
}

// Dump ordering respects foreign keys on load.
var backupTables = []string{
	"s3_repo.s3_buckets",
	"s3_repo.paths",
	"s3_repo.hosts",
	"s3_repo.files",
	"s3_repo.tags",
	"s3_repo.file_tags",
	"s3_repo.path_tags",
	"s3_repo.downloads",
}

var backupColumns = map[string][]string{
	"s3_repo.s3_buckets": types.BucketColumns,
	"s3_repo.paths":      types.PathColumns,
	"s3_repo.hosts":      types.HostColumns,
	"s3_repo.files":      types.FileColumns,
	"s3_repo.tags":       types.TagColumns,
	"s3_repo.file_tags":  types.FileTagColumns,
	"s3_repo.path_tags":  types.PathTagColumns,
	"s3_repo.downloads":  types.DownloadColumns,
}

func (r *Repository) writeDump(ctx context.Context, w io.Writer) error {
	for _, table := range backupTables {
		if _, err := fmt.Fprintf(w, "\\T %s %s\n", table, strings.Join(backupColumns[table], ",")); err != nil {
			return fmt.Errorf("failed to write dump header: %w", err)
		}

		rows, err := r.dumpTable(ctx, table)
		if err != nil {
			return err
		}
		for _, fields := range rows {
			for i, field := range fields {
				fields[i] = escapeField(field)
			}
			if _, err := fmt.Fprintln(w, strings.Join(fields, "\t")); err != nil {
				return fmt.Errorf("failed to write dump row: %w", err)
			}
		}
		if _, err := fmt.Fprintln(w, `\.`); err != nil {
			return fmt.Errorf("failed to terminate dump section: %w", err)
		}
	}
	return nil
}

func (r *Repository) dumpTable(ctx context.Context, table string) ([][]string, error) {
	switch table {
	case "s3_repo.s3_buckets":
		return r.dumpPairs(ctx, `SELECT bucket_id, bucket_name FROM s3_repo.s3_buckets ORDER BY bucket_id`)
	case "s3_repo.paths":
		return r.dumpPairs(ctx, `SELECT path_id, local_path FROM s3_repo.paths ORDER BY path_id`)
	case "s3_repo.tags":
		return r.dumpPairs(ctx, `SELECT tag_id, tag_name FROM s3_repo.tags ORDER BY tag_id`)
	case "s3_repo.hosts":
		return r.dumpHosts(ctx)
	case "s3_repo.files":
		return r.dumpFiles(ctx)
	case "s3_repo.file_tags":
		return r.dumpLinks(ctx, `SELECT file_id, tag_id, date_tagged FROM s3_repo.file_tags ORDER BY file_id, tag_id`)
	case "s3_repo.path_tags":
		return r.dumpLinks(ctx, `SELECT path_id, tag_id, date_tagged FROM s3_repo.path_tags ORDER BY path_id, tag_id`)
	case "s3_repo.downloads":
		return r.dumpDownloads(ctx)
	}
	return nil, fmt.Errorf("unknown backup table %q", table)
}

func (r *Repository) dumpPairs(ctx context.Context, sql string) ([][]string, error) {
	rows, err := r.sess.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to dump table: %w", err)
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out = append(out, []string{formatInt(id), name})
	}
	return out, rows.Err()
}

func (r *Repository) dumpHosts(ctx context.Context) ([][]string, error) {
	rows, err := r.sess.Query(ctx, `SELECT host_id, hostname, max_cache_bytes FROM s3_repo.hosts ORDER BY host_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to dump hosts: %w", err)
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		var h types.Host
		if err := rows.Scan(&h.HostID, &h.Hostname, &h.MaxCacheBytes); err != nil {
			return nil, err
		}
		out = append(out, []string{formatInt(h.HostID), h.Hostname, formatInt(h.MaxCacheBytes)})
	}
	return out, rows.Err()
}

func (r *Repository) dumpFiles(ctx context.Context) ([][]string, error) {
	files, err := r.stores.Files.FindBy(ctx, nil)
	if err != nil {
		return nil, err
	}

	out := make([][]string, 0, len(files))
	for _, f := range files {
		out = append(out, []string{
			formatInt(f.FileID),
			formatInt(f.BucketID),
			f.ObjectKey,
			formatInt(f.PathID),
			formatBool(f.Published),
			formatInt(f.Origin),
			f.MD5,
			f.B64,
			f.GUID,
			formatInt(f.FileSize),
			formatTime(f.DateCreated),
			formatTimePtr(f.DateUploaded),
			formatTimePtr(f.DatePublished),
			formatTimePtr(f.DateArchived),
			formatTimePtr(f.DateExpired),
		})
	}
	return out, nil
}

func (r *Repository) dumpLinks(ctx context.Context, sql string) ([][]string, error) {
	rows, err := r.sess.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to dump links: %w", err)
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		var (
			ownerID, tagID int64
			taggedAt       time.Time
		)
		if err := rows.Scan(&ownerID, &tagID, &taggedAt); err != nil {
			return nil, err
		}
		out = append(out, []string{formatInt(ownerID), formatInt(tagID), formatTime(taggedAt)})
	}
	return out, rows.Err()
}

func (r *Repository) dumpDownloads(ctx context.Context) ([][]string, error) {
	rows, err := r.sess.Query(ctx, `SELECT file_id, host_id, downloaded_at, last_access FROM s3_repo.downloads ORDER BY file_id, host_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to dump downloads: %w", err)
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		var d types.Download
		if err := rows.Scan(&d.FileID, &d.HostID, &d.DownloadedAt, &d.LastAccess); err != nil {
			return nil, err
		}
		out = append(out, []string{
			formatInt(d.FileID), formatInt(d.HostID),
			formatTime(d.DownloadedAt), formatTime(d.LastAccess),
		})
	}
	return out, rows.Err()
}

func (r *Repository) loadDump(ctx context.Context, rd io.Reader) error {
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var table string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, `\T `):
			parts := strings.SplitN(line, " ", 3)
			if len(parts) < 2 {
				return fmt.Errorf("malformed dump header %q", line)
			}
			table = parts[1]
			if _, ok := backupColumns[table]; !ok {
				return fmt.Errorf("unknown table %q in dump", table)
			}
		case line == `\.`:
			table = ""
		case table == "":
			return fmt.Errorf("dump row outside table section: %q", line)
		default:
			fields := strings.Split(line, "\t")
			for i, field := range fields {
				fields[i] = unescapeField(field)
			}
			if err := r.loadRow(ctx, table, fields); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read dump: %w", err)
	}
	return nil
}

func (r *Repository) loadRow(ctx context.Context, table string, fields []string) error {
	want := len(backupColumns[table])
	if len(fields) != want {
		return fmt.Errorf("table %s: dump row has %d fields, want %d", table, len(fields), want)
	}

	var err error
	switch table {
	case "s3_repo.s3_buckets":
		_, err = r.sess.Exec(ctx, `INSERT INTO s3_repo.s3_buckets (bucket_id, bucket_name) VALUES ($1, $2)`,
			parseInt(fields[0]), fields[1])
	case "s3_repo.paths":
		_, err = r.sess.Exec(ctx, `INSERT INTO s3_repo.paths (path_id, local_path) VALUES ($1, $2)`,
			parseInt(fields[0]), fields[1])
	case "s3_repo.tags":
		_, err = r.sess.Exec(ctx, `INSERT INTO s3_repo.tags (tag_id, tag_name) VALUES ($1, $2)`,
			parseInt(fields[0]), fields[1])
	case "s3_repo.hosts":
		_, err = r.sess.Exec(ctx, `INSERT INTO s3_repo.hosts (host_id, hostname, max_cache_bytes) VALUES ($1, $2, $3)`,
			parseInt(fields[0]), fields[1], parseInt(fields[2]))
	case "s3_repo.files":
		f := &types.File{
			FileID:        parseInt(fields[0]),
			BucketID:      parseInt(fields[1]),
			ObjectKey:     fields[2],
			PathID:        parseInt(fields[3]),
			Published:     fields[4] == "t",
			Origin:        parseInt(fields[5]),
			MD5:           fields[6],
			B64:           fields[7],
			GUID:          fields[8],
			FileSize:      parseInt(fields[9]),
			DateCreated:   parseTime(fields[10]),
			DateUploaded:  parseTimePtr(fields[11]),
			DatePublished: parseTimePtr(fields[12]),
			DateArchived:  parseTimePtr(fields[13]),
			DateExpired:   parseTimePtr(fields[14]),
		}
		err = r.stores.Files.Insert(ctx, f)
	case "s3_repo.file_tags":
		_, err = r.sess.Exec(ctx, `INSERT INTO s3_repo.file_tags (file_id, tag_id, date_tagged) VALUES ($1, $2, $3)`,
			parseInt(fields[0]), parseInt(fields[1]), parseTime(fields[2]))
	case "s3_repo.path_tags":
		_, err = r.sess.Exec(ctx, `INSERT INTO s3_repo.path_tags (path_id, tag_id, date_tagged) VALUES ($1, $2, $3)`,
			parseInt(fields[0]), parseInt(fields[1]), parseTime(fields[2]))
	case "s3_repo.downloads":
		_, err = r.sess.Exec(ctx, `INSERT INTO s3_repo.downloads (file_id, host_id, downloaded_at, last_access) VALUES ($1, $2, $3, $4)`,
			parseInt(fields[0]), parseInt(fields[1]), parseTime(fields[2]), parseTime(fields[3]))
	}
	if err != nil {
		return fmt.Errorf("failed to load %s row: %w", table, err)
	}
	return nil
}

// resetSequences moves every id sequence past the restored rows.
func (r *Repository) resetSequences(ctx context.Context) error {
	stmts := []string{
		`SELECT setval('s3_repo.bucket_id_seq', coalesce(max(bucket_id), 0) + 1, false) FROM s3_repo.s3_buckets`,
		`SELECT setval('s3_repo.path_id_seq', coalesce(max(path_id), 0) + 1, false) FROM s3_repo.paths`,
		`SELECT setval('s3_repo.host_id_seq', coalesce(max(host_id), 0) + 1, false) FROM s3_repo.hosts`,
		`SELECT setval('s3_repo.file_id_seq', coalesce(max(file_id), 0) + 1, false) FROM s3_repo.files`,
		`SELECT setval('s3_repo.tag_id_seq', coalesce(max(tag_id), 0) + 1, false) FROM s3_repo.tags`,
	}
	for _, stmt := range stmts {
		if _, err := r.sess.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to reset sequence: %w", err)
		}
	}
	return nil
}

// Text encoding of dump fields. Rows are one line each, so field values
// escape the separator, newlines, and the escape character itself. \N is
// the null marker for absent timestamps.
const nullField = `\N`

func escapeField(s string) string {
	if s == nullField {
		return s
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "\t", `\t`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	s = strings.ReplaceAll(s, "\r", `\r`)
	return s
}

func unescapeField(s string) string {
	if s == nullField {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 't':
			b.WriteByte('\t')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func formatInt(v int64) string { return strconv.FormatInt(v, 10) }

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func formatBool(v bool) string {
	if v {
		return "t"
	}
	return "f"
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return nullField
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s string) *time.Time {
	if s == nullField {
		return nil
	}
	t := parseTime(s)
	return &t
}
