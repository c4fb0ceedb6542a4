package repo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/wizzat/s3repo/pkg/clock"
	"github.com/wizzat/s3repo/pkg/config"
	"github.com/wizzat/s3repo/pkg/log"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: os.Stderr})
}

// memStore is an in-memory object store for deterministic lifecycle tests.
type memStore struct {
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (m *memStore) PutFile(ctx context.Context, bucket, key, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	m.objects[bucket+"/"+key] = data
	return nil
}

func (m *memStore) GetFile(ctx context.Context, bucket, key, localPath string) error {
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return fmt.Errorf("no such object %s/%s", bucket, key)
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(localPath, data, 0644)
}

func (m *memStore) Delete(ctx context.Context, bucket, key string) error {
	delete(m.objects, bucket+"/"+key)
	return nil
}

func (m *memStore) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	for name := range m.objects {
		if strings.HasPrefix(name, bucket+"/"+prefix) {
			keys = append(keys, strings.TrimPrefix(name, bucket+"/"))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

type testEnv struct {
	repo  *Repository
	clock *clock.Fake
	store *memStore
	pool  *pgxpool.Pool
	cfg   *config.Config
}

// newTestEnv builds a repository against the database named by
// S3REPO_TEST_DSN with a fresh schema, a pinned clock, and an in-memory
// object store. Tests are skipped when the variable is unset.
func newTestEnv(t *testing.T, tweak func(*config.Config)) *testEnv {
	t.Helper()

	dsn := os.Getenv("S3REPO_TEST_DSN")
	if dsn == "" {
		t.Skip("S3REPO_TEST_DSN not set; skipping database integration tests")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)

	cfg := &config.Config{
		DefaultBucket:           "test-bucket",
		BackupBucket:            "backup-bucket",
		LocalRoot:               t.TempDir(),
		PublishedStaleSeconds:   30 * 24 * 3600,
		UnpublishedStaleSeconds: 7 * 24 * 3600,
		NumBackups:              10,
	}
	if tweak != nil {
		tweak(cfg)
	}

	fake := clock.NewFake(time.Date(2013, 4, 24, 1, 2, 3, 0, time.UTC))
	store := newMemStore()

	r, err := NewWithPool(cfg, pool, Options{
		Clock:       fake,
		ObjectStore: store,
		Hostname:    "testhost",
	})
	require.NoError(t, err)

	require.NoError(t, r.DestroyRepository(ctx))
	require.NoError(t, r.CreateRepository(ctx, true))
	require.NoError(t, r.Commit(ctx))

	t.Cleanup(func() {
		_ = r.Rollback(ctx)
		_ = r.DestroyRepository(ctx)
		_ = r.Commit(ctx)
		pool.Close()
	})

	return &testEnv{repo: r, clock: fake, store: store, pool: pool, cfg: cfg}
}

// addFileWithBytes registers a file and seeds its local bytes.
func (e *testEnv) addFileWithBytes(t *testing.T, path string, opts AddFileOptions, contents string) *File {
	t.Helper()
	ctx := context.Background()

	f, err := e.repo.AddFile(ctx, path, opts)
	require.NoError(t, err)
	require.NoError(t, f.Touch(ctx, contents))
	return f
}

func TestCreateRepositoryTwice(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	err := env.repo.CreateRepository(ctx, true)
	require.ErrorIs(t, err, ErrRepoAlreadyExists)

	// Non-erroring variant leaves the schema alone.
	require.NoError(t, env.repo.CreateRepository(ctx, false))
}

func TestCreatePublishExpireRepublish(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	f := env.addFileWithBytes(t, "p", AddFileOptions{ObjectKey: "f1"}, "contents")
	require.NoError(t, f.Publish(ctx))

	t1 := env.clock.Now()
	require.True(t, f.Published)
	require.NotNil(t, f.DatePublished)
	require.True(t, f.DatePublished.Equal(t1))
	require.Nil(t, f.DateExpired)

	require.NoError(t, f.Expire(ctx))
	require.False(t, f.Published)
	require.NotNil(t, f.DateExpired)
	require.True(t, f.DateExpired.Equal(t1))

	require.NoError(t, f.Publish(ctx))
	require.True(t, f.Published)
	require.Nil(t, f.DateExpired)
	require.True(t, f.DatePublished.Equal(t1))
}

func TestRepublishIdempotence(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	f := env.addFileWithBytes(t, "p", AddFileOptions{}, "x")
	require.NoError(t, f.Publish(ctx))
	first := *f.DatePublished

	env.clock.Advance(time.Hour)
	require.NoError(t, f.Publish(ctx))
	require.True(t, f.DatePublished.Equal(first), "re-publishing a current file must not move date_published")
}

func TestMVCCAtOnePath(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.clock.Set(time.Unix(123, 0))
	f1 := env.addFileWithBytes(t, "p", AddFileOptions{}, "v1")
	require.NoError(t, f1.Publish(ctx))

	env.clock.Set(time.Unix(124, 0))
	f2 := env.addFileWithBytes(t, "p", AddFileOptions{}, "v2")
	require.NoError(t, f2.Publish(ctx))

	// Distinct keys minted from distinct seconds.
	require.NotEqual(t, f1.ObjectKey, f2.ObjectKey)

	// Both rows survive; only f2 is current.
	r1, err := env.repo.FindByID(ctx, f1.FileID)
	require.NoError(t, err)
	require.False(t, r1.Published)
	require.NotNil(t, r1.DateExpired)
	require.True(t, r1.DateExpired.Equal(time.Unix(124, 0)))

	current, err := env.repo.GetFile(ctx, "p")
	require.NoError(t, err)
	require.NotNil(t, current)
	require.Equal(t, f2.FileID, current.FileID)
}

func TestConcurrentInsertionDetection(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.repo.AddFile(ctx, "p", AddFileOptions{ObjectKey: "same-key"})
	require.NoError(t, err)

	_, err = env.repo.AddFile(ctx, "p", AddFileOptions{ObjectKey: "same-key"})
	require.ErrorIs(t, err, ErrConcurrentInsertion)
}

func TestUploadRequiresLocalBytes(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	f, err := env.repo.AddFile(ctx, "p", AddFileOptions{})
	require.NoError(t, err)

	err = f.Upload(ctx)
	require.ErrorIs(t, err, ErrFileMissingLocally)
}

func TestUploadIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	f := env.addFileWithBytes(t, "p", AddFileOptions{}, "payload")
	require.NoError(t, f.Upload(ctx))
	uploaded := *f.DateUploaded
	md5 := f.MD5

	env.clock.Advance(time.Hour)
	require.NoError(t, f.Upload(ctx))
	require.True(t, f.DateUploaded.Equal(uploaded))
	require.Equal(t, md5, f.MD5)
	require.NotEmpty(t, f.B64)
	require.Equal(t, int64(7), f.FileSize)
}

func TestDownloadRequiresUpload(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	f := env.addFileWithBytes(t, "p", AddFileOptions{}, "x")
	err := f.Download(ctx)
	require.ErrorIs(t, err, ErrFileNotUploaded)
}

func TestDownloadDigestMismatch(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	f := env.addFileWithBytes(t, "p", AddFileOptions{}, "payload")
	require.NoError(t, f.Upload(ctx))

	// Corrupt the persisted digest, then force a re-download.
	f.MD5 = "00000000000000000000000000000000"
	require.NoError(t, f.update(ctx))
	require.NoError(t, f.Unlink(ctx))

	err := f.Download(ctx)
	require.ErrorIs(t, err, ErrDownloadMismatch)

	// The corrupt copy is not left in the cache.
	bucket, err := f.BucketName(ctx)
	require.NoError(t, err)
	require.False(t, env.repo.cache.Exists(bucket, f.ObjectKey))
}

func TestRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for _, key := range []string{"data/blob.bin", "data/blob.gz"} {
		f, err := env.repo.AddFile(ctx, "roundtrip/"+key, AddFileOptions{ObjectKey: key})
		require.NoError(t, err)

		w, err := f.OpenWrite(ctx)
		require.NoError(t, err)
		_, err = w.Write([]byte("round trip payload"))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		require.NoError(t, f.Publish(ctx))
		require.NoError(t, f.Unlink(ctx))

		rd, err := f.OpenRead(ctx)
		require.NoError(t, err)
		data, err := io.ReadAll(rd)
		require.NoError(t, err)
		require.NoError(t, rd.Close())
		require.Equal(t, "round trip payload", string(data), "key %s", key)
	}
}

func TestPurgePublishedRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	f := env.addFileWithBytes(t, "p", AddFileOptions{}, "x")
	require.NoError(t, f.Publish(ctx))

	err := f.Purge(ctx)
	require.ErrorIs(t, err, ErrPurgingPublished)
}

func TestPurgeRemovesEverything(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	f := env.addFileWithBytes(t, "p", AddFileOptions{}, "x")
	require.NoError(t, f.Upload(ctx))
	bucket, err := f.BucketName(ctx)
	require.NoError(t, err)

	require.NoError(t, f.Purge(ctx))

	gone, err := env.repo.FindByID(ctx, f.FileID)
	require.NoError(t, err)
	require.Nil(t, gone)
	require.Empty(t, env.store.objects)
	require.False(t, env.repo.cache.Exists(bucket, f.ObjectKey))
}

func TestTagIdempotence(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	f := env.addFileWithBytes(t, "p", AddFileOptions{}, "x")
	require.NoError(t, f.Tag(ctx, "imported"))
	require.NoError(t, f.Tag(ctx, "imported"))

	var count int
	err := env.repo.sess.QueryRow(ctx, `
		SELECT count(*) FROM s3_repo.file_tags WHERE file_id = $1
	`, f.FileID).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestUntagMissingIsNoop(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	f := env.addFileWithBytes(t, "p", AddFileOptions{}, "x")
	require.NoError(t, f.Untag(ctx, "never-interned"))
	require.NoError(t, f.Tag(ctx, "a"))
	require.NoError(t, f.Untag(ctx, "a"))

	ids, err := env.repo.stores.FileTags.TagIDs(ctx, f.FileID)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestTagSearch(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	tagSets := [][]string{
		{"imported", "processed", "archived"},
		{"imported", "processed"},
		{"processed", "restored", "restricted"},
		nil,
	}
	files := make([]*File, len(tagSets))
	for i, tags := range tagSets {
		f := env.addFileWithBytes(t, fmt.Sprintf("p%d", i), AddFileOptions{}, "x")
		require.NoError(t, f.Publish(ctx))
		if len(tags) > 0 {
			require.NoError(t, f.Tag(ctx, tags...))
		}
		files[i] = f
	}

	ids := func(fs []*File) []int64 {
		out := make([]int64, len(fs))
		for i, f := range fs {
			out[i] = f.FileID
		}
		return out
	}

	found, err := env.repo.FindTagged(ctx, TagQuery{All: []string{"imported", "archived"}})
	require.NoError(t, err)
	require.Equal(t, []int64{files[0].FileID}, ids(found))

	found, err = env.repo.FindTagged(ctx, TagQuery{
		Any:     []string{"archived", "restored"},
		Exclude: []string{"restricted"},
	})
	require.NoError(t, err)
	require.Equal(t, []int64{files[0].FileID}, ids(found))

	_, err = env.repo.FindTagged(ctx, TagQuery{Exclude: []string{"restored"}})
	require.ErrorIs(t, err, ErrAPIMisuse)

	// Empty predicate selects every current file, tagged or not.
	found, err = env.repo.FindTagged(ctx, TagQuery{})
	require.NoError(t, err)
	require.Len(t, found, 4)

	// Unknown tag in all matches nothing.
	found, err = env.repo.FindTagged(ctx, TagQuery{All: []string{"imported", "unknown"}})
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestTagSearchUnpublishedScope(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	draft := env.addFileWithBytes(t, "draft", AddFileOptions{}, "x")
	require.NoError(t, draft.Tag(ctx, "imported"))

	found, err := env.repo.FindTagged(ctx, TagQuery{All: []string{"imported"}})
	require.NoError(t, err)
	require.Empty(t, found, "draft must not match a published-scope query")

	found, err = env.repo.FindTagged(ctx, TagQuery{All: []string{"imported"}, IncludeUnpublished: true})
	require.NoError(t, err)
	require.Len(t, found, 1)
}

func TestPathTagsCoverAllVersions(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.clock.Set(time.Unix(1000, 0))
	f1 := env.addFileWithBytes(t, "p", AddFileOptions{}, "v1")
	require.NoError(t, f1.Publish(ctx))
	require.NoError(t, f1.TagPath(ctx, "dataset"))

	env.clock.Set(time.Unix(2000, 0))
	f2 := env.addFileWithBytes(t, "p", AddFileOptions{}, "v2")
	require.NoError(t, f2.Publish(ctx))

	// The path tag follows the new current version with no re-tagging.
	found, err := env.repo.FindTagged(ctx, TagQuery{All: []string{"dataset"}})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, f2.FileID, found[0].FileID)
}

func TestTagDateIntegration(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	f := env.addFileWithBytes(t, "p", AddFileOptions{}, "x")
	require.NoError(t, f.Publish(ctx))
	require.NoError(t, f.TagDate(ctx, time.Date(2013, 4, 24, 1, 2, 3, 0, time.UTC), GranularityHour))

	for _, tag := range []string{
		"hour=2013-04-24 01:00:00",
		"day=2013-04-24",
		"week=2013-04-22",
		"month=2013-04-01",
	} {
		found, err := env.repo.FindTagged(ctx, TagQuery{All: []string{tag}})
		require.NoError(t, err)
		require.Len(t, found, 1, "tag %s", tag)
	}
}

func TestCleanupUnpublishedOriginScoped(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	files := make([]*File, 3)
	for i := range files {
		files[i] = env.addFileWithBytes(t, fmt.Sprintf("drafts/%d", i), AddFileOptions{}, "draft")
	}

	// Reassign one draft to another host.
	other, err := env.repo.stores.Hosts.FindOrCreate(ctx, "abc")
	require.NoError(t, err)
	files[2].Origin = other.HostID
	require.NoError(t, files[2].update(ctx))

	env.clock.Advance(14 * 24 * time.Hour)
	require.NoError(t, env.repo.MaintainCurrentHost(ctx))

	for i := 0; i < 2; i++ {
		gone, err := env.repo.FindByID(ctx, files[i].FileID)
		require.NoError(t, err)
		require.Nil(t, gone, "locally-originated draft %d should be purged", i)
	}

	survivor, err := env.repo.FindByID(ctx, files[2].FileID)
	require.NoError(t, err)
	require.NotNil(t, survivor, "foreign-origin draft must survive")
	bucket, err := survivor.BucketName(ctx)
	require.NoError(t, err)
	require.True(t, env.repo.cache.Exists(bucket, survivor.ObjectKey), "foreign-origin draft must survive on disk")
}

func TestCacheOverflowEviction(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.PublishedStaleSeconds = 365 * 24 * 3600
		cfg.UnpublishedStaleSeconds = 365 * 24 * 3600
	})
	ctx := context.Background()

	require.NoError(t, env.repo.SetMaxCacheBytes(ctx, 20))

	// Three 10-byte published files, accessed in order.
	files := make([]*File, 3)
	for i := range files {
		files[i] = env.addFileWithBytes(t, fmt.Sprintf("big/%d", i), AddFileOptions{}, "0123456789")
		require.NoError(t, files[i].Publish(ctx))
		env.clock.Advance(time.Minute)
	}

	// 30 bytes cached against a 20-byte budget: the least recently
	// accessed file goes.
	require.NoError(t, env.repo.MaintainCurrentHost(ctx))

	host, err := env.repo.CurrentHost(ctx)
	require.NoError(t, err)

	var cacheBytes int64
	require.NoError(t, env.repo.sess.QueryRow(ctx, `
		SELECT cache_bytes FROM s3_repo.host_cache_stats WHERE host_id = $1
	`, host.HostID).Scan(&cacheBytes))
	require.LessOrEqual(t, cacheBytes, int64(20))

	bucket, err := files[0].BucketName(ctx)
	require.NoError(t, err)
	require.False(t, env.repo.cache.Exists(bucket, files[0].ObjectKey), "oldest file should be evicted")
	require.True(t, env.repo.cache.Exists(bucket, files[2].ObjectKey), "newest file should remain")

	// Eviction drops bytes only; the rows remain.
	still, err := env.repo.FindByID(ctx, files[0].FileID)
	require.NoError(t, err)
	require.NotNil(t, still)
}

func TestMaintainDatabaseDeletesRetired(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	f := env.addFileWithBytes(t, "p", AddFileOptions{}, "x")
	require.NoError(t, f.Publish(ctx))
	require.NoError(t, f.Expire(ctx))

	// Still referenced by this host's download row.
	require.NoError(t, env.repo.MaintainDatabase(ctx))
	kept, err := env.repo.FindByID(ctx, f.FileID)
	require.NoError(t, err)
	require.NotNil(t, kept, "downloaded file must not be swept")

	require.NoError(t, f.Unlink(ctx))
	require.NoError(t, env.repo.MaintainDatabase(ctx))
	gone, err := env.repo.FindByID(ctx, f.FileID)
	require.NoError(t, err)
	require.Nil(t, gone, "retired unreferenced row should be deleted")
}

func TestRowLockContention(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	f := env.addFileWithBytes(t, "p", AddFileOptions{}, "x")
	require.NoError(t, env.repo.Commit(ctx))

	locked, err := env.repo.RowLock(ctx, f.FileID)
	require.NoError(t, err)
	require.NotNil(t, locked)

	// A second session contends and fails fast.
	other, err := NewWithPool(env.cfg, env.pool, Options{
		Clock:       env.clock,
		ObjectStore: env.store,
		Hostname:    "testhost",
	})
	require.NoError(t, err)

	_, err = other.RowLock(ctx, f.FileID)
	require.ErrorIs(t, err, ErrLockUnavailable)
	require.NoError(t, other.Rollback(ctx))

	// Releasing the lock lets the next taker through.
	require.NoError(t, env.repo.Rollback(ctx))
	relocked, err := other.RowLock(ctx, f.FileID)
	require.NoError(t, err)
	require.NotNil(t, relocked)
	require.NoError(t, other.Rollback(ctx))
}

func TestRollbackClearsIdentityCaches(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.repo.stores.Buckets.FindOrCreate(ctx, "ephemeral")
	require.NoError(t, err)
	require.NoError(t, env.repo.Rollback(ctx))

	// The rolled-back bucket must be re-created, not served from cache.
	b, err := env.repo.stores.Buckets.FindOrCreate(ctx, "ephemeral")
	require.NoError(t, err)
	found, err := env.repo.stores.Buckets.FindByID(ctx, b.BucketID)
	require.NoError(t, err)
	require.NotNil(t, found)
}

func TestDecommission(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	f := env.addFileWithBytes(t, "p", AddFileOptions{}, "x")
	require.NoError(t, f.Upload(ctx))

	require.NoError(t, env.repo.Decommission(ctx))

	var count int
	require.NoError(t, env.repo.sess.QueryRow(ctx, `SELECT count(*) FROM s3_repo.downloads`).Scan(&count))
	require.Zero(t, count)
	require.NoError(t, env.repo.sess.QueryRow(ctx, `SELECT count(*) FROM s3_repo.hosts WHERE hostname = 'testhost'`).Scan(&count))
	require.Zero(t, count)
}

func TestRestoreWithoutBackups(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.repo.RestoreDB(context.Background())
	require.ErrorIs(t, err, ErrNoBackups)
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	f := env.addFileWithBytes(t, "reports/daily", AddFileOptions{}, "report body")
	require.NoError(t, f.Publish(ctx))
	require.NoError(t, f.Tag(ctx, "imported", "processed"))
	require.NoError(t, f.TagPath(ctx, "dataset"))
	require.NoError(t, env.repo.Commit(ctx))

	backup, err := env.repo.BackupDB(ctx)
	require.NoError(t, err)
	require.NoError(t, env.repo.Commit(ctx))
	backupKey := backup.ObjectKey

	require.NoError(t, env.repo.DestroyRepository(ctx))
	require.NoError(t, env.repo.Commit(ctx))

	// Restore also reads the backup object back through the cache; drop
	// the local copy to force a real fetch.
	require.NoError(t, env.repo.cache.Unlink(env.cfg.BackupBucket, backupKey))

	restored, err := env.repo.RestoreDB(ctx)
	require.NoError(t, err)
	require.NotNil(t, restored)
	require.Equal(t, int64(-1), restored.FileSize, "restored backup row carries the sentinel size")

	// The pre-backup state is back.
	current, err := env.repo.GetFile(ctx, "reports/daily")
	require.NoError(t, err)
	require.NotNil(t, current)
	require.Equal(t, f.FileID, current.FileID)
	require.Equal(t, f.GUID, current.GUID)
	require.Equal(t, f.MD5, current.MD5)

	found, err := env.repo.FindTagged(ctx, TagQuery{All: []string{"imported", "dataset"}})
	require.NoError(t, err)
	require.Len(t, found, 1)

	// Sequences continue past restored ids.
	next, err := env.repo.AddFile(ctx, "after/restore", AddFileOptions{})
	require.NoError(t, err)
	require.Greater(t, next.FileID, f.FileID)
}

func TestBackupRetention(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.NumBackups = 2
	})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := env.repo.BackupDB(ctx)
		require.NoError(t, err)
		require.NoError(t, env.repo.Commit(ctx))
		env.clock.Advance(time.Hour)
	}

	bucket, err := env.repo.stores.Buckets.FindOrCreate(ctx, env.cfg.BackupBucket)
	require.NoError(t, err)
	rows, err := env.repo.stores.Files.FindBy(ctx, map[string]any{"bucket_id": bucket.BucketID})
	require.NoError(t, err)
	require.Len(t, rows, 2, "older backups beyond num_backups are purged")

	keys, err := env.store.List(ctx, env.cfg.BackupBucket, backupPath+"/")
	require.NoError(t, err)
	require.Len(t, keys, 2, "purged backups leave no objects behind")
}

func TestAddLocalFile(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "incoming.csv")
	require.NoError(t, os.WriteFile(src, []byte("a,b,c"), 0644))

	f, err := env.repo.AddLocalFile(ctx, "imports/incoming", src, true, AddFileOptions{})
	require.NoError(t, err)

	_, statErr := os.Stat(src)
	require.True(t, errors.Is(statErr, os.ErrNotExist), "move should remove the source")

	require.NoError(t, f.Publish(ctx))
	require.NoError(t, f.Unlink(ctx))

	rd, err := f.OpenRead(ctx)
	require.NoError(t, err)
	data, err := io.ReadAll(rd)
	require.NoError(t, err)
	require.NoError(t, rd.Close())
	require.Equal(t, "a,b,c", string(data))
}

func TestCurrentVersionUniqueInvariant(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	// Many publishes at one path, then assert the quantified invariant.
	for i := 0; i < 5; i++ {
		env.clock.Advance(time.Second)
		f := env.addFileWithBytes(t, "hot/path", AddFileOptions{}, fmt.Sprintf("v%d", i))
		require.NoError(t, f.Publish(ctx))
	}

	var violations int
	require.NoError(t, env.repo.sess.QueryRow(ctx, `
		SELECT count(*)
		FROM (
			SELECT path_id
			FROM s3_repo.files
			WHERE published AND date_expired IS NULL
			GROUP BY path_id
			HAVING count(*) > 1
		) v
	`).Scan(&violations))
	require.Zero(t, violations)

	var badExpired int
	require.NoError(t, env.repo.sess.QueryRow(ctx, `
		SELECT count(*) FROM s3_repo.files WHERE date_expired IS NOT NULL AND published
	`).Scan(&badExpired))
	require.Zero(t, badExpired)

	var badUploaded int
	require.NoError(t, env.repo.sess.QueryRow(ctx, `
		SELECT count(*) FROM s3_repo.files WHERE date_uploaded IS NOT NULL AND (md5 IS NULL OR file_size < 0)
	`).Scan(&badUploaded))
	require.Zero(t, badUploaded)
}
