package repo

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/wizzat/s3repo/pkg/cache"
	"github.com/wizzat/s3repo/pkg/clock"
	"github.com/wizzat/s3repo/pkg/config"
	"github.com/wizzat/s3repo/pkg/db"
	"github.com/wizzat/s3repo/pkg/entity"
	"github.com/wizzat/s3repo/pkg/log"
	"github.com/wizzat/s3repo/pkg/metrics"
	"github.com/wizzat/s3repo/pkg/objstore"
	"github.com/wizzat/s3repo/pkg/types"
)

// Repository owns the database pool, the object store, the local cache, and
// the configuration. Every mutating call runs in the repository's ambient
// transaction; Commit and Rollback are explicit.
type Repository struct {
	cfg      *config.Config
	pool     *pgxpool.Pool
	store    objstore.Store
	cache    *cache.Cache
	clock    clock.Clock
	hostname string
	logger   zerolog.Logger

	sess   *db.Session
	stores *entity.Stores
}

// Options overrides collaborators at construction. Zero values select
// production defaults.
type Options struct {
	// Clock defaults to the system clock.
	Clock clock.Clock

	// ObjectStore defaults to the configured S3 store, or the null store
	// when OFFLINE=1.
	ObjectStore objstore.Store

	// Hostname defaults to the resolved local hostname.
	Hostname string
}

// New opens a repository from configuration.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Repository, error) {
	pool, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	r, err := newWithPool(cfg, pool, opts)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

// NewWithPool wraps an existing pool; the caller retains ownership of it.
// Used by tests that share one pool across repositories.
func NewWithPool(cfg *config.Config, pool *pgxpool.Pool, opts Options) (*Repository, error) {
	return newWithPool(cfg, pool, opts)
}

func newWithPool(cfg *config.Config, pool *pgxpool.Pool, opts Options) (*Repository, error) {
	store := opts.ObjectStore
	if store == nil {
		if config.Offline() {
			store = objstore.NewNull()
		} else {
			s3, err := objstore.NewS3(cfg)
			if err != nil {
				return nil, err
			}
			store = s3
		}
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}

	hostname := opts.Hostname
	if hostname == "" {
		hostname = clock.Hostname()
	}

	sess := db.NewSession(pool)
	stores := entity.NewStores(sess)
	sess.OnRollback(stores.InvalidateCaches)

	return &Repository{
		cfg:      cfg,
		pool:     pool,
		store:    store,
		cache:    cache.New(cfg.LocalRoot),
		clock:    clk,
		hostname: hostname,
		logger:   log.WithComponent("repo"),
		sess:     sess,
		stores:   stores,
	}, nil
}

// Close releases the database pool.
func (r *Repository) Close() {
	r.pool.Close()
}

// Config returns the loaded configuration.
func (r *Repository) Config() *config.Config {
	return r.cfg
}

// Cache returns the host-local blob cache.
func (r *Repository) Cache() *cache.Cache {
	return r.cache
}

// Commit commits the ambient transaction.
func (r *Repository) Commit(ctx context.Context) error {
	return r.sess.Commit(ctx)
}

// Rollback aborts the ambient transaction and drops identity caches.
func (r *Repository) Rollback(ctx context.Context) error {
	return r.sess.Rollback(ctx)
}

// CurrentHost resolves this process's host row, creating it on first use.
func (r *Repository) CurrentHost(ctx context.Context) (*types.Host, error) {
	return r.stores.Hosts.FindOrCreate(ctx, r.hostname)
}

// SetMaxCacheBytes updates the current host's cache budget.
func (r *Repository) SetMaxCacheBytes(ctx context.Context, maxBytes int64) error {
	host, err := r.CurrentHost(ctx)
	if err != nil {
		return err
	}
	return r.stores.Hosts.SetMaxCacheBytes(ctx, host.HostID, maxBytes)
}

// Decommission removes the current host: its download rows first, then the
// host row itself.
func (r *Repository) Decommission(ctx context.Context) error {
	host, err := r.CurrentHost(ctx)
	if err != nil {
		return err
	}
	if err := r.stores.Downloads.PurgeHost(ctx, host.HostID); err != nil {
		return err
	}
	return r.stores.Hosts.Delete(ctx, host.HostID)
}

// CreateRepository creates the schema. When errorIfExists is set, an
// existing schema fails with ErrRepoAlreadyExists; otherwise it is left
// untouched.
func (r *Repository) CreateRepository(ctx context.Context, errorIfExists bool) error {
	exists, err := db.SchemaExists(ctx, r.sess)
	if err != nil {
		return err
	}
	if exists {
		if errorIfExists {
			return ErrRepoAlreadyExists
		}
		return nil
	}
	return db.CreateSchema(ctx, r.sess)
}

// DestroyRepository drops the whole schema.
func (r *Repository) DestroyRepository(ctx context.Context) error {
	return db.DropSchema(ctx, r.sess)
}

// FlushRepository empties every table while keeping the schema.
func (r *Repository) FlushRepository(ctx context.Context) error {
	return db.TruncateAll(ctx, r.sess)
}

// AddFileOptions overrides add-time defaults.
type AddFileOptions struct {
	// Bucket defaults to the configured default bucket.
	Bucket string

	// ObjectKey defaults to {path}/{epoch_seconds}.
	ObjectKey string
}

// AddFile registers a new file version at the logical path. The default
// object key embeds the creation second, so writers racing on one path mint
// distinct keys; a true key collision is reported as ErrConcurrentInsertion.
func (r *Repository) AddFile(ctx context.Context, path string, opts AddFileOptions) (*File, error) {
	now := r.clock.Now()

	pathRow, err := r.stores.Paths.FindOrCreate(ctx, path)
	if err != nil {
		return nil, err
	}

	bucketName := opts.Bucket
	if bucketName == "" {
		bucketName = r.cfg.DefaultBucket
	}
	bucketRow, err := r.stores.Buckets.FindOrCreate(ctx, bucketName)
	if err != nil {
		return nil, err
	}

	host, err := r.CurrentHost(ctx)
	if err != nil {
		return nil, err
	}

	objectKey := opts.ObjectKey
	if objectKey == "" {
		objectKey = path + "/" + strconv.FormatInt(now.Unix(), 10)
	}

	candidate := &types.File{
		BucketID:    bucketRow.BucketID,
		ObjectKey:   objectKey,
		PathID:      pathRow.PathID,
		Origin:      host.HostID,
		GUID:        clock.NewGUID(),
		DateCreated: now,
	}

	won, err := r.stores.Files.FindOrCreate(ctx, candidate)
	if err != nil {
		return nil, err
	}
	if won.GUID != candidate.GUID {
		return nil, fmt.Errorf("%w: %s/%s", ErrConcurrentInsertion, bucketName, objectKey)
	}

	metrics.FilesAdded.Inc()
	return r.file(won), nil
}

// AddLocalFile registers an existing local file at the logical path and
// moves (or copies) its bytes into the cache layout. The default object key
// keeps the source file's base name under the path.
func (r *Repository) AddLocalFile(ctx context.Context, path, srcPath string, move bool, opts AddFileOptions) (*File, error) {
	if opts.ObjectKey == "" {
		opts.ObjectKey = path + "/" + filepath.Base(srcPath)
	}
	f, err := r.AddFile(ctx, path, opts)
	if err != nil {
		return nil, err
	}

	bucketName, err := f.BucketName(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.cache.EnsureDir(bucketName, f.ObjectKey); err != nil {
		return nil, err
	}

	dst := r.cache.LocalPath(bucketName, f.ObjectKey)
	if move {
		err = os.Rename(srcPath, dst)
		if err != nil {
			// Source may live on another filesystem; fall back to copy.
			if err = copyFile(srcPath, dst); err == nil {
				err = os.Remove(srcPath)
			}
		}
	} else {
		err = copyFile(srcPath, dst)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to import %s: %w", srcPath, err)
	}
	return f, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// GetFile returns the current version at the logical path, or nil when the
// path is unknown or has no current version.
func (r *Repository) GetFile(ctx context.Context, path string) (*File, error) {
	pathRow, err := r.stores.Paths.Find(ctx, path)
	if err != nil {
		return nil, err
	}
	if pathRow == nil {
		return nil, nil
	}

	row, err := r.stores.Files.FindCurrent(ctx, pathRow.PathID)
	if err != nil || row == nil {
		return nil, err
	}
	return r.file(row), nil
}

// FindByID returns the file with the given id, or nil.
func (r *Repository) FindByID(ctx context.Context, fileID int64) (*File, error) {
	row, err := r.stores.Files.FindByID(ctx, fileID)
	if err != nil || row == nil {
		return nil, err
	}
	return r.file(row), nil
}

// FindBy returns every file matching the equality filter.
func (r *Repository) FindBy(ctx context.Context, filter map[string]any) ([]*File, error) {
	rows, err := r.stores.Files.FindBy(ctx, filter)
	if err != nil {
		return nil, err
	}
	return r.files(rows), nil
}

// FindAtPath returns every version at the logical path, newest last.
func (r *Repository) FindAtPath(ctx context.Context, path string) ([]*File, error) {
	pathRow, err := r.stores.Paths.Find(ctx, path)
	if err != nil || pathRow == nil {
		return nil, err
	}
	return r.FindBy(ctx, map[string]any{"path_id": pathRow.PathID})
}

// RowLock takes a non-blocking exclusive lock on the file row for the
// duration of the ambient transaction. Contention surfaces as
// ErrLockUnavailable and may be retried.
func (r *Repository) RowLock(ctx context.Context, fileID int64) (*File, error) {
	row, err := r.stores.Files.RowLock(ctx, fileID)
	if err != nil || row == nil {
		return nil, err
	}
	return r.file(row), nil
}

func (r *Repository) file(row *types.File) *File {
	return &File{File: *row, repo: r}
}

func (r *Repository) files(rows []*types.File) []*File {
	files := make([]*File, len(rows))
	for i, row := range rows {
		files[i] = r.file(row)
	}
	return files
}
