package objstore

import "context"

// Null is the offline object store: every call succeeds without touching
// the network. Metadata transitions still run against it, which is what
// deterministic unit tests and OFFLINE=1 operation rely on.
type Null struct{}

// NewNull returns the offline store.
func NewNull() *Null {
	return &Null{}
}

func (*Null) PutFile(ctx context.Context, bucket, key, localPath string) error {
	return nil
}

func (*Null) GetFile(ctx context.Context, bucket, key, localPath string) error {
	return nil
}

func (*Null) Delete(ctx context.Context, bucket, key string) error {
	return nil
}

func (*Null) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	return nil, nil
}
