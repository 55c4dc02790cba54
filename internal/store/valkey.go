package store

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

// ValkeyKV implements KV on top of a valkey (Redis-compatible) server.
type ValkeyKV struct {
	client valkey.Client
}

// NewValkeyKV connects to the valkey server at the given URL
// (valkey://host:port or redis://host:port). The password, when set,
// overrides any credential embedded in the URL.
func NewValkeyKV(url, password string) (*ValkeyKV, error) {
	opt, err := valkey.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid valkey URL: %w", err)
	}
	if password != "" {
		opt.Password = password
	}

	client, err := valkey.NewClient(opt)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	return &ValkeyKV{client: client}, nil
}

func (v *ValkeyKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var cmd valkey.Completed
	if ttl > 0 {
		cmd = v.client.B().Set().Key(key).Value(value).ExSeconds(int64(ttl.Seconds())).Build()
	} else {
		cmd = v.client.B().Set().Key(key).Value(value).Build()
	}
	return v.client.Do(ctx, cmd).Error()
}

func (v *ValkeyKV) Get(ctx context.Context, key string) (string, error) {
	val, err := v.client.Do(ctx, v.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	return val, nil
}

// GetDel relies on the server-side GETDEL command, so the read-and-delete is
// atomic even across multiple parley instances.
func (v *ValkeyKV) GetDel(ctx context.Context, key string) (string, error) {
	val, err := v.client.Do(ctx, v.client.B().Getdel().Key(key).Build()).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	return val, nil
}

func (v *ValkeyKV) Del(ctx context.Context, key string) error {
	return v.client.Do(ctx, v.client.B().Del().Key(key).Build()).Error()
}

// Keys iterates with SCAN in batches of 100. KEYS is deliberately avoided;
// it blocks the server on large keyspaces.
func (v *ValkeyKV) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		entry, err := v.client.Do(ctx,
			v.client.B().Scan().Cursor(cursor).Match(pattern).Count(100).Build(),
		).AsScanEntry()
		if err != nil {
			return nil, err
		}
		keys = append(keys, entry.Elements...)
		cursor = entry.Cursor
		if cursor == 0 {
			return keys, nil
		}
	}
}

func (v *ValkeyKV) Close() {
	v.client.Close()
}
