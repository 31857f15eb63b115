package kvstore

import (
	"context"
	"fmt"
	"time"

	valkeylib "github.com/valkey-io/valkey-go"
)

type valkeyClient struct {
	inner valkeylib.Client
}

// OpenValkey connects to a Valkey server and verifies the connection with PING.
func OpenValkey(cfg Config) (*Store, error) {
	inner, err := valkeylib.NewClient(valkeylib.ClientOption{
		InitAddress: []string{cfg.Address},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("open valkey store: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := inner.Do(ctx, inner.B().Ping().Build()).Error(); err != nil {
		inner.Close()
		return nil, fmt.Errorf("open valkey store ping (timeout: %v): %w", cfg.ConnectTimeout, err)
	}

	return newStore(valkeyClient{inner: inner}, cfg), nil
}

func (c valkeyClient) get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.inner.Do(ctx, c.inner.B().Get().Key(key).Build()).AsBytes()
	if err != nil {
		if valkeylib.IsValkeyNil(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return data, true, nil
}

func (c valkeyClient) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	builder := c.inner.B().Set().Key(key).Value(valkeylib.BinaryString(value))
	if ttl > 0 {
		return c.inner.Do(ctx, builder.Ex(ttl).Build()).Error()
	}

	return c.inner.Do(ctx, builder.Build()).Error()
}

func (c valkeyClient) close() error {
	c.inner.Close()
	return nil
}
