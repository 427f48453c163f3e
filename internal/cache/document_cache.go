// Package cache keeps rendered documents in Valkey between generation requests.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/GautamJagannath/entrada/internal/generate"
)

const defaultTTL = time.Hour

var (
	errMissingAddress = errors.New("cache: valkey address is required")
	errMissingClient  = errors.New("cache: valkey client is required")
)

// Client is the Valkey connection used by the document cache.
type Client valkey.Client

// NewClient connects to a Valkey server. address may list several comma-separated nodes.
func NewClient(address string) (Client, error) {
	var nodes []string
	for _, node := range strings.Split(address, ",") {
		if trimmed := strings.TrimSpace(node); trimmed != "" {
			nodes = append(nodes, trimmed)
		}
	}
	if len(nodes) == 0 {
		return nil, errMissingAddress
	}
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: nodes})
	if err != nil {
		return nil, fmt.Errorf("connect valkey: %w", err)
	}
	return client, nil
}

// DocumentCache stores rendered PDFs keyed by case id, case version and document type.
// A new case version never reads documents rendered for an older one.
type DocumentCache struct {
	client Client
	ttl    time.Duration
}

var _ generate.DocumentCache = (*DocumentCache)(nil)

func NewDocumentCache(client Client, ttl time.Duration) (*DocumentCache, error) {
	if client == nil {
		return nil, errMissingClient
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &DocumentCache{client: client, ttl: ttl}, nil
}

func (c *DocumentCache) Get(ctx context.Context, key generate.CacheKey) ([]byte, bool, error) {
	data, err := c.client.Do(ctx, c.client.B().Get().Key(key.String()).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return data, true, nil
}

func (c *DocumentCache) Put(ctx context.Context, key generate.CacheKey, data []byte) error {
	command := c.client.B().Set().
		Key(key.String()).
		Value(valkey.BinaryString(data)).
		ExSeconds(int64(c.ttl / time.Second)).
		Build()
	if err := c.client.Do(ctx, command).Error(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Ping reports whether the server answers.
func (c *DocumentCache) Ping(ctx context.Context) error {
	return c.client.Do(ctx, c.client.B().Ping().Build()).Error()
}

func (c *DocumentCache) Close() {
	c.client.Close()
}
