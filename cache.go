package ddnsrelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-redis/redis/v8"
)

// NewMemoryCache returns a ZoneCache that lives as long as the process.
func NewMemoryCache() ZoneCache {
	return &memoryCache{zones: map[string]string{}}
}

type memoryCache struct {
	mu    sync.RWMutex
	zones map[string]string
}

func (c *memoryCache) Get(_ context.Context, zone string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.zones[zone]
	return id, ok, nil
}

func (c *memoryCache) Put(_ context.Context, zone, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zones[zone] = id
	return nil
}

// NewFileCache returns a ZoneCache persisted to a flat JSON file at path.
//
// The file holds {"status":true,"data":{"<zone>":"<id>"}}.
// It is read on every lookup and rewritten whole on every store;
// concurrent writers race harmlessly since the last one wins with an equivalent value.
func NewFileCache(path string) ZoneCache {
	return &fileCache{path: path}
}

type fileCache struct {
	path string
	mu   sync.Mutex // serializes writers within this process
}

// cacheFile is the on-disk envelope.
type cacheFile struct {
	Status bool              `json:"status"`
	Data   map[string]string `json:"data"`
}

func (c *fileCache) load() (map[string]string, error) {
	raw, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading zone cache: %w", err)
	}
	var f cacheFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing zone cache %s: %w", c.path, err)
	}
	if !f.Status || f.Data == nil {
		return map[string]string{}, nil
	}
	return f.Data, nil
}

func (c *fileCache) Get(_ context.Context, zone string) (string, bool, error) {
	zones, err := c.load()
	if err != nil {
		return "", false, err
	}
	id, ok := zones[zone]
	return id, ok, nil
}

func (c *fileCache) Put(_ context.Context, zone, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	zones, err := c.load()
	if err != nil {
		// a corrupt file is replaced rather than blocking the cache forever
		zones = map[string]string{}
	}
	zones[zone] = id

	raw, err := json.Marshal(cacheFile{Status: true, Data: zones})
	if err != nil {
		return fmt.Errorf("marshalling zone cache: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), "zonecache-*.json.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file to %s: %w", c.path, err)
	}
	return nil
}

// RedisKeyPrefix namespaces the keys written by the redis zone cache.
const RedisKeyPrefix = "ddnsrelay:zone:"

// NewRedisCache returns a ZoneCache shared through redis, for relays running as several replicas.
// Entries never expire.
func NewRedisCache(client *redis.Client) ZoneCache {
	return &redisCache{client: client}
}

type redisCache struct {
	client *redis.Client
}

func (c *redisCache) Get(ctx context.Context, zone string) (string, bool, error) {
	id, err := c.client.Get(ctx, RedisKeyPrefix+zone).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", zone, err)
	}
	return id, true, nil
}

func (c *redisCache) Put(ctx context.Context, zone, id string) error {
	if err := c.client.Set(ctx, RedisKeyPrefix+zone, id, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", zone, err)
	}
	return nil
}
