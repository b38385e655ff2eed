package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/singleflight"
)

// EmbeddingCache is a file-backed, content-hash-keyed store of embedding
// vectors. It lives under a project's cache directory as embeddings/<model>.json
// and is consulted in bulk before any text is sent to the embedding provider,
// so re-indexing unchanged content never re-embeds it.
type EmbeddingCache struct {
	path string
	mu   sync.RWMutex
	data map[string][]float32

	group singleflight.Group
}

// EmbeddingCachePath returns the on-disk path of the cache file for a given
// model name inside cacheDir.
func EmbeddingCachePath(cacheDir, modelName string) string {
	return filepath.Join(cacheDir, "embeddings", modelName+".json")
}

// LoadEmbeddingCache reads the cache file for modelName, returning an empty
// cache if it doesn't exist yet.
func LoadEmbeddingCache(cacheDir, modelName string) (*EmbeddingCache, error) {
	path := EmbeddingCachePath(cacheDir, modelName)

	c := &EmbeddingCache{
		path: path,
		data: make(map[string][]float32),
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading embedding cache: %w", err)
	}

	if err := json.Unmarshal(raw, &c.data); err != nil {
		return nil, fmt.Errorf("parsing embedding cache: %w", err)
	}
	return c, nil
}

// Get returns the cached vector for a content hash, if present.
func (c *EmbeddingCache) Get(hash string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[hash]
	return v, ok
}

// Put stores a vector under a content hash without persisting to disk; callers
// batch many Puts and call Save once.
func (c *EmbeddingCache) Put(hash string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[hash] = vector
}

// Save persists the cache to disk, creating the embeddings/ directory if needed.
func (c *EmbeddingCache) Save() error {
	c.mu.RLock()
	raw, err := json.Marshal(c.data)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshaling embedding cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("creating embedding cache dir: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("writing embedding cache: %w", err)
	}
	return os.Rename(tmp, c.path)
}

// GetOrEmbed returns the cached vector for hash, embedding and caching text via
// client if it's a miss. Concurrent misses on the same hash are deduplicated
// with a singleflight group so only one request reaches the provider.
func (c *EmbeddingCache) GetOrEmbed(ctx context.Context, client *openai.Client, hash, text string) ([]float32, error) {
	if v, ok := c.Get(hash); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(hash, func() (any, error) {
		if v, ok := c.Get(hash); ok {
			return v, nil
		}
		vec, err := EmbedText(ctx, client, text)
		if err != nil {
			return nil, err
		}
		c.Put(hash, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// GetOrEmbedBatch resolves a batch of (hash, text) pairs against the cache,
// embedding only the misses, one provider call per batchSize of them. Returns
// vectors in input order.
func (c *EmbeddingCache) GetOrEmbedBatch(ctx context.Context, client *openai.Client, hashes, texts []string, batchSize int) ([][]float32, error) {
	if len(hashes) != len(texts) {
		return nil, fmt.Errorf("hashes and texts length mismatch: %d != %d", len(hashes), len(texts))
	}

	results := make([][]float32, len(hashes))
	var missIdx []int
	var missTexts []string

	for i, h := range hashes {
		if v, ok := c.Get(h); ok {
			results[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, texts[i])
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	vectors, err := EmbedBatched(ctx, client, missTexts, batchSize)
	if err != nil {
		return nil, err
	}

	for j, idx := range missIdx {
		if j < len(vectors) {
			results[idx] = vectors[j]
			c.Put(hashes[idx], vectors[j])
		}
	}

	return results, nil
}

// Count returns the number of cached vectors.
func (c *EmbeddingCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
