package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/kiln/pkg/domain"
)

// Cache implements ports.BuildCache on the local filesystem.
//
// Layout:
//
//	{BasePath}/
//	  {stage}/
//	    {hash[0:2]}/
//	      {hash}.bin   output bytes
//	      {hash}.json  entry metadata
type Cache struct {
	BasePath string
}

// Entry is the metadata stored next to every cached blob.
type Entry struct {
	Stage     string    `json:"stage"`
	InputHash string    `json:"input_hash"`
	Size      int       `json:"size"`
	StoredAt  time.Time `json:"stored_at"`
}

// NewCache creates a file cache rooted at basePath.
// If basePath is empty, it defaults to ".kiln/cache".
func NewCache(basePath string) *Cache {
	if basePath == "" {
		basePath = filepath.Join(".kiln", "cache")
	}
	return &Cache{BasePath: basePath}
}

func (c *Cache) dir(stageID, inputHash string) string {
	prefix := inputHash
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return filepath.Join(c.BasePath, sanitize(stageID), prefix)
}

// sanitize maps a stage identity to a single safe path segment.
func sanitize(stageID string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")
	return r.Replace(stageID)
}

// Get implements ports.BuildCache.
func (c *Cache) Get(ctx context.Context, stageID, inputHash string) ([]byte, error) {
	if inputHash == "" {
		return nil, fmt.Errorf("inputHash cannot be empty")
	}
	data, err := os.ReadFile(filepath.Join(c.dir(stageID, inputHash), inputHash+".bin"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return data, nil
}

// Put implements ports.BuildCache. Blobs are written to a temp file and renamed
// so concurrent readers never observe a partial entry.
func (c *Cache) Put(ctx context.Context, stageID, inputHash string, data []byte) error {
	if inputHash == "" {
		return fmt.Errorf("inputHash cannot be empty")
	}
	dir := c.dir(stageID, inputHash)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to ensure cache directory: %w", err)
	}

	if err := writeAtomic(dir, inputHash+".bin", data); err != nil {
		return err
	}

	meta, err := json.MarshalIndent(Entry{
		Stage:     stageID,
		InputHash: inputHash,
		Size:      len(data),
		StoredAt:  time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache metadata: %w", err)
	}
	return writeAtomic(dir, inputHash+".json", meta)
}

// Entry returns the metadata stored for a key.
func (c *Cache) Entry(stageID, inputHash string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(c.dir(stageID, inputHash), inputHash+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to read cache metadata: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache metadata: %w", err)
	}
	return &e, nil
}

// Purge removes every cached entry.
func (c *Cache) Purge() error {
	if err := os.RemoveAll(c.BasePath); err != nil {
		return fmt.Errorf("failed to purge cache: %w", err)
	}
	return nil
}

func writeAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close cache file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit cache file: %w", err)
	}
	return nil
}
