// Package shellcache holds the cached shell assets behind the
// fetch-interception policy. Cached responses live in generations keyed by
// a single version tag; activating a new tag deletes every other
// generation, so at most one generation is ever live.
package shellcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

var errMissingRoot = errors.New("shellcache: cache root is required")

// CachedResponse is a stored response together with the metadata needed to
// replay it.
type CachedResponse struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"-"`
}

// Store manages cache generations under one root directory.
type Store struct {
	root   string
	logger *zap.Logger
}

// NewStore constructs a Store rooted at the given directory.
func NewStore(root string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errMissingRoot
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("shellcache: create root: %w", err)
	}
	return &Store{root: root, logger: logger}, nil
}

// Generation is one tagged cache generation.
type Generation struct {
	tag string
	dir string
}

// Tag returns the generation's version tag.
func (g *Generation) Tag() string {
	return g.tag
}

// Open returns the generation for a tag, creating it when absent.
func (s *Store) Open(tag string) (*Generation, error) {
	if strings.TrimSpace(tag) == "" {
		return nil, errors.New("shellcache: cache tag is required")
	}
	dir := filepath.Join(s.root, tag)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("shellcache: open generation %q: %w", tag, err)
	}
	return &Generation{tag: tag, dir: dir}, nil
}

// Tags lists the generations currently on disk.
func (s *Store) Tags() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("shellcache: list generations: %w", err)
	}
	var tags []string
	for _, entry := range entries {
		if entry.IsDir() {
			tags = append(tags, entry.Name())
		}
	}
	return tags, nil
}

// Delete removes one generation entirely.
func (s *Store) Delete(tag string) error {
	if err := os.RemoveAll(filepath.Join(s.root, tag)); err != nil {
		return fmt.Errorf("shellcache: delete generation %q: %w", tag, err)
	}
	return nil
}

// DeleteOthers removes every generation whose tag differs from current and
// reports the tags removed.
func (s *Store) DeleteOthers(current string) ([]string, error) {
	tags, err := s.Tags()
	if err != nil {
		return nil, err
	}
	var deleted []string
	for _, tag := range tags {
		if tag == current {
			continue
		}
		if err := s.Delete(tag); err != nil {
			return deleted, err
		}
		deleted = append(deleted, tag)
	}
	if len(deleted) > 0 {
		s.logger.Info("stale cache generations deleted",
			zap.String("current", current),
			zap.Strings("deleted", deleted))
	}
	return deleted, nil
}

// Put stores a response under the cache key for the given URL.
func (g *Generation) Put(rawURL string, response CachedResponse) error {
	key, err := CacheKey(rawURL)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("shellcache: encode metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(g.dir, key+".meta"), meta, 0o644); err != nil {
		return fmt.Errorf("shellcache: write metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(g.dir, key+".body"), response.Body, 0o644); err != nil {
		return fmt.Errorf("shellcache: write body: %w", err)
	}
	return nil
}

// Match looks up a previously stored response for the URL. The key ignores
// the query string, so variants of one resource share an entry.
func (g *Generation) Match(rawURL string) (CachedResponse, bool, error) {
	key, err := CacheKey(rawURL)
	if err != nil {
		return CachedResponse{}, false, err
	}
	meta, err := os.ReadFile(filepath.Join(g.dir, key+".meta"))
	if errors.Is(err, os.ErrNotExist) {
		return CachedResponse{}, false, nil
	}
	if err != nil {
		return CachedResponse{}, false, fmt.Errorf("shellcache: read metadata: %w", err)
	}
	var response CachedResponse
	if err := json.Unmarshal(meta, &response); err != nil {
		return CachedResponse{}, false, fmt.Errorf("shellcache: decode metadata: %w", err)
	}
	body, err := os.ReadFile(filepath.Join(g.dir, key+".body"))
	if err != nil {
		return CachedResponse{}, false, fmt.Errorf("shellcache: read body: %w", err)
	}
	response.Body = body
	return response, true, nil
}

// CacheKey derives the storage key for a URL, ignoring query string and
// fragment so request variants collapse onto one entry.
func CacheKey(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("shellcache: parse url: %w", err)
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	parsed.Host = strings.ToLower(parsed.Host)
	sum := sha256.Sum256([]byte(parsed.String()))
	return hex.EncodeToString(sum[:]), nil
}
