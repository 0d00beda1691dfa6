package gtfs

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
)

// parseCacheVersion must change whenever ParseResult, or a domain type it
// holds, changes shape. Entries written under another version are ignored.
const parseCacheVersion = 2

var ErrStaleParseCache = errors.New("parsed GTFS cache entry is stale")

// ParseCache keeps parsed feeds on disk as gzip-compressed gob, keyed by the
// SHA-256 of the archive.
type ParseCache struct {
	dir    string
	logger *slog.Logger
}

type parseCacheEntry struct {
	Version     int
	Fingerprint string
	SavedAt     time.Time
	Result      *ParseResult
}

// NewParseCache stores entries in dir, or in a directory under the system
// temp dir when dir is empty.
func NewParseCache(dir string, logger *slog.Logger) *ParseCache {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "transvisor-gtfs-cache")
	}
	return &ParseCache{
		dir:    dir,
		logger: logger.With("component", "gtfs_parse_cache"),
	}
}

func (c *ParseCache) Dir() string {
	return c.dir
}

func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (c *ParseCache) path(fingerprint string) string {
	return filepath.Join(c.dir, fmt.Sprintf("gtfs_parsed_v%d_%s.gob.gz", parseCacheVersion, fingerprint))
}

// Parse returns the parsed feed for data, from disk when an entry exists and
// by parsing reader otherwise. cached reports which one happened.
func (c *ParseCache) Parse(parser *Parser, reader *zip.Reader, data []byte) (result *ParseResult, cached bool, err error) {
	fingerprint := Fingerprint(data)

	result, err = c.Load(fingerprint)
	if err == nil {
		c.logger.Info("loaded parsed GTFS cache", "path", c.path(fingerprint))
		return result, true, nil
	}
	c.logger.Debug("parsed GTFS cache miss, parsing ZIP", "fingerprint", fingerprint, "error", err)

	result, err = parser.Parse(reader)
	if err != nil {
		return nil, false, fmt.Errorf("parse gtfs: %w", err)
	}
	if err := c.Save(fingerprint, result); err != nil {
		c.logger.Warn("failed to persist parsed GTFS cache", "error", err)
	}
	return result, false, nil
}

// Load reads the entry for fingerprint. A missing entry wraps os.ErrNotExist.
func (c *ParseCache) Load(fingerprint string) (*ParseResult, error) {
	f, err := os.Open(c.path(fingerprint))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open parsed cache: %w", err)
	}
	defer zr.Close()

	var entry parseCacheEntry
	if err := gob.NewDecoder(zr).Decode(&entry); err != nil {
		return nil, fmt.Errorf("decode parsed cache: %w", err)
	}

	if entry.Version != parseCacheVersion || entry.Fingerprint != fingerprint {
		return nil, fmt.Errorf("%w: version %d, fingerprint %.12s", ErrStaleParseCache, entry.Version, entry.Fingerprint)
	}
	r := entry.Result
	if r == nil || r.Routes == nil || r.Trips == nil || r.TripStops == nil {
		return nil, fmt.Errorf("%w: incomplete result", ErrStaleParseCache)
	}
	return r, nil
}

// Save writes result atomically and removes entries for the same feed left by
// older cache versions.
func (c *ParseCache) Save(fingerprint string, result *ParseResult) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(c.dir, "gtfs_parsed_*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	zw, err := gzip.NewWriterLevel(tmp, gzip.BestSpeed)
	if err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}

	encErr := gob.NewEncoder(zw).Encode(parseCacheEntry{
		Version:     parseCacheVersion,
		Fingerprint: fingerprint,
		SavedAt:     time.Now().UTC(),
		Result:      result,
	})
	if err := errors.Join(encErr, zw.Close(), tmp.Close()); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write parsed cache: %w", err)
	}

	path := c.path(fingerprint)
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	c.logger.Info("persisted parsed GTFS cache", "path", path)

	c.removeOlderVersions(fingerprint, path)
	return nil
}

func (c *ParseCache) removeOlderVersions(fingerprint, keep string) {
	matches, err := filepath.Glob(filepath.Join(c.dir, "gtfs_parsed_*"+fingerprint+".gob.gz"))
	if err != nil {
		return
	}
	for _, m := range matches {
		if m == keep {
			continue
		}
		if err := os.Remove(m); err == nil {
			c.logger.Debug("removed stale parsed GTFS cache", "path", m)
		}
	}
}
