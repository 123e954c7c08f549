// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bufferstore

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheEntries is the number of known hashes remembered when the
// configuration does not say otherwise.
const DefaultCacheEntries = 4096

// ErrNotFound is returned by Load for a hash the store does not hold.
var ErrNotFound = errors.New("buffer not found")

// ErrInvalidHash is returned for a hash that is not 40 lowercase hex
// characters.
var ErrInvalidHash = errors.New("invalid buffer hash")

// Config holds the parameters for opening a Store.
type Config struct {
	// Root is the store directory. Created if missing.
	Root string

	// Compression selects the on-disk encoding for new blobs.
	Compression CompressionTag

	// CacheEntries bounds the in-memory set of hashes known to be on
	// disk. Zero selects DefaultCacheEntries.
	CacheEntries int

	Logger *slog.Logger
}

// Result describes one Store call.
type Result struct {
	// Hash is the lowercase hex SHA-1 of the buffer contents.
	Hash string

	Size int

	// DeclaredChecksum is the checksum the monitor sent, verbatim.
	DeclaredChecksum string

	// ChecksumMatch reports whether DeclaredChecksum equals Hash,
	// ignoring case and surrounding whitespace.
	ChecksumMatch bool

	// Deduplicated is set when the blob was already present and
	// nothing was written.
	Deduplicated bool
}

// Store is a content-addressed directory of memory buffers. Blobs live
// at <root>/<hash[0:2]>/<hash><suffix> where the suffix names the
// compression. Writes go through a temporary file and a rename, so a
// reader never observes a partial blob.
//
// Store is safe for concurrent use by every session of the collector.
type Store struct {
	root        string
	compression CompressionTag
	known       *lru.Cache[string, struct{}]
	logger      *slog.Logger
}

// New opens (creating if needed) a buffer store.
func New(config Config) (*Store, error) {
	if config.Root == "" {
		return nil, fmt.Errorf("buffer store root is required")
	}
	if config.Compression > CompressionZstd {
		return nil, fmt.Errorf("unsupported compression tag: %d", config.Compression)
	}
	entries := config.CacheEntries
	if entries <= 0 {
		entries = DefaultCacheEntries
	}
	known, err := lru.New[string, struct{}](entries)
	if err != nil {
		return nil, fmt.Errorf("creating hash cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(config.Root, "tmp"), 0o755); err != nil {
		return nil, fmt.Errorf("creating buffer store directory: %w", err)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		root:        config.Root,
		compression: config.Compression,
		known:       known,
		logger:      logger,
	}, nil
}

// Root returns the store directory.
func (s *Store) Root() string {
	return s.root
}

// HashBuffer returns the content hash used to address data.
func HashBuffer(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// ChecksumMatches compares a monitor-declared checksum with a computed
// hash, ignoring case and surrounding whitespace.
func ChecksumMatches(declared, hash string) bool {
	return strings.EqualFold(strings.TrimSpace(declared), hash)
}

// Store persists data under its content hash and compares the hash with
// the checksum the monitor declared. A mismatch is logged and reported
// in the result; the blob is stored under the computed hash regardless.
func (s *Store) Store(data []byte, declaredChecksum string) (Result, error) {
	hash := HashBuffer(data)
	result := Result{
		Hash:             hash,
		Size:             len(data),
		DeclaredChecksum: declaredChecksum,
		ChecksumMatch:    ChecksumMatches(declaredChecksum, hash),
	}
	if !result.ChecksumMatch {
		s.logger.Warn("buffer checksum mismatch",
			"hash", hash,
			"declared", declaredChecksum,
			"size", len(data),
		)
	}

	if s.Has(hash) {
		result.Deduplicated = true
		return result, nil
	}

	if err := s.write(hash, data); err != nil {
		return result, err
	}
	s.known.Add(hash, struct{}{})
	return result, nil
}

func (s *Store) write(hash string, data []byte) error {
	encoded, err := compress(data, s.compression)
	tag := s.compression
	if errors.Is(err, errIncompressible) {
		encoded, tag = data, CompressionNone
	} else if err != nil {
		return fmt.Errorf("compressing buffer %s: %w", hash, err)
	}

	directory := filepath.Join(s.root, hash[:2])
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return fmt.Errorf("creating buffer directory: %w", err)
	}

	temporary, err := os.CreateTemp(filepath.Join(s.root, "tmp"), hash+"-*")
	if err != nil {
		return fmt.Errorf("creating temporary buffer file: %w", err)
	}
	temporaryPath := temporary.Name()
	if _, err := temporary.Write(encoded); err != nil {
		temporary.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing buffer %s: %w", hash, err)
	}
	if err := temporary.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing buffer %s: %w", hash, err)
	}

	// Two sessions storing the same buffer race here; both renames
	// install identical content.
	if err := os.Rename(temporaryPath, filepath.Join(directory, hash+tag.suffix())); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("installing buffer %s: %w", hash, err)
	}
	return nil
}

// Has reports whether a blob for hash exists under any compression.
func (s *Store) Has(hash string) bool {
	if !validHash(hash) {
		return false
	}
	if s.known.Contains(hash) {
		return true
	}
	if _, _, err := s.locate(hash); err == nil {
		s.known.Add(hash, struct{}{})
		return true
	}
	return false
}

// Load returns the decompressed contents of a stored buffer.
func (s *Store) Load(hash string) ([]byte, error) {
	if !validHash(hash) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	path, tag, err := s.locate(hash)
	if err != nil {
		return nil, err
	}
	stored, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading buffer %s: %w", hash, err)
	}
	data, err := decompress(stored, tag)
	if err != nil {
		return nil, fmt.Errorf("buffer %s: %w", hash, err)
	}
	return data, nil
}

func (s *Store) locate(hash string) (string, CompressionTag, error) {
	base := filepath.Join(s.root, hash[:2], hash)
	for _, tag := range []CompressionTag{CompressionNone, CompressionZstd, CompressionLZ4} {
		path := base + tag.suffix()
		_, err := os.Stat(path)
		if err == nil {
			return path, tag, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", 0, fmt.Errorf("checking buffer %s: %w", hash, err)
		}
	}
	return "", 0, fmt.Errorf("%w: %s", ErrNotFound, hash)
}

func validHash(hash string) bool {
	if len(hash) != sha1.Size*2 {
		return false
	}
	for _, character := range hash {
		if (character < '0' || character > '9') && (character < 'a' || character > 'f') {
			return false
		}
	}
	return true
}
