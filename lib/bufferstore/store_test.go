// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bufferstore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func newTestStore(t *testing.T, tag CompressionTag) *Store {
	t.Helper()
	store, err := New(Config{Root: t.TempDir(), Compression: tag, CacheEntries: 8})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestStoreHashAndLayout(t *testing.T) {
	store := newTestStore(t, CompressionNone)

	// SHA-1("hello")
	const hash = "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d"
	result, err := store.Store([]byte("hello"), hash)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if result.Hash != hash {
		t.Errorf("Hash = %s, want %s", result.Hash, hash)
	}
	if !result.ChecksumMatch {
		t.Error("ChecksumMatch = false for the correct checksum")
	}
	if result.Size != 5 || result.Deduplicated {
		t.Errorf("result = %+v", result)
	}

	contents, err := os.ReadFile(filepath.Join(store.Root(), "aa", hash))
	if err != nil {
		t.Fatalf("blob not at fan-out path: %v", err)
	}
	if string(contents) != "hello" {
		t.Errorf("blob contents = %q", contents)
	}
}

func TestStoreChecksumMismatchStillStores(t *testing.T) {
	store := newTestStore(t, CompressionNone)

	result, err := store.Store([]byte("payload"), "0000000000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if result.ChecksumMatch {
		t.Error("ChecksumMatch = true for a wrong checksum")
	}
	if result.Hash != HashBuffer([]byte("payload")) {
		t.Errorf("stored under %s, not the computed hash", result.Hash)
	}
	if !store.Has(result.Hash) {
		t.Error("mismatched buffer was not stored")
	}
}

func TestStoreChecksumComparisonIgnoresCase(t *testing.T) {
	store := newTestStore(t, CompressionNone)
	result, err := store.Store([]byte("hello"), " AAF4C61DDCC5E8A2DABEDE0F3B482CD9AEA9434D\n")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if !result.ChecksumMatch {
		t.Error("uppercase checksum with whitespace did not match")
	}
}

func TestStoreDeduplicates(t *testing.T) {
	store := newTestStore(t, CompressionNone)
	data := []byte("same bytes twice")

	first, err := store.Store(data, "")
	if err != nil {
		t.Fatalf("first Store: %v", err)
	}
	second, err := store.Store(data, "")
	if err != nil {
		t.Fatalf("second Store: %v", err)
	}
	if first.Deduplicated || !second.Deduplicated {
		t.Errorf("Deduplicated = %v, %v; want false, true", first.Deduplicated, second.Deduplicated)
	}

	// A fresh store over the same root finds the blob on disk.
	reopened, err := New(Config{Root: store.Root()})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	third, err := reopened.Store(data, "")
	if err != nil {
		t.Fatalf("third Store: %v", err)
	}
	if !third.Deduplicated {
		t.Error("reopened store rewrote an existing blob")
	}
}

func TestStoreRoundTripAllCompressions(t *testing.T) {
	compressible := bytes.Repeat([]byte("MZ\x90\x00\x03\x00\x00\x00"), 4096)
	incompressible := make([]byte, 256)
	for i := range incompressible {
		incompressible[i] = byte(i*167 + 13)
	}

	for _, tag := range []CompressionTag{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(tag.String(), func(t *testing.T) {
			store := newTestStore(t, tag)
			for _, data := range [][]byte{compressible, incompressible, {}} {
				result, err := store.Store(data, "")
				if err != nil {
					t.Fatalf("Store: %v", err)
				}
				loaded, err := store.Load(result.Hash)
				if err != nil {
					t.Fatalf("Load: %v", err)
				}
				if !bytes.Equal(loaded, data) {
					t.Errorf("round trip of %d bytes returned %d bytes", len(data), len(loaded))
				}
			}

			if tag != CompressionNone {
				hash := HashBuffer(compressible)
				path := filepath.Join(store.Root(), hash[:2], hash+tag.suffix())
				info, err := os.Stat(path)
				if err != nil {
					t.Fatalf("compressed blob missing: %v", err)
				}
				if info.Size() >= int64(len(compressible)) {
					t.Errorf("compressed blob is %d bytes, input was %d", info.Size(), len(compressible))
				}
			}
		})
	}
}

func TestLoadErrors(t *testing.T) {
	store := newTestStore(t, CompressionNone)

	if _, err := store.Load("../../etc/passwd"); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("Load(traversal) = %v, want ErrInvalidHash", err)
	}
	if _, err := store.Load(HashBuffer([]byte("never stored"))); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load(missing) = %v, want ErrNotFound", err)
	}
	if store.Has("AAF4C61DDCC5E8A2DABEDE0F3B482CD9AEA9434D") {
		t.Error("Has accepted an uppercase hash")
	}
}

func TestStoreConcurrentSameBuffer(t *testing.T) {
	store := newTestStore(t, CompressionZstd)
	data := bytes.Repeat([]byte("concurrent"), 1000)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Store(data, ""); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Store: %v", err)
	}

	loaded, err := store.Load(HashBuffer(data))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(loaded, data) {
		t.Error("concurrent writes corrupted the blob")
	}

	leftovers, err := os.ReadDir(filepath.Join(store.Root(), "tmp"))
	if err != nil {
		t.Fatalf("reading tmp: %v", err)
	}
	if len(leftovers) != 0 {
		t.Errorf("%d temporary files left behind", len(leftovers))
	}
}

func TestParseCompressionTag(t *testing.T) {
	for _, name := range []string{"none", "lz4", "zstd"} {
		tag, err := ParseCompressionTag(name)
		if err != nil {
			t.Fatalf("ParseCompressionTag(%q): %v", name, err)
		}
		if tag.String() != name {
			t.Errorf("round trip of %q gave %q", name, tag.String())
		}
	}
	if tag, err := ParseCompressionTag(""); err != nil || tag != CompressionNone {
		t.Errorf("empty name = %v, %v", tag, err)
	}
	if _, err := ParseCompressionTag("gzip"); err == nil {
		t.Error("unknown name accepted")
	}
}
