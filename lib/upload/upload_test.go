// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/collector/lib/clock"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestReceiver(t *testing.T, maxSize int64) (*Receiver, string) {
	t.Helper()
	base := t.TempDir()
	journal, err := OpenJournal(filepath.Join(base, "files.json"))
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	receiver, err := NewReceiver(Config{
		Root:    filepath.Join(base, "files"),
		MaxSize: maxSize,
		Journal: journal,
		Clock:   clock.Fake(testEpoch),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewReceiver: %v", err)
	}
	return receiver, journal.Path()
}

func receive(t *testing.T, receiver *Receiver, stream io.Reader, version int) (*Result, error) {
	t.Helper()
	return receiver.Receive(context.Background(), bufio.NewReader(stream), version)
}

func digest(data string) string {
	sum := blake3.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func TestReceiveVersion2(t *testing.T) {
	receiver, journalPath := newTestReceiver(t, 0)

	stream := "sub\\dir\\file.bin\r\nC:\\Users\\x\\file.bin\n1234 5678\ncontent bytes"
	result, err := receive(t, receiver, strings.NewReader(stream), 2)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}

	if result.Path != "sub/dir/file.bin" {
		t.Errorf("Path = %q", result.Path)
	}
	if result.FilePath == nil || *result.FilePath != `C:\Users\x\file.bin` {
		t.Errorf("FilePath = %v", result.FilePath)
	}
	if len(result.PIDs) != 2 || result.PIDs[0] != 1234 || result.PIDs[1] != 5678 {
		t.Errorf("PIDs = %v", result.PIDs)
	}
	if result.Truncated || result.Size != int64(len("content bytes")) {
		t.Errorf("Size = %d, Truncated = %v", result.Size, result.Truncated)
	}

	stored, err := os.ReadFile(filepath.Join(receiver.Root(), "sub", "dir", "file.bin"))
	if err != nil {
		t.Fatalf("reading stored file: %v", err)
	}
	if string(stored) != "content bytes" {
		t.Errorf("stored = %q", stored)
	}
	if result.BLAKE3 != digest("content bytes") {
		t.Errorf("BLAKE3 = %s", result.BLAKE3)
	}

	entries, err := ReadJournal(journalPath)
	if err != nil {
		t.Fatalf("ReadJournal: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d journal entries, want 1", len(entries))
	}
	entry := entries[0]
	if entry.Path != "sub/dir/file.bin" || entry.Size != 13 || entry.Truncated {
		t.Errorf("entry = %+v", entry)
	}
	if !entry.UploadedAt.Equal(testEpoch) {
		t.Errorf("UploadedAt = %v, want %v", entry.UploadedAt, testEpoch)
	}
	if entry.BLAKE3 != result.BLAKE3 {
		t.Errorf("journal digest %s, result digest %s", entry.BLAKE3, result.BLAKE3)
	}
}

func TestReceiveVersion1HasNoOriginOrPIDs(t *testing.T) {
	receiver, journalPath := newTestReceiver(t, 0)

	result, err := receive(t, receiver, strings.NewReader("shots/0001.jpg\nJPEG"), 1)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if result.FilePath != nil || len(result.PIDs) != 0 {
		t.Errorf("version 1 header = %+v", result.Header)
	}

	raw, err := os.ReadFile(journalPath)
	if err != nil {
		t.Fatalf("reading journal: %v", err)
	}
	if !strings.Contains(string(raw), `"filepath":null`) || !strings.Contains(string(raw), `"pids":[]`) {
		t.Errorf("journal line = %s", raw)
	}
}

func TestReceiveRejectsUnsafePaths(t *testing.T) {
	paths := []string{
		"../../etc/passwd",
		"..\\..\\etc\\passwd",
		"/etc/passwd",
		"C:\\Windows\\system32\\evil.dll",
		"file.bin",
		"sub/./file.bin",
		"sub//file.bin",
		"sub/dir/",
		"sub/../../file.bin",
		"",
	}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			receiver, journalPath := newTestReceiver(t, 0)
			_, err := receive(t, receiver, strings.NewReader(path+"\ncontent"), 1)
			if !errors.Is(err, ErrUnsafePath) {
				t.Fatalf("Receive(%q) = %v, want ErrUnsafePath", path, err)
			}

			entries, err := os.ReadDir(receiver.Root())
			if err != nil {
				t.Fatalf("reading root: %v", err)
			}
			if len(entries) != 0 {
				t.Errorf("rejected upload created %d entries under the root", len(entries))
			}
			if _, err := os.Stat(journalPath); !os.IsNotExist(err) {
				t.Errorf("rejected upload touched the journal: %v", err)
			}
		})
	}
}

func TestReceiveStaysInsideRootThroughSymlinks(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		link       string
		unsafePath bool
	}{
		{"linked directory", "escape/file.bin", "escape", true},
		{"linked nested directory", "sub/escape/file.bin", "sub/escape", true},
		{"linked file", "sub/file.bin", "sub/file.bin", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			receiver, journalPath := newTestReceiver(t, 0)
			outside := t.TempDir()

			link := filepath.Join(receiver.Root(), filepath.FromSlash(tt.link))
			if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
				t.Fatalf("MkdirAll: %v", err)
			}
			linkTarget := outside
			if !tt.unsafePath {
				linkTarget = filepath.Join(outside, "file.bin")
			}
			if err := os.Symlink(linkTarget, link); err != nil {
				t.Fatalf("Symlink: %v", err)
			}

			_, err := receive(t, receiver, strings.NewReader(tt.path+"\ncontent"), 1)
			if err == nil {
				t.Fatalf("Receive(%q) followed a link out of the root", tt.path)
			}
			if tt.unsafePath && !errors.Is(err, ErrUnsafePath) {
				t.Errorf("Receive(%q) = %v, want ErrUnsafePath", tt.path, err)
			}

			entries, err := os.ReadDir(outside)
			if err != nil {
				t.Fatalf("reading outside directory: %v", err)
			}
			if len(entries) != 0 {
				t.Errorf("upload wrote %d entries outside the root", len(entries))
			}
			if _, err := os.Stat(journalPath); !os.IsNotExist(err) {
				t.Errorf("failed upload touched the journal: %v", err)
			}
		})
	}
}

func TestReceiveTruncatesAtLimit(t *testing.T) {
	receiver, journalPath := newTestReceiver(t, 16)

	content := strings.Repeat("A", 40)
	result, err := receive(t, receiver, strings.NewReader("files/big.bin\n"+content), 1)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if !result.Truncated {
		t.Fatal("Truncated = false for oversize content")
	}

	want := strings.Repeat("A", 16) + TruncationMarker
	stored, err := os.ReadFile(result.StoredPath)
	if err != nil {
		t.Fatalf("reading stored file: %v", err)
	}
	if string(stored) != want {
		t.Errorf("stored = %q, want %q", stored, want)
	}
	if result.Size != int64(len(want)) {
		t.Errorf("Size = %d, want %d", result.Size, len(want))
	}
	if result.BLAKE3 != digest(want) {
		t.Error("digest does not cover the stored bytes")
	}

	entries, err := ReadJournal(journalPath)
	if err != nil {
		t.Fatalf("ReadJournal: %v", err)
	}
	if len(entries) != 1 || !entries[0].Truncated {
		t.Errorf("journal = %+v, want one truncated entry", entries)
	}
}

func TestReceiveUnderLimitIsNotTruncated(t *testing.T) {
	receiver, _ := newTestReceiver(t, 16)
	result, err := receive(t, receiver, strings.NewReader("files/small.bin\n"+strings.Repeat("A", 15)), 1)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if result.Truncated {
		t.Error("15 bytes under a 16 byte limit was truncated")
	}
}

// resetReader yields its data and then fails the way a dropped TCP
// connection does.
type resetReader struct {
	data io.Reader
}

func (r *resetReader) Read(buffer []byte) (int, error) {
	n, err := r.data.Read(buffer)
	if errors.Is(err, io.EOF) {
		return n, syscall.ECONNRESET
	}
	return n, err
}

func TestReceiveTransportErrorRemovesPartialFile(t *testing.T) {
	receiver, journalPath := newTestReceiver(t, 0)

	stream := &resetReader{data: strings.NewReader("files/partial.bin\nhalf of the")}
	_, err := receive(t, receiver, stream, 1)
	if !errors.Is(err, syscall.ECONNRESET) {
		t.Fatalf("Receive = %v, want ECONNRESET", err)
	}
	if _, err := os.Stat(filepath.Join(receiver.Root(), "files", "partial.bin")); !os.IsNotExist(err) {
		t.Errorf("partial file still present: %v", err)
	}
	if _, err := os.Stat(journalPath); !os.IsNotExist(err) {
		t.Error("failed upload was journaled")
	}
}

func TestReadHeaderProtocolErrors(t *testing.T) {
	tests := []struct {
		name    string
		stream  string
		version int
	}{
		{"empty stream", "", 1},
		{"missing origin", "files/a.bin\n", 2},
		{"missing pids", "files/a.bin\nC:\\a.bin\n", 2},
		{"non-integer pid", "files/a.bin\nC:\\a.bin\n12 abc\n", 2},
		{"overlong path", strings.Repeat("a", DefaultMaxLine+1) + "\n", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadHeader(bufio.NewReader(strings.NewReader(tt.stream)), tt.version, DefaultMaxLine)
			if !errors.Is(err, ErrProtocol) {
				t.Errorf("ReadHeader = %v, want ErrProtocol", err)
			}
		})
	}
}

func TestJournalSharedAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "files.json")
	first, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	second, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	if first.mu != second.mu {
		t.Fatal("journals on the same path do not share a lock")
	}

	var wg sync.WaitGroup
	for i := range 40 {
		journal := first
		if i%2 == 1 {
			journal = second
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			origin := strings.Repeat("x", 2048)
			if err := journal.Append(Entry{Path: "files/f.bin", FilePath: &origin, PIDs: []int64{int64(i)}}); err != nil {
				t.Errorf("Append: %v", err)
			}
		}()
	}
	wg.Wait()

	entries, err := ReadJournal(path)
	if err != nil {
		t.Fatalf("ReadJournal: %v", err)
	}
	if len(entries) != 40 {
		t.Errorf("got %d entries, want 40", len(entries))
	}
}

func TestResolvePathAccepts(t *testing.T) {
	root := t.TempDir()
	target, err := ResolvePath(root, "sub/dir/file.bin")
	if err != nil {
		t.Fatalf("ResolvePath: %v", err)
	}
	if target != filepath.Join(root, "sub", "dir", "file.bin") {
		t.Errorf("target = %s", target)
	}
	if _, err := ResolvePath(root, "files/..hidden"); err != nil {
		t.Errorf("dotted file name rejected: %v", err)
	}
}
