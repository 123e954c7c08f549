// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one journal line.
type Entry struct {
	Path string `json:"path"`

	// FilePath is the file's location on the analyzed machine. Null
	// for protocol version 1, which does not send it.
	FilePath *string `json:"filepath"`

	PIDs []int64 `json:"pids"`

	// Size is the stored file size, including the truncation marker
	// when Truncated is set.
	Size      int64  `json:"size"`
	Truncated bool   `json:"truncated"`
	BLAKE3    string `json:"blake3"`

	UploadedAt time.Time `json:"uploaded_at"`
}

// journalLocks maps a cleaned absolute journal path to the mutex that
// serializes appends to it. Every Journal opened on the same file
// shares one mutex, including Journals held by different receivers.
var journalLocks sync.Map

// Journal appends upload records to a JSON-lines file.
type Journal struct {
	path string
	mu   *sync.Mutex
}

// OpenJournal prepares a journal at path, creating its directory. The
// file itself is created on first append.
func OpenJournal(path string) (*Journal, error) {
	absolutePath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving journal path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absolutePath), 0o755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}
	lock, _ := journalLocks.LoadOrStore(absolutePath, &sync.Mutex{})
	return &Journal{path: absolutePath, mu: lock.(*sync.Mutex)}, nil
}

// Path returns the absolute journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Append writes one entry as a single line.
func (j *Journal) Append(entry Entry) error {
	if entry.PIDs == nil {
		entry.PIDs = []int64{}
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding journal entry: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.OpenFile(j.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	if _, err := file.Write(line); err != nil {
		file.Close()
		return fmt.Errorf("appending to journal: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing journal: %w", err)
	}
	return nil
}

// ReadJournal returns every entry in the journal file at path. A
// missing file is an empty journal.
func ReadJournal(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for lineNumber := 1; scanner.Scan(); lineNumber++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("journal line %d: %w", lineNumber, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}
	return entries, nil
}
