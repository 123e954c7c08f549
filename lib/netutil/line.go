// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"bufio"
	"errors"
	"io"
)

// ErrLineTooLong is returned by ReadLine when a line exceeds the limit
// before its terminator arrives.
var ErrLineTooLong = errors.New("line too long")

// ReadLine reads one line from reader and returns it without the
// trailing "\n" or "\r\n". A final line cut short by EOF is returned
// as-is; EOF before any byte is returned as io.EOF. maxLength bounds
// the line content; zero or negative means unbounded.
func ReadLine(reader *bufio.Reader, maxLength int) (string, error) {
	var line []byte
	for {
		fragment, err := reader.ReadSlice('\n')
		line = append(line, fragment...)
		if maxLength > 0 && len(trimTerminator(line)) > maxLength {
			return "", ErrLineTooLong
		}
		switch {
		case err == nil:
			return string(trimTerminator(line)), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(line) > 0:
			return string(trimTerminator(line)), nil
		default:
			return "", err
		}
	}
}

func trimTerminator(line []byte) []byte {
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
	}
	return line
}
