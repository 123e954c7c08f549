// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// Listen opens a stream listener on address. When receiveBuffer is
// positive, SO_RCVBUF is set on the listening socket before bind;
// accepted connections inherit it, which keeps a bursty monitor from
// stalling on a full kernel buffer while the session writes a buffer
// dump to disk.
func Listen(ctx context.Context, network, address string, receiveBuffer int) (net.Listener, error) {
	var config net.ListenConfig
	if receiveBuffer > 0 {
		config.Control = func(network, address string, raw syscall.RawConn) error {
			var optionErr error
			if err := raw.Control(func(fd uintptr) {
				optionErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, receiveBuffer)
			}); err != nil {
				return err
			}
			if optionErr != nil {
				return fmt.Errorf("setting SO_RCVBUF=%d: %w", receiveBuffer, optionErr)
			}
			return nil
		}
	}
	listener, err := config.Listen(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", address, err)
	}
	return listener, nil
}
