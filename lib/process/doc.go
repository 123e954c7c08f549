// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers. It centralizes
// the one legitimate raw write to stderr: reporting the error that
// ended run() when the structured logger may not exist yet.
package process
