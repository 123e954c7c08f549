// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the collector.
//
// Configuration is loaded from a single file specified by either the
// BUREAU_COLLECTOR_CONFIG environment variable (via [Load]) or a
// --config flag (via [LoadFile]). There is no automatic file search.
//
// The file may carry environment-specific sections (development,
// staging, production) that override the listen address, logging, and
// sink settings when [Config].Environment matches. Production switches
// logging to JSON unless the file says otherwise.
//
// ${HOME}, ${UPLOAD_ROOT} and ${VAR:-default} patterns are expanded in
// path fields after loading.
//
// This package depends only on lib/bufferstore and lib/wire, for the
// compression names and frame limit it validates.
package config
