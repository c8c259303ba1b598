// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the chatsync YAML configuration.
//
// Configuration comes from a single file named by the CHATSYNC_CONFIG
// environment variable (via [Load]) or a --config flag (via
// [LoadFile]). There is no discovery and no environment-variable
// override of individual values.
//
// The file may carry development, staging, and production sections
// that are merged over the base values when [Config].Environment
// matches. ${HOME} and ${VAR:-default} patterns are expanded in the
// token file path only.
package config
