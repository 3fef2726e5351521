// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package config loads the fetch pipeline's runtime settings from a
// YAML file and from ASSETFETCH_* environment variables, with the
// environment taking precedence.
package config
