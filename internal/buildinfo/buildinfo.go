// Copyright (c) 2026, the arrbiter contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package buildinfo

import "fmt"

// Version is set at build time via -ldflags "-X ...buildinfo.Version=v1.2.3".
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// UserAgent identifies arrbiter against the download client and arr APIs.
var UserAgent = fmt.Sprintf("arrbiter/%s", Version)
