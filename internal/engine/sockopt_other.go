// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

//go:build !linux

package engine

import (
	"time"
)

// On other systems keepalive is left to the dialer's KeepAliveConfig.
func setKeepalive(uintptr, time.Duration, time.Duration) error {
	return nil
}
