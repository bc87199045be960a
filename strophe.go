// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package strophe

import (
	"sync"

	"code.hybscloud.com/atomix"
)

// The version of the library.
const (
	VersionMajor = 0
	VersionMinor = 13
)

// VersionCheck reports whether the library is at least version major.minor.
func VersionCheck(major, minor int) bool {
	return VersionMajor > major || (VersionMajor == major && VersionMinor >= minor)
}

var (
	initOnce     sync.Once
	shutdownOnce sync.Once
	shutdown     atomix.Uint32
)

// Init initializes the library.
// It is called when the first Context is created and only has an effect the
// first time it is called.
func Init() {
	checkLive("Init")
	initOnce.Do(func() {
		zapLogger()
	})
}

// Shutdown tears down the library.
// Creating contexts, connections or stanzas and running the event loop after
// Shutdown panics with an error wrapping ErrShutdown, for the rest of the life
// of the process.
// Calling Shutdown again has no effect.
func Shutdown() {
	shutdownOnce.Do(func() {
		shutdown.Add(1)
	})
}

func checkLive(op string) {
	if shutdown.Load() != 0 {
		panic(misuse(op, ErrShutdown))
	}
}
