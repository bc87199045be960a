// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package handle maps opaque userdata slots to Go values.
//
// The native engine only ever stores a uintptr next to each registered
// callback.
// Closures owned by the wrapper are registered here and looked up again by the
// trampoline that the engine invokes.
package handle // import "mellium.im/strophe/internal/handle"

import (
	"sync"

	"code.hybscloud.com/atomix"
)

// Handle is an opaque reference to a registered value.
// The zero Handle never refers to anything.
type Handle uintptr

var (
	mu      sync.RWMutex
	values  = make(map[Handle]any)
	counter atomix.Uint32
)

// Register stores v and returns a new handle for it.
// Handles are issued in increasing order and are never reused.
func Register(v any) Handle {
	h := Handle(counter.Add(1))
	mu.Lock()
	values[h] = v
	mu.Unlock()
	return h
}

// Lookup returns the value registered under h or nil if h was never registered
// or has been unregistered.
func Lookup(h Handle) any {
	mu.RLock()
	defer mu.RUnlock()
	return values[h]
}

// Unregister removes h from the table so that the value can be collected.
// Unregistering an unknown handle has no effect.
func Unregister(h Handle) {
	mu.Lock()
	delete(values, h)
	mu.Unlock()
}

// Count returns the number of currently registered handles.
func Count() int {
	mu.RLock()
	defer mu.RUnlock()
	return len(values)
}
