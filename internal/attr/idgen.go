// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package attr

import (
	"crypto/rand"
	"encoding/hex"
	"io"
)

// IDLen is the length of generated stream identifiers.
const IDLen = 16

// RandomID returns a random hex identifier of length IDLen.
// It panics if the system's source of randomness fails.
func RandomID() string {
	return randomID(IDLen, rand.Reader)
}

func randomID(n int, r io.Reader) string {
	b := make([]byte, (n+1)/2)
	if _, err := io.ReadFull(r, b); err != nil {
		panic("attr: reading randomness: " + err.Error())
	}
	return hex.EncodeToString(b)[:n]
}
