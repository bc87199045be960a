// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package strophe

import (
	"code.hybscloud.com/atomix"
)

// scope bounds the lifetime of the views created for a single callback
// invocation or a single loop over a stanza's children.
// A nil scope never ends.
type scope struct {
	ended atomix.Uint32
}

func (s *scope) end() {
	if s != nil {
		s.ended.Add(1)
	}
}

func (s *scope) done() bool {
	return s != nil && s.ended.Load() != 0
}

func (s *scope) check(op string) {
	if s.done() {
		panic(misuse(op, ErrOutOfScope))
	}
}
