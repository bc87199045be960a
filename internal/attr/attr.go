// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package attr contains unexported functionality for manipulating the flat
// attribute lists carried by stanza nodes.
package attr // import "mellium.im/strophe/internal/attr"

import (
	"encoding/xml"
)

// Get returns the index and value of the first attribute with the provided
// local name from a list of attributes or -1 and an empty string if no such
// attribute exists.
func Get(attr []xml.Attr, local string) (int, string) {
	for i, a := range attr {
		if a.Name.Local == local {
			return i, a.Value
		}
	}
	return -1, ""
}

// Set replaces the value of the first attribute with the provided local name,
// or appends a new attribute if none exists.
// Attribute order is preserved.
func Set(attr []xml.Attr, local, value string) []xml.Attr {
	if idx, _ := Get(attr, local); idx != -1 {
		attr[idx].Value = value
		return attr
	}
	return append(attr, xml.Attr{Name: xml.Name{Local: local}, Value: value})
}

// Del removes every attribute with the provided local name.
func Del(attr []xml.Attr, local string) []xml.Attr {
	out := attr[:0]
	for _, a := range attr {
		if a.Name.Local != local {
			out = append(out, a)
		}
	}
	return out
}
