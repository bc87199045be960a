// Copyright 2019 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package iter provides a streaming iterator over the top level elements of an
// XML stream.
package iter // import "mellium.im/strophe/internal/iter"

import (
	"encoding/xml"
	"io"

	"mellium.im/xmlstream"

	"mellium.im/strophe/internal/ns"
)

// Iter steps through the elements of a stream whose opening tag has already
// been consumed.
// Whitespace keepalives and other character data between elements are skipped.
type Iter struct {
	r       xml.TokenReader
	err     error
	next    *xml.StartElement
	cur     xml.TokenReader
	closed  bool
	discard xmlstream.TokenWriter
}

// New returns a new iterator over the children of the most recent start element
// already consumed from r.
func New(r xml.TokenReader) *Iter {
	return &Iter{
		r:       xmlstream.Inner(r),
		discard: xmlstream.Discard(),
	}
}

// Next returns true if there is another element to read.
func (i *Iter) Next() bool {
	if i.err != nil || i.closed {
		return false
	}

	// Consume the remainder of the previous element before moving on.
	if i.cur != nil {
		_, i.err = xmlstream.Copy(i.discard, i.cur)
		if i.err != nil {
			return false
		}
	}

	i.next, i.cur = nil, nil
	for {
		t, err := i.r.Token()
		if err != nil {
			if err != io.EOF {
				i.err = err
			}
			return false
		}
		switch tok := t.(type) {
		case xml.StartElement:
			start := tok.Copy()
			i.next = &start
			if IsStreamStart(start) {
				return true
			}
			i.cur = xmlstream.MultiReader(xmlstream.Inner(i.r), xmlstream.Token(start.End()))
			return true
		case xml.EndElement:
			return false
		}
	}
}

// Current returns the start element of the most recent element and a reader
// over the rest of it including its end element.
// A restarted stream header is returned with a nil reader.
func (i *Iter) Current() (*xml.StartElement, xml.TokenReader) {
	return i.next, i.cur
}

// Err returns the last error encountered by the iterator (if any).
func (i *Iter) Err() error {
	return i.err
}

// Close indicates that we are finished with the iterator and discards the rest
// of the stream.
// Calling it multiple times has no effect.
func (i *Iter) Close() error {
	if i.closed {
		return nil
	}
	i.closed = true
	_, err := xmlstream.Copy(i.discard, i.r)
	return err
}

// IsStreamStart reports whether start opens an XMPP stream.
func IsStreamStart(start xml.StartElement) bool {
	return start.Name.Local == "stream" && start.Name.Space == ns.Stream
}
