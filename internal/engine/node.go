// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package engine

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"mellium.im/xmlstream"

	"mellium.im/strophe/internal/attr"
	"mellium.im/strophe/internal/ns"
)

// Node is a reference counted XML element or text node.
//
// Nodes are not safe for concurrent use.
// A node that is linked into a tree is kept alive by its parent; releasing the
// last reference to a node releases the references it holds on its children.
type Node struct {
	refs   int
	text   bool
	name   string
	ns     string
	data   string
	attrs  []xml.Attr
	parent *Node
	first  *Node
	last   *Node
	next   *Node
	prev   *Node
}

// NewElement returns a new element node with a single reference.
func NewElement(name string) *Node {
	return &Node{refs: 1, name: name}
}

// NewText returns a new text node with a single reference.
func NewText(data string) *Node {
	return &Node{refs: 1, text: true, data: data}
}

// Ref takes an additional reference to n and returns it.
func (n *Node) Ref() *Node {
	n.refs++
	return n
}

// Refs returns the current reference count.
func (n *Node) Refs() int {
	return n.refs
}

// Release drops a reference to n.
// It reports whether the node was freed.
func (n *Node) Release() bool {
	if n.refs <= 0 {
		return true
	}
	n.refs--
	if n.refs > 0 {
		return false
	}
	for c := n.first; c != nil; {
		next := c.next
		c.parent, c.next, c.prev = nil, nil, nil
		c.Release()
		c = next
	}
	n.first, n.last = nil, nil
	return true
}

// Copy returns a deep copy of n with a single reference.
// The copy has no parent.
func (n *Node) Copy() *Node {
	cp := &Node{
		refs: 1,
		text: n.text,
		name: n.name,
		ns:   n.ns,
		data: n.data,
	}
	if len(n.attrs) > 0 {
		cp.attrs = append([]xml.Attr(nil), n.attrs...)
	}
	for c := n.first; c != nil; c = c.next {
		cp.link(c.Copy())
	}
	return cp
}

func (n *Node) link(child *Node) {
	child.parent = n
	child.prev = n.last
	child.next = nil
	if n.last != nil {
		n.last.next = child
	} else {
		n.first = child
	}
	n.last = child
}

// IsText reports whether n is a text node.
func (n *Node) IsText() bool { return n.text }

// Name returns the local name of an element or an empty string for text.
func (n *Node) Name() string {
	if n.text {
		return ""
	}
	return n.name
}

// SetName sets the element name.
func (n *Node) SetName(name string) error {
	if n.text {
		return ErrInvalidOperation
	}
	n.name = name
	return nil
}

// NS returns the namespace of the element.
func (n *Node) NS() string {
	return n.ns
}

// SetNS sets the namespace of the element.
func (n *Node) SetNS(space string) error {
	if n.text {
		return ErrInvalidOperation
	}
	n.ns = space
	return nil
}

// Attr returns the value of the named attribute.
func (n *Node) Attr(name string) (string, bool) {
	idx, v := attr.Get(n.attrs, name)
	return v, idx != -1
}

// SetAttr sets the named attribute.
// Setting the xmlns attribute sets the namespace instead.
func (n *Node) SetAttr(name, value string) error {
	if n.text {
		return ErrInvalidOperation
	}
	if name == "xmlns" {
		n.ns = value
		return nil
	}
	n.attrs = attr.Set(n.attrs, name, value)
	return nil
}

// DelAttr removes the named attribute.
func (n *Node) DelAttr(name string) error {
	if n.text {
		return ErrInvalidOperation
	}
	if name == "xmlns" {
		n.ns = ""
		return nil
	}
	n.attrs = attr.Del(n.attrs, name)
	return nil
}

// Attrs returns a copy of the attributes of n in document order.
func (n *Node) Attrs() []xml.Attr {
	return append([]xml.Attr(nil), n.attrs...)
}

// Text returns the data of a text node or the concatenated data of the direct
// text children of an element.
func (n *Node) Text() string {
	if n.text {
		return n.data
	}
	var b strings.Builder
	for c := n.first; c != nil; c = c.next {
		if c.text {
			b.WriteString(c.data)
		}
	}
	return b.String()
}

// SetText replaces the data of a text node.
// An element that has not been given a name, namespace, attribute or child yet
// becomes a text node.
func (n *Node) SetText(data string) error {
	if !n.text {
		if n.name != "" || n.ns != "" || len(n.attrs) > 0 || n.first != nil {
			return ErrInvalidOperation
		}
		n.text = true
	}
	n.data = data
	return nil
}

// Parent returns the node that n is linked into, if any.
func (n *Node) Parent() *Node { return n.parent }

// FirstChild returns the first child of n.
func (n *Node) FirstChild() *Node { return n.first }

// Next returns the next sibling of n.
func (n *Node) Next() *Node { return n.next }

// AddChild appends child to n taking over the caller's reference.
func (n *Node) AddChild(child *Node) error {
	if n.text || child == n || child.parent != nil {
		return ErrInvalidOperation
	}
	for p := n.parent; p != nil; p = p.parent {
		if p == child {
			return ErrInvalidOperation
		}
	}
	n.link(child)
	return nil
}

// ChildByName returns the first element child with the given name.
func (n *Node) ChildByName(name string) *Node {
	for c := n.first; c != nil; c = c.next {
		if !c.text && c.name == name {
			return c
		}
	}
	return nil
}

// ChildByNS returns the first element child in the given namespace.
func (n *Node) ChildByNS(space string) *Node {
	for c := n.first; c != nil; c = c.next {
		if !c.text && c.ns == space {
			return c
		}
	}
	return nil
}

// ChildByNameAndNS returns the first element child with the given name in the
// given namespace.
func (n *Node) ChildByNameAndNS(name, space string) *Node {
	for c := n.first; c != nil; c = c.next {
		if !c.text && c.name == name && c.ns == space {
			return c
		}
	}
	return nil
}

// Match reports whether n passes the space, name and typ filters of a stanza
// handler.
// Empty filters match anything.
// The namespace matches either the element itself or any of its children.
func (n *Node) Match(space, name, typ string) bool {
	if n.text {
		return false
	}
	if space != "" && n.ns != space && n.ChildByNS(space) == nil {
		return false
	}
	if name != "" && n.name != name {
		return false
	}
	if typ != "" {
		if v, _ := n.Attr("type"); v != typ {
			return false
		}
	}
	return true
}

// Marshal returns the serialized form of n.
// Namespaces are written as xmlns attributes where they differ from the
// parent.
func (n *Node) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := n.write(&buf, n.parentNS()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (n *Node) parentNS() string {
	if n.parent == nil {
		return ""
	}
	return n.parent.ns
}

func (n *Node) write(buf *bytes.Buffer, outer string) error {
	if n.text {
		textEscaper.WriteString(buf, n.data)
		return nil
	}
	if n.name == "" {
		return ErrInvalidOperation
	}
	buf.WriteByte('<')
	buf.WriteString(n.name)
	if n.ns != "" && n.ns != outer {
		writeAttr(buf, "xmlns", n.ns)
	}
	for _, a := range n.attrs {
		writeAttr(buf, a.Name.Local, a.Value)
	}
	if n.first == nil {
		buf.WriteString("/>")
		return nil
	}
	buf.WriteByte('>')
	for c := n.first; c != nil; c = c.next {
		if err := c.write(buf, n.nsOr(outer)); err != nil {
			return err
		}
	}
	buf.WriteString("</")
	buf.WriteString(n.name)
	buf.WriteByte('>')
	return nil
}

func (n *Node) nsOr(outer string) string {
	if n.ns == "" {
		return outer
	}
	return n.ns
}

func writeAttr(buf *bytes.Buffer, name, value string) {
	buf.WriteByte(' ')
	buf.WriteString(name)
	buf.WriteString(`="`)
	attrEscaper.WriteString(buf, value)
	buf.WriteByte('"')
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
)

// TokenReader returns a stream of tokens for n suitable for transmission on an
// XMPP session.
func (n *Node) TokenReader() xml.TokenReader {
	return n.tokens(n.parentNS())
}

func (n *Node) tokens(outer string) xml.TokenReader {
	if n.text {
		return xmlstream.Token(xml.CharData(n.data))
	}
	start := xml.StartElement{Name: xml.Name{Local: n.name}}
	if n.ns != "" && n.ns != outer {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "xmlns"}, Value: n.ns})
	}
	start.Attr = append(start.Attr, n.attrs...)
	var inner []xml.TokenReader
	for c := n.first; c != nil; c = c.next {
		inner = append(inner, c.tokens(n.nsOr(outer)))
	}
	return xmlstream.Wrap(xmlstream.MultiReader(inner...), start)
}

// Decode builds a node tree from start and the tokens that follow it.
// Reading stops at the end element matching start or at io.EOF.
func Decode(start xml.StartElement, r xml.TokenReader) (*Node, error) {
	root := fromStart(start)
	cur := root
	for cur != nil {
		t, err := r.Token()
		if err == io.EOF {
			if t == nil {
				break
			}
			err = nil
		}
		if err != nil {
			root.Release()
			return nil, err
		}
		switch tok := t.(type) {
		case xml.StartElement:
			child := fromStart(tok)
			cur.link(child)
			cur = child
		case xml.EndElement:
			if cur == root {
				cur = nil
				continue
			}
			cur = cur.parent
		case xml.CharData:
			if len(tok) == 0 {
				continue
			}
			if cur.last != nil && cur.last.text {
				cur.last.data += string(tok)
				continue
			}
			cur.link(NewText(string(tok)))
		}
	}
	return root, nil
}

func fromStart(start xml.StartElement) *Node {
	n := NewElement(start.Name.Local)
	n.ns = start.Name.Space
	for _, a := range start.Attr {
		switch {
		case a.Name.Space == "xmlns":
		case a.Name.Space == "" && a.Name.Local == "xmlns":
			if n.ns == "" {
				n.ns = a.Value
			}
		case a.Name.Space == ns.XML || a.Name.Space == "xml":
			n.attrs = append(n.attrs, xml.Attr{Name: xml.Name{Local: "xml:" + a.Name.Local}, Value: a.Value})
		default:
			n.attrs = append(n.attrs, xml.Attr{Name: xml.Name{Local: a.Name.Local}, Value: a.Value})
		}
	}
	return n
}

// Parse returns the first element found in s.
func Parse(s string) (*Node, error) {
	d := xml.NewDecoder(strings.NewReader(s))
	for {
		t, err := d.Token()
		if err == io.EOF {
			return nil, errEmptyDocument
		}
		if err != nil {
			return nil, err
		}
		if start, ok := t.(xml.StartElement); ok {
			return Decode(start.Copy(), d)
		}
	}
}

var errEmptyDocument = errors.New("engine: no element found")
