// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package strophe

import (
	"encoding/xml"
	"iter"
	"strings"
	"sync"

	"mellium.im/xmlstream"

	"mellium.im/strophe/internal/engine"
	"mellium.im/strophe/internal/ns"
)

// Stanza is a reference counted XML element or text node.
//
// Stanzas returned by the constructors, Clone and Dup are owned: they hold a
// reference to the node that is dropped by Release.
// Stanzas returned by the navigation methods, by iterating over the children
// of a stanza and passed to handlers are views: they do not hold a reference,
// may not be released and become invalid when the stanza they were obtained
// from is released, when the loop that yielded them ends or when the handler
// returns.
//
// To keep part of a tree after its root has been released, Dup or Clone it
// first.
type Stanza struct {
	n         *engine.Node
	owned     bool
	readOnly  bool
	moved     bool
	scope     *scope
	src       *Stanza
	shared    int
	exclusive bool
}

func ownStanza(n *engine.Node) *Stanza {
	return &Stanza{n: n, owned: true}
}

func viewStanza(n *engine.Node, s *scope, readOnly bool) *Stanza {
	return &Stanza{n: n, scope: s, readOnly: readOnly}
}

func (s *Stanza) child(n *engine.Node, readOnly bool) *Stanza {
	if n == nil {
		return nil
	}
	return &Stanza{n: n, scope: s.scope, src: s, readOnly: readOnly}
}

// node returns the underlying node after checking that s and every stanza it
// was derived from are still valid.
func (s *Stanza) node(op string) *engine.Node {
	checkLive(op)
	for v := s; v != nil; v = v.src {
		if v.moved {
			panic(misuse(op, ErrMoved))
		}
		v.scope.check(op)
	}
	return s.n
}

func (s *Stanza) read(op string) *engine.Node {
	n := s.node(op)
	s.checkLoans(op, n, false)
	return n
}

func (s *Stanza) mutable(op string) *engine.Node {
	n := s.node(op)
	if s.readOnly {
		panic(misuse(op, ErrReadOnly))
	}
	s.checkLoans(op, n, true)
	return n
}

// loan records the loops running over the children of a node.
// Loans are kept per node so that every handle, view and duplicate reaching
// the node observes them.
type loan struct {
	shared    int
	exclusive *scope
}

var (
	loanMu sync.Mutex
	loans  = make(map[*engine.Node]*loan)
)

// lend records a loop over the children of n and returns the function that
// ends it.
func lend(n *engine.Node, sc *scope, exclusive bool) func() {
	loanMu.Lock()
	l := loans[n]
	if l == nil {
		l = new(loan)
		loans[n] = l
	}
	if exclusive {
		l.exclusive = sc
	} else {
		l.shared++
	}
	loanMu.Unlock()
	return func() {
		loanMu.Lock()
		if exclusive {
			l.exclusive = nil
		} else {
			l.shared--
		}
		if l.shared == 0 && l.exclusive == nil {
			delete(loans, n)
		}
		loanMu.Unlock()
	}
}

// checkLoans panics if accessing n through s conflicts with a loop over n or
// one of its ancestors.
// Writes conflict with every loop; reads only conflict with mutable loops,
// except through the views those loops yield.
func (s *Stanza) checkLoans(op string, n *engine.Node, write bool) {
	loanMu.Lock()
	defer loanMu.Unlock()
	if len(loans) == 0 {
		return
	}
	for a := n; a != nil; a = a.Parent() {
		l := loans[a]
		if l == nil {
			continue
		}
		if write && l.shared > 0 {
			panic(misuse(op, ErrBorrowed))
		}
		if l.exclusive != nil && (a == n || !s.derivedFrom(l.exclusive)) {
			panic(misuse(op, ErrBorrowed))
		}
	}
}

// derivedFrom reports whether s was yielded by, or derived from a view yielded
// by, the loop with scope sc.
func (s *Stanza) derivedFrom(sc *scope) bool {
	for v := s; v != nil; v = v.src {
		if v.scope == sc {
			return true
		}
	}
	return false
}

// take moves the reference held by s out of the handle.
func (s *Stanza) take(op string) *engine.Node {
	n := s.node(op)
	if !s.owned || s.shared > 0 || s.exclusive {
		panic(misuse(op, ErrBorrowed))
	}
	s.moved = true
	return n
}

// NewStanza returns a new empty stanza.
// It becomes an element once it is given a name or a text node once it is
// given text.
func NewStanza() *Stanza {
	checkLive("NewStanza")
	return ownStanza(engine.NewElement(""))
}

// NewPresence returns a new <presence/> stanza.
func NewPresence() *Stanza {
	checkLive("NewPresence")
	return ownStanza(engine.NewElement("presence"))
}

// NewIQ returns a new <iq/> stanza.
// Empty values are left unset.
func NewIQ(typ, id string) *Stanza {
	checkLive("NewIQ")
	n := engine.NewElement("iq")
	setAttrs(n, "type", typ, "id", id)
	return ownStanza(n)
}

// NewMessage returns a new <message/> stanza.
// Empty values are left unset.
func NewMessage(typ, to, id string) *Stanza {
	checkLive("NewMessage")
	n := engine.NewElement("message")
	setAttrs(n, "type", typ, "to", to, "id", id)
	return ownStanza(n)
}

// NewError returns a new <stream:error/> element with the given condition and
// optional text.
func NewError(typ ErrorType, text string) *Stanza {
	checkLive("NewError")
	n := engine.NewElement("error")
	_ = n.SetNS(ns.Stream)
	_ = n.AddChild(newElement(typ.Condition(), ns.Streams, ""))
	if text != "" {
		_ = n.AddChild(newElement("text", ns.Streams, text))
	}
	return ownStanza(n)
}

// StanzaFromString parses the first element of s.
func StanzaFromString(s string) (*Stanza, error) {
	checkLive("StanzaFromString")
	n, err := engine.Parse(s)
	if err != nil {
		return nil, err
	}
	return ownStanza(n), nil
}

func setAttrs(n *engine.Node, kv ...string) {
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			_ = n.SetAttr(kv[i], kv[i+1])
		}
	}
}

func newElement(name, space, text string) *engine.Node {
	n := engine.NewElement(name)
	_ = n.SetNS(space)
	if text != "" {
		_ = n.AddChild(engine.NewText(text))
	}
	return n
}

// Release drops the reference held by s.
// It panics if s is a view or is being iterated over.
func (s *Stanza) Release() {
	s.take("Stanza.Release").Release()
}

// Dup returns a new handle holding another reference to the same node.
// The returned stanza is owned even if s is a view, and is read only if s is.
func (s *Stanza) Dup() *Stanza {
	n := s.read("Stanza.Dup")
	return &Stanza{n: n.Ref(), owned: true, readOnly: s.readOnly}
}

// Equal reports whether s and o refer to the same element, as s and its Dup
// or two views of the same child do.
// A Clone is never Equal to the stanza it was copied from.
func (s *Stanza) Equal(o *Stanza) bool {
	n := s.read("Stanza.Equal")
	if o == nil {
		return false
	}
	return n == o.read("Stanza.Equal")
}

// Clone returns an owned deep copy of s.
func (s *Stanza) Clone() *Stanza {
	return ownStanza(s.read("Stanza.Clone").Copy())
}

// IsText reports whether s is a text node.
func (s *Stanza) IsText() bool {
	return s.read("Stanza.IsText").IsText()
}

// IsTag reports whether s is an element.
func (s *Stanza) IsTag() bool {
	n := s.read("Stanza.IsTag")
	return !n.IsText() && n.Name() != ""
}

// ToText returns the serialized form of s.
// It fails on an element that has no name.
func (s *Stanza) ToText() (string, error) {
	n := s.read("Stanza.ToText")
	if !n.IsText() && n.Name() == "" {
		return "", ErrInvalidOperation
	}
	b, err := n.Marshal()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// String returns the serialized form of s or an empty string if it cannot be
// serialized.
func (s *Stanza) String() string {
	str, _ := s.ToText()
	return str
}

// TokenReader returns a stream of XML tokens for s.
// The tokens are read from the node lazily; s must not be modified or released
// until the reader is exhausted.
func (s *Stanza) TokenReader() xml.TokenReader {
	return s.read("Stanza.TokenReader").TokenReader()
}

// WriteXML satisfies the xmlstream.WriterTo interface.
// It is like MarshalXML except it writes tokens to w.
func (s *Stanza) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, s.TokenReader())
}

// MarshalXML implements xml.Marshaler.
func (s *Stanza) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	_, err := s.WriteXML(e)
	if err != nil {
		return err
	}
	return e.Flush()
}

// Name returns the element name or an empty string for text nodes.
func (s *Stanza) Name() string {
	return s.read("Stanza.Name").Name()
}

// SetName sets the element name.
func (s *Stanza) SetName(name string) error {
	return s.mutable("Stanza.SetName").SetName(name)
}

// NS returns the namespace of the element.
func (s *Stanza) NS() string {
	return s.read("Stanza.NS").NS()
}

// SetNS sets the namespace of the element.
func (s *Stanza) SetNS(space string) error {
	return s.mutable("Stanza.SetNS").SetNS(space)
}

// Attribute returns the value of the named attribute and whether it is set.
func (s *Stanza) Attribute(name string) (string, bool) {
	return s.read("Stanza.Attribute").Attr(name)
}

// Attributes returns the attributes of the element keyed by name.
func (s *Stanza) Attributes() map[string]string {
	attrs := s.read("Stanza.Attributes").Attrs()
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		m[attrName(a.Name)] = a.Value
	}
	return m
}

func attrName(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	if n.Space == ns.XML {
		return "xml:" + n.Local
	}
	return n.Space + ":" + n.Local
}

// AttributeCount returns the number of attributes of the element.
func (s *Stanza) AttributeCount() int {
	return len(s.read("Stanza.AttributeCount").Attrs())
}

// SetAttribute sets the named attribute.
func (s *Stanza) SetAttribute(name, value string) error {
	return s.mutable("Stanza.SetAttribute").SetAttr(name, value)
}

// DelAttribute removes the named attribute.
func (s *Stanza) DelAttribute(name string) error {
	return s.mutable("Stanza.DelAttribute").DelAttr(name)
}

func (s *Stanza) attr(op, name string) string {
	v, _ := s.read(op).Attr(name)
	return v
}

// ID returns the id attribute.
func (s *Stanza) ID() string { return s.attr("Stanza.ID", "id") }

// Type returns the type attribute.
func (s *Stanza) Type() string { return s.attr("Stanza.Type", "type") }

// To returns the to attribute.
func (s *Stanza) To() string { return s.attr("Stanza.To", "to") }

// From returns the from attribute.
func (s *Stanza) From() string { return s.attr("Stanza.From", "from") }

// SetID sets the id attribute.
func (s *Stanza) SetID(id string) error {
	return s.mutable("Stanza.SetID").SetAttr("id", id)
}

// SetType sets the type attribute.
func (s *Stanza) SetType(typ string) error {
	return s.mutable("Stanza.SetType").SetAttr("type", typ)
}

// SetTo sets the to attribute.
func (s *Stanza) SetTo(to string) error {
	return s.mutable("Stanza.SetTo").SetAttr("to", to)
}

// SetFrom sets the from attribute.
func (s *Stanza) SetFrom(from string) error {
	return s.mutable("Stanza.SetFrom").SetAttr("from", from)
}

// Text returns the data of a text node or the text content of an element.
func (s *Stanza) Text() string {
	return s.read("Stanza.Text").Text()
}

// SetText sets the data of a text node.
// An empty stanza becomes a text node.
func (s *Stanza) SetText(text string) error {
	return s.mutable("Stanza.SetText").SetText(text)
}

// Body returns the text of the <body/> child of a message.
func (s *Stanza) Body() string {
	n := s.read("Stanza.Body")
	if n.Name() != "message" {
		return ""
	}
	if b := n.ChildByName("body"); b != nil {
		return b.Text()
	}
	return ""
}

// SetBody adds a <body/> to a message.
// It fails if s is not a message or already has a body.
func (s *Stanza) SetBody(body string) error {
	n := s.mutable("Stanza.SetBody")
	if n.Name() != "message" || n.ChildByName("body") != nil {
		return ErrInvalidOperation
	}
	b := engine.NewElement("body")
	if err := b.AddChild(engine.NewText(body)); err != nil {
		return err
	}
	return n.AddChild(b)
}

// AddChild appends child to s.
// The child is moved into s and may not be used afterwards.
func (s *Stanza) AddChild(child *Stanza) error {
	n := s.mutable("Stanza.AddChild")
	c := child.take("Stanza.AddChild")
	if err := n.AddChild(c); err != nil {
		c.Release()
		return err
	}
	return nil
}

// FirstChild returns a read only view of the first child of s.
func (s *Stanza) FirstChild() *Stanza {
	return s.child(s.read("Stanza.FirstChild").FirstChild(), true)
}

// FirstChildMut is like FirstChild but the view may be modified.
func (s *Stanza) FirstChildMut() *Stanza {
	return s.child(s.mutable("Stanza.FirstChildMut").FirstChild(), false)
}

// Next returns a read only view of the next sibling of s.
func (s *Stanza) Next() *Stanza {
	return s.child(s.read("Stanza.Next").Next(), true)
}

// NextMut is like Next but the view may be modified.
func (s *Stanza) NextMut() *Stanza {
	return s.child(s.mutable("Stanza.NextMut").Next(), false)
}

// ChildByName returns a read only view of the first child element with the
// given name.
func (s *Stanza) ChildByName(name string) *Stanza {
	return s.child(s.read("Stanza.ChildByName").ChildByName(name), true)
}

// ChildByNameMut is like ChildByName but the view may be modified.
func (s *Stanza) ChildByNameMut(name string) *Stanza {
	return s.child(s.mutable("Stanza.ChildByNameMut").ChildByName(name), false)
}

// ChildByNS returns a read only view of the first child element in the given
// namespace.
func (s *Stanza) ChildByNS(space string) *Stanza {
	return s.child(s.read("Stanza.ChildByNS").ChildByNS(space), true)
}

// ChildByNSMut is like ChildByNS but the view may be modified.
func (s *Stanza) ChildByNSMut(space string) *Stanza {
	return s.child(s.mutable("Stanza.ChildByNSMut").ChildByNS(space), false)
}

// ChildByNameAndNS returns a read only view of the first child element with
// the given name and namespace.
func (s *Stanza) ChildByNameAndNS(name, space string) *Stanza {
	return s.child(s.read("Stanza.ChildByNameAndNS").ChildByNameAndNS(name, space), true)
}

// ChildByNameAndNSMut is like ChildByNameAndNS but the view may be modified.
func (s *Stanza) ChildByNameAndNSMut(name, space string) *Stanza {
	return s.child(s.mutable("Stanza.ChildByNameAndNSMut").ChildByNameAndNS(name, space), false)
}

// NameInNS returns a path element that matches name in the namespace space
// for use with ChildByPath.
func NameInNS(name, space string) string {
	return name + "[@ns='" + space + "']"
}

// ChildByPath follows a path of element names starting at s itself: the first
// element of the path must match s and each following one a child of the
// previous match.
// Path elements are either a name or a name in a namespace as returned by
// NameInNS.
func (s *Stanza) ChildByPath(path ...string) *Stanza {
	return s.child(childByPath(s.read("Stanza.ChildByPath"), path), true)
}

// ChildByPathMut is like ChildByPath but the view may be modified.
func (s *Stanza) ChildByPathMut(path ...string) *Stanza {
	return s.child(childByPath(s.mutable("Stanza.ChildByPathMut"), path), false)
}

func childByPath(n *engine.Node, path []string) *engine.Node {
	if len(path) == 0 {
		return nil
	}
	name, space := splitPathElem(path[0])
	if !pathMatch(n, name, space) {
		return nil
	}
	for _, p := range path[1:] {
		name, space := splitPathElem(p)
		var next *engine.Node
		for c := n.FirstChild(); c != nil; c = c.Next() {
			if pathMatch(c, name, space) {
				next = c
				break
			}
		}
		if next == nil {
			return nil
		}
		n = next
	}
	return n
}

func splitPathElem(p string) (name, space string) {
	name, rest, ok := strings.Cut(p, "[@ns='")
	if !ok {
		return p, ""
	}
	space, _, _ = strings.Cut(rest, "']")
	return name, space
}

func pathMatch(n *engine.Node, name, space string) bool {
	if n.IsText() || n.Name() != name {
		return false
	}
	return space == "" || n.NS() == space
}

// Children returns an iterator over read only views of the children of s.
// While the loop runs nothing in the tree may be modified, s may not be
// released and the views it yields are invalid once it ends.
func (s *Stanza) Children() iter.Seq[*Stanza] {
	return func(yield func(*Stanza) bool) {
		n := s.read("Stanza.Children")
		sc := new(scope)
		done := lend(n, sc, false)
		s.shared++
		defer func() {
			s.shared--
			done()
			sc.end()
		}()
		for c := n.FirstChild(); c != nil; c = c.Next() {
			if !yield(&Stanza{n: c, scope: sc, src: s, readOnly: true}) {
				return
			}
		}
	}
}

// ChildrenMut returns an iterator over views of the children of s that may be
// modified.
// While the loop runs the tree may only be used through the views it yields.
func (s *Stanza) ChildrenMut() iter.Seq[*Stanza] {
	return func(yield func(*Stanza) bool) {
		n := s.mutable("Stanza.ChildrenMut")
		sc := new(scope)
		done := lend(n, sc, true)
		s.exclusive = true
		defer func() {
			s.exclusive = false
			done()
			sc.end()
		}()
		for c := n.FirstChild(); c != nil; c = c.Next() {
			if !yield(&Stanza{n: c, scope: sc, src: s}) {
				return
			}
		}
	}
}

// Reply returns a new stanza with the name and attributes of s addressed to
// the sender of s.
// The reply to an iq is of type result.
func (s *Stanza) Reply() *Stanza {
	n := s.read("Stanza.Reply")
	return ownStanza(replyNode(n))
}

func replyNode(n *engine.Node) *engine.Node {
	r := engine.NewElement(n.Name())
	_ = r.SetNS(n.NS())
	for _, a := range n.Attrs() {
		_ = r.SetAttr(attrName(a.Name), a.Value)
	}
	_ = r.DelAttr("to")
	_ = r.DelAttr("from")
	if from, ok := n.Attr("from"); ok {
		_ = r.SetAttr("to", from)
	}
	if n.Name() == "iq" {
		_ = r.SetAttr("type", "result")
	}
	return r
}

// ReplyError returns a reply of type error carrying an <error/> with the given
// error type (such as "cancel" or "modify"), defined condition and optional
// text.
func (s *Stanza) ReplyError(errType, condition, text string) *Stanza {
	n := s.read("Stanza.ReplyError")
	r := replyNode(n)
	_ = r.SetAttr("type", "error")
	e := engine.NewElement("error")
	_ = e.SetAttr("type", errType)
	_ = e.AddChild(newElement(condition, ns.Stanzas, ""))
	if text != "" {
		_ = e.AddChild(newElement("text", ns.Stanzas, text))
	}
	_ = r.AddChild(e)
	return ownStanza(r)
}
