// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package strophe

import (
	"mellium.im/xmpp/jid"
)

// JIDNew joins the parts of an address.
// node and resource may be empty.
func JIDNew(node, domain, resource string) (string, error) {
	j, err := jid.New(node, domain, resource)
	if err != nil {
		return "", err
	}
	return j.String(), nil
}

// JIDBare returns addr without its resource or an empty string if addr is
// not a valid address.
func JIDBare(addr string) string {
	j, err := jid.Parse(addr)
	if err != nil {
		return ""
	}
	return j.Bare().String()
}

// JIDNode returns the localpart of addr.
func JIDNode(addr string) string {
	node, _, _, err := jid.SplitString(addr)
	if err != nil {
		return ""
	}
	return node
}

// JIDDomain returns the domainpart of addr.
func JIDDomain(addr string) string {
	_, domain, _, err := jid.SplitString(addr)
	if err != nil {
		return ""
	}
	return domain
}

// JIDResource returns the resourcepart of addr.
func JIDResource(addr string) string {
	_, _, res, err := jid.SplitString(addr)
	if err != nil {
		return ""
	}
	return res
}
