// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package strophe_test

import (
	"fmt"
	"strconv"
	"testing"

	"mellium.im/strophe"
)

var stringerTests = [...]struct {
	v   fmt.Stringer
	out string
}{
	0:  {v: strophe.BadFormat, out: "Bad format"},
	1:  {v: strophe.HostGone, out: "Gone"},
	2:  {v: strophe.XMLNotWellFormed, out: "XML is not well formed"},
	3:  {v: strophe.ErrorType(99), out: "ErrorType(99)"},
	4:  {v: strophe.CertVersion, out: "X.509 Version"},
	5:  {v: strophe.CertFingerprintSHA256, out: "Fingerprint SHA-256"},
	6:  {v: strophe.CertElement(-1), out: "CertElement(-1)"},
	7:  {v: strophe.KeepHandler, out: "keep"},
	8:  {v: strophe.RemoveHandler, out: "remove"},
	9:  {v: strophe.HandlerResult(5), out: "HandlerResult(5)"},
	10: {v: strophe.LogWarn, out: "warn"},
	11: {v: strophe.LogLevel(7), out: "LogLevel(7)"},
}

func TestStringer(t *testing.T) {
	for i, tc := range stringerTests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			if s := tc.v.String(); s != tc.out {
				t.Errorf("wrong string: want=%q, got=%q", tc.out, s)
			}
		})
	}
}

func TestConditionRoundTrip(t *testing.T) {
	if c := strophe.RemoteConnFailed.Condition(); c != "remote-connection-failed" {
		t.Errorf("wrong condition: %q", c)
	}
	if c := strophe.ErrorType(-3).Condition(); c != "undefined-condition" {
		t.Errorf("unknown type should map to undefined-condition, got %q", c)
	}
}
