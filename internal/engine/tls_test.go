// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package engine_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"mellium.im/strophe/internal/engine"
	"mellium.im/strophe/internal/xmpptest"
)

// writeKeyPair writes a self-signed certificate and its key, encrypted with
// pass unless it is empty, to dir.
func writeKeyPair(t *testing.T, dir, pass string) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "me@example.net"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	blk := &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}
	if pass != "" {
		//lint:ignore SA1019 legacy encryption is what the client can decrypt
		blk, err = x509.EncryptPEMBlock(rand.Reader, blk.Type, keyDER, []byte(pass), x509.PEMCipherAES256)
		if err != nil {
			t.Fatal(err)
		}
	}
	certFile = filepath.Join(dir, "client.crt")
	keyFile = filepath.Join(dir, "client.key")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(blk), 0o600); err != nil {
		t.Fatal(err)
	}
	return certFile, keyFile
}

var passwordTests = [...]struct {
	answers []string
	retries int
	calls   int
	ok      bool
}{
	0: {answers: []string{"secret"}, calls: 1, ok: true},
	1: {answers: []string{"wrong"}, calls: 1},
	2: {answers: []string{"wrong", "secret"}, retries: 2, calls: 2, ok: true},
	3: {answers: []string{"wrong", "wrong", "wrong"}, retries: 3, calls: 3},
	4: {answers: nil, retries: 3, calls: 1},
	5: {answers: []string{"wrong", "secret"}, retries: 0, calls: 1},
}

func TestPasswordRetries(t *testing.T) {
	certFile, keyFile := writeKeyPair(t, t.TempDir(), "secret")
	s := xmpptest.NewServer(xmpptest.Eager())
	e := engine.New(nil)
	defer e.Release()
	for i, tc := range passwordTests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			c := e.NewConn()
			defer c.Release()
			c.SetJID("me@example.net")
			c.SetDialer(s.Dial)
			c.SetClientCert(certFile, keyFile)
			c.SetPasswordRetries(tc.retries)
			calls := 0
			c.SetPasswordCallback(func(_ *engine.Conn, maxLen int, _ uintptr) (string, bool) {
				if maxLen != engine.MaxPasswordLen {
					t.Errorf("wrong max length: want=%d, got=%d", engine.MaxPasswordLen, maxLen)
				}
				calls++
				if calls > len(tc.answers) {
					return "", false
				}
				return tc.answers[calls-1], true
			}, 0)
			if k := c.KeyFile(); k != keyFile {
				t.Errorf("wrong key file: want=%q, got=%q", keyFile, k)
			}

			err := c.Connect(engine.ModeRaw, "", 0, nil, 0)
			switch {
			case tc.ok && err != nil:
				t.Fatalf("unexpected error: %v", err)
			case !tc.ok && !errors.Is(err, x509.IncorrectPasswordError):
				t.Fatalf("wrong error: want=%v, got=%v", x509.IncorrectPasswordError, err)
			}
			if calls != tc.calls {
				t.Errorf("wrong number of password requests: want=%d, got=%d", tc.calls, calls)
			}
		})
	}
}

func TestEncryptedKeyWithoutPassword(t *testing.T) {
	certFile, keyFile := writeKeyPair(t, t.TempDir(), "secret")
	e := engine.New(nil)
	defer e.Release()
	c := e.NewConn()
	c.SetJID("me@example.net")
	c.SetClientCert(certFile, keyFile)
	if err := c.Connect(engine.ModeClient, "", 0, nil, 0); !errors.Is(err, x509.IncorrectPasswordError) {
		t.Errorf("wrong error: %v", err)
	}
}

func TestCombinedKeyFile(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writeKeyPair(t, dir, "")
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		t.Fatal(err)
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		t.Fatal(err)
	}
	combined := filepath.Join(dir, "client.pem")
	if err := os.WriteFile(combined, append(certPEM, keyPEM...), 0o600); err != nil {
		t.Fatal(err)
	}

	s := xmpptest.NewServer(xmpptest.Eager())
	e := engine.New(nil)
	defer e.Release()
	c := e.NewConn()
	c.SetJID("me@example.net")
	c.SetDialer(s.Dial)
	c.SetClientCert(combined, "")
	if err := c.Connect(engine.ModeRaw, "", 0, nil, 0); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
