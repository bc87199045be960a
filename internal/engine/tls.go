// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// tlsMaterial is the certificate data loaded when Connect is called.
type tlsMaterial struct {
	roots *x509.CertPool
	certs []tls.Certificate
}

// MaxPasswordLen is the longest password accepted from a PasswordFunc.
const MaxPasswordLen = 1023

// PasswordFunc returns the password of an encrypted client key.
// It is called at most once per allowed retry, and returning false stops
// asking.
type PasswordFunc func(c *Conn, maxLen int, userdata uintptr) (string, bool)

// SetPasswordCallback registers the callback asked for the password of an
// encrypted client key.
func (c *Conn) SetPasswordCallback(fn PasswordFunc, userdata uintptr) {
	c.passFn, c.passUserdata = fn, userdata
}

// SetPasswordRetries sets how many times the password callback is asked
// before giving up. Values below one mean one.
func (c *Conn) SetPasswordRetries(n int) { c.passRetries = n }

// PasswordRetries returns the number of password attempts allowed.
func (c *Conn) PasswordRetries() int { return max(c.passRetries, 1) }

// KeyFile returns the path of the client key.
func (c *Conn) KeyFile() string { return c.keyFile }

// CertFile returns the path of the client certificate.
func (c *Conn) CertFile() string { return c.certFile }

func (c *Conn) loadTLS() (tlsMaterial, error) {
	var m tlsMaterial
	if c.cafile != "" || c.capath != "" {
		pool, err := loadRoots(c.cafile, c.capath)
		if err != nil {
			return m, err
		}
		m.roots = pool
	}
	if c.certFile != "" {
		cert, err := c.loadKeyPair()
		if err != nil {
			return m, fmt.Errorf("engine: loading client certificate: %w", err)
		}
		m.certs = []tls.Certificate{cert}
	}
	return m, nil
}

// loadKeyPair reads the client certificate and its key, which may be in the
// same file.
func (c *Conn) loadKeyPair() (tls.Certificate, error) {
	keyFile := c.keyFile
	if keyFile == "" {
		keyFile = c.certFile
	}
	/* #nosec */
	certPEM, err := os.ReadFile(c.certFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	/* #nosec */
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	blk, encrypted := encryptedKey(keyPEM)
	if !encrypted {
		return tls.X509KeyPair(certPEM, keyPEM)
	}
	if c.passFn == nil {
		return tls.Certificate{}, fmt.Errorf("%s is encrypted and no password callback is set: %w", keyFile, x509.IncorrectPasswordError)
	}
	for i := 0; i < c.PasswordRetries(); i++ {
		pass, ok := c.passFn(c, MaxPasswordLen, c.passUserdata)
		if !ok {
			break
		}
		if len(pass) > MaxPasswordLen {
			c.logf(LevelWarn, "tls", "password for %s is too long", keyFile)
			continue
		}
		// A wrong password is not always detected by the decryption itself, so
		// the key is only accepted if it matches the certificate.
		//lint:ignore SA1019 only legacy PEM encryption is supported
		der, err := x509.DecryptPEMBlock(blk, []byte(pass))
		if err == nil {
			cert, err := tls.X509KeyPair(certPEM, pem.EncodeToMemory(&pem.Block{Type: blk.Type, Bytes: der}))
			if err == nil {
				return cert, nil
			}
		}
		c.logf(LevelWarn, "tls", "wrong password for %s", keyFile)
	}
	return tls.Certificate{}, fmt.Errorf("decrypting %s: %w", keyFile, x509.IncorrectPasswordError)
}

// encryptedKey returns the first private key block of data and whether it
// uses legacy PEM encryption.
func encryptedKey(data []byte) (*pem.Block, bool) {
	for {
		var blk *pem.Block
		blk, data = pem.Decode(data)
		if blk == nil {
			return nil, false
		}
		if strings.HasSuffix(blk.Type, "PRIVATE KEY") {
			//lint:ignore SA1019 only legacy PEM encryption is supported
			return blk, x509.IsEncryptedPEMBlock(blk)
		}
	}
}

// CertRequest asks the certfail callback whether to accept a certificate that
// did not verify.
type CertRequest struct {
	Cert  *x509.Certificate
	Chain []*x509.Certificate
	Err   string

	reply chan bool
}

func (r *CertRequest) answer(ok bool) {
	select {
	case r.reply <- ok:
	default:
	}
}

func (c *Conn) tlsConfig(ctx context.Context, gen uint32, cfg config, domain string) *tls.Config {
	tc := &tls.Config{
		ServerName:   domain,
		MinVersion:   tls.VersionTLS12,
		RootCAs:      cfg.tls.roots,
		Certificates: cfg.tls.certs,
	}

	switch {
	case cfg.flags&FlagTrustTLS != 0:
		/* #nosec */
		tc.InsecureSkipVerify = true
	case cfg.certfail:
		// Verification is done by hand so that failures can be deferred to the
		// certfail callback running on the loop.
		/* #nosec */
		tc.InsecureSkipVerify = true
		roots := tc.RootCAs
		tc.VerifyConnection = func(cs tls.ConnectionState) error {
			if len(cs.PeerCertificates) == 0 {
				return errors.New("engine: no peer certificate")
			}
			opts := x509.VerifyOptions{
				DNSName:       domain,
				Roots:         roots,
				Intermediates: x509.NewCertPool(),
			}
			for _, ic := range cs.PeerCertificates[1:] {
				opts.Intermediates.AddCert(ic)
			}
			_, err := cs.PeerCertificates[0].Verify(opts)
			if err == nil {
				return nil
			}
			if c.askCertfail(ctx, gen, cs.PeerCertificates, err) {
				c.logf(LevelWarn, "tls", "accepted certificate that failed verification: %v", err)
				return nil
			}
			return err
		}
	}
	return tc
}

func (c *Conn) askCertfail(ctx context.Context, gen uint32, chain []*x509.Certificate, verr error) bool {
	req := &CertRequest{
		Cert:  chain[0],
		Chain: chain,
		Err:   verr.Error(),
		reply: make(chan bool, 1),
	}
	if !c.post(event{kind: evCertfail, gen: gen, cert: req}) {
		return false
	}
	select {
	case ok := <-req.reply:
		return ok
	case <-ctx.Done():
		return false
	case <-c.quit:
		return false
	}
}

func loadRoots(file, dir string) (*x509.CertPool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	var files []string
	if file != "" {
		files = append(files, file)
	}
	if dir != "" {
		matches, err := filepath.Glob(filepath.Join(dir, "*.pem"))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	for _, f := range files {
		/* #nosec */
		pem, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("engine: reading CA file: %w", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("engine: no certificates found in %s", f)
		}
	}
	return pool, nil
}
