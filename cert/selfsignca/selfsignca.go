// Package selfsignca is a reference CertificateAuthority implementation:
// a self-signed root plus an LRU- and singleflight-backed leaf cert cache,
// grounded on the teacher's examples/trusted-ca pattern. It exists for
// tests and examples; the proxy core never imports it directly, since CA
// implementation is explicitly an external collaborator (see cert.CA).
package selfsignca

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"github.com/golang/groupcache/singleflight"

	"github.com/coriolislabs/intercepthttp/cert"
)

const (
	rootCertFile = "intercepthttp-ca-cert.pem"
	rootKeyFile  = "intercepthttp-ca-key.pem"
	leafCacheCap = 100
	leafValidity = 365 * 24 * time.Hour
)

// CA is a self-signed certificate authority that mints leaf certificates
// on demand, caching them by common name.
type CA struct {
	rootCert *x509.Certificate
	rootKey  *rsa.PrivateKey
	storeDir string // empty means in-memory only, no persistence

	cache   *lru.Cache
	group   *singleflight.Group
	cacheMu sync.Mutex
}

// New loads or creates a self-signed root CA persisted under dir. An
// empty dir resolves to os.UserConfigDir()/intercepthttp.
func New(dir string) (*CA, error) {
	storeDir, err := getStorePath(dir)
	if err != nil {
		return nil, err
	}

	ca := &CA{
		storeDir: storeDir,
		cache:    lru.New(leafCacheCap),
		group:    new(singleflight.Group),
	}

	if err := ca.loadOrCreateRoot(); err != nil {
		return nil, err
	}
	return ca, nil
}

// NewMemory creates a self-signed root CA that is never persisted to
// disk, useful for tests.
func NewMemory() (*CA, error) {
	ca := &CA{
		cache: lru.New(leafCacheCap),
		group: new(singleflight.Group),
	}
	if err := ca.generateRoot(); err != nil {
		return nil, err
	}
	return ca, nil
}

func getStorePath(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cfgDir, "intercepthttp"), nil
}

func (ca *CA) caFile() string  { return filepath.Join(ca.storeDir, rootCertFile) }
func (ca *CA) keyFile() string { return filepath.Join(ca.storeDir, rootKeyFile) }

func (ca *CA) loadOrCreateRoot() error {
	certPEM, certErr := os.ReadFile(ca.caFile())
	keyPEM, keyErr := os.ReadFile(ca.keyFile())
	if certErr == nil && keyErr == nil {
		return ca.loadRoot(certPEM, keyPEM)
	}

	if err := ca.generateRoot(); err != nil {
		return err
	}

	if err := os.MkdirAll(ca.storeDir, 0o700); err != nil {
		return err
	}

	var certBuf, keyBuf writeBuffer
	if err := ca.saveTo(&certBuf); err != nil {
		return err
	}
	if err := os.WriteFile(ca.caFile(), certBuf.b, 0o600); err != nil {
		return err
	}

	keyBytes := x509.MarshalPKCS1PrivateKey(ca.rootKey)
	if err := pem.Encode(&keyBuf, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: keyBytes}); err != nil {
		return err
	}
	return os.WriteFile(ca.keyFile(), keyBuf.b, 0o600)
}

func (ca *CA) loadRoot(certPEM, keyPEM []byte) error {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return errors.New("selfsignca: invalid root certificate PEM")
	}
	rootCert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return fmt.Errorf("selfsignca: parse root certificate: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return errors.New("selfsignca: invalid root key PEM")
	}
	rootKey, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return fmt.Errorf("selfsignca: parse root key: %w", err)
	}

	ca.rootCert = rootCert
	ca.rootKey = rootKey
	return nil
}

func (ca *CA) generateRoot() error {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return err
	}

	serial, err := randomSerial()
	if err != nil {
		return err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "intercepthttp root CA", Organization: []string{"intercepthttp"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		IsCA:         true,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return err
	}

	rootCert, err := x509.ParseCertificate(der)
	if err != nil {
		return err
	}

	ca.rootCert = rootCert
	ca.rootKey = key
	return nil
}

// saveTo PEM-encodes the root certificate to w.
func (ca *CA) saveTo(w io.Writer) error {
	return pem.Encode(w, &pem.Block{Type: "CERTIFICATE", Bytes: ca.rootCert.Raw})
}

// GetRootCA returns the root certificate, for a client to add to its
// trust store.
func (ca *CA) GetRootCA() *x509.Certificate {
	return ca.rootCert
}

// GetCert mints or returns a cached leaf certificate for commonName,
// signed by the root.
func (ca *CA) GetCert(commonName string) (*tls.Certificate, error) {
	ca.cacheMu.Lock()
	if val, ok := ca.cache.Get(commonName); ok {
		ca.cacheMu.Unlock()
		leaf, ok := val.(*tls.Certificate)
		if !ok {
			return nil, errors.New("selfsignca: cached value is not a tls.Certificate")
		}
		return leaf, nil
	}
	ca.cacheMu.Unlock()

	val, err := ca.group.Do(commonName, func() (any, error) {
		leaf, err := ca.mintLeaf(commonName)
		if err != nil {
			return nil, err
		}
		ca.cacheMu.Lock()
		ca.cache.Add(commonName, leaf)
		ca.cacheMu.Unlock()
		return leaf, nil
	})
	if err != nil {
		return nil, err
	}
	return val.(*tls.Certificate), nil
}

// DummyCert is an alias of GetCert kept for parity with dummycert-style
// CLI tooling that dumps a throwaway leaf certificate.
func (ca *CA) DummyCert(commonName string) (*tls.Certificate, error) {
	return ca.GetCert(commonName)
}

// GenServerConfig implements cert.CA.
func (ca *CA) GenServerConfig(_ context.Context, authority cert.Authority) (*tls.Config, error) {
	leaf, err := ca.GetCert(authority.Host())
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{*leaf}}, nil
}

func (ca *CA) mintLeaf(commonName string) (*tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(leafValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if ip := net.ParseIP(commonName); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{commonName}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca.rootCert, &key.PublicKey, ca.rootKey)
	if err != nil {
		return nil, err
	}

	return &tls.Certificate{
		Certificate: [][]byte{der, ca.rootCert.Raw},
		PrivateKey:  key,
	}, nil
}

var _ cert.CA = (*CA)(nil)

func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	return rand.Int(rand.Reader, limit)
}

// writeBuffer is a tiny io.Writer that collects the PEM-encoded root
// certificate and key on the on-disk persistence path without importing
// bytes just for this.
type writeBuffer struct{ b []byte }

func (w *writeBuffer) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}
