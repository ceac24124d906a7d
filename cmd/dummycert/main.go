// Command dummycert prints a leaf certificate and key minted by the
// self-signed CA for a given common name, for inspection or testing
// against a client that does not trust the proxy's root.
package main

import (
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/coriolislabs/intercepthttp/cert/selfsignca"
)

func main() {
	var commonName string
	flag.StringVar(&commonName, "commonName", "", "server commonName")
	flag.Parse() //revive:disable-line:deep-exit -- ok for cmd/*

	if commonName == "" {
		slog.Error("commonName required")
		os.Exit(1)
	}

	ca, err := selfsignca.NewMemory()
	if err != nil {
		slog.Error("failed to create CA", "error", err)
		os.Exit(1)
	}

	leaf, err := ca.DummyCert(commonName)
	if err != nil {
		slog.Error("failed to mint certificate", "error", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stdout, "%v-cert.pem\n", commonName)
	if err := pem.Encode(os.Stdout, &pem.Block{Type: "CERTIFICATE", Bytes: leaf.Certificate[0]}); err != nil {
		slog.Error("failed to encode certificate", "error", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stdout, "\n%v-key.pem\n", commonName)
	keyBytes, err := x509.MarshalPKCS8PrivateKey(leaf.PrivateKey)
	if err != nil {
		slog.Error("failed to marshal key", "error", err)
		os.Exit(1)
	}
	if err := pem.Encode(os.Stdout, &pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes}); err != nil {
		slog.Error("failed to encode key", "error", err)
		os.Exit(1)
	}
}
