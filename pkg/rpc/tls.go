package rpc

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/otherjamesbrown/mediaref/config"
)

// LoadServerTLSConfig creates a tls.Config for the gRPC server.
// Returns nil if TLS is not enabled in the configuration. When a client CA
// is configured, clients must present a certificate it signed.
func LoadServerTLSConfig(cfg *config.TLSConfig) (*tls.Config, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	cfg.ResolvePaths()

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load server cert: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if cfg.ClientCA != "" {
		pool, err := loadCertPool(cfg.ClientCA)
		if err != nil {
			return nil, err
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return tlsConfig, nil
}

// CheckCertsExist verifies the configured certificate files are present.
func CheckCertsExist(cfg *config.TLSConfig) error {
	cfg.ResolvePaths()

	files := []struct {
		name string
		path string
	}{
		{"Server certificate", cfg.CertFile},
		{"Server key", cfg.KeyFile},
	}
	if cfg.ClientCA != "" {
		files = append(files, struct {
			name string
			path string
		}{"Client CA", cfg.ClientCA})
	}

	for _, f := range files {
		if f.path == "" {
			return fmt.Errorf("%s not configured", f.name)
		}
		if _, err := os.Stat(f.path); os.IsNotExist(err) {
			return fmt.Errorf("%s not found: %s", f.name, f.path)
		}
	}
	return nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("parse CA cert: invalid PEM")
	}
	return pool, nil
}
