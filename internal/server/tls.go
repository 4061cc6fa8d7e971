package server

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/httpcore/internal/logging"
)

// NewTLSConfig loads a certificate pair from disk.
func NewTLSConfig(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}
	logging.Info("TLS configuration created from files",
		zap.String("cert", certPath),
		zap.String("key", keyPath),
	)
	return buildTLSConfig(cert), nil
}

// NewTLSConfigFromMemory builds a configuration from PEM-encoded data.
func NewTLSConfigFromMemory(certPEM, keyPEM []byte) (*tls.Config, error) {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate from memory: %w", err)
	}
	return buildTLSConfig(cert), nil
}

func buildTLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		NextProtos:   []string{"http/1.1"},
	}
}

// SelfSigned is a generated certificate pair.
type SelfSigned struct {
	CertPEM     []byte
	KeyPEM      []byte
	Certificate *x509.Certificate
}

// GenerateSelfSigned creates an RSA 2048 certificate valid for hosts (DNS
// names or IP addresses) that signs itself, so clients can trust it by
// adding CertPEM to their root pool.
func GenerateSelfSigned(hosts []string, validFor time.Duration) (*SelfSigned, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial: %w", err)
	}

	notBefore := time.Now().Add(-time.Minute)
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"httpcore"},
			CommonName:   "httpcore self-signed",
		},
		NotBefore:   notBefore,
		NotAfter:    notBefore.Add(validFor),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},

		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	logging.Info("Generated self-signed certificate",
		zap.Strings("hosts", hosts),
		zap.Time("not_after", cert.NotAfter),
	)
	return &SelfSigned{
		CertPEM:     pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}),
		KeyPEM:      pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)}),
		Certificate: cert,
	}, nil
}

// GetTLSInfo returns human-readable TLS configuration information.
func GetTLSInfo(config *tls.Config) map[string]interface{} {
	info := map[string]interface{}{
		"min_version": tls.VersionName(config.MinVersion),
		"num_certs":   len(config.Certificates),
		"alpn":        config.NextProtos,
	}
	if len(config.Certificates) > 0 && config.Certificates[0].Leaf != nil {
		leaf := config.Certificates[0].Leaf
		info["subject"] = leaf.Subject.CommonName
		info["not_after"] = leaf.NotAfter
	}
	return info
}
