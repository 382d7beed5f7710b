package grpc

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"go-fulfillment/pkg/logger"
)

// TLSFiles names the PEM files used for mutual TLS
type TLSFiles struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

// ServerTLSConfig loads the server certificate. With a CA file clients must
// present a certificate signed by it.
func ServerTLSConfig(files TLSFiles) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}

	config := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if files.CAFile != "" {
		pool, err := loadCAPool(files.CAFile)
		if err != nil {
			return nil, err
		}
		config.ClientCAs = pool
		config.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return config, nil
}

// ClientTLSConfig trusts the CA and presents a client certificate when one
// is configured
func ClientTLSConfig(files TLSFiles) (*tls.Config, error) {
	pool, err := loadCAPool(files.CAFile)
	if err != nil {
		return nil, err
	}

	config := &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}

	if files.CertFile != "" && files.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		config.Certificates = []tls.Certificate{cert}
	}

	return config, nil
}

func loadCAPool(caFile string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("failed to parse CA certificate %s", caFile)
	}
	return pool, nil
}

// ServerOptions returns the interceptors and, when files is non-nil, mTLS
// credentials for a server
func ServerOptions(log *logger.Logger, timeout time.Duration, files *TLSFiles) ([]grpc.ServerOption, error) {
	opts := []grpc.ServerOption{
		grpc.UnaryInterceptor(UnaryServerInterceptor(log, timeout)),
		grpc.StreamInterceptor(StreamServerInterceptor(log)),
	}
	if files != nil {
		tlsConfig, err := ServerTLSConfig(*files)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}
	return opts, nil
}

// DialOptions returns the client interceptor and transport credentials.
// A nil files dials without TLS.
func DialOptions(timeout time.Duration, files *TLSFiles) ([]grpc.DialOption, error) {
	creds := insecure.NewCredentials()
	if files != nil {
		tlsConfig, err := ClientTLSConfig(*files)
		if err != nil {
			return nil, err
		}
		creds = credentials.NewTLS(tlsConfig)
	}
	return []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithUnaryInterceptor(UnaryClientInterceptor(timeout)),
	}, nil
}
