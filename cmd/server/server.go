package main

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/acme/autocert"

	"github.com/tariel-x/apppush/internal/config"
)

const (
	shutdownTimeout = 15 * time.Second
	renewalInterval = 24 * time.Hour
	renewBefore     = 30 * 24 * time.Hour
)

func newHTTPServer(addr string, handler http.Handler, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// Dispatches to large apps can take a while.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     log.New(newServerErrorWriter(logger), "", 0),
	}
}

// serve runs every server until ctx is cancelled or one fails, then shuts
// them all down.
func serve(ctx context.Context, logger *slog.Logger, servers map[*http.Server]func(*http.Server) error) {
	errCh := make(chan error, len(servers))
	for srv, listen := range servers {
		go func() {
			if err := listen(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("%s: %w", srv.Addr, err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-errCh:
		logger.Error("Server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Server shutdown", "addr", srv.Addr, "error", err)
		}
	}
}

func listenPlain(srv *http.Server) error { return srv.ListenAndServe() }
func listenTLS(srv *http.Server) error   { return srv.ListenAndServeTLS("", "") }

func startServer(ctx context.Context, router http.Handler, cfg *config.Config, selfSigned bool, logger *slog.Logger) {
	switch {
	case cfg.HTTPOnly:
		logger.Info("Starting HTTP server", "port", cfg.HTTPPort, "frontend_uri", cfg.FrontendURI)
		serve(ctx, logger, map[*http.Server]func(*http.Server) error{
			newHTTPServer(":"+cfg.HTTPPort, router, logger): listenPlain,
		})
	case selfSigned:
		startSelfSignedHTTPS(ctx, router, cfg, logger)
	default:
		startAutocertHTTPS(ctx, router, cfg, logger)
	}
}

func startAutocertHTTPS(ctx context.Context, router http.Handler, cfg *config.Config, logger *slog.Logger) {
	certsDir := config.CertsDir()
	if err := os.MkdirAll(certsDir, 0700); err != nil {
		logger.Error("Failed to create certs directory", "error", err)
		return
	}

	domain := normalizeDomain(cfg.Domain)
	if domain == "localhost" || domain == "127.0.0.1" {
		logger.Warn("Let's Encrypt will not work for localhost. Use -self-signed or -http-only for local development.")
	}

	m := &autocert.Manager{
		Prompt: autocert.AcceptTOS,
		HostPolicy: func(_ context.Context, host string) error {
			if normalizeDomain(host) != domain {
				return fmt.Errorf("host %q not configured (expected %q)", host, domain)
			}
			return nil
		},
		Cache: autocert.DirCache(certsDir),
	}

	// Port 80 answers ACME challenges and redirects everything else.
	redirect := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://"+r.Host+r.RequestURI, http.StatusMovedPermanently)
	})
	httpServer := newHTTPServer(":"+cfg.HTTPPort, m.HTTPHandler(redirect), logger)

	httpsServer := newHTTPServer(":"+cfg.HTTPSPort, router, logger)
	httpsServer.TLSConfig = m.TLSConfig()

	go watchCertificate(ctx, m, domain, logger)

	logger.Info("HTTPS server starting", "port", cfg.HTTPSPort, "domain", domain, "certs_dir", certsDir)
	serve(ctx, logger, map[*http.Server]func(*http.Server) error{
		httpServer:  listenPlain,
		httpsServer: listenTLS,
	})
}

func startSelfSignedHTTPS(ctx context.Context, router http.Handler, cfg *config.Config, logger *slog.Logger) {
	host := cfg.Domain
	if host == "" {
		host = "localhost"
	}
	certPEM, keyPEM, err := generateSelfSignedCert([]string{host})
	if err != nil {
		logger.Error("Failed to generate self-signed certificate", "error", err)
		return
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		logger.Error("Failed to load self-signed certificate", "error", err)
		return
	}

	httpsServer := newHTTPServer(":"+cfg.HTTPSPort, router, logger)
	httpsServer.TLSConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	redirect := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Host
		if hostOnly, _, err := net.SplitHostPort(h); err == nil {
			h = hostOnly
		}
		http.Redirect(w, r, "https://"+h+":"+cfg.HTTPSPort+r.URL.RequestURI(), http.StatusMovedPermanently)
	})

	logger.Info("HTTPS server (self-signed) starting", "url", fmt.Sprintf("https://%s:%s", host, cfg.HTTPSPort))
	serve(ctx, logger, map[*http.Server]func(*http.Server) error{
		newHTTPServer(":"+cfg.HTTPPort, redirect, logger): listenPlain,
		httpsServer: listenTLS,
	})
}

// watchCertificate asks autocert for the certificate daily so renewal does
// not wait for the first request after expiry.
func watchCertificate(ctx context.Context, m *autocert.Manager, domain string, logger *slog.Logger) {
	logger = logger.With("component", "cert", "domain", domain)

	timer := time.NewTimer(30 * time.Second)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		cert, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: domain})
		if err != nil || cert == nil || len(cert.Certificate) == 0 {
			logger.Warn("Certificate not available yet", "error", err)
		} else if leaf, err := x509.ParseCertificate(cert.Certificate[0]); err != nil {
			logger.Error("Failed to parse certificate", "error", err)
		} else if left := time.Until(leaf.NotAfter); left < renewBefore {
			logger.Info("Certificate expires soon, autocert will renew", "expires", leaf.NotAfter.Format("2006-01-02"))
		} else {
			logger.Debug("Certificate valid", "days_left", int(left.Hours()/24))
		}

		timer.Reset(renewalInterval)
	}
}

func normalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	return strings.TrimPrefix(domain, "www.")
}

func generateSelfSignedCert(hosts []string) (certPEM, keyPEM []byte, err error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	var dnsNames []string
	var ipAddrs []net.IP
	for _, h := range hosts {
		h = strings.TrimSpace(h)
		if hostOnly, _, err := net.SplitHostPort(h); err == nil {
			h = hostOnly
		}
		if h == "" {
			continue
		}
		if ip := net.ParseIP(h); ip != nil {
			ipAddrs = append(ipAddrs, ip)
			continue
		}
		dnsNames = append(dnsNames, h)
	}
	if len(dnsNames) == 0 && len(ipAddrs) == 0 {
		dnsNames = []string{"localhost"}
	}
	var commonName string
	if len(dnsNames) > 0 {
		commonName = dnsNames[0]
	} else {
		commonName = ipAddrs[0].String()
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{Organization: []string{"AppPush Development"}, CommonName: commonName},
		NotBefore:             now,
		NotAfter:              now.Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              dnsNames,
		IPAddresses:           ipAddrs,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	privBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	var certBuf, keyBuf bytes.Buffer
	if err := pem.Encode(&certBuf, &pem.Block{Type: "CERTIFICATE", Bytes: derBytes}); err != nil {
		return nil, nil, err
	}
	if err := pem.Encode(&keyBuf, &pem.Block{Type: "EC PRIVATE KEY", Bytes: privBytes}); err != nil {
		return nil, nil, err
	}
	return certBuf.Bytes(), keyBuf.Bytes(), nil
}
