// Command streambroker starts the broker process: it loads configuration,
// recovers the on-disk log from the data directory, and serves the TCP,
// QUIC, and HTTP interfaces concurrently until an interrupt or SIGTERM asks
// it to drain and exit.
package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/streambroker/internal/authjwt"
	"github.com/adred-codev/streambroker/internal/config"
	"github.com/adred-codev/streambroker/internal/dispatch"
	"github.com/adred-codev/streambroker/internal/heartbeat"
	"github.com/adred-codev/streambroker/internal/logging"
	"github.com/adred-codev/streambroker/internal/system"
	"github.com/adred-codev/streambroker/internal/transport"
)

func main() {
	dataDir := "."
	if len(os.Args) > 1 {
		dataDir = os.Args[1]
	}

	cfg, err := config.Load(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "streambroker"})

	sys, err := system.Open(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to recover broker state")
	}
	defer sys.Close()

	hb := heartbeat.New(cfg.Heartbeat.Interval, cfg.Heartbeat.Timeout, sys, log)
	hb.Start()
	defer hb.Stop()

	d := dispatch.New(sys, log)

	var tlsConfig *tls.Config
	if cfg.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load TLS certificate")
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	var servers []interface{ Shutdown(context.Context) error }

	if cfg.TCP.Enabled {
		srv := &transport.TCPServer{Dispatcher: d, Sessions: sys, Log: log}
		if tlsConfig != nil {
			srv.TLSConfig = tlsConfig
		}
		servers = append(servers, srv)
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Str("addr", cfg.TCP.Address).Msg("tcp listener starting")
			if err := srv.Listen(cfg.TCP.Address); err != nil {
				log.Error().Err(err).Msg("tcp listener stopped")
			}
		}()
	}

	if cfg.QUIC.Enabled {
		quicTLS := tlsConfig
		if quicTLS == nil {
			quicTLS, err = selfSignedQUICConfig()
			if err != nil {
				log.Fatal().Err(err).Msg("failed to generate self-signed QUIC certificate")
			}
		}
		srv := &transport.QUICServer{Dispatcher: d, Sessions: sys, Log: log, TLSConfig: quicTLS}
		servers = append(servers, srv)
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Str("addr", cfg.QUIC.Address).Msg("quic listener starting")
			if err := srv.Listen(cfg.QUIC.Address); err != nil {
				log.Error().Err(err).Msg("quic listener stopped")
			}
		}()
	}

	if cfg.HTTP.Enabled {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			log.Fatal().Err(err).Msg("failed to generate jwt signing secret")
		}
		issuer := authjwt.New(secret, 15*time.Minute, 24*time.Hour)
		srv := &transport.HTTPServer{Sys: sys, JWT: issuer, Log: log}
		servers = append(servers, srv)
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Str("addr", cfg.HTTP.Address).Msg("http listener starting")
			if err := srv.Listen(cfg.HTTP.Address); err != nil {
				log.Error().Err(err).Msg("http listener stopped")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("transport shutdown error")
		}
	}
	wg.Wait()
	log.Info().Msg("streambroker stopped")
}

// selfSignedQUICConfig generates an ephemeral TLS certificate for QUIC when
// no broker-wide certificate was configured; QUIC mandates TLS unlike plain
// TCP, so a development default is needed to keep the transport usable
// without requiring operators to provision certificates up front.
func selfSignedQUICConfig() (*tls.Config, error) {
	cert, err := generateSelfSignedCert()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"streambroker"},
	}, nil
}

func generateSelfSignedCert() (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "streambroker"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IsCA:         true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}, nil
}
