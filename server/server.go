package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/acme/autocert"
)

const (
	DefaultPort    = "8080"
	DefaultTLSMode = TLSModeAutoCert

	TLSModeAutoCert = "autocert"
	TLSModeFile     = "file"

	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 30 * time.Second
)

type Server struct {
	Port string
	Host string
	TLS  ServerTLS
}

type ServerTLS struct {
	Enabled  bool
	Mode     string
	AutoCert *ServerTLSAutoCert
	CertFile string
	KeyFile  string
}

type ServerTLSAutoCert struct {
	CacheDir string
	Domains  []string
	Email    string
}

func (s *Server) Validate() error {
	if !s.TLS.Enabled {
		return nil
	}

	switch s.TLS.Mode {
	case TLSModeAutoCert:
		if s.TLS.AutoCert == nil || len(s.TLS.AutoCert.Domains) == 0 {
			return errors.New("autocert tls mode requires at least one domain")
		}
	case TLSModeFile:
		if s.TLS.CertFile == "" || s.TLS.KeyFile == "" {
			return errors.New("file tls mode requires both cert and key files")
		}
	default:
		return fmt.Errorf("unknown tls mode %q", s.TLS.Mode)
	}

	return nil
}

func (s *Server) address() string {
	port := s.Port
	if port == "" {
		port = DefaultPort
	}

	return net.JoinHostPort(s.Host, port)
}

// Run serves handler until ctx is done, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, handler http.Handler) error {
	err := s.Validate()
	if err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	srv := &http.Server{
		Addr:              s.address(),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}

	errCh := make(chan error, 2)

	switch {
	case !s.TLS.Enabled:
		go func() {
			slog.InfoContext(ctx, "starting http server", "address", "http://"+srv.Addr)

			errCh <- srv.ListenAndServe()
		}()
	case s.TLS.Mode == TLSModeFile:
		go func() {
			slog.InfoContext(ctx, "starting https server", "address", "https://"+srv.Addr)

			errCh <- srv.ListenAndServeTLS(s.TLS.CertFile, s.TLS.KeyFile)
		}()
	default:
		manager := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			Cache:      autocert.DirCache(s.TLS.AutoCert.CacheDir),
			HostPolicy: autocert.HostWhitelist(s.TLS.AutoCert.Domains...),
			Email:      s.TLS.AutoCert.Email,
		}

		srv.TLSConfig = manager.TLSConfig()

		challengeSrv := &http.Server{
			Addr:              net.JoinHostPort(s.Host, "80"),
			Handler:           manager.HTTPHandler(nil),
			ReadHeaderTimeout: readHeaderTimeout,
		}

		defer func() {
			err := challengeSrv.Close()
			if err != nil {
				slog.ErrorContext(ctx, "failed to close acme challenge server", "error", err)
			}
		}()

		go func() {
			errCh <- challengeSrv.ListenAndServe()
		}()

		go func() {
			slog.InfoContext(ctx, "starting https server", "address", domainsToHTTPSAddress(s.TLS.AutoCert.Domains))

			errCh <- srv.ListenAndServeTLS("", "")
		}()
	}

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to listen and serve: %w", err)
		}

		return nil
	case <-ctx.Done():
	}

	slog.InfoContext(ctx, "shutting down http server")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	err = srv.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	return nil
}

func domainsToHTTPSAddress(domains []string) string {
	addresses := make([]string, 0, len(domains))

	for _, domain := range domains {
		addresses = append(addresses, "https://"+domain)
	}

	return strings.Join(addresses, ", ")
}
