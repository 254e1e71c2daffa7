package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDomainsToHTTPSAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		domains  []string
		expected string
	}{
		{
			name:     "single domain",
			domains:  []string{"example.com"},
			expected: "https://example.com",
		},
		{
			name:     "multiple domains",
			domains:  []string{"example.com", "www.example.com"},
			expected: "https://example.com, https://www.example.com",
		},
		{
			name:     "no domains",
			domains:  []string{},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := domainsToHTTPSAddress(tt.domains)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		tls     ServerTLS
		wantErr bool
	}{
		{
			name: "plain http",
			tls:  ServerTLS{},
		},
		{
			name: "autocert with domain",
			tls: ServerTLS{
				Enabled:  true,
				Mode:     TLSModeAutoCert,
				AutoCert: &ServerTLSAutoCert{Domains: []string{"comments.example.com"}},
			},
		},
		{
			name:    "autocert without domains",
			tls:     ServerTLS{Enabled: true, Mode: TLSModeAutoCert, AutoCert: &ServerTLSAutoCert{}},
			wantErr: true,
		},
		{
			name: "file with cert and key",
			tls:  ServerTLS{Enabled: true, Mode: TLSModeFile, CertFile: "cert.pem", KeyFile: "key.pem"},
		},
		{
			name:    "file without key",
			tls:     ServerTLS{Enabled: true, Mode: TLSModeFile, CertFile: "cert.pem"},
			wantErr: true,
		},
		{
			name:    "unknown mode",
			tls:     ServerTLS{Enabled: true, Mode: "magic"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := &Server{TLS: tt.tls}

			err := s.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	s := &Server{Host: "127.0.0.1", Port: "0"}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- s.Run(ctx, http.NotFoundHandler())
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}
