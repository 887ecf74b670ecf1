// Package tls obtains and renews certificates with CertMagic, solving
// ACME DNS-01 challenges through Azure DNS.
package tls

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"slices"

	"github.com/caddyserver/certmagic"
	"github.com/libdns/azure"

	"github.com/jobrunner/geopack/internal/config"
	"github.com/jobrunner/geopack/internal/domain"
)

// Manager owns the certificates of the configured domains.
type Manager struct {
	domains []string
	magic   *certmagic.Config
	logger  *slog.Logger
}

// NewManager validates cfg and prepares a CertMagic configuration. No
// certificate is requested until Manage.
func NewManager(cfg config.TLSConfig, logger *slog.Logger) (*Manager, error) {
	if len(cfg.Domains) == 0 {
		return nil, &domain.ConfigError{Field: "tls.domains", Message: "TLS enabled but no domains specified"}
	}
	if cfg.Email == "" {
		return nil, &domain.ConfigError{Field: "tls.email", Message: "TLS enabled but no email specified"}
	}

	magic := certmagic.NewDefault()
	if cfg.CacheDir != "" {
		magic.Storage = &certmagic.FileStorage{Path: cfg.CacheDir}
	}

	ca := certmagic.LetsEncryptProductionCA
	if cfg.Staging {
		ca = certmagic.LetsEncryptStagingCA
	}
	// empty ClientId selects the system assigned managed identity
	provider := &azure.Provider{
		SubscriptionId:    cfg.DNS.SubscriptionID,
		ResourceGroupName: cfg.DNS.ResourceGroupName,
		ClientId:          cfg.DNS.ClientID,
	}
	magic.Issuers = []certmagic.Issuer{certmagic.NewACMEIssuer(magic, certmagic.ACMEIssuer{
		CA:                      ca,
		Email:                   cfg.Email,
		Agreed:                  true,
		DisableHTTPChallenge:    true,
		DisableTLSALPNChallenge: true,
		DNS01Solver: &certmagic.DNS01Solver{
			DNSManager: certmagic.DNSManager{DNSProvider: provider},
		},
	})}

	return &Manager{
		domains: slices.Clone(cfg.Domains),
		magic:   magic,
		logger:  logger,
	}, nil
}

// Domains returns the managed domain names.
func (m *Manager) Domains() []string {
	return m.domains
}

// Manage obtains missing certificates and keeps them renewed in the
// background.
func (m *Manager) Manage(ctx context.Context) error {
	m.logger.Info("obtaining certificates", "domains", m.domains)
	if err := m.magic.ManageSync(ctx, m.domains); err != nil {
		return fmt.Errorf("managing certificates: %w", err)
	}
	m.logger.Info("certificates obtained successfully")
	return nil
}

// TLSConfig returns a server configuration serving the managed
// certificates over HTTP/2 and HTTP/1.1.
func (m *Manager) TLSConfig() *tls.Config {
	cfg := m.magic.TLSConfig()
	for _, proto := range []string{"h2", "http/1.1"} {
		if !slices.Contains(cfg.NextProtos, proto) {
			cfg.NextProtos = append(cfg.NextProtos, proto)
		}
	}
	return cfg
}
