package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Well-known key names looked up for every tenant.
const (
	KeyTenantID            = "tenant-id"
	KeyTenantDomain        = "tenant-domain"
	KeyClientID            = "client-id"
	KeyClientSecret        = "client-secret"
	KeyCertificate         = "certificate"
	KeyCertificatePassword = "certificate-password"
	KeyUsername            = "username"
	KeyPassword            = "password"
	KeyAdminURL            = "admin-url"
)

// KeyNames lists every key the resolver asks the store for.
func KeyNames() []string {
	return []string{
		KeyTenantID,
		KeyTenantDomain,
		KeyClientID,
		KeyClientSecret,
		KeyCertificate,
		KeyCertificatePassword,
		KeyUsername,
		KeyPassword,
		KeyAdminURL,
	}
}

// ErrCredentialNotFound is returned when a tenant has no usable
// authentication method.
var ErrCredentialNotFound = errors.New("credential not found")

// ErrTenantNotFound may be returned by a SecretStore that knows the tenant
// does not exist at all.
var ErrTenantNotFound = errors.New("tenant not found")

// A SecretStore is an opaque key-value lookup keyed by tenant id. Keys
// missing from the returned map are treated as absent, never as errors.
type SecretStore interface {
	Get(ctx context.Context, tenantID string, keys []string) (map[string]string, error)
}

// Resolver turns the raw key-value answer of a SecretStore into a Set.
type Resolver struct {
	store  SecretStore
	logger *slog.Logger
	now    func() time.Time
}

// NewResolver returns a resolver reading from the given store.
func NewResolver(store SecretStore, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger.With("component", "credentials"),
		now:    time.Now,
	}
}

// Resolve returns every authentication method configured for the tenant.
// It does not check that the credentials are accepted by the tenant.
func (r *Resolver) Resolve(ctx context.Context, tenantID string) (*Set, error) {
	values, err := r.store.Get(ctx, tenantID, KeyNames())
	if errors.Is(err, ErrTenantNotFound) {
		return nil, fmt.Errorf("%w: tenant %s", ErrCredentialNotFound, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up credentials of tenant %s: %w", tenantID, err)
	}

	get := func(key string) string {
		return strings.TrimSpace(values[key])
	}

	set := &Set{
		TenantID:     tenantID,
		TenantDomain: get(KeyTenantDomain),
		AdminURL:     get(KeyAdminURL),
	}
	if directoryID := get(KeyTenantID); directoryID != "" {
		set.TenantID = directoryID
	}

	clientID := get(KeyClientID)
	if clientID != "" && get(KeyClientSecret) != "" {
		set.ClientSecret = &ClientSecret{ClientID: clientID, Secret: get(KeyClientSecret)}
	}
	if clientID != "" && get(KeyCertificate) != "" {
		set.Certificate = r.certificate(ctx, tenantID, clientID, values[KeyCertificate], values[KeyCertificatePassword])
	}
	if get(KeyUsername) != "" && values[KeyPassword] != "" {
		set.UserPassword = &UserPassword{Username: get(KeyUsername), Password: values[KeyPassword]}
	}

	if len(set.Methods()) == 0 {
		return nil, fmt.Errorf("%w: tenant %s has no usable authentication method", ErrCredentialNotFound, tenantID)
	}

	r.logger.DebugContext(ctx, "resolved tenant credentials", slog.Any("credentials", set))
	return set, nil
}

func (r *Resolver) certificate(ctx context.Context, tenantID, clientID, raw, password string) *Certificate {
	data, info, err := describeCertificate([]byte(strings.TrimSpace(raw)), password)
	cert := &Certificate{
		ClientID: clientID,
		Data:     data,
		Password: password,
	}
	if err != nil {
		// the check scripts may still understand a format we cannot parse
		r.logger.WarnContext(ctx, "cannot inspect tenant certificate",
			slog.String("tenant", tenantID),
			slog.String("error", err.Error()))
		return cert
	}
	cert.Thumbprint = info.thumbprint
	cert.NotAfter = info.notAfter
	if r.now().After(info.notAfter) {
		r.logger.WarnContext(ctx, "tenant certificate is expired",
			slog.String("tenant", tenantID),
			slog.String("thumbprint", info.thumbprint),
			slog.Time("not-after", info.notAfter))
	}
	return cert
}
