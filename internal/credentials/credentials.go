package credentials

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Method identifies an authentication flow a check script can use.
type Method string

const (
	MethodClientSecret     Method = "client-secret"
	MethodCertificate      Method = "certificate"
	MethodUsernamePassword Method = "username-password"
)

const redacted = "[redacted]"

// ClientSecret is an application id with its client secret.
type ClientSecret struct {
	ClientID string
	Secret   string
}

// Certificate is an application certificate. Data holds the raw bytes as
// found in the store: either PEM or a DER encoded PKCS#12 bundle.
type Certificate struct {
	ClientID   string
	Data       []byte
	Password   string
	Thumbprint string
	NotAfter   time.Time
}

// UserPassword is a delegated username/password pair.
type UserPassword struct {
	Username string
	Password string
}

// Set is the resolved credential bundle of one tenant. It lives only in
// memory for the duration of a scan and it is shared read-only between
// concurrent check executions.
type Set struct {
	TenantID     string
	TenantDomain string
	// AdminURL overrides the admin portal endpoint used by some check modules.
	AdminURL string

	ClientSecret *ClientSecret
	Certificate  *Certificate
	UserPassword *UserPassword
}

// Methods returns the authentication flows available in the set, in
// preference order.
func (s *Set) Methods() []Method {
	var methods []Method
	if s.Certificate != nil {
		methods = append(methods, MethodCertificate)
	}
	if s.ClientSecret != nil {
		methods = append(methods, MethodClientSecret)
	}
	if s.UserPassword != nil {
		methods = append(methods, MethodUsernamePassword)
	}
	return methods
}

// String never renders secret material.
func (s *Set) String() string {
	methods := make([]string, 0, 3)
	for _, m := range s.Methods() {
		methods = append(methods, string(m))
	}
	return fmt.Sprintf("credentials{tenant=%s domain=%s methods=[%s]}", s.TenantID, s.TenantDomain, strings.Join(methods, ","))
}

// LogValue implements slog.LogValuer so that a Set passed to a logger only
// exposes non-secret attributes.
func (s *Set) LogValue() slog.Value {
	methods := make([]string, 0, 3)
	for _, m := range s.Methods() {
		methods = append(methods, string(m))
	}
	attrs := []slog.Attr{
		slog.String("tenant-id", s.TenantID),
		slog.String("tenant-domain", s.TenantDomain),
		slog.Any("methods", methods),
	}
	if s.Certificate != nil && s.Certificate.Thumbprint != "" {
		attrs = append(attrs, slog.String("certificate-thumbprint", s.Certificate.Thumbprint))
	}
	return slog.GroupValue(attrs...)
}

// MarshalJSON renders a redacted view. Use Payload to build what is handed
// to a check script.
func (s *Set) MarshalJSON() ([]byte, error) {
	view := map[string]any{
		"tenantId":     s.TenantID,
		"tenantDomain": s.TenantDomain,
		"methods":      s.Methods(),
	}
	if s.ClientSecret != nil || s.Certificate != nil || s.UserPassword != nil {
		view["secrets"] = redacted
	}
	return json.Marshal(view)
}

// Payload is the document written to a check's credential channel.
type Payload struct {
	TenantID     string               `json:"tenantId"`
	TenantDomain string               `json:"tenantDomain,omitempty"`
	AdminURL     string               `json:"adminUrl,omitempty"`
	ClientSecret *clientSecretPayload `json:"clientSecret,omitempty"`
	Certificate  *certificatePayload  `json:"certificate,omitempty"`
	UserPassword *userPasswordPayload `json:"userPassword,omitempty"`
	Methods      []Method             `json:"methods"`
}

type clientSecretPayload struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

type certificatePayload struct {
	ClientID   string `json:"clientId"`
	Data       []byte `json:"data"`
	Password   string `json:"password,omitempty"`
	Thumbprint string `json:"thumbprint,omitempty"`
}

type userPasswordPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Payload returns the plaintext document handed to a check script. The
// caller owns the returned value and must not log it.
func (s *Set) Payload() Payload {
	p := Payload{
		TenantID:     s.TenantID,
		TenantDomain: s.TenantDomain,
		AdminURL:     s.AdminURL,
		Methods:      s.Methods(),
	}
	if s.ClientSecret != nil {
		p.ClientSecret = &clientSecretPayload{
			ClientID:     s.ClientSecret.ClientID,
			ClientSecret: s.ClientSecret.Secret,
		}
	}
	if s.Certificate != nil {
		p.Certificate = &certificatePayload{
			ClientID:   s.Certificate.ClientID,
			Data:       s.Certificate.Data,
			Password:   s.Certificate.Password,
			Thumbprint: s.Certificate.Thumbprint,
		}
	}
	if s.UserPassword != nil {
		p.UserPassword = &userPasswordPayload{
			Username: s.UserPassword.Username,
			Password: s.UserPassword.Password,
		}
	}
	return p
}
