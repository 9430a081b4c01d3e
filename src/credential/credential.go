// Package credential resolves registry credentials from the environment or
// explicit input. Credentials live in process memory only; the token value
// never appears in errors, logs, or rendered output.
package credential

import (
	"fmt"
	"net"
	"os"
	"strings"
)

// Credential holds everything needed to authenticate against a registry.
type Credential struct {
	Server   string
	Username string
	Token    string
	Email    string
}

// MissingError reports a required credential field that could not be resolved.
type MissingError struct {
	Field string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("credential: missing required field %q", e.Field)
}

// InvalidError reports a credential that resolved but is not usable.
type InvalidError struct {
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("credential: %s", e.Reason)
}

// Source resolves a Credential. Implementations must be pure — no network
// calls, no disk writes.
type Source interface {
	Resolve() (*Credential, error)
}

// EnvSource reads credentials from environment variables using a prefix:
//
//	prefix "GHCR" → GHCR_USER / GHCR_TOKEN (or GHCR_PASS) / GHCR_EMAIL
//
// Server comes from configuration, not the environment.
type EnvSource struct {
	Server string
	Prefix string
	Email  string // fallback when <PREFIX>_EMAIL is unset
}

func (s EnvSource) Resolve() (*Credential, error) {
	if s.Prefix == "" {
		return nil, &MissingError{Field: "credentials prefix"}
	}
	p := strings.ToUpper(s.Prefix)

	token := os.Getenv(p + "_TOKEN")
	if token == "" {
		token = os.Getenv(p + "_PASS")
	}

	email := os.Getenv(p + "_EMAIL")
	if email == "" {
		email = s.Email
	}

	return build(s.Server, os.Getenv(p+"_USER"), token, email)
}

// StaticSource wraps explicit credential values, for callers that already
// hold them (tests, secret files read by the caller).
type StaticSource struct {
	Server   string
	Username string
	Token    string
	Email    string
}

func (s StaticSource) Resolve() (*Credential, error) {
	return build(s.Server, s.Username, s.Token, s.Email)
}

// build validates the assembled fields. It never returns a partially
// populated credential: any missing field fails before construction.
func build(server, user, token, email string) (*Credential, error) {
	switch {
	case strings.TrimSpace(server) == "":
		return nil, &MissingError{Field: "server"}
	case strings.TrimSpace(user) == "":
		return nil, &MissingError{Field: "username"}
	case strings.TrimSpace(token) == "":
		return nil, &MissingError{Field: "token"}
	case strings.TrimSpace(email) == "":
		return nil, &MissingError{Field: "email"}
	}

	if err := validateServer(server); err != nil {
		return nil, err
	}

	return &Credential{
		Server:   server,
		Username: user,
		Token:    token,
		Email:    email,
	}, nil
}

// validateServer checks that the server is a bare well-formed host, with an
// optional port. Scheme prefixes are rejected — registry references never
// carry one.
func validateServer(server string) error {
	if strings.Contains(server, "://") {
		return &InvalidError{Reason: fmt.Sprintf("server %q must be a host, not a URL", server)}
	}
	host := server
	if h, _, err := net.SplitHostPort(server); err == nil {
		host = h
	}
	if host == "" || strings.ContainsAny(host, " /\\@") {
		return &InvalidError{Reason: fmt.Sprintf("server %q is not a well-formed host", server)}
	}
	return nil
}

// Redacted returns a display-safe copy with the token masked.
func (c *Credential) Redacted() string {
	return fmt.Sprintf("%s@%s (token ****)", c.Username, c.Server)
}
