// Package registry talks to the destination container registry over the
// standard registry API: one authenticated session per run, and manifest
// digest confirmation after every push. The daemon-side tag/push itself goes
// through the build engine; this package only verifies what the registry
// actually stored.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/opencontainers/go-digest"

	"github.com/henn-dt/stevedore/src/credential"
	"github.com/henn-dt/stevedore/src/logger"
)

// AuthError reports a rejected authentication handshake. Credential errors
// are not transient — callers must not retry.
type AuthError struct {
	Server     string
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("registry %s rejected authentication (status %d)", e.Server, e.StatusCode)
}

// Session is an authenticated handle to one registry. Login creates it once
// per run; every verification call threads through it. There is no ambient
// login state.
type Session struct {
	server string
	auth   authn.Authenticator
	tr     http.RoundTripper
}

// Login performs the token handshake against the registry, requesting push
// scope for the repository so bad credentials surface before any build.
func Login(ctx context.Context, cred *credential.Credential, repository string) (*Session, error) {
	reg, err := name.NewRegistry(cred.Server)
	if err != nil {
		return nil, fmt.Errorf("parsing registry %q: %w", cred.Server, err)
	}

	repo := reg.Repo(repository)
	auth := &authn.Basic{Username: cred.Username, Password: cred.Token}

	tr, err := transport.NewWithContext(ctx, reg, auth, http.DefaultTransport, []string{repo.Scope(transport.PushScope)})
	if err != nil {
		var terr *transport.Error
		if errors.As(err, &terr) {
			return nil, &AuthError{Server: cred.Server, StatusCode: terr.StatusCode}
		}
		return nil, fmt.Errorf("registry handshake with %s: %w", cred.Server, err)
	}

	logger.Log.Debug().Str("server", cred.Server).Str("repository", repository).Msg("registry session established")

	return &Session{server: cred.Server, auth: auth, tr: tr}, nil
}

// Server returns the registry host this session authenticates against.
func (s *Session) Server() string { return s.server }

// ResolveDigest asks the registry for the manifest digest currently stored
// under ref. Used to confirm a push landed intact.
func (s *Session) ResolveDigest(ctx context.Context, ref string) (digest.Digest, error) {
	parsed, err := name.ParseReference(ref)
	if err != nil {
		return "", fmt.Errorf("parsing reference %q: %w", ref, err)
	}

	desc, err := remote.Head(parsed,
		remote.WithContext(ctx),
		remote.WithAuth(s.auth),
		remote.WithTransport(s.tr),
	)
	if err != nil {
		return "", fmt.Errorf("resolving manifest for %s: %w", ref, err)
	}

	return digest.Digest(desc.Digest.String()), nil
}
