package publish

import (
	"context"

	"github.com/henn-dt/stevedore/src/build"
	"github.com/henn-dt/stevedore/src/credential"
	"github.com/henn-dt/stevedore/src/registry"
)

// Authenticator establishes the single shared session for a run. Sessions
// are explicit values threaded through every push — there is no process-wide
// login state.
type Authenticator interface {
	Login(ctx context.Context, cred *credential.Credential) (Session, error)
}

// DockerAuthenticator opens the registry API session used for digest
// confirmation and logs the docker daemon in so the engine can push.
// Neither half retries: credential rejections are not transient.
type DockerAuthenticator struct {
	Engine     *build.Buildx
	Repository string
}

func (a *DockerAuthenticator) Login(ctx context.Context, cred *credential.Credential) (Session, error) {
	session, err := registry.Login(ctx, cred, a.Repository)
	if err != nil {
		return nil, err
	}
	if err := a.Engine.Login(ctx, cred.Server, cred.Username, cred.Token); err != nil {
		return nil, err
	}
	return session, nil
}
