package workflows

import (
	"context"

	"github.com/PolarWolf314/muna/internal/audit"
	"github.com/PolarWolf314/muna/internal/identity"
)

// Register creates and publishes the identity key, or finishes a registration
// that an earlier run left incomplete. Running it again is a no-op.
//
// Returns ErrDirectoryOrStoreFailure if the directory stays unreachable; the
// locally stored key is kept and the next run resumes with it.
func Register(ctx context.Context, env *Env) (*identity.RegisterResult, error) {
	res, err := env.Identity.RegisterIdentity(ctx)
	logIdentity(env, audit.OpRegister, res, err)
	return res, err
}

// Rotate replaces the identity key with a new version. Older versions stay
// on this device so earlier envelopes remain readable.
//
// Returns ErrNoLocalIdentity if the identity was never registered here.
func Rotate(ctx context.Context, env *Env) (*identity.RegisterResult, error) {
	res, err := env.Identity.RotateIdentity(ctx)
	logIdentity(env, audit.OpRotate, res, err)
	return res, err
}

// Erase removes every local key version. Content encrypted to this identity
// becomes permanently unreadable on this device.
func Erase(ctx context.Context, env *Env) error {
	err := env.Identity.EraseIdentity(ctx)

	entry := audit.LogWithUser(audit.OpErase)
	if err != nil {
		entry.Error = err.Error()
	}
	audit.Log(entry)
	return err
}

// Status reports the identity lifecycle state.
func Status(ctx context.Context, env *Env) (identity.State, error) {
	return env.Identity.State(ctx)
}

func logIdentity(env *Env, op string, res *identity.RegisterResult, err error) {
	entry := audit.LogWithUser(op)
	entry.Suite = env.Provider.Suite()
	if res != nil {
		entry.Version = res.Version
		entry.Fingerprint = res.Fingerprint
	}
	if err != nil {
		entry.Error = err.Error()
	}
	audit.Log(entry)
}
