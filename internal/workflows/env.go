package workflows

import (
	"context"
	"fmt"
	"time"

	"github.com/PolarWolf314/muna/internal/configs"
	"github.com/PolarWolf314/muna/internal/cryptoprovider"
	"github.com/PolarWolf314/muna/internal/directory"
	"github.com/PolarWolf314/muna/internal/envelope"
	"github.com/PolarWolf314/muna/internal/group"
	"github.com/PolarWolf314/muna/internal/identity"
	"github.com/PolarWolf314/muna/internal/keystore"
	logger "github.com/PolarWolf314/muna/internal/logging"
	"github.com/PolarWolf314/muna/internal/metrics"
	"github.com/PolarWolf314/muna/internal/utils"
)

const identityCacheTTL = 5 * time.Minute

// Env holds the components a workflow runs against.
type Env struct {
	Config   *configs.UserConfig
	Log      logger.Logger
	Backend  directory.Backend
	Provider cryptoprovider.Provider
	Identity *identity.Manager
	Cipher   *envelope.Cipher
	Group    *group.Coordinator
}

// EnvOptions overrides collaborators. Zero values select the configured ones.
type EnvOptions struct {
	Logger  logger.Logger
	Metrics *metrics.Metrics

	// Backend replaces the HTTP directory client.
	Backend directory.Backend
	// Storage replaces the configured secure storage backend.
	Storage keystore.SecureStorage
	// Passphrase unlocks sealed storage; defaults to a terminal prompt.
	Passphrase func(prompt string) ([]byte, error)
}

// Open loads the user config and builds every component for the configured user.
//
// Returns ErrNotConfigured if `muna config init` has not run.
// Returns ErrInvalidConfig if the config cannot be used.
func Open(ctx context.Context, opts EnvOptions) (*Env, error) {
	config, err := configs.RequireUserConfig()
	if err != nil {
		return nil, err
	}

	provider, err := cryptoprovider.New(config.Crypto.Suite)
	if err != nil {
		return nil, err
	}

	backend := opts.Backend
	if backend == nil {
		client, err := directory.NewClient(config.Directory.URL,
			directory.WithRetryPolicy(config.RetryPolicy()),
			directory.WithUserAgent("muna/"+config.User.Device),
		)
		if err != nil {
			return nil, err
		}
		backend = client
	}

	storage := opts.Storage
	if storage == nil {
		storage, err = openStorage(ctx, config, opts)
		if err != nil {
			return nil, err
		}
	}

	policy := config.RetryPolicy()
	store := keystore.NewLocalKeyStore(storage, config.User.ID)
	manager := identity.NewManager(store, backend, provider,
		identity.WithRetryPolicy(policy),
		identity.WithCache(identity.NewCache(identityCacheTTL)),
		identity.WithLogger(opts.Logger),
	)
	cipher := envelope.New(provider,
		envelope.WithKeys(manager),
		envelope.WithDirectory(backend),
		envelope.WithRetryPolicy(policy),
		envelope.WithMetrics(opts.Metrics),
	)
	coordinator := group.New(config.User.ID, cipher, backend, backend,
		group.WithConcurrency(config.Rotation.Concurrency),
		group.WithMaxAttempts(config.Rotation.MaxAttempts),
		group.WithRetryPolicy(policy),
		group.WithMetrics(opts.Metrics),
		group.WithLogger(opts.Logger),
	)

	return &Env{
		Config:   config,
		Log:      opts.Logger,
		Backend:  backend,
		Provider: provider,
		Identity: manager,
		Cipher:   cipher,
		Group:    coordinator,
	}, nil
}

func openStorage(ctx context.Context, config *configs.UserConfig, opts EnvOptions) (keystore.SecureStorage, error) {
	switch config.Storage.Backend {
	case configs.StorageMemory:
		opts.Logger.WarnfAlways("storage.backend is memory: keys are lost when muna exits")
		return keystore.NewMemoryStorage(), nil
	case configs.StorageFile, configs.StorageSealed:
	default:
		return nil, fmt.Errorf("unknown storage backend %q", config.Storage.Backend)
	}

	files, err := keystore.NewFileStorage(config.KeysPath())
	if err != nil {
		return nil, fmt.Errorf("opening key storage: %w", err)
	}
	if config.Storage.Backend == configs.StorageFile {
		return files, nil
	}

	prompt := opts.Passphrase
	if prompt == nil {
		prompt = utils.ReadPassphrase
	}
	passphrase, err := prompt("Passphrase for muna keys: ")
	if err != nil {
		return nil, err
	}
	defer cryptoprovider.Wipe(passphrase)

	sealed, err := keystore.NewSealedStorage(ctx, files, passphrase)
	if err != nil {
		return nil, err
	}
	return sealed, nil
}
