package workflows

import (
	"context"
	"os"
	"path/filepath"

	"github.com/PolarWolf314/muna/internal/configs"
	"github.com/PolarWolf314/muna/internal/directory"
	logger "github.com/PolarWolf314/muna/internal/logging"
	"github.com/PolarWolf314/muna/internal/metrics"
	"github.com/PolarWolf314/muna/internal/server"
	"github.com/PolarWolf314/muna/internal/storage"
)

// ServeOptions configures Serve. Empty fields fall back to the [server]
// section of the user config.
type ServeOptions struct {
	Addr     string
	Database string
	// InMemory keeps all directory state in memory.
	InMemory  bool
	RateLimit float64
	Burst     int
	Logger    logger.Logger
	Metrics   *metrics.Metrics
	// Ready, when set, is called once the backend is open.
	Ready func(addr string)
}

// Serve runs the key directory over HTTP until ctx is cancelled.
func Serve(ctx context.Context, opts ServeOptions) error {
	config, err := configs.LoadUserConfig()
	if err != nil {
		return err
	}
	if opts.Addr == "" {
		opts.Addr = config.Server.Addr
	}
	if opts.Database == "" {
		opts.Database = config.Server.Database
	}
	if opts.Database == "" {
		opts.Database = filepath.Join(configs.UserMunaSettings.UserDataPath, "directory.db")
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = config.Server.RateLimit
	}
	if opts.Burst == 0 {
		opts.Burst = config.Server.Burst
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	var backend directory.Backend
	if opts.InMemory {
		backend = directory.NewMemory()
		opts.Logger.Infof("serving an in-memory directory")
	} else {
		if err := os.MkdirAll(filepath.Dir(opts.Database), 0700); err != nil {
			return err
		}
		db, err := storage.OpenSQLite(ctx, opts.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		backend = db
		opts.Logger.Infof("serving directory from %s", opts.Database)
	}

	srv := server.New(server.Config{
		Addr:      opts.Addr,
		RateLimit: opts.RateLimit,
		Burst:     opts.Burst,
	}, backend, opts.Metrics, opts.Logger)

	if opts.Ready != nil {
		opts.Ready(opts.Addr)
	}
	return srv.ListenAndServe(ctx)
}
