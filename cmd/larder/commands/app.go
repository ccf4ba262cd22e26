package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/larderapp/larder/pkg/config"
	"github.com/larderapp/larder/pkg/state"
	"github.com/larderapp/larder/pkg/stores"
	"github.com/larderapp/larder/pkg/telemetry"
)

// app is what every subcommand works against: loaded config, telemetry
// and a Store that may or may not be initialized yet.
type app struct {
	cfg    *config.Config
	tel    *telemetry.Telemetry
	logger zerolog.Logger
	store  *state.Store
}

func newApp(version string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.Database.DataDir = dataDir
	}

	tel, err := telemetry.New(cfg.TelemetryConfig(version))
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	logger := tel.Logger

	mc := cfg.ManagerConfig()
	mc.Logger = logger
	mc.Telemetry = tel

	return &app{
		cfg:    cfg,
		tel:    tel,
		logger: logger,
		store: state.New(state.Config{
			Manager:   stores.NewManager(mc),
			Logger:    logger,
			Telemetry: tel,
		}),
	}, nil
}

// open initializes the Store from config and applies migrations when asked.
func (a *app) open(ctx context.Context, migrate bool) (stores.Outcome, error) {
	outcome, err := a.store.Init(ctx, a.cfg.RemoteTarget())
	if err != nil {
		return stores.Outcome{}, err
	}
	if migrate || a.cfg.Database.Migrate {
		if _, err := a.store.Migrate(ctx); err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Join(a.store.Close(), a.tel.Shutdown(ctx))
}

// withApp builds an app, opens the database, runs fn and tears it all down.
func withApp(ctx context.Context, version string, migrate bool, fn func(a *app, outcome stores.Outcome) error) (err error) {
	a, err := newApp(version)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	outcome, err := a.open(ctx, migrate)
	if err != nil {
		return err
	}
	return fn(a, outcome)
}

func printJSON(w io.Writer, v any) error {
	b, err := gojson.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
