// Package app wires the wallet core together: storage, the secure store,
// the authentication gate, the key manager, networks, blockchain access and
// the mini-app host. It is the only place that holds references to all of
// them; the components themselves talk through the event bus.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/capsula-wallet/capsula/internal/auth"
	"github.com/capsula-wallet/capsula/internal/chain"
	"github.com/capsula-wallet/capsula/internal/config"
	"github.com/capsula-wallet/capsula/internal/events"
	"github.com/capsula-wallet/capsula/internal/keymanager"
	"github.com/capsula-wallet/capsula/internal/logger"
	"github.com/capsula-wallet/capsula/internal/metrics"
	"github.com/capsula-wallet/capsula/internal/miniapp/host"
	"github.com/capsula-wallet/capsula/internal/miniapp/sdk"
	"github.com/capsula-wallet/capsula/internal/network"
	"github.com/capsula-wallet/capsula/internal/securestore"
	"github.com/capsula-wallet/capsula/internal/storage"
	"github.com/capsula-wallet/capsula/pkg/types"
)

// BuiltIn is a mini-app shipped with the wallet.
type BuiltIn struct {
	Manifest types.MiniAppManifest
	Factory  host.Factory
}

// Platform are the device and UI adapters supplied by the embedding app.
type Platform struct {
	Biometrics  auth.Biometrics
	PINPrompter auth.PINPrompter
	Presenter   sdk.Presenter
	Loader      host.Loader
	BuiltIns    []BuiltIn

	// Chain replaces the go-ethereum facade, mainly for tests.
	Chain chain.Facade
	// Registerer receives the metrics; a private registry is used when nil.
	Registerer prometheus.Registerer
	Now        func() time.Time
}

// Core is a running wallet core.
type Core struct {
	Config   *config.Config
	Metrics  *metrics.Metrics
	Bus      *events.Bus
	Networks *network.Service
	Chain    chain.Facade
	Gate     *auth.Gate
	PINs     *auth.PINService
	Keys     *keymanager.Manager
	Host     *host.Host
	Sessions *sdk.SessionStore

	store   securestore.Store
	backend storage.Backend
	closers []func() error
	unsubs  []func()
}

// New builds a Core from cfg and the platform adapters.
func New(ctx context.Context, cfg *config.Config, p Platform) (c *Core, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c = &Core{Config: cfg, Bus: events.NewBus(), Sessions: sdk.NewSessionStore()}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	reg := p.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if c.Metrics, err = metrics.New(reg); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	if c.store, err = c.openSecureStore(ctx); err != nil {
		return nil, err
	}
	if c.backend, err = c.openBackend(ctx); err != nil {
		return nil, err
	}

	settings := storage.NewSettingsRepository(c.backend)
	rpcURLs, err := cfg.ChainRPCURLs()
	if err != nil {
		return nil, err
	}
	c.Networks, err = network.NewService(ctx, storage.NewNetworkRepository(c.backend), settings, c.Bus, cfg.DefaultChainID, rpcURLs)
	if err != nil {
		return nil, err
	}

	c.Chain = p.Chain
	if c.Chain == nil {
		facade := chain.NewEthFacade(c.Networks, c.Metrics)
		c.closers = append(c.closers, func() error { facade.Close(); return nil })
		c.Chain = facade
	}

	session := auth.NewSession(cfg.SessionTTL, cfg.ReauthWindow, p.Now)
	c.PINs = auth.NewPINService(c.store, auth.PINConfig{
		MinLength:         cfg.PINMinLength,
		AttemptsPerMinute: cfg.PINAttemptsPerMinute,
		Burst:             cfg.PINAttemptBurst,
	})
	var biometric *auth.BiometricGate
	if p.Biometrics != nil {
		biometric = auth.NewBiometricGate(p.Biometrics, session, cfg.BiometricPromptTimeout, c.Metrics)
	}
	c.Gate = auth.NewGate(biometric, c.PINs, p.PINPrompter, session, c.Metrics)

	c.Keys = keymanager.New(keymanager.Deps{
		Store:    c.store,
		Wallets:  storage.NewWalletRepository(c.backend),
		Settings: settings,
		Gate:     c.Gate,
		Chain:    c.Chain,
		Networks: c.Networks,
		Bus:      c.Bus,
		Metrics:  c.Metrics,
		Now:      p.Now,
	})

	c.Host = host.New(host.Config{
		SDK: sdk.Deps{
			KeyManager: c.Keys,
			Chain:      c.Chain,
			Networks:   c.Networks,
			Backend:    c.backend,
			Sessions:   c.Sessions,
			Bus:        c.Bus,
			Presenter:  p.Presenter,
			Metrics:    c.Metrics,
		},
		Repo:   storage.NewMiniAppRepository(c.backend),
		Loader: p.Loader,
		Now:    p.Now,
	})
	for _, b := range p.BuiltIns {
		if err := c.Host.RegisterBuiltIn(b.Manifest, b.Factory); err != nil {
			return nil, fmt.Errorf("failed to register built-in mini-app %s: %w", b.Manifest.ID, err)
		}
	}
	if _, err := c.Host.Restore(ctx); err != nil {
		return nil, err
	}

	c.subscribe()
	c.checkConsistency(ctx)

	logger.Info(ctx, "wallet core started",
		"secure_store", cfg.SecureStoreBackend,
		"metadata", cfg.MetadataBackend,
		"kms", cfg.KMSProvider,
		"active_chain", c.Networks.ActiveChainID(),
		"biometrics", c.Gate.IsBiometricSupported(ctx),
	)
	return c, nil
}

func (c *Core) openSecureStore(ctx context.Context) (securestore.Store, error) {
	var inner *securestore.LevelDBStore
	switch c.Config.SecureStoreBackend {
	case "memory":
		inner = securestore.NewMemoryStore()
	default:
		var err error
		inner, err = securestore.OpenLevelDB(filepath.Join(c.Config.DataDir, "secure"))
		if err != nil {
			return nil, err
		}
	}
	c.closers = append(c.closers, inner.Close)

	provider, err := securestore.NewKMSProvider(ctx, &securestore.KMSConfig{
		Provider:          c.Config.KMSProvider,
		LocalMasterKey:    c.Config.KMSLocalMasterKey,
		AWSKMSKeyID:       c.Config.KMSAWSKeyID,
		AWSKMSRegion:      c.Config.KMSAWSRegion,
		VaultAddress:      c.Config.KMSVaultAddress,
		VaultToken:        c.Config.KMSVaultToken,
		VaultTransitMount: c.Config.KMSVaultMount,
		VaultTransitKey:   c.Config.KMSVaultTransitKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize KMS provider: %w", err)
	}
	return securestore.NewEncryptedStore(inner, provider), nil
}

func (c *Core) openBackend(ctx context.Context) (storage.Backend, error) {
	switch c.Config.MetadataBackend {
	case "postgres":
		pg, err := storage.NewPostgres(ctx, c.Config.PostgresDSN)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, pg.Close)
		applied, err := storage.Migrate(ctx, pg.DB(), storage.EmbeddedMigrations(), storage.MigrateUp, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		if len(applied) > 0 {
			logger.Info(ctx, "applied database migrations", "versions", applied)
		}
		return pg, nil
	default:
		db, err := storage.OpenLevelDB(filepath.Join(c.Config.DataDir, "metadata"))
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, db.Close)
		return db, nil
	}
}

// subscribe logs the wallet-wide state changes.
func (c *Core) subscribe() {
	c.unsubs = append(c.unsubs,
		c.Bus.Subscribe(events.TopicWalletChanged, func(ctx context.Context, e events.Event) {
			if p, ok := e.Payload.(events.WalletChanged); ok {
				logger.Info(ctx, "active wallet changed", "wallet_id", p.WalletID, "address", p.Address)
			}
		}),
		c.Bus.Subscribe(events.TopicNetworkChanged, func(ctx context.Context, e events.Event) {
			if p, ok := e.Payload.(events.NetworkChanged); ok {
				logger.Info(ctx, "active network changed", "chain_id", p.ChainID, "previous_chain_id", p.PreviousChainID)
			}
		}),
		c.Bus.Subscribe(events.TopicMiniAppError, func(ctx context.Context, e events.Event) {
			if p, ok := e.Payload.(events.MiniAppFailed); ok {
				logger.Warn(logger.WithMiniAppID(ctx, p.MiniAppID), "mini-app error", "error", p.Error)
			}
		}),
	)
}

// checkConsistency logs wallets whose credential is gone. It never repairs.
func (c *Core) checkConsistency(ctx context.Context) {
	res := c.Keys.CheckConsistency(ctx)
	if !res.Success {
		logger.Warn(ctx, "consistency check failed", "error", res.Error)
		return
	}
	if !res.Data.Healthy() {
		logger.Warn(ctx, "wallet state is inconsistent",
			"orphaned", res.Data.Orphaned,
			"dangling", res.Data.Dangling,
		)
	}
}

// Lock ends the authentication session and clears session storage.
func (c *Core) Lock() {
	c.Keys.Lock()
	c.Sessions.Reset()
}

// Close unmounts every mini-app and closes the stores.
func (c *Core) Close() error {
	ctx := context.Background()
	if c.Host != nil {
		c.Host.Shutdown(ctx)
	}
	for _, u := range c.unsubs {
		u()
	}
	c.unsubs = nil

	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
