// Package host registers, installs and mounts mini-apps. Each mounted
// instance gets its own SDK, and plugin code runs behind an error boundary
// that turns failures and panics into an errored state.
package host

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/capsula-wallet/capsula/internal/events"
	"github.com/capsula-wallet/capsula/internal/logger"
	"github.com/capsula-wallet/capsula/internal/miniapp/sdk"
	"github.com/capsula-wallet/capsula/internal/storage"
	apperrors "github.com/capsula-wallet/capsula/pkg/errors"
	"github.com/capsula-wallet/capsula/pkg/types"
)

// State is the lifecycle state of a mini-app instance.
type State string

// Instance states
const (
	StateRegistered State = "registered"
	StateMounting   State = "mounting"
	StateMounted    State = "mounted"
	StateUnmounted  State = "unmounted"
	StateErrored    State = "errored"
)

var (
	// ErrUnknownMiniApp is returned for an ID that is neither built in nor installed.
	ErrUnknownMiniApp = errors.New("unknown mini-app")

	// ErrNotMounted is returned when plugin code is invoked on an instance
	// that is not mounted.
	ErrNotMounted = errors.New("mini-app is not mounted")

	// ErrMountInProgress is returned when Mount is called on an instance
	// that is already being mounted.
	ErrMountInProgress = errors.New("mini-app mount in progress")

	// ErrNoLoader is returned when an external mini-app is mounted without a Loader.
	ErrNoLoader = errors.New("no loader for external mini-apps")
)

// Plugin is the code of a mini-app as seen by the host.
type Plugin interface {
	Mount(ctx context.Context, s *sdk.SDK) error
	Unmount(ctx context.Context) error
}

// Factory creates a fresh Plugin for each mount.
type Factory func() Plugin

// Loader resolves external mini-apps from their entry point.
type Loader interface {
	Load(ctx context.Context, manifest *types.MiniAppManifest) (Plugin, error)
}

// Info describes one known mini-app.
type Info struct {
	Manifest  types.MiniAppManifest `json:"manifest"`
	State     State                 `json:"state"`
	LastError string                `json:"last_error,omitempty"`
	MountedAt *time.Time            `json:"mounted_at,omitempty"`
}

type instance struct {
	manifest  types.MiniAppManifest
	factory   Factory
	state     State
	lastError string
	mountedAt *time.Time

	plugin Plugin
	sdk    *sdk.SDK
}

func (i *instance) info() Info {
	return Info{Manifest: i.manifest, State: i.state, LastError: i.lastError, MountedAt: i.mountedAt}
}

// Host owns every mini-app instance of the wallet.
type Host struct {
	deps   sdk.Deps
	repo   *storage.MiniAppRepository
	loader Loader
	now    func() time.Time

	mu      sync.Mutex
	apps    map[string]*instance
	pending []events.Event
}

// Config are the collaborators of a Host.
type Config struct {
	SDK    sdk.Deps
	Repo   *storage.MiniAppRepository
	Loader Loader
	Now    func() time.Time
}

// New creates a Host. Installed external mini-apps are loaded with Restore.
func New(cfg Config) *Host {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Host{
		deps:   cfg.SDK,
		repo:   cfg.Repo,
		loader: cfg.Loader,
		now:    now,
		apps:   make(map[string]*instance),
	}
}

// RegisterBuiltIn adds a built-in mini-app. Built-ins are not persisted.
func (h *Host) RegisterBuiltIn(m types.MiniAppManifest, factory Factory) error {
	if m.Type == "" {
		m.Type = types.MiniAppTypeBuiltIn
	}
	if m.Type != types.MiniAppTypeBuiltIn {
		return apperrors.ErrInvalidManifest.WithDetail("built-in mini-apps must have type " + types.MiniAppTypeBuiltIn)
	}
	if factory == nil {
		return apperrors.ErrInvalidManifest.WithDetail("factory is required")
	}
	if err := ValidateManifest(&m); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.apps[m.ID]; exists {
		return apperrors.ErrInvalidManifest.WithDetail(fmt.Sprintf("mini-app %s is already registered", m.ID))
	}
	h.apps[m.ID] = newInstance(m, factory)
	return nil
}

// Install validates and persists an external mini-app manifest.
func (h *Host) Install(ctx context.Context, m types.MiniAppManifest) error {
	if err := ValidateManifest(&m); err != nil {
		return err
	}
	if m.Type != types.MiniAppTypeExternal {
		return apperrors.ErrInvalidManifest.WithDetail("only external mini-apps can be installed")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.apps[m.ID]; ok {
		if existing.manifest.Type == types.MiniAppTypeBuiltIn {
			return apperrors.ErrInvalidManifest.WithDetail(fmt.Sprintf("mini-app %s is built in", m.ID))
		}
		if existing.state == StateMounted || existing.state == StateMounting {
			return apperrors.ErrInvalidManifest.WithDetail(fmt.Sprintf("mini-app %s is mounted", m.ID))
		}
	}

	m.InstalledAt = h.now().UTC()
	if h.repo != nil {
		if err := h.repo.Save(ctx, &m); err != nil {
			return apperrors.Storage(err)
		}
	}
	h.apps[m.ID] = newInstance(m, nil)
	logger.Info(logger.WithMiniAppID(ctx, m.ID), "mini-app installed", "version", m.Version, "permissions", m.Permissions)
	return nil
}

// Uninstall unmounts an external mini-app and removes its manifest and
// persistent data.
func (h *Host) Uninstall(ctx context.Context, id string) error {
	defer h.flush(ctx)
	h.mu.Lock()
	defer h.mu.Unlock()

	inst, ok := h.apps[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMiniApp, id)
	}
	if inst.manifest.Type != types.MiniAppTypeExternal {
		return apperrors.ErrInvalidManifest.WithDetail(fmt.Sprintf("mini-app %s is built in", id))
	}
	if inst.state == StateMounted {
		_ = h.unmountLocked(ctx, inst)
	}

	if h.repo != nil {
		if err := h.repo.Delete(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return apperrors.Storage(err)
		}
	}
	if h.deps.Backend != nil {
		data, err := storage.NewMiniAppDataRepository(h.deps.Backend, id)
		if err == nil {
			err = data.Clear(ctx)
		}
		if err != nil {
			logger.Warn(logger.WithMiniAppID(ctx, id), "failed to clear mini-app data", "error", err)
		}
	}
	if h.deps.Sessions != nil {
		h.deps.Sessions.Drop(id)
	}

	delete(h.apps, id)
	logger.Info(logger.WithMiniAppID(ctx, id), "mini-app uninstalled")
	return nil
}

// Restore loads the installed external manifests. Invalid manifests are
// skipped and logged.
func (h *Host) Restore(ctx context.Context) (int, error) {
	if h.repo == nil {
		return 0, nil
	}
	manifests, err := h.repo.List(ctx)
	if err != nil {
		return 0, apperrors.Storage(err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	restored := 0
	for _, m := range manifests {
		if err := ValidateManifest(m); err != nil || m.Type != types.MiniAppTypeExternal {
			logger.Warn(logger.WithMiniAppID(ctx, m.ID), "skipping stored mini-app manifest", "error", err)
			continue
		}
		if _, exists := h.apps[m.ID]; exists {
			continue
		}
		h.apps[m.ID] = newInstance(*m, nil)
		restored++
	}
	return restored, nil
}

// Mount builds the SDK of id and mounts its plugin. A plugin that fails or
// panics leaves the instance errored. Plugin code runs without h.mu held.
func (h *Host) Mount(ctx context.Context, id string) error {
	defer h.flush(ctx)
	h.mu.Lock()
	inst, ok := h.apps[id]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownMiniApp, id)
	}
	switch inst.state {
	case StateMounted:
		h.mu.Unlock()
		return nil
	case StateMounting:
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMountInProgress, id)
	}
	inst.state = StateMounting
	h.mu.Unlock()

	ctx = logger.WithOperation(logger.WithMiniAppID(ctx, id), "mount")
	plugin, s, err := h.start(ctx, inst)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.apps[id] != inst || inst.state != StateMounting {
		if err == nil {
			_ = guard(func() error { return plugin.Unmount(ctx) })
			s.Close()
		}
		return fmt.Errorf("%w: %s was removed while mounting", ErrUnknownMiniApp, id)
	}
	if err != nil {
		h.failLocked(ctx, inst, err)
		return err
	}

	now := h.now().UTC()
	inst.plugin = plugin
	inst.sdk = s
	inst.state = StateMounted
	inst.lastError = ""
	inst.mountedAt = &now
	logger.Info(ctx, "mini-app mounted")
	return nil
}

// start builds the SDK, resolves the plugin and runs its Mount. The SDK is
// closed again on failure.
func (h *Host) start(ctx context.Context, inst *instance) (Plugin, *sdk.SDK, error) {
	s, err := sdk.New(&inst.manifest, h.deps)
	if err != nil {
		return nil, nil, err
	}
	plugin, err := h.pluginFor(ctx, inst)
	if err == nil {
		err = guard(func() error { return plugin.Mount(ctx, s) })
	}
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	return plugin, s, nil
}

// Unmount unmounts id. Unmounting an instance that is not mounted is a no-op.
func (h *Host) Unmount(ctx context.Context, id string) error {
	defer h.flush(ctx)
	h.mu.Lock()
	defer h.mu.Unlock()

	inst, ok := h.apps[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMiniApp, id)
	}
	if inst.state != StateMounted {
		return nil
	}
	return h.unmountLocked(logger.WithOperation(logger.WithMiniAppID(ctx, id), "unmount"), inst)
}

// Invoke runs fn against the mounted plugin of id behind the error boundary.
// A panic unmounts the instance and leaves it errored. Returned errors are
// passed through.
func (h *Host) Invoke(ctx context.Context, id string, fn func(ctx context.Context, p Plugin, s *sdk.SDK) error) error {
	h.mu.Lock()
	inst, ok := h.apps[id]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownMiniApp, id)
	}
	if inst.state != StateMounted {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotMounted, id)
	}
	plugin, s := inst.plugin, inst.sdk
	h.mu.Unlock()

	ctx = logger.WithMiniAppID(ctx, id)
	err := guard(func() error { return fn(ctx, plugin, s) })
	if err == nil {
		return nil
	}

	var pe *panicError
	if !errors.As(err, &pe) {
		return err
	}

	defer h.flush(ctx)
	h.mu.Lock()
	defer h.mu.Unlock()
	if inst.state == StateMounted && inst.sdk == s {
		inst.sdk.Close()
		inst.plugin, inst.sdk, inst.mountedAt = nil, nil, nil
		h.failLocked(ctx, inst, err)
	}
	return err
}

// State returns the state of id.
func (h *Host) State(id string) (State, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, ok := h.apps[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownMiniApp, id)
	}
	return inst.state, nil
}

// Get returns the description of id.
func (h *Host) Get(id string) (Info, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, ok := h.apps[id]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrUnknownMiniApp, id)
	}
	return inst.info(), nil
}

// List returns every known mini-app ordered by ID.
func (h *Host) List() []Info {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Info, 0, len(h.apps))
	for _, inst := range h.apps {
		out = append(out, inst.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Manifest.ID < out[j].Manifest.ID })
	return out
}

// Shutdown unmounts every mounted instance.
func (h *Host) Shutdown(ctx context.Context) {
	defer h.flush(ctx)
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, inst := range h.apps {
		if inst.state == StateMounted {
			_ = h.unmountLocked(logger.WithMiniAppID(ctx, inst.manifest.ID), inst)
		}
	}
}

func newInstance(m types.MiniAppManifest, factory Factory) *instance {
	return &instance{manifest: m, factory: factory, state: StateRegistered}
}

func (h *Host) pluginFor(ctx context.Context, inst *instance) (Plugin, error) {
	if inst.factory != nil {
		var p Plugin
		err := guard(func() error {
			p = inst.factory()
			return nil
		})
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, fmt.Errorf("factory for %s returned no plugin", inst.manifest.ID)
		}
		return p, nil
	}
	if h.loader == nil {
		return nil, ErrNoLoader
	}

	var p Plugin
	err := guard(func() error {
		var err error
		p, err = h.loader.Load(ctx, &inst.manifest)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", inst.manifest.ID, err)
	}
	if p == nil {
		return nil, fmt.Errorf("loader returned no plugin for %s", inst.manifest.ID)
	}
	return p, nil
}

func (h *Host) unmountLocked(ctx context.Context, inst *instance) error {
	err := guard(func() error { return inst.plugin.Unmount(ctx) })
	inst.sdk.Close()
	inst.plugin, inst.sdk, inst.mountedAt = nil, nil, nil

	if err != nil {
		h.failLocked(ctx, inst, err)
		return err
	}
	inst.state = StateUnmounted
	logger.Info(ctx, "mini-app unmounted")
	return nil
}

// failLocked moves inst to StateErrored and queues the failure event.
func (h *Host) failLocked(ctx context.Context, inst *instance, err error) {
	inst.state = StateErrored
	inst.lastError = err.Error()
	logger.Error(ctx, "mini-app failed", "error", err)

	h.pending = append(h.pending, events.Event{
		Topic:   events.TopicMiniAppError,
		Source:  "host",
		Payload: events.MiniAppFailed{MiniAppID: inst.manifest.ID, Error: err.Error()},
	})
}

// flush publishes queued events once h.mu is released, so subscribers may
// call back into the host.
func (h *Host) flush(ctx context.Context) {
	h.mu.Lock()
	pending := h.pending
	h.pending = nil
	h.mu.Unlock()

	if h.deps.Bus == nil {
		return
	}
	for _, e := range pending {
		h.deps.Bus.Publish(ctx, e)
	}
}

type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("mini-app panicked: %v", e.value)
}

// guard runs fn and converts a panic into a *panicError.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return fn()
}
