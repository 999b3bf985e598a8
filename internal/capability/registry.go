// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finsight Contributors

package capability

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	finerr "github.com/finsight-dev/finsight/pkg/errors"
)

// entry pairs a provider instance with its descriptor. Entries are
// immutable once placed in a snapshot; mutations replace the entry.
type entry struct {
	provider Provider
	desc     Descriptor
	config   map[string]any
}

// snapshot is one complete, immutable view of the registry. Readers hold
// it by value semantics: a snapshot captured before a mutation stays
// valid and consistent for as long as the caller keeps it.
type snapshot struct {
	entries map[string]*entry
	tools   map[Category][]ToolDescriptor
}

// Registry owns all capability providers. It maintains its live state
// behind copy-on-write snapshots: every mutating operation builds a new
// snapshot and atomically swaps a single pointer, so readers never lock
// and never observe a partial update. Writers serialize on one mutex.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory

	snap atomic.Pointer[snapshot]
	gen  atomic.Uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.snap.Store(&snapshot{
		entries: make(map[string]*entry),
		tools:   make(map[Category][]ToolDescriptor),
	})
	return r
}

// RegisterFactory makes a provider constructible by name. The provider
// starts unloaded; Load instantiates it.
func (r *Registry) RegisterFactory(name string, f Factory) error {
	if name == "" || f == nil {
		return finerr.New(finerr.CodePluginConfigInvalid, "factory registration requires a name and constructor")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return finerr.Errorf(finerr.CodePluginConfigInvalid, "factory %q already registered", name)
	}
	r.factories[name] = f

	cur := r.snap.Load()
	entries := cloneEntries(cur.entries)
	entries[name] = &entry{desc: Descriptor{Name: name, Status: StatusUnloaded}}
	r.swap(entries)
	return nil
}

// Load instantiates the named provider, registers its tools, and marks it
// active. On initialization failure the descriptor transitions to error
// and preserves the failure message.
func (r *Registry) Load(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lockedLoad(ctx, name)
}

// Unload removes the provider's tools from the discoverable set. Requests
// holding tool references acquired before the unload complete against the
// snapshot they captured; nothing is aborted mid-flight.
func (r *Registry) Unload(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lockedUnload(ctx, name)
}

// Reload is an atomic unload+load under a single writer critical section.
// The tool count may change across the call if the manifest changed, and
// the descriptor always gets a fresh generation stamp.
func (r *Registry) Reload(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	e, ok := cur.entries[name]
	if !ok {
		return finerr.New(finerr.CodePluginNotFound, "provider not registered", finerr.FieldPlugin(name))
	}

	if e.desc.Status == StatusActive {
		if err := r.lockedUnload(ctx, name); err != nil {
			return err
		}
	}
	return r.lockedLoad(ctx, name)
}

// Configure applies a new configuration map to an active provider. A
// fresh instance is initialized with the new configuration and swapped
// in; tool calls that started under the old configuration run to
// completion against the instance they captured.
func (r *Registry) Configure(ctx context.Context, name string, config map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	e, ok := cur.entries[name]
	if !ok {
		return finerr.New(finerr.CodePluginNotFound, "provider not registered", finerr.FieldPlugin(name))
	}
	if e.desc.Status != StatusActive {
		return finerr.Errorf(finerr.CodePluginConfigInvalid,
			"provider %s is %s, only active providers accept configuration", name, e.desc.Status)
	}

	prov := r.factories[name]()
	if err := prov.Init(ctx, config); err != nil {
		// Registry unchanged: the old instance keeps serving.
		return finerr.Wrap(err, finerr.CodePluginConfigInvalid, "applying provider configuration",
			finerr.FieldPlugin(name))
	}

	next := *e
	next.provider = prov
	next.config = config
	next.desc.Config = config

	entries := cloneEntries(cur.entries)
	entries[name] = &next
	r.swap(entries)

	// Release the replaced instance. Invocations that captured it through
	// an earlier snapshot still complete; Close must tolerate that.
	if e.provider != nil {
		if err := e.provider.Close(ctx); err != nil {
			slog.Warn("provider close failed", "provider", name, "error", err)
		}
	}
	return nil
}

// ToolsFor returns the current immutable tool snapshot for a category.
// Callers never observe a registry mutation mid-iteration.
func (r *Registry) ToolsFor(category Category) []ToolDescriptor {
	return slices.Clone(r.snap.Load().tools[category])
}

// Describe returns the descriptor for a registered provider.
func (r *Registry) Describe(name string) (Descriptor, error) {
	e, ok := r.snap.Load().entries[name]
	if !ok {
		return Descriptor{}, finerr.New(finerr.CodePluginNotFound, "provider not registered", finerr.FieldPlugin(name))
	}
	return cloneDescriptor(e.desc), nil
}

// List returns descriptors for all registered providers, sorted by name.
func (r *Registry) List() []Descriptor {
	snap := r.snap.Load()
	list := make([]Descriptor, 0, len(snap.entries))
	for _, e := range snap.entries {
		list = append(list, cloneDescriptor(e.desc))
	}
	slices.SortFunc(list, func(a, b Descriptor) int {
		return strings.Compare(a.Name, b.Name)
	})
	return list
}

// Stats summarizes the current snapshot.
func (r *Registry) Stats() Stats {
	snap := r.snap.Load()
	stats := Stats{ByCategory: make(map[Category]int)}
	for _, e := range snap.entries {
		stats.TotalProviders++
		switch e.desc.Status {
		case StatusActive:
			stats.ActiveProviders++
			stats.ByCategory[e.desc.Category]++
			stats.TotalTools += len(e.desc.Tools)
		case StatusError:
			stats.ErrorProviders++
		}
	}
	return stats
}

// LoadAll loads every registered factory, logging and continuing past
// individual failures so one broken provider cannot block startup.
func (r *Registry) LoadAll(ctx context.Context) {
	r.mu.Lock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	r.mu.Unlock()

	slices.Sort(names)
	for _, name := range names {
		if err := r.Load(ctx, name); err != nil {
			slog.Warn("skipping provider: load failed", "provider", name, "error", err)
		}
	}
}

// Close unloads all active providers.
func (r *Registry) Close(ctx context.Context) error {
	var errs []error
	for _, desc := range r.List() {
		if desc.Status != StatusActive {
			continue
		}
		if err := r.Unload(ctx, desc.Name); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return finerr.Join(errs...)
	}
	return nil
}

// lockedLoad performs the load under r.mu.
func (r *Registry) lockedLoad(ctx context.Context, name string) error {
	factory, ok := r.factories[name]
	if !ok {
		return finerr.New(finerr.CodePluginNotFound, "provider not registered", finerr.FieldPlugin(name))
	}

	cur := r.snap.Load()
	prev := cur.entries[name]

	desc := Descriptor{Name: name, Status: StatusUnloaded}
	var config map[string]any
	if prev != nil {
		desc = cloneDescriptor(prev.desc)
		config = prev.config
	}

	if err := transition(&desc, StatusLoading); err != nil {
		return err
	}
	desc.Tools = nil
	desc.LastError = ""

	// Publish the loading state so concurrent readers observe the FSM.
	entries := cloneEntries(cur.entries)
	entries[name] = &entry{desc: cloneDescriptor(desc), config: config}
	r.swap(entries)

	prov := factory()
	manifest := prov.Manifest()

	err := manifest.Validate()
	if err == nil && manifest.Name != name {
		err = finerr.Errorf(finerr.CodePluginLoadFailure,
			"manifest name %q does not match registered name %q", manifest.Name, name)
	}
	if err == nil {
		err = r.checkToolNames(entries, name, manifest)
	}
	if err == nil {
		err = prov.Init(ctx, config)
		if err != nil {
			err = finerr.Wrap(err, finerr.CodePluginLoadFailure, "initializing provider", finerr.FieldPlugin(name))
		}
	}

	if err != nil {
		desc.Status = StatusError
		desc.LastError = err.Error()
		entries = cloneEntries(entries)
		entries[name] = &entry{desc: desc, config: config}
		r.swap(entries)
		return err
	}

	desc.Status = StatusActive
	desc.Version = manifest.Version
	desc.Category = manifest.Category
	desc.Tools = slices.Clone(manifest.Tools)
	desc.Generation = r.gen.Add(1)
	desc.LoadedAt = time.Now().UTC()
	desc.Config = config

	entries = cloneEntries(entries)
	entries[name] = &entry{provider: prov, desc: desc, config: config}
	r.swap(entries)

	slog.Info("provider loaded", "provider", name, "version", desc.Version,
		"category", desc.Category, "tools", len(desc.Tools), "generation", desc.Generation)
	return nil
}

// lockedUnload performs the unload under r.mu.
func (r *Registry) lockedUnload(ctx context.Context, name string) error {
	cur := r.snap.Load()
	e, ok := cur.entries[name]
	if !ok {
		return finerr.New(finerr.CodePluginNotFound, "provider not registered", finerr.FieldPlugin(name))
	}

	desc := cloneDescriptor(e.desc)
	if err := transition(&desc, StatusUnloaded); err != nil {
		return err
	}
	desc.Tools = nil
	desc.Config = nil

	entries := cloneEntries(cur.entries)
	entries[name] = &entry{desc: desc, config: e.config}
	r.swap(entries)

	// Close after the swap: new requests can no longer discover the
	// provider, and Close must be safe with respect to invocations that
	// started against an earlier snapshot (Provider contract).
	if e.provider != nil {
		if err := e.provider.Close(ctx); err != nil {
			slog.Warn("provider close failed", "provider", name, "error", err)
		}
	}

	slog.Info("provider unloaded", "provider", name)
	return nil
}

// checkToolNames enforces that a tool name is unique within its category
// across all active providers at any instant.
func (r *Registry) checkToolNames(entries map[string]*entry, loading string, m Manifest) error {
	for _, e := range entries {
		if e.desc.Name == loading || e.desc.Status != StatusActive || e.desc.Category != m.Category {
			continue
		}
		for _, existing := range e.desc.Tools {
			for _, t := range m.Tools {
				if existing.Name == t.Name {
					return finerr.Errorf(finerr.CodePluginLoadFailure,
						"tool %q already exposed by provider %s in category %s",
						t.Name, e.desc.Name, m.Category)
				}
			}
		}
	}
	return nil
}

// swap rebuilds the category index and atomically publishes the snapshot.
// Caller must hold r.mu.
func (r *Registry) swap(entries map[string]*entry) {
	tools := make(map[Category][]ToolDescriptor)

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		e := entries[name]
		if e.desc.Status != StatusActive || e.provider == nil {
			continue
		}
		prov := e.provider
		provName := e.desc.Name
		for _, spec := range e.desc.Tools {
			toolName := spec.Name
			tools[e.desc.Category] = append(tools[e.desc.Category], ToolDescriptor{
				Name:        spec.Name,
				Category:    e.desc.Category,
				Provider:    provName,
				Description: spec.Description,
				InputSchema: spec.InputSchema,
				invoke: func(ctx context.Context, args map[string]any) (any, error) {
					return prov.Invoke(ctx, toolName, args)
				},
			})
		}
	}

	r.snap.Store(&snapshot{entries: entries, tools: tools})
}

func cloneEntries(entries map[string]*entry) map[string]*entry {
	out := make(map[string]*entry, len(entries))
	for k, v := range entries {
		out[k] = v
	}
	return out
}

func cloneDescriptor(d Descriptor) Descriptor {
	d.Tools = slices.Clone(d.Tools)
	return d
}
