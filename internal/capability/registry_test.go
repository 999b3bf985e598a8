// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finsight Contributors

package capability_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-dev/finsight/internal/capability"
	finerr "github.com/finsight-dev/finsight/pkg/errors"
)

// fakeProvider is a scriptable provider for registry tests. Invoke keeps
// working after Close, as the Provider contract requires for in-flight
// calls that captured an earlier snapshot.
type fakeProvider struct {
	manifest capability.Manifest
	initErr  error

	mu     sync.Mutex
	closed bool
	config map[string]any
}

func (p *fakeProvider) Manifest() capability.Manifest { return p.manifest }

func (p *fakeProvider) Init(_ context.Context, config map[string]any) error {
	if p.initErr != nil {
		return p.initErr
	}
	p.mu.Lock()
	p.config = config
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) Invoke(_ context.Context, tool string, _ map[string]any) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]any{"tool": tool, "closed": p.closed}, nil
}

func (p *fakeProvider) Close(context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func manifestYAML(name, category string, tools ...string) string {
	doc := fmt.Sprintf("name: %s\nversion: 1.0.0\ncategory: %s\ntools:\n", name, category)
	for _, tool := range tools {
		doc += fmt.Sprintf("  - name: %s\n", tool)
	}
	return doc
}

func mustManifest(t *testing.T, doc string) capability.Manifest {
	t.Helper()
	m, err := capability.ParseManifest([]byte(doc))
	require.NoError(t, err)
	return *m
}

func registerFake(t *testing.T, reg *capability.Registry, name, category string, tools ...string) *fakeProvider {
	t.Helper()
	p := &fakeProvider{manifest: mustManifest(t, manifestYAML(name, category, tools...))}
	require.NoError(t, reg.RegisterFactory(name, func() capability.Provider { return p }))
	return p
}

func TestRegistry_LoadActivatesProvider(t *testing.T) {
	reg := capability.NewRegistry()
	registerFake(t, reg, "quotes", "market-data", "get_quote")
	ctx := context.Background()

	desc, err := reg.Describe("quotes")
	require.NoError(t, err)
	assert.Equal(t, capability.StatusUnloaded, desc.Status)

	require.NoError(t, reg.Load(ctx, "quotes"))

	desc, err = reg.Describe("quotes")
	require.NoError(t, err)
	assert.Equal(t, capability.StatusActive, desc.Status)
	assert.Equal(t, "1.0.0", desc.Version)
	assert.EqualValues(t, 1, desc.Generation)
	assert.False(t, desc.LoadedAt.IsZero())

	tools := reg.ToolsFor(capability.CategoryMarketData)
	require.Len(t, tools, 1)
	assert.Equal(t, "get_quote", tools[0].Name)

	out, err := tools[0].Invoke(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "get_quote", out.(map[string]any)["tool"])
}

func TestRegistry_LoadUnknownProvider(t *testing.T) {
	reg := capability.NewRegistry()

	err := reg.Load(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, finerr.IsNotFound(err))
}

func TestRegistry_RegisterFactoryDuplicate(t *testing.T) {
	reg := capability.NewRegistry()
	registerFake(t, reg, "quotes", "market-data", "get_quote")

	err := reg.RegisterFactory("quotes", func() capability.Provider { return &fakeProvider{} })
	require.Error(t, err)
	assert.True(t, finerr.IsInvalidInput(err))
}

func TestRegistry_LoadFailureEntersErrorState(t *testing.T) {
	reg := capability.NewRegistry()
	p := &fakeProvider{
		manifest: mustManifest(t, manifestYAML("flaky", "analysis", "check")),
		initErr:  fmt.Errorf("backend unreachable"),
	}
	require.NoError(t, reg.RegisterFactory("flaky", func() capability.Provider { return p }))
	ctx := context.Background()

	require.Error(t, reg.Load(ctx, "flaky"))

	desc, err := reg.Describe("flaky")
	require.NoError(t, err)
	assert.Equal(t, capability.StatusError, desc.Status)
	assert.Contains(t, desc.LastError, "backend unreachable")
	assert.Empty(t, reg.ToolsFor(capability.CategoryAnalysis))

	// error -> loading is a legal retry path.
	p.initErr = nil
	require.NoError(t, reg.Load(ctx, "flaky"))
	desc, err = reg.Describe("flaky")
	require.NoError(t, err)
	assert.Equal(t, capability.StatusActive, desc.Status)
	assert.Empty(t, desc.LastError)
}

func TestRegistry_UnloadRemovesToolsButHonorsInFlight(t *testing.T) {
	reg := capability.NewRegistry()
	p := registerFake(t, reg, "quotes", "market-data", "get_quote")
	ctx := context.Background()
	require.NoError(t, reg.Load(ctx, "quotes"))

	// A stage captures its tools before the unload.
	captured := reg.ToolsFor(capability.CategoryMarketData)
	require.Len(t, captured, 1)

	require.NoError(t, reg.Unload(ctx, "quotes"))

	assert.Empty(t, reg.ToolsFor(capability.CategoryMarketData))
	desc, err := reg.Describe("quotes")
	require.NoError(t, err)
	assert.Equal(t, capability.StatusUnloaded, desc.Status)
	assert.True(t, p.closed)

	// The captured descriptor still completes.
	out, err := captured[0].Invoke(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "get_quote", out.(map[string]any)["tool"])
}

func TestRegistry_UnloadNotActive(t *testing.T) {
	reg := capability.NewRegistry()
	registerFake(t, reg, "quotes", "market-data", "get_quote")

	err := reg.Unload(context.Background(), "quotes")
	require.Error(t, err)
	assert.Equal(t, finerr.CodePluginStateInvalid, finerr.CodeOf(err))
}

func TestRegistry_ReloadBumpsGeneration(t *testing.T) {
	reg := capability.NewRegistry()
	registerFake(t, reg, "quotes", "market-data", "get_quote")
	ctx := context.Background()
	require.NoError(t, reg.Load(ctx, "quotes"))

	before, err := reg.Describe("quotes")
	require.NoError(t, err)

	require.NoError(t, reg.Reload(ctx, "quotes"))

	after, err := reg.Describe("quotes")
	require.NoError(t, err)
	assert.Equal(t, capability.StatusActive, after.Status)
	assert.Greater(t, after.Generation, before.Generation)
	assert.Len(t, reg.ToolsFor(capability.CategoryMarketData), 1)
}

func TestRegistry_ToolNameUniquePerCategory(t *testing.T) {
	reg := capability.NewRegistry()
	registerFake(t, reg, "quotes-a", "market-data", "get_quote")
	registerFake(t, reg, "quotes-b", "market-data", "get_quote")
	registerFake(t, reg, "risk-tools", "risk", "get_quote")
	ctx := context.Background()

	require.NoError(t, reg.Load(ctx, "quotes-a"))

	err := reg.Load(ctx, "quotes-b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exposed")

	// Same tool name in a different category is fine.
	require.NoError(t, reg.Load(ctx, "risk-tools"))
}

func TestRegistry_Configure(t *testing.T) {
	reg := capability.NewRegistry()
	p := registerFake(t, reg, "quotes", "market-data", "get_quote")
	ctx := context.Background()

	err := reg.Configure(ctx, "quotes", map[string]any{"default_symbol": "SPY"})
	require.Error(t, err, "only active providers accept configuration")
	assert.True(t, finerr.IsInvalidInput(err))

	require.NoError(t, reg.Load(ctx, "quotes"))
	require.NoError(t, reg.Configure(ctx, "quotes", map[string]any{"default_symbol": "SPY"}))

	assert.Equal(t, "SPY", p.config["default_symbol"])

	desc, err := reg.Describe("quotes")
	require.NoError(t, err)
	assert.Equal(t, "SPY", desc.Config["default_symbol"])
}

func TestRegistry_ConfigureClosesReplacedInstance(t *testing.T) {
	reg := capability.NewRegistry()

	m := mustManifest(t, manifestYAML("quotes", "market-data", "get_quote"))
	var instances []*fakeProvider
	require.NoError(t, reg.RegisterFactory("quotes", func() capability.Provider {
		p := &fakeProvider{manifest: m}
		instances = append(instances, p)
		return p
	}))
	ctx := context.Background()
	require.NoError(t, reg.Load(ctx, "quotes"))

	require.NoError(t, reg.Configure(ctx, "quotes", map[string]any{"default_symbol": "SPY"}))

	require.Len(t, instances, 2)
	assert.True(t, instances[0].closed, "replaced instance must be released")
	assert.False(t, instances[1].closed)

	// New calls resolve against the reconfigured instance.
	tools := reg.ToolsFor(capability.CategoryMarketData)
	require.Len(t, tools, 1)
	out, err := tools[0].Invoke(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, false, out.(map[string]any)["closed"])
}

func TestRegistry_ConfigureInitFailureKeepsOldInstance(t *testing.T) {
	reg := capability.NewRegistry()

	good := &fakeProvider{manifest: mustManifest(t, manifestYAML("quotes", "market-data", "get_quote"))}
	calls := 0
	require.NoError(t, reg.RegisterFactory("quotes", func() capability.Provider {
		calls++
		if calls > 1 {
			return &fakeProvider{manifest: good.manifest, initErr: fmt.Errorf("bad config")}
		}
		return good
	}))
	ctx := context.Background()
	require.NoError(t, reg.Load(ctx, "quotes"))

	err := reg.Configure(ctx, "quotes", map[string]any{"default_symbol": "???"})
	require.Error(t, err)

	// Old instance keeps serving.
	tools := reg.ToolsFor(capability.CategoryMarketData)
	require.Len(t, tools, 1)
	_, err = tools[0].Invoke(ctx, nil)
	assert.NoError(t, err)
}

func TestRegistry_ListAndStats(t *testing.T) {
	reg := capability.NewRegistry()
	registerFake(t, reg, "zeta", "risk", "score")
	registerFake(t, reg, "alpha", "analysis", "review")
	ctx := context.Background()
	reg.LoadAll(ctx)

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name, "listing is sorted by name")
	assert.Equal(t, "zeta", list[1].Name)

	stats := reg.Stats()
	assert.Equal(t, 2, stats.TotalProviders)
	assert.Equal(t, 2, stats.ActiveProviders)
	assert.Equal(t, 2, stats.TotalTools)
	assert.Equal(t, 1, stats.ByCategory[capability.CategoryRisk])
}

func TestRegistry_ConcurrentReadersDuringSwap(t *testing.T) {
	reg := capability.NewRegistry()
	registerFake(t, reg, "quotes", "market-data", "get_quote")
	ctx := context.Background()
	require.NoError(t, reg.Load(ctx, "quotes"))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				tools := reg.ToolsFor(capability.CategoryMarketData)
				// Either view is fine; a snapshot is never partial.
				if len(tools) == 1 {
					_, err := tools[0].Invoke(ctx, nil)
					assert.NoError(t, err)
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		require.NoError(t, reg.Unload(ctx, "quotes"))
		require.NoError(t, reg.Load(ctx, "quotes"))
	}
	close(stop)
	wg.Wait()
}

func TestRegistry_Close(t *testing.T) {
	reg := capability.NewRegistry()
	p := registerFake(t, reg, "quotes", "market-data", "get_quote")
	ctx := context.Background()
	require.NoError(t, reg.Load(ctx, "quotes"))

	require.NoError(t, reg.Close(ctx))
	assert.True(t, p.closed)
	assert.Empty(t, reg.ToolsFor(capability.CategoryMarketData))
}
