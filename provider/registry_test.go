package provider

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reqforge/reqpipe/internal/perr"
)

type fakeProvider struct {
	name      string
	protocol  Protocol
	mu        sync.Mutex
	calls     int
	err       error
	probeErr  error
	text      string
}

func (f *fakeProvider) Name() string       { return f.name }
func (f *fakeProvider) Protocol() Protocol  { return f.protocol }
func (f *fakeProvider) Probe(ctx context.Context) error { return f.probeErr }

func (f *fakeProvider) Call(ctx context.Context, prompt, system string, opts CallOptions) (CallResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return CallResult{}, f.err
	}
	return CallResult{Text: f.text, Model: opts.Model}, nil
}

func newTestRegistry(providers ...*fakeProvider) *Registry {
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.name] = p
	}
	return NewRegistryFromProviders(m, nil)
}

func TestRegistryCallWithFallbackUsesFirstSuccess(t *testing.T) {
	primary := &fakeProvider{name: "primary", text: "from primary"}
	secondary := &fakeProvider{name: "secondary", text: "from secondary"}
	r := newTestRegistry(primary, secondary)

	result, err := r.CallWithFallback(context.Background(), []string{"primary", "secondary"}, "prompt", "system", CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, "from primary", result.Text)
	assert.Equal(t, 0, secondary.calls, "fallback chain must not call the next provider on success")
}

func TestRegistryCallWithFallbackAdvancesOnRetryableError(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: perr.New(perr.CodeProvider, "rate limited").WithRetryable(true)}
	secondary := &fakeProvider{name: "secondary", text: "from secondary"}
	r := newTestRegistry(primary, secondary)

	result, err := r.CallWithFallback(context.Background(), []string{"primary", "secondary"}, "prompt", "system", CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, "from secondary", result.Text)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, secondary.calls)
}

func TestRegistryCallWithFallbackStopsOnNonRetryableError(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: perr.New(perr.CodeValidation, "bad prompt").WithRetryable(false)}
	secondary := &fakeProvider{name: "secondary", text: "from secondary"}
	r := newTestRegistry(primary, secondary)

	_, err := r.CallWithFallback(context.Background(), []string{"primary", "secondary"}, "prompt", "system", CallOptions{})
	assert.Error(t, err)
	assert.Equal(t, 0, secondary.calls, "a non-retryable error must short-circuit the chain")
}

func TestRegistryCallWithFallbackExhaustsChain(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: perr.New(perr.CodeProvider, "down").WithRetryable(true)}
	secondary := &fakeProvider{name: "secondary", err: perr.New(perr.CodeProvider, "also down").WithRetryable(true)}
	r := newTestRegistry(primary, secondary)

	_, err := r.CallWithFallback(context.Background(), []string{"primary", "secondary"}, "prompt", "system", CallOptions{})
	assert.Error(t, err)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, secondary.calls)
}

func TestRegistryCallWithFallbackRejectsEmptyChain(t *testing.T) {
	r := newTestRegistry()
	_, err := r.CallWithFallback(context.Background(), nil, "prompt", "system", CallOptions{})
	assert.Error(t, err)
}

func TestRegistryGetUnknownProvider(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Get("missing")
	assert.Error(t, err)
}

func TestRegistryProbeCollectsPerProviderResults(t *testing.T) {
	healthy := &fakeProvider{name: "healthy"}
	unhealthy := &fakeProvider{name: "unhealthy", probeErr: perr.New(perr.CodeProvider, "unreachable")}
	r := newTestRegistry(healthy, unhealthy)

	results := r.Probe(context.Background())
	assert.NoError(t, results["healthy"])
	assert.Error(t, results["unhealthy"])
}

func TestRegistryRegisterUnknownProtocol(t *testing.T) {
	r, err := NewRegistry(nil, nil)
	require.NoError(t, err)
	err = r.Register(Config{Name: "weird", Protocol: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestRegistryCallWithFallbackUsesDefaultProviderWhenChainEmpty(t *testing.T) {
	primary := &fakeProvider{name: "primary", text: "from primary"}
	r := newTestRegistry(primary)
	r.SetDefaultProvider("primary")

	result, err := r.CallWithFallback(context.Background(), nil, "prompt", "system", CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, "from primary", result.Text)
}

func TestRegistryCallWithFallbackUsesOptsProviderOverDefault(t *testing.T) {
	primary := &fakeProvider{name: "primary", text: "from primary"}
	other := &fakeProvider{name: "other", text: "from other"}
	r := newTestRegistry(primary, other)
	r.SetDefaultProvider("primary")

	result, err := r.CallWithFallback(context.Background(), nil, "prompt", "system", CallOptions{Provider: "other"})
	require.NoError(t, err)
	assert.Equal(t, "from other", result.Text)
}

func TestRegistryCallWithFallbackExtendsToRemainingEnabledProviders(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: perr.New(perr.CodeProvider, "down").WithRetryable(true)}
	extra := &fakeProvider{name: "extra", text: "from extra"}
	r := newTestRegistry(primary, extra)

	_, err := r.CallWithFallback(context.Background(), []string{"primary"}, "prompt", "system", CallOptions{})
	assert.Error(t, err, "without UseFallback the chain must not extend beyond what was passed in")
	assert.Equal(t, 0, extra.calls)

	result, err := r.CallWithFallback(context.Background(), []string{"primary"}, "prompt", "system", CallOptions{UseFallback: true})
	require.NoError(t, err)
	assert.Equal(t, "from extra", result.Text)
}

func TestRegistryCallWithFallbackSkipsExcludedProviders(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: perr.New(perr.CodeProvider, "down").WithRetryable(true)}
	extra := &fakeProvider{name: "extra", text: "from extra"}
	r := newTestRegistry(primary, extra)

	_, err := r.CallWithFallback(context.Background(), []string{"primary"}, "prompt", "system",
		CallOptions{UseFallback: true, ExcludeProviders: []string{"extra"}})
	assert.Error(t, err)
	assert.Equal(t, 0, extra.calls)
}
