package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opswatch/llm-orchestrator/models"
)

type fakeProvider struct {
	name string
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	return &GenerateResponse{Content: "ok"}, nil
}

func (f *fakeProvider) GenerateStream(ctx context.Context, req *GenerateRequest) (<-chan StreamChunk, error) {
	out := make(chan StreamChunk, 1)
	out <- StreamChunk{Done: true}
	close(out)
	return out, nil
}

func (f *fakeProvider) IsAvailable(ctx context.Context) bool { return true }

func entry(name string, priority int) Registered {
	return Registered{
		Spec: models.ProviderSpec{
			Name:     name,
			Kind:     models.ProviderKindStub,
			Model:    "test-model",
			Priority: priority,
		},
		Provider: &fakeProvider{name: name},
	}
}

func TestRegistry_Load(t *testing.T) {
	r := NewRegistry()

	t.Run("orders by ascending priority", func(t *testing.T) {
		require.NoError(t, r.Load([]Registered{
			entry("fallback", 30),
			entry("primary", 10),
			entry("secondary", 20),
		}))
		assert.Equal(t, []string{"primary", "secondary", "fallback"}, r.Names())
		assert.Equal(t, 3, r.Len())
	})

	t.Run("empty set is rejected", func(t *testing.T) {
		assert.ErrorIs(t, r.Load(nil), ErrEmptyRegistry)
	})

	t.Run("duplicate names are rejected", func(t *testing.T) {
		err := r.Load([]Registered{entry("primary", 10), entry("primary", 20)})
		assert.Error(t, err)
	})

	t.Run("duplicate priorities are rejected", func(t *testing.T) {
		err := r.Load([]Registered{entry("primary", 10), entry("secondary", 10)})
		assert.Error(t, err)
	})

	t.Run("failed load keeps the previous set", func(t *testing.T) {
		assert.Equal(t, []string{"primary", "secondary", "fallback"}, r.Names())
	})

	t.Run("nil provider is rejected", func(t *testing.T) {
		err := r.Load([]Registered{{Spec: models.ProviderSpec{
			Name: "ghost", Kind: models.ProviderKindStub, Model: "m", Priority: 1,
		}}})
		assert.Error(t, err)
	})
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Load([]Registered{entry("primary", 10)}))

	got, err := r.Get("primary")
	require.NoError(t, err)
	assert.Equal(t, "primary", got.Spec.Name)
	assert.Equal(t, "primary", got.Provider.Name())

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestRegistry_AllReturnsCopy(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Load([]Registered{entry("primary", 10), entry("secondary", 20)}))

	all := r.All()
	all[0] = entry("mutated", 99)

	assert.Equal(t, []string{"primary", "secondary"}, r.Names())
}

func TestRegistry_ReloadSwapsWholeSet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Load([]Registered{entry("primary", 10), entry("secondary", 20)}))

	require.NoError(t, r.Load([]Registered{entry("replacement", 5)}))

	assert.Equal(t, []string{"replacement"}, r.Names())
	_, err := r.Get("primary")
	assert.ErrorIs(t, err, ErrProviderNotFound)
}
