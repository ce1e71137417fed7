package config

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opswatch/llm-orchestrator/models"
)

// reloadRecorder collects callback invocations from the watcher
type reloadRecorder struct {
	mu    sync.Mutex
	calls [][]models.ProviderSpec
}

func (r *reloadRecorder) record(specs []models.ProviderSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, specs)
}

func (r *reloadRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *reloadRecorder) last() []models.ProviderSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return nil
	}
	return r.calls[len(r.calls)-1]
}

func newTestWatcher(t *testing.T, content string) (*Watcher, string, *reloadRecorder) {
	t.Helper()
	path := writeProvidersFile(t, content)
	recorder := &reloadRecorder{}
	logger, _ := zap.NewDevelopment()

	w, err := NewWatcher(path, recorder.record, logger)
	require.NoError(t, err)
	t.Cleanup(w.Stop)

	w.Start()
	return w, path, recorder
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	_, path, recorder := newTestWatcher(t, validProvidersYAML)

	updated := `
providers:
  - name: local-stub
    kind: stub
    priority: 1
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	require.Eventually(t, func() bool {
		return recorder.count() >= 1
	}, 3*time.Second, 20*time.Millisecond, "expected a reload after writing the file")

	specs := recorder.last()
	require.Len(t, specs, 1)
	assert.Equal(t, "local-stub", specs[0].Name)
}

func TestWatcher_KeepsPreviousSetOnInvalidFile(t *testing.T) {
	_, path, recorder := newTestWatcher(t, validProvidersYAML)

	require.NoError(t, os.WriteFile(path, []byte("providers: [unclosed"), 0o644))

	// Give the debounce timer time to fire; the callback must not run for
	// an invalid file.
	time.Sleep(500 * time.Millisecond)
	assert.Zero(t, recorder.count())
}

func TestWatcher_DebouncesEventBursts(t *testing.T) {
	_, path, recorder := newTestWatcher(t, validProvidersYAML)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte(validProvidersYAML), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return recorder.count() >= 1
	}, 3*time.Second, 20*time.Millisecond)

	time.Sleep(300 * time.Millisecond)
	assert.LessOrEqual(t, recorder.count(), 2, "burst of writes should coalesce")
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w, _, _ := newTestWatcher(t, validProvidersYAML)
	w.Stop()
	w.Stop()
}

func TestNewWatcher_MissingDirectory(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	_, err := NewWatcher("/nonexistent-dir-for-watch/providers.yaml", func([]models.ProviderSpec) {}, logger)
	assert.Error(t, err)
}
