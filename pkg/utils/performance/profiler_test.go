package performance

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/euro-option-pricer/pkg/utils/logger"
)

func init() {
	logger.UseNop()
}

func TestProfilerWritesRequestedProfiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "profiles")
	p := NewProfiler(ProfilerConfig{EnableCPU: true, EnableMemory: true, OutputDir: dir, Label: "SPY"})

	require.NoError(t, p.Start())
	assert.True(t, p.IsRunning())
	assert.Error(t, p.Start())

	sum := 0.0
	for i := 0; i < 100000; i++ {
		sum += float64(i)
	}
	assert.Greater(t, sum, 0.0)

	files, err := p.Stop()
	require.NoError(t, err)
	assert.False(t, p.IsRunning())
	require.Len(t, files, 2)
	for _, f := range files {
		info, err := os.Stat(f)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0), f)
		assert.Contains(t, filepath.Base(f), "SPY_")
	}

	_, err = p.Stop()
	assert.Error(t, err)
}

func TestProfilerConfigEnabled(t *testing.T) {
	assert.False(t, ProfilerConfig{OutputDir: "x"}.Enabled())
	assert.True(t, ProfilerConfig{EnableBlock: true}.Enabled())
}

func TestTakeSample(t *testing.T) {
	s := TakeSample()
	assert.GreaterOrEqual(t, s.GoroutineCount, 1)
	assert.Greater(t, s.HeapAlloc, uint64(0))
	assert.False(t, s.Timestamp.IsZero())
}
