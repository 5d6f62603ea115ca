package spread

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSpreadFile(t *testing.T) {
	assert.True(t, isSpreadFile("celtic.yaml"))
	assert.True(t, isSpreadFile("dir/celtic.YML"))
	assert.False(t, isSpreadFile("notes.txt"))
	assert.False(t, isSpreadFile("celtic.yaml.swp"))
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	catalog, err := NewCatalog(dir, nil)
	require.NoError(t, err)

	watcher, err := NewWatcher(catalog, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = watcher.Run(ctx)
	}()

	def := `id: sunrise
name: Sunrise
positions:
  - index: 0
    name: Dawn
    meaning: what is beginning
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sunrise.yaml"), []byte(def), 0o644))

	require.Eventually(t, func() bool {
		_, ok := catalog.Get("sunrise")
		return ok
	}, 5*time.Second, 50*time.Millisecond, "watcher should reload the catalog after a write")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on context cancel")
	}
}
