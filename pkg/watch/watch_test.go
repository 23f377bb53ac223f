package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/fnchannel/pkg/channel"
	"github.com/cuemby/fnchannel/pkg/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishesFileEventOnWrite(t *testing.T) {
	dir := t.TempDir()

	bus := eventbus.New(10)
	bus.Start()
	t.Cleanup(bus.Stop)

	sub := eventbus.SubscribeType[channel.FileEvent](bus, nil)
	defer bus.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := New(bus, "worker-1", dir)
	require.NoError(t, w.Start(ctx))

	target := filepath.Join(dir, "index.js")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	select {
	case evt := <-sub.C():
		fe := evt.(channel.FileEvent)
		assert.Equal(t, "worker-1", fe.WorkerID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a FileEvent after writing a watched file")
	}
}
