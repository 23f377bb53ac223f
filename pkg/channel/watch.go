package channel

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/fnchannel/pkg/eventbus"
)

// restartDebounce is the trailing-edge quiet period the channel waits
// for after the last matching FileEvent before publishing a single
// HostRestartEvent.
const restartDebounce = 300 * time.Millisecond

func (c *Channel) watchForFileChanges() {
	sub := c.bus.Subscribe(func(e eventbus.Event) bool {
		fe, ok := e.(FileEvent)
		return ok && fe.WorkerID == c.workerID && c.matchesWatchedExtension(fe.Path)
	})
	go c.debounceFileEvents(sub)
}

func (c *Channel) matchesWatchedExtension(path string) bool {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	for _, want := range c.config.Extensions {
		if strings.EqualFold(ext, strings.TrimPrefix(want, ".")) {
			return true
		}
	}
	return false
}

// debounceFileEvents resets a single timer on every matching event and
// fires a HostRestartEvent only once the timer elapses undisturbed —
// one HostRestartEvent per quiet period, however many files changed
// during it.
func (c *Channel) debounceFileEvents(sub *eventbus.Subscription) {
	defer c.bus.Unsubscribe(sub)

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case _, ok := <-sub.C():
			if !ok {
				return
			}
			if timer == nil {
				timer = time.NewTimer(restartDebounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(restartDebounce)
			}
			fire = timer.C

		case <-fire:
			c.bus.Publish(HostRestartEvent{WorkerID: c.workerID, Timestamp: time.Now()})
			fire = nil

		case <-c.ctx.Done():
			return
		}
	}
}
