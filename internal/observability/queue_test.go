package observability

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueDeliversToSinks(t *testing.T) {
	var buf bytes.Buffer

	sink := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	queue := NewLogQueue(16, sink)

	log := queue.Logger("runner-a")
	log.Info("hello", "key", "value")

	queue.Close()

	out := buf.String()
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "label=runner-a")
	assert.Contains(t, out, "key=value")
}

func TestQueueMultipleProducers(t *testing.T) {
	var buf bytes.Buffer

	sink := slog.NewTextHandler(&buf, nil)
	queue := NewLogQueue(256, sink)

	var wg sync.WaitGroup

	for worker := range 8 {
		wg.Add(1)

		go func(id int) {
			defer wg.Done()

			log := queue.Logger("worker")
			for range 8 {
				log.Info("tick", "worker", id)
			}
		}(worker)
	}

	wg.Wait()
	queue.Close()

	require.Equal(t, 64, strings.Count(buf.String(), "tick"))
}

func TestQueueCloseIdempotent(t *testing.T) {
	queue := NewLogQueue(1)

	queue.Close()
	queue.Close()
}

func TestLevelFilteredBySink(t *testing.T) {
	var buf bytes.Buffer

	sink := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})
	queue := NewLogQueue(16, sink)

	log := queue.Logger("x")
	log.Debug("quiet")
	log.Warn("loud")

	queue.Close()

	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "loud")
}
