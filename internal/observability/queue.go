package observability

import (
	"context"
	"log/slog"
	"sync"
)

// record is one queued log record with its source attrs and group path
// flattened in.
type record struct {
	rec slog.Record
}

// LogQueue is the bounded multi-producer queue between workers and the
// transport goroutine. Workers publish through queueHandler; the transport
// drains to the configured sinks.
type LogQueue struct {
	records chan record
	sinks   []slog.Handler
	done    chan struct{}
	drained sync.WaitGroup
	once    sync.Once
}

// NewLogQueue creates a queue draining to the given sink handlers and
// starts the transport goroutine.
func NewLogQueue(size int, sinks ...slog.Handler) *LogQueue {
	if size <= 0 {
		size = defaultQueueSize
	}

	queue := &LogQueue{
		records: make(chan record, size),
		sinks:   sinks,
		done:    make(chan struct{}),
	}

	queue.drained.Add(1)
	go queue.transport()

	return queue
}

// transport drains records to every sink until Close.
func (queue *LogQueue) transport() {
	defer queue.drained.Done()

	for item := range queue.records {
		for _, sink := range queue.sinks {
			if sink.Enabled(context.Background(), item.rec.Level) {
				_ = sink.Handle(context.Background(), item.rec)
			}
		}
	}
}

// publish enqueues one record, dropping it when the queue is full rather
// than blocking a worker.
func (queue *LogQueue) publish(rec slog.Record) {
	select {
	case <-queue.done:
	case queue.records <- record{rec: rec}:
	default:
		// Queue full: drop rather than stall the pipeline.
	}
}

// Close stops intake and waits for the transport to drain.
func (queue *LogQueue) Close() {
	queue.once.Do(func() {
		close(queue.done)
		close(queue.records)
	})
	queue.drained.Wait()
}

// Logger returns a slog.Logger whose records flow through the queue,
// tagged with the given label.
func (queue *LogQueue) Logger(label string) *slog.Logger {
	return slog.New(&queueHandler{queue: queue}).With("label", label)
}

// queueHandler is the slog.Handler side of the queue.
type queueHandler struct {
	queue *LogQueue
	attrs []slog.Attr
	group string
}

func (handler *queueHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (handler *queueHandler) Handle(_ context.Context, rec slog.Record) error {
	clone := rec.Clone()

	for _, attr := range handler.attrs {
		if handler.group != "" {
			attr = slog.Attr{Key: handler.group + "." + attr.Key, Value: attr.Value}
		}

		clone.AddAttrs(attr)
	}

	handler.queue.publish(clone)

	return nil
}

func (handler *queueHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(handler.attrs)+len(attrs))
	merged = append(merged, handler.attrs...)
	merged = append(merged, attrs...)

	return &queueHandler{queue: handler.queue, attrs: merged, group: handler.group}
}

func (handler *queueHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return handler
	}

	group := name
	if handler.group != "" {
		group = handler.group + "." + name
	}

	return &queueHandler{queue: handler.queue, attrs: handler.attrs, group: group}
}
