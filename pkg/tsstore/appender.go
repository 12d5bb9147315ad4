package tsstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrBufferFull is returned when a reading arrives faster than batches can be
// flushed. The ingester logs it and moves on; the broker QoS decides whether
// the sample is redelivered.
var ErrBufferFull = errors.New("reading buffer is full")

// AppenderConfig holds configuration for the batching appender.
type AppenderConfig struct {
	BatchSize     int
	FlushInterval time.Duration // How often to flush a partial batch.
	FlushTimeout  time.Duration // The timeout for a single flush operation.
}

// NewAppenderDefaults provides a config with sensible defaults.
func NewAppenderDefaults() *AppenderConfig {
	return &AppenderConfig{
		BatchSize:     100,
		FlushInterval: 2 * time.Second,
		FlushTimeout:  15 * time.Second,
	}
}

// Appender implements the gateway's TimeSeriesStore by validating each reading
// synchronously and flushing buffered batches to a BatchWriter on size or
// interval, whichever comes first. Append itself never performs storage I/O,
// so the MQTT receive path is never blocked on the warehouse.
type Appender struct {
	config    *AppenderConfig
	writer    BatchWriter
	logger    zerolog.Logger
	inputChan chan *SensorReading
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// NewAppender creates a batching appender around the given writer.
func NewAppender(config *AppenderConfig, writer BatchWriter, logger zerolog.Logger) *Appender {
	return &Appender{
		config:    config,
		writer:    writer,
		logger:    logger.With().Str("component", "Appender").Logger(),
		inputChan: make(chan *SensorReading, config.BatchSize*2),
	}
}

// Start begins the batching worker.
func (a *Appender) Start(ctx context.Context) {
	a.logger.Info().
		Int("batch_size", a.config.BatchSize).
		Dur("flush_interval", a.config.FlushInterval).
		Msg("Starting appender worker...")
	a.wg.Add(1)
	go a.worker(ctx)
}

// Stop drains the buffer, flushes the final batch and closes the writer. The
// context bounds how long the shutdown may take.
func (a *Appender) Stop(ctx context.Context) error {
	var stopErr error
	a.stopOnce.Do(func() {
		a.logger.Info().Msg("Stopping appender...")
		close(a.inputChan)

		done := make(chan struct{})
		go func() {
			a.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			a.logger.Info().Msg("Appender worker stopped gracefully.")
		case <-ctx.Done():
			a.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for appender worker to stop.")
			stopErr = ctx.Err()
			return
		}

		if err := a.writer.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Error closing underlying batch writer.")
		}
	})
	return stopErr
}

// Append validates the reading and buffers it for the next flush. It
// implements gateway.TimeSeriesStore.
func (a *Appender) Append(_ context.Context, sensorID string, timestampMicros int64, value float64) error {
	reading, err := NewSensorReading(sensorID, timestampMicros, value)
	if err != nil {
		return err
	}

	select {
	case a.inputChan <- reading:
		return nil
	default:
		return ErrBufferFull
	}
}

// worker collects readings into a batch and flushes it on size or interval.
func (a *Appender) worker(ctx context.Context) {
	defer a.wg.Done()
	batch := make([]*SensorReading, 0, a.config.BatchSize)
	ticker := time.NewTicker(a.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// The service is shutting down. Readings already buffered in the
			// channel are still owed to the warehouse, so drain before the
			// final flush.
			batch = append(batch, a.drainInput()...)
			a.flush(context.Background(), batch)
			return

		case reading, ok := <-a.inputChan:
			if !ok {
				a.flush(context.Background(), batch)
				return
			}
			batch = append(batch, reading)
			if len(batch) >= a.config.BatchSize {
				a.flush(ctx, batch)
				batch = make([]*SensorReading, 0, a.config.BatchSize)
				// Reset the ticker to prevent an immediate, unnecessary flush.
				ticker.Reset(a.config.FlushInterval)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				a.flush(ctx, batch)
				batch = make([]*SensorReading, 0, a.config.BatchSize)
			}
		}
	}
}

// drainInput collects whatever readings are still buffered without blocking.
// The channel may be closed concurrently by Stop; both end conditions stop the
// drain.
func (a *Appender) drainInput() []*SensorReading {
	var drained []*SensorReading
	for {
		select {
		case reading, ok := <-a.inputChan:
			if !ok {
				return drained
			}
			drained = append(drained, reading)
		default:
			return drained
		}
	}
}

// flush writes the current batch to the writer. A failed flush is logged and
// the batch dropped; persistence is at-least-once only to the extent the
// broker redelivers.
func (a *Appender) flush(ctx context.Context, batch []*SensorReading) {
	if len(batch) == 0 {
		return
	}

	flushCtx, cancel := context.WithTimeout(ctx, a.config.FlushTimeout)
	defer cancel()

	if err := a.writer.WriteBatch(flushCtx, batch); err != nil {
		a.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to flush readings batch.")
		return
	}
	a.logger.Debug().Int("batch_size", len(batch)).Msg("Flushed readings batch.")
}
