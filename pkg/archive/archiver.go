package archive

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ArchivedMessage is one raw broker payload as stored in the archive.
type ArchivedMessage struct {
	Topic      string    `json:"topic"`
	Payload    []byte    `json:"payload"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// batchKey groups messages into one object per UTC day.
func (m *ArchivedMessage) batchKey() string {
	return m.ReceivedAt.UTC().Format("2006/01/02")
}

// Config holds settings for the archiver.
type Config struct {
	BucketName    string
	ObjectPrefix  string
	BatchSize     int
	FlushInterval time.Duration
	UploadTimeout time.Duration
}

// NewConfigDefaults provides a config with sensible defaults.
func NewConfigDefaults() *Config {
	return &Config{
		ObjectPrefix:  "telemetry",
		BatchSize:     500,
		FlushInterval: time.Minute,
		UploadTimeout: 30 * time.Second,
	}
}

// Archiver batches raw payloads and uploads each batch as a gzipped JSONL
// object. Enqueue never blocks: when the buffer is full the message is counted
// and dropped, because archival must not apply backpressure to ingestion.
type Archiver struct {
	config   *Config
	store    ObjectStore
	logger   zerolog.Logger
	input    chan *ArchivedMessage
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu      sync.Mutex
	dropped int
}

// NewArchiver creates an archiver writing to the configured bucket.
func NewArchiver(config *Config, store ObjectStore, logger zerolog.Logger) (*Archiver, error) {
	if store == nil {
		return nil, errors.New("object store cannot be nil")
	}
	if config.BucketName == "" {
		return nil, errors.New("archive bucket name is required")
	}
	return &Archiver{
		config: config,
		store:  store,
		logger: logger.With().Str("component", "Archiver").Logger(),
		input:  make(chan *ArchivedMessage, config.BatchSize*2),
	}, nil
}

// Enqueue buffers one raw payload for archival. It implements the gateway's
// RawArchiver hook and is called on the broker client's network goroutine.
func (a *Archiver) Enqueue(topic string, payload []byte) {
	msg := &ArchivedMessage{
		Topic:      topic,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}
	select {
	case a.input <- msg:
	default:
		a.mu.Lock()
		a.dropped++
		dropped := a.dropped
		a.mu.Unlock()
		a.logger.Warn().Int("dropped_total", dropped).Msg("Archive buffer full, dropping raw payload.")
	}
}

// Dropped reports how many payloads were discarded due to a full buffer.
func (a *Archiver) Dropped() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// Start begins the batching worker.
func (a *Archiver) Start(ctx context.Context) {
	a.wg.Add(1)
	go a.worker(ctx)
}

// Stop flushes the remaining batch and waits for the worker to exit, bounded
// by the context.
func (a *Archiver) Stop(ctx context.Context) error {
	var stopErr error
	a.stopOnce.Do(func() {
		close(a.input)
		done := make(chan struct{})
		go func() {
			a.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			a.logger.Info().Msg("Archiver stopped gracefully.")
		case <-ctx.Done():
			a.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for archiver to stop.")
			stopErr = ctx.Err()
		}
	})
	return stopErr
}

func (a *Archiver) worker(ctx context.Context) {
	defer a.wg.Done()
	batch := make([]*ArchivedMessage, 0, a.config.BatchSize)
	ticker := time.NewTicker(a.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Drain payloads still buffered in the channel before the final
			// upload; cancellation must not silently discard them.
			batch = append(batch, a.drainInput()...)
			a.upload(context.Background(), batch)
			return
		case msg, ok := <-a.input:
			if !ok {
				a.upload(context.Background(), batch)
				return
			}
			batch = append(batch, msg)
			if len(batch) >= a.config.BatchSize {
				a.upload(ctx, batch)
				batch = make([]*ArchivedMessage, 0, a.config.BatchSize)
				ticker.Reset(a.config.FlushInterval)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				a.upload(ctx, batch)
				batch = make([]*ArchivedMessage, 0, a.config.BatchSize)
			}
		}
	}
}

// drainInput collects whatever payloads are still buffered without blocking.
// The channel may be closed concurrently by Stop; both end conditions stop the
// drain.
func (a *Archiver) drainInput() []*ArchivedMessage {
	var drained []*ArchivedMessage
	for {
		select {
		case msg, ok := <-a.input:
			if !ok {
				return drained
			}
			drained = append(drained, msg)
		default:
			return drained
		}
	}
}

// upload writes one object per UTC day present in the batch. Failures are
// logged and the affected group dropped; the archive is strictly best-effort.
func (a *Archiver) upload(ctx context.Context, batch []*ArchivedMessage) {
	if len(batch) == 0 {
		return
	}

	grouped := make(map[string][]*ArchivedMessage)
	for _, msg := range batch {
		key := msg.batchKey()
		grouped[key] = append(grouped[key], msg)
	}

	for key, group := range grouped {
		if err := a.uploadGroup(ctx, key, group); err != nil {
			a.logger.Error().Err(err).Str("batch_key", key).Int("record_count", len(group)).
				Msg("Failed to upload archive batch.")
		}
	}
}

func (a *Archiver) uploadGroup(ctx context.Context, key string, group []*ArchivedMessage) error {
	objectName := path.Join(a.config.ObjectPrefix, key, fmt.Sprintf("%s.jsonl.gz", uuid.New().String()))

	uploadCtx, cancel := context.WithTimeout(ctx, a.config.UploadTimeout)
	defer cancel()

	writer := a.store.Bucket(a.config.BucketName).Object(objectName).NewWriter(uploadCtx)
	gz := gzip.NewWriter(writer)
	enc := json.NewEncoder(gz)

	for _, msg := range group {
		if err := enc.Encode(msg); err != nil {
			_ = gz.Close()
			_ = writer.Close()
			return fmt.Errorf("encode archive record: %w", err)
		}
	}
	if err := gz.Close(); err != nil {
		_ = writer.Close()
		return fmt.Errorf("close gzip stream: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close object writer: %w", err)
	}

	a.logger.Debug().Str("object_name", objectName).Int("record_count", len(group)).Msg("Uploaded archive batch.")
	return nil
}
