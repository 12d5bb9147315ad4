package archive_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-sensor-gateway/pkg/archive"
)

// --- Mocks ---

type mockObjectStore struct {
	mu      sync.Mutex
	objects map[string]*bytes.Buffer
	failing bool
}

func newMockObjectStore() *mockObjectStore {
	return &mockObjectStore{objects: make(map[string]*bytes.Buffer)}
}

func (m *mockObjectStore) Bucket(name string) archive.BucketHandle {
	return &mockBucketHandle{store: m, bucket: name}
}

func (m *mockObjectStore) objectNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.objects))
	for name := range m.objects {
		names = append(names, name)
	}
	return names
}

func (m *mockObjectStore) object(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.objects[name]
	if !ok {
		return nil, false
	}
	return buf.Bytes(), true
}

type mockBucketHandle struct {
	store  *mockObjectStore
	bucket string
}

func (m *mockBucketHandle) Object(name string) archive.ObjectHandle {
	return &mockObjectHandle{store: m.store, name: name}
}

type mockObjectHandle struct {
	store *mockObjectStore
	name  string
}

func (m *mockObjectHandle) NewWriter(_ context.Context) io.WriteCloser {
	return &mockObjectWriter{store: m.store, name: m.name}
}

type mockObjectWriter struct {
	store *mockObjectStore
	name  string
	buf   bytes.Buffer
}

func (w *mockObjectWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *mockObjectWriter) Close() error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	if w.store.failing {
		return io.ErrClosedPipe
	}
	w.store.objects[w.name] = &w.buf
	return nil
}

func decodeObject(t *testing.T, data []byte) []archive.ArchivedMessage {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = gz.Close() }()

	var records []archive.ArchivedMessage
	dec := json.NewDecoder(gz)
	for {
		var rec archive.ArchivedMessage
		if err := dec.Decode(&rec); err == io.EOF {
			break
		} else {
			require.NoError(t, err)
		}
		records = append(records, rec)
	}
	return records
}

func testConfig() *archive.Config {
	return &archive.Config{
		BucketName:    "test-bucket",
		ObjectPrefix:  "telemetry",
		BatchSize:     3,
		FlushInterval: time.Hour,
		UploadTimeout: 5 * time.Second,
	}
}

// --- Tests ---

func TestNewArchiver_Validation(t *testing.T) {
	logger := zerolog.Nop()

	_, err := archive.NewArchiver(testConfig(), nil, logger)
	require.Error(t, err)

	cfg := testConfig()
	cfg.BucketName = ""
	_, err = archive.NewArchiver(cfg, newMockObjectStore(), logger)
	require.Error(t, err)
}

func TestArchiver_FlushesOnBatchSize(t *testing.T) {
	store := newMockObjectStore()
	archiver, err := archive.NewArchiver(testConfig(), store, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	archiver.Start(ctx)

	archiver.Enqueue("base1/sensor", []byte(`{"timestamp":1721122942092696,"value":"42"}`))
	archiver.Enqueue("base1/sensor", []byte(`{"timestamp":1721122942092700,"value":"43"}`))
	archiver.Enqueue("base2/sensor", []byte(`{"ans":"pong"}`))

	require.Eventually(t, func() bool {
		return len(store.objectNames()) == 1
	}, time.Second, 10*time.Millisecond)

	names := store.objectNames()
	require.Len(t, names, 1)
	assert.True(t, strings.HasPrefix(names[0], "telemetry/"))
	assert.True(t, strings.HasSuffix(names[0], ".jsonl.gz"))
	dayKey := time.Now().UTC().Format("2006/01/02")
	assert.Contains(t, names[0], dayKey)

	data, ok := store.object(names[0])
	require.True(t, ok)
	records := decodeObject(t, data)
	require.Len(t, records, 3)
	assert.Equal(t, "base1/sensor", records[0].Topic)
	assert.JSONEq(t, `{"timestamp":1721122942092696,"value":"42"}`, string(records[0].Payload))
	assert.Equal(t, "base2/sensor", records[2].Topic)

	require.NoError(t, archiver.Stop(ctx))
}

func TestArchiver_FlushesOnInterval(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 100
	cfg.FlushInterval = 50 * time.Millisecond
	store := newMockObjectStore()
	archiver, err := archive.NewArchiver(cfg, store, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	archiver.Start(ctx)

	archiver.Enqueue("base1/sensor", []byte(`{"timestamp":1721122942092696,"value":21.5}`))

	require.Eventually(t, func() bool {
		return len(store.objectNames()) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, archiver.Stop(ctx))
}

func TestArchiver_StopFlushesRemainder(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 100
	store := newMockObjectStore()
	archiver, err := archive.NewArchiver(cfg, store, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	archiver.Start(ctx)

	archiver.Enqueue("base1/sensor", []byte(`{"timestamp":1721122942092696,"value":1}`))
	archiver.Enqueue("base1/sensor", []byte(`{"timestamp":1721122942092697,"value":2}`))

	require.NoError(t, archiver.Stop(ctx))

	names := store.objectNames()
	require.Len(t, names, 1)
	data, ok := store.object(names[0])
	require.True(t, ok)
	records := decodeObject(t, data)
	assert.Len(t, records, 2)
}

func TestArchiver_CancellationUploadsBufferedPayloads(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 100
	store := newMockObjectStore()
	archiver, err := archive.NewArchiver(cfg, store, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	archiver.Start(ctx)

	archiver.Enqueue("base1/sensor", []byte(`{"timestamp":1721122942092696,"value":1}`))
	archiver.Enqueue("base1/sensor", []byte(`{"timestamp":1721122942092697,"value":2}`))

	// A SIGTERM-style cancellation must not discard payloads still sitting in
	// the buffer.
	cancel()
	require.Eventually(t, func() bool {
		names := store.objectNames()
		if len(names) != 1 {
			return false
		}
		data, ok := store.object(names[0])
		return ok && len(decodeObject(t, data)) == 2
	}, time.Second, 10*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(stopCancel)
	require.NoError(t, archiver.Stop(stopCtx))
}

func TestArchiver_UploadFailureIsLoggedOnly(t *testing.T) {
	store := newMockObjectStore()
	store.failing = true
	archiver, err := archive.NewArchiver(testConfig(), store, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	archiver.Start(ctx)

	archiver.Enqueue("base1/sensor", []byte(`{"timestamp":1721122942092696,"value":1}`))
	archiver.Enqueue("base1/sensor", []byte(`{"timestamp":1721122942092697,"value":2}`))

	// The final flush fails too; the failure is dropped, not surfaced.
	require.NoError(t, archiver.Stop(ctx))
	assert.Empty(t, store.objectNames())
}

func TestArchiver_EnqueueNeverBlocks(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 1
	store := newMockObjectStore()
	archiver, err := archive.NewArchiver(cfg, store, zerolog.Nop())
	require.NoError(t, err)

	// Worker never started, so the buffer (capacity 2) fills up.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			archiver.Enqueue("base1/sensor", []byte(`{"ans":"pong"}`))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full buffer")
	}
	assert.Greater(t, archiver.Dropped(), 0)
}
