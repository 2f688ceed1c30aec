// Package worker_test contains tests for the NATS worker.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/captcha-solver-service/internal/events"
	"github.com/book-expert/captcha-solver-service/internal/pipeline"
	"github.com/book-expert/captcha-solver-service/internal/worker"
)

var errRecognizerBroken = errors.New("recognizer broken")

// mockRecognizer is a mock implementation of worker.Recognizer for testing.
type mockRecognizer struct {
	ProcessFunc func(ctx context.Context, raw []byte) (*pipeline.Result, error)
}

func (m *mockRecognizer) Process(ctx context.Context, raw []byte) (*pipeline.Result, error) {
	return m.ProcessFunc(ctx, raw)
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	return log
}

func runEmbeddedServer(t *testing.T) string {
	t.Helper()

	opts := &server.Options{
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}

	natsServer, err := server.NewServer(opts)
	require.NoError(t, err)

	natsServer.Start()
	t.Cleanup(natsServer.Shutdown)

	if !natsServer.ReadyForConnections(4 * time.Second) {
		t.Fatal("NATS server did not start")
	}

	return natsServer.ClientURL()
}

func newTestWorkerConfig(natsURL string) worker.Config {
	return worker.Config{
		URL:               natsURL,
		StreamName:        "CHALLENGE_JOBS",
		Subject:           "challenge.image.received",
		Consumer:          "challenge-workers",
		OutputSubject:     "challenge.recognized",
		DeadLetterSubject: "challenge.dead-letter",
		ImageBucket:       "CHALLENGE_IMAGES",
		TextBucket:        "CHALLENGE_TEXT",
	}
}

func setupNatsTest(t *testing.T, cfg worker.Config) (*nats.Conn, nats.JetStreamContext) {
	t.Helper()

	natsConn, err := nats.Connect(
		cfg.URL,
		nats.ReconnectWait(100*time.Millisecond),
		nats.MaxReconnects(10),
	)
	require.NoError(t, err)
	t.Cleanup(natsConn.Close)

	jetstream, err := natsConn.JetStream()
	require.NoError(t, err)

	_, err = jetstream.AddStream(&nats.StreamConfig{
		Name:      cfg.StreamName,
		Subjects:  []string{cfg.Subject, cfg.OutputSubject, cfg.DeadLetterSubject},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
	})
	require.NoError(t, err)

	_, err = jetstream.AddConsumer(cfg.StreamName, &nats.ConsumerConfig{
		Durable:       cfg.Consumer,
		AckPolicy:     nats.AckExplicitPolicy,
		DeliverPolicy: nats.DeliverAllPolicy,
		FilterSubject: cfg.Subject,
		ReplayPolicy:  nats.ReplayInstantPolicy,
	})
	require.NoError(t, err)

	for _, bucket := range []string{cfg.ImageBucket, cfg.TextBucket} {
		_, err = jetstream.CreateObjectStore(&nats.ObjectStoreConfig{
			Bucket:  bucket,
			Storage: nats.FileStorage,
		})
		require.NoError(t, err)
	}

	return natsConn, jetstream
}

func publishChallengeImage(
	t *testing.T,
	jetstream nats.JetStreamContext,
	cfg worker.Config,
	imageKey string,
) {
	t.Helper()

	imageStore, err := jetstream.ObjectStore(cfg.ImageBucket)
	require.NoError(t, err)

	_, err = imageStore.PutBytes(imageKey, []byte("raw-challenge-image"))
	require.NoError(t, err)

	event := events.ChallengeImageReceivedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now().UTC(),
			WorkflowID: "workflow-1",
			UserID:     "user-1",
			TenantID:   "tenant-1",
			EventID:    "event-1",
		},
		ImageKey:  imageKey,
		SourceURL: "https://example.com/challenge.png",
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	_, err = jetstream.Publish(cfg.Subject, data)
	require.NoError(t, err)
}

func TestNatsWorker_Run_Success(t *testing.T) {
	t.Parallel()

	log := newTestLogger(t)
	cfg := newTestWorkerConfig(runEmbeddedServer(t))
	natsConn, jetstream := setupNatsTest(t, cfg)

	publishChallengeImage(t, jetstream, cfg, "tenant-1/workflow-1/challenge.png")
	require.NoError(t, natsConn.Flush())

	recognizer := &mockRecognizer{
		ProcessFunc: func(_ context.Context, _ []byte) (*pipeline.Result, error) {
			return &pipeline.Result{
				BitmapPNG:     []byte("bitmap"),
				Fragments:     []string{"OBSI"},
				RawText:       "0851",
				CorrectedText: "OBSI",
			}, nil
		},
	}

	natsWorker, err := worker.New(cfg, recognizer, log)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		_ = natsWorker.Run(ctx)
	}()

	sub, err := jetstream.SubscribeSync(cfg.OutputSubject)
	require.NoError(t, err)

	msg, err := sub.NextMsg(4 * time.Second)
	require.NoError(t, err)

	var recognized events.ChallengeRecognizedEvent

	require.NoError(t, json.Unmarshal(msg.Data, &recognized))
	require.Equal(t, "OBSI", recognized.CorrectedText)
	require.Equal(t, "0851", recognized.RawText)
	require.Equal(t, "tenant-1/workflow-1/challenge.png", recognized.ImageKey)
	require.NotEmpty(t, recognized.TextKey)

	textStore, err := jetstream.ObjectStore(cfg.TextBucket)
	require.NoError(t, err)

	stored, err := textStore.GetBytes(recognized.TextKey)
	require.NoError(t, err)
	require.Equal(t, "OBSI", string(stored))
}

func TestNatsWorker_Run_PipelineError(t *testing.T) {
	t.Parallel()

	log := newTestLogger(t)
	cfg := newTestWorkerConfig(runEmbeddedServer(t))
	natsConn, jetstream := setupNatsTest(t, cfg)

	publishChallengeImage(t, jetstream, cfg, "tenant-1/workflow-1/broken.png")
	require.NoError(t, natsConn.Flush())

	recognizer := &mockRecognizer{
		ProcessFunc: func(_ context.Context, _ []byte) (*pipeline.Result, error) {
			return nil, errRecognizerBroken
		},
	}

	natsWorker, err := worker.New(cfg, recognizer, log)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		_ = natsWorker.Run(ctx)
	}()

	// The original event lands on the dead-letter subject untouched.
	sub, err := jetstream.SubscribeSync(cfg.DeadLetterSubject)
	require.NoError(t, err)

	msg, err := sub.NextMsg(4 * time.Second)
	require.NoError(t, err)

	var event events.ChallengeImageReceivedEvent

	require.NoError(t, json.Unmarshal(msg.Data, &event))
	require.Equal(t, "tenant-1/workflow-1/broken.png", event.ImageKey)
}

func TestNatsWorker_Run_MalformedMessageIsDiscarded(t *testing.T) {
	t.Parallel()

	log := newTestLogger(t)
	cfg := newTestWorkerConfig(runEmbeddedServer(t))
	natsConn, jetstream := setupNatsTest(t, cfg)

	_, err := jetstream.Publish(cfg.Subject, []byte("not json"))
	require.NoError(t, err)
	require.NoError(t, natsConn.Flush())

	recognizer := &mockRecognizer{
		ProcessFunc: func(_ context.Context, _ []byte) (*pipeline.Result, error) {
			t.Error("recognizer must not run for malformed messages")

			return nil, nil
		},
	}

	natsWorker, err := worker.New(cfg, recognizer, log)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	go func() {
		_ = natsWorker.Run(ctx)
	}()

	sub, err := jetstream.SubscribeSync(cfg.OutputSubject)
	require.NoError(t, err)

	_, err = sub.NextMsg(2 * time.Second)
	require.Error(t, err)
	require.ErrorIs(t, err, nats.ErrTimeout)
}
