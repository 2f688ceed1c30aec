// Package worker provides a NATS worker that runs the challenge recognition
// pipeline as a remote service: challenge images arrive through an object
// store, recognized text goes back out the same way.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/captcha-solver-service/internal/events"
	"github.com/book-expert/captcha-solver-service/internal/pipeline"
)

const (
	// NatsConnectTimeoutSeconds defines the timeout for NATS connection attempts.
	NatsConnectTimeoutSeconds = 10
	// NatsMaxReconnectAttempts defines the maximum number of reconnect attempts for NATS.
	NatsMaxReconnectAttempts = 5
	// NatsFetchMaxWaitSeconds defines the maximum time to wait for messages during a fetch operation.
	NatsFetchMaxWaitSeconds = 5
)

// Recognizer defines the interface for the recognition logic.
type Recognizer interface {
	Process(ctx context.Context, raw []byte) (*pipeline.Result, error)
}

// Config identifies the streams, subjects, and buckets the worker binds to.
type Config struct {
	URL               string
	StreamName        string
	Subject           string
	Consumer          string
	OutputSubject     string
	DeadLetterSubject string
	ImageBucket       string
	TextBucket        string
}

// NatsWorker manages the NATS connection and message consumption.
type NatsWorker struct {
	nc         *nats.Conn
	jetstream  nats.JetStreamContext
	imageStore nats.ObjectStore
	textStore  nats.ObjectStore
	recognizer Recognizer
	logger     *logger.Logger
	config     Config
}

// New connects to NATS, binds the object store buckets, and returns a worker
// ready to Run.
func New(config Config, recognizer Recognizer, log *logger.Logger) (*NatsWorker, error) {
	natsConn, err := nats.Connect(
		config.URL,
		nats.Timeout(NatsConnectTimeoutSeconds*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(NatsMaxReconnectAttempts),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	log.Info("Connected to NATS server at %s", config.URL)

	jetstream, err := natsConn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("get JetStream context: %w", err)
	}

	_, streamInfoErr := jetstream.StreamInfo(config.StreamName)
	if streamInfoErr != nil {
		return nil, fmt.Errorf("stream '%s' not found: %w", config.StreamName, streamInfoErr)
	}

	imageStore, err := jetstream.ObjectStore(config.ImageBucket)
	if err != nil {
		return nil, fmt.Errorf("bind image bucket '%s': %w", config.ImageBucket, err)
	}

	textStore, err := jetstream.ObjectStore(config.TextBucket)
	if err != nil {
		return nil, fmt.Errorf("bind text bucket '%s': %w", config.TextBucket, err)
	}

	return &NatsWorker{
		nc:         natsConn,
		jetstream:  jetstream,
		imageStore: imageStore,
		textStore:  textStore,
		recognizer: recognizer,
		logger:     log,
		config:     config,
	}, nil
}

// Run starts the worker's message processing loop.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.jetstream.PullSubscribe(
		w.config.Subject,
		w.config.Consumer,
		nats.BindStream(w.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("pull subscribe: %w", err)
	}

	w.logger.Info("Consumer '%s' is ready.", w.config.Consumer)
	w.logger.Info("Worker is running, listening for jobs on '%s'...", w.config.Subject)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Context canceled, worker shutting down.")

			return nil
		default:
			msgs, err := sub.Fetch(1, nats.MaxWait(NatsFetchMaxWaitSeconds*time.Second))
			if err != nil {
				if errors.Is(err, nats.ErrTimeout) {
					continue // No messages, just loop again.
				}

				w.logger.Error("Fetch messages: %v", err)

				continue
			}

			if len(msgs) > 0 {
				w.handleMsg(ctx, msgs[0])
			}
		}
	}
}

// Close releases the NATS connection.
func (w *NatsWorker) Close() {
	w.nc.Close()
}

func (w *NatsWorker) handleMsg(ctx context.Context, msg *nats.Msg) {
	startTime := time.Now()

	var event events.ChallengeImageReceivedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		w.logger.Error(
			"Failed to unmarshal ChallengeImageReceivedEvent: %v. Acknowledging to discard.",
			err,
		)

		w.ack(msg, event.ImageKey)

		return
	}

	w.logger.Info("Processing job for challenge image: %s", event.ImageKey)

	textKey, processErr := w.recognizeAndPublish(ctx, &event)
	if processErr != nil {
		w.handlePipelineError(msg, event.ImageKey, processErr)

		return
	}

	w.logger.Success(
		"Recognized %s and published ChallengeRecognizedEvent with TextKey %s in %s",
		event.ImageKey, textKey, time.Since(startTime),
	)

	w.ack(msg, event.ImageKey)
}

func (w *NatsWorker) recognizeAndPublish(
	ctx context.Context,
	event *events.ChallengeImageReceivedEvent,
) (string, error) {
	imageBytes, err := w.downloadImage(event.ImageKey)
	if err != nil {
		return "", err
	}

	result, err := w.recognizer.Process(ctx, imageBytes)
	if err != nil {
		return "", fmt.Errorf("recognition pipeline failed for '%s': %w", event.ImageKey, err)
	}

	textKey := fmt.Sprintf(
		"%s/%s/challenge_%s.txt",
		event.Header.TenantID,
		event.Header.WorkflowID,
		uuid.NewString(),
	)

	_, uploadErr := w.textStore.Put(&nats.ObjectMeta{
		Name:        textKey,
		Description: fmt.Sprintf("Recognized text for challenge image: %s", event.ImageKey),
	}, bytes.NewReader([]byte(result.CorrectedText)))
	if uploadErr != nil {
		return "", fmt.Errorf("upload recognized text to object store: %w", uploadErr)
	}

	recognizedEvent := events.ChallengeRecognizedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now().UTC(),
			WorkflowID: event.Header.WorkflowID,
			UserID:     event.Header.UserID,
			TenantID:   event.Header.TenantID,
			EventID:    uuid.NewString(),
		},
		ImageKey:      event.ImageKey,
		TextKey:       textKey,
		RawText:       result.RawText,
		CorrectedText: result.CorrectedText,
	}

	eventJSON, marshalErr := json.Marshal(recognizedEvent)
	if marshalErr != nil {
		return "", fmt.Errorf("marshal ChallengeRecognizedEvent: %w", marshalErr)
	}

	_, publishErr := w.jetstream.Publish(w.config.OutputSubject, eventJSON)
	if publishErr != nil {
		return "", fmt.Errorf("publish ChallengeRecognizedEvent: %w", publishErr)
	}

	return textKey, nil
}

func (w *NatsWorker) downloadImage(key string) ([]byte, error) {
	object, err := w.imageStore.Get(key)
	if err != nil {
		return nil, fmt.Errorf("get challenge image '%s' from object store: %w", key, err)
	}

	defer func() {
		closeErr := object.Close()
		if closeErr != nil {
			w.logger.Error("failed to close object reader: %v", closeErr)
		}
	}()

	imageBytes, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("read challenge image data for '%s': %w", key, err)
	}

	return imageBytes, nil
}

func (w *NatsWorker) handlePipelineError(msg *nats.Msg, imageKey string, pipelineErr error) {
	w.logger.Error("Pipeline failed for '%s': %v", imageKey, pipelineErr)

	_, pubErr := w.jetstream.Publish(w.config.DeadLetterSubject, msg.Data)
	if pubErr != nil {
		w.logger.Error(
			"Failed to publish message to dead-letter subject for image %s: %v",
			imageKey,
			pubErr,
		)
	}

	w.ack(msg, imageKey)
}

func (w *NatsWorker) ack(msg *nats.Msg, imageKey string) {
	ackErr := msg.Ack()
	if ackErr != nil {
		w.logger.Error("failed to acknowledge message for image %s: %v", imageKey, ackErr)
	}
}
