package session

import (
	"context"
	"log/slog"

	"github.com/dzpline/whisper-client/internal/engine"
	"github.com/dzpline/whisper-client/internal/relay"
	"github.com/dzpline/whisper-client/internal/store"
)

// logSink writes each transcript to the logger.
type logSink struct {
	log *slog.Logger
}

// NewLogSink returns a sink that logs transcripts at info level.
func NewLogSink(log *slog.Logger) Sink {
	return &logSink{log: log}
}

func (s *logSink) Consume(_ context.Context, sessionID string, t engine.Transcript) error {
	s.log.Info("transcript",
		slog.String("session_id", sessionID),
		slog.String("text", t.Text),
		slog.Duration("start", t.Start),
		slog.Duration("end", t.End),
		slog.Float64("confidence", t.Confidence))
	return nil
}

// relaySink forwards each transcript to the relay client. Delivery is
// best effort: the client drops sends while disconnected.
type relaySink struct {
	client   *relay.Client
	language string
}

// NewRelaySink returns a sink that forwards transcripts over the relay.
func NewRelaySink(client *relay.Client, language string) Sink {
	return &relaySink{client: client, language: language}
}

func (s *relaySink) Consume(_ context.Context, sessionID string, t engine.Transcript) error {
	s.client.SendTranscript(sessionID, t.Text, s.language, []relay.TranscriptSegment{{
		Start:      t.Start.Seconds(),
		End:        t.End.Seconds(),
		Text:       t.Text,
		Confidence: t.Confidence,
	}})
	return nil
}

// storeSink persists each transcript to the history store.
type storeSink struct {
	store *store.Store
}

// NewStoreSink returns a sink that appends transcripts to the store.
func NewStoreSink(st *store.Store) Sink {
	return &storeSink{store: st}
}

func (s *storeSink) Consume(ctx context.Context, sessionID string, t engine.Transcript) error {
	return s.store.AppendTranscript(ctx, store.Transcript{
		SessionID:  sessionID,
		Text:       t.Text,
		Start:      t.Start,
		End:        t.End,
		Confidence: t.Confidence,
	})
}
