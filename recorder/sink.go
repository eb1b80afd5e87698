package recorder

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/iskay/usdc-flow-engine/backend"
	"github.com/iskay/usdc-flow-engine/flow"
)

// Sink receives client stages after they are recorded locally. Two
// strategies exist: keep stages purely local, or additionally report them
// to the backend tracking API. Selected at construction time.
type Sink interface {
	// Deliver forwards a recorded stage for the given backend flow id.
	// Must not block the caller.
	Deliver(flowID string, stage flow.Stage)
}

// LocalSink keeps client stages local to the store.
type LocalSink struct{}

// Deliver is a no-op: local-only recording.
func (LocalSink) Deliver(string, flow.Stage) {}

// remoteDeliverTimeout bounds each backend stage report.
const remoteDeliverTimeout = 10 * time.Second

// RemoteSink reports recorded stages to the backend tracking API,
// best-effort: delivery runs asynchronously and failures are only logged.
type RemoteSink struct {
	client backend.TrackingClient
	logger zerolog.Logger
}

// NewRemoteSink creates a RemoteSink over the given tracking client.
func NewRemoteSink(client backend.TrackingClient, log zerolog.Logger) *RemoteSink {
	return &RemoteSink{
		client: client,
		logger: log.With().Str("component", "remote_stage_sink").Logger(),
	}
}

// Deliver reports the stage to the backend in the background.
func (s *RemoteSink) Deliver(flowID string, stage flow.Stage) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), remoteDeliverTimeout)
		defer cancel()

		if err := s.client.ReportClientStage(ctx, flowID, stage); err != nil {
			s.logger.Warn().
				Err(err).
				Str("flow_id", flowID).
				Str("stage_id", stage.StageID).
				Msg("failed to report client stage to backend")
		}
	}()
}
