package event_bus

import (
	"encoding/json"
	"fmt"

	"github.com/Avi18971911/Haruspex/internal/escalation/model"
	"github.com/asaskevich/EventBus"
	"go.uber.org/zap"
)

// analysisJobTopic carries {job_id, trace_id, layers} messages from the
// escalation scheduler to the analysis worker pool.
const analysisJobTopic = "analysis_job_requests"

// AnalysisJobBus transports analysis job requests between the escalation
// scheduler and the worker pool. Requests travel as JSON so a future
// out-of-process broker can take the same messages unchanged.
type AnalysisJobBus interface {
	SubscribeJobRequests(handler func(request model.JobRequest) error) error
	PublishJobRequest(request model.JobRequest) error
}

type AnalysisJobBusImpl struct {
	eventBus EventBus.Bus
	logger   *zap.Logger
}

func NewAnalysisJobBus(eventBus EventBus.Bus, logger *zap.Logger) *AnalysisJobBusImpl {
	return &AnalysisJobBusImpl{
		eventBus: eventBus,
		logger:   logger,
	}
}

func (ab *AnalysisJobBusImpl) SubscribeJobRequests(
	handler func(request model.JobRequest) error,
) error {
	err := ab.eventBus.SubscribeAsync(
		analysisJobTopic,
		func(arg string) {
			var request model.JobRequest
			if err := json.Unmarshal([]byte(arg), &request); err != nil {
				ab.logger.Error("Failed to unmarshal analysis job request",
					zap.Error(err),
				)
				return
			}
			if err := handler(request); err != nil {
				ab.logger.Error("Failed to handle analysis job request",
					zap.String("job_id", request.JobID),
					zap.Error(err),
				)
			}
		},
		false,
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to analysis job requests: %w", err)
	}
	return nil
}

func (ab *AnalysisJobBusImpl) PublishJobRequest(request model.JobRequest) error {
	requestBytes, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis job request: %w", err)
	}
	ab.eventBus.Publish(analysisJobTopic, string(requestBytes))
	return nil
}
