package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Avi18971911/Haruspex/internal/db/elasticsearch/bootstrapper"
	"github.com/Avi18971911/Haruspex/internal/db/elasticsearch/client"
	"github.com/Avi18971911/Haruspex/internal/trace/helper"
	"github.com/Avi18971911/Haruspex/internal/trace/model"
	"go.uber.org/zap"
)

const queryTimeout = 10 * time.Second
const querySize = 10000

var ErrNoEventsForTrace = errors.New("no events found for trace id")

type TraceQueryService interface {
	GetTrace(ctx context.Context, traceID string) (*model.Trace, error)
}

// TraceQueryServiceImpl fetches all events and signals known for a trace id
// from the event store and reconstructs the trace on the spot. The
// control-plane store is never consulted here.
type TraceQueryServiceImpl struct {
	hc            client.HaruspexClient
	reconstructor *TraceReconstructorService
	logger        *zap.Logger
}

func NewTraceQueryService(
	hc client.HaruspexClient,
	reconstructor *TraceReconstructorService,
	logger *zap.Logger,
) *TraceQueryServiceImpl {
	return &TraceQueryServiceImpl{
		hc:            hc,
		reconstructor: reconstructor,
		logger:        logger,
	}
}

func (tqs *TraceQueryServiceImpl) GetTrace(ctx context.Context, traceID string) (*model.Trace, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	eventQuery, err := json.Marshal(getEventsByTraceIDQuery(traceID))
	if err != nil {
		tqs.logger.Error("Error when marshalling event query to JSON", zap.Error(err))
		return nil, err
	}
	localQuerySize := querySize
	eventDocs, err := tqs.hc.Search(
		queryCtx,
		string(eventQuery),
		[]string{bootstrapper.EventIndexName},
		&localQuerySize,
	)
	if err != nil {
		tqs.logger.Error("Error when searching for trace events", zap.Error(err))
		return nil, err
	}
	events, err := helper.ConvertToEvents(eventDocs)
	if err != nil {
		tqs.logger.Error("Error when converting event documents", zap.Error(err))
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrNoEventsForTrace
	}

	signalQuery, err := json.Marshal(getSignalsByTraceIDQuery(traceID))
	if err != nil {
		tqs.logger.Error("Error when marshalling signal query to JSON", zap.Error(err))
		return nil, err
	}
	signalDocs, err := tqs.hc.Search(
		queryCtx,
		string(signalQuery),
		[]string{bootstrapper.SignalIndexName},
		&localQuerySize,
	)
	if err != nil {
		// Missing signals degrade richness, never availability: the trace
		// still renders from events alone.
		tqs.logger.Error("Error when searching for trace signals", zap.Error(err))
		signalDocs = nil
	}
	signals, err := helper.ConvertToSignals(signalDocs)
	if err != nil {
		tqs.logger.Error("Error when converting signal documents", zap.Error(err))
		signals = nil
	}

	return tqs.reconstructor.BuildTrace(traceID, events, signals)
}
