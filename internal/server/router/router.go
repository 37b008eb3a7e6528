package router

import (
	"context"
	"net/http"

	"github.com/Avi18971911/Haruspex/internal/ingest/service"
	"github.com/Avi18971911/Haruspex/internal/server/handler"
	traceService "github.com/Avi18971911/Haruspex/internal/trace/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)
import "github.com/gorilla/mux"

func CreateRouter(
	ctx context.Context,
	normalizer *service.EventNormalizer,
	coordinator *service.IngestCoordinator,
	traceQueryService traceService.TraceQueryService,
	logger *zap.Logger,
) http.Handler {
	r := mux.NewRouter()

	r.Handle(
		"/ingest", handler.IngestHandler(
			ctx,
			normalizer,
			coordinator,
			logger,
		),
	).Methods("POST")

	r.Handle(
		"/trace/{traceId}", handler.TraceHandler(
			ctx,
			traceQueryService,
			logger,
		),
	).Methods("GET")

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return r
}
