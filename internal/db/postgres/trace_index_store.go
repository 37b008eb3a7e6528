package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	ingestModel "github.com/Avi18971911/Haruspex/internal/ingest/model"
)

// TraceIndexStore keeps the trace/conversation/session/user identifier index
// that dashboard listings are built on. The trace reconstructor never reads
// from here.
type TraceIndexStore interface {
	UpsertFromEvents(ctx context.Context, events []ingestModel.CanonicalEvent) error
}

type TraceIndexStoreImpl struct {
	db *sql.DB
}

func NewTraceIndexStore(db *sql.DB) *TraceIndexStoreImpl {
	return &TraceIndexStoreImpl{db: db}
}

func (tis *TraceIndexStoreImpl) UpsertFromEvents(
	ctx context.Context,
	events []ingestModel.CanonicalEvent,
) error {
	// One row per trace id; later events fill in identifiers earlier ones
	// left empty.
	type indexRow struct {
		tenant         string
		project        string
		environment    string
		conversationID string
		sessionID      string
		userID         string
	}
	rows := make(map[string]*indexRow)
	var order []string
	for _, event := range events {
		row, ok := rows[event.TraceID]
		if !ok {
			row = &indexRow{
				tenant:      event.Tenant,
				project:     event.Project,
				environment: event.Environment,
			}
			rows[event.TraceID] = row
			order = append(order, event.TraceID)
		}
		if row.conversationID == "" {
			row.conversationID = event.ConversationID
		}
		if row.sessionID == "" {
			row.sessionID = event.SessionID
		}
		if row.userID == "" {
			row.userID = event.UserID
		}
	}

	for _, traceID := range order {
		row := rows[traceID]
		_, err := tis.db.ExecContext(ctx, `
			INSERT INTO trace_index
				(trace_id, tenant, project, environment, conversation_id, session_id, user_id, updated_at)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8)
			ON CONFLICT (trace_id) DO UPDATE SET
				conversation_id = COALESCE(trace_index.conversation_id, EXCLUDED.conversation_id),
				session_id = COALESCE(trace_index.session_id, EXCLUDED.session_id),
				user_id = COALESCE(trace_index.user_id, EXCLUDED.user_id),
				updated_at = EXCLUDED.updated_at`,
			traceID, row.tenant, row.project, row.environment,
			row.conversationID, row.sessionID, row.userID, time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert trace index for trace %s: %w", traceID, err)
		}
	}
	return nil
}
