package bootstrapper

const EventIndexName = "event_index"

var eventIndex = map[string]interface{}{
	"settings": map[string]interface{}{
		"number_of_shards":   1,
		"number_of_replicas": 1,
	},
	"mappings": map[string]interface{}{
		"properties": map[string]interface{}{
			"tenant": map[string]interface{}{
				"type": "keyword",
			},
			"project": map[string]interface{}{
				"type": "keyword",
			},
			"environment": map[string]interface{}{
				"type": "keyword",
			},
			"trace_id": map[string]interface{}{
				"type": "keyword",
			},
			"span_id": map[string]interface{}{
				"type": "keyword",
			},
			"parent_span_id": map[string]interface{}{
				"type": "keyword",
			},
			"timestamp": map[string]interface{}{
				"type": "date_nanos",
			},
			"ingest_sequence": map[string]interface{}{
				"type": "long",
			},
			"event_type": map[string]interface{}{
				"type": "keyword",
			},
			"conversation_id": map[string]interface{}{
				"type": "keyword",
			},
			"session_id": map[string]interface{}{
				"type": "keyword",
			},
			"user_id": map[string]interface{}{
				"type": "keyword",
			},
		},
	},
}
