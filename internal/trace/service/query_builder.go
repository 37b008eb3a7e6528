package service

func getEventsByTraceIDQuery(traceID string) map[string]interface{} {
	return map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []map[string]interface{}{
					{
						"term": map[string]interface{}{
							"trace_id": traceID,
						},
					},
				},
			},
		},
		"sort": []map[string]interface{}{
			{
				"timestamp": map[string]interface{}{
					"order": "asc",
				},
			},
			{
				"ingest_sequence": map[string]interface{}{
					"order": "asc",
				},
			},
		},
	}
}

func getSignalsByTraceIDQuery(traceID string) map[string]interface{} {
	return map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []map[string]interface{}{
					{
						"term": map[string]interface{}{
							"trace_id": traceID,
						},
					},
				},
			},
		},
		"sort": []map[string]interface{}{
			{
				"timestamp": map[string]interface{}{
					"order": "asc",
				},
			},
		},
	}
}
