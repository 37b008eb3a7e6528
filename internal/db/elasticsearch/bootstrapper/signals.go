package bootstrapper

const SignalIndexName = "signal_index"

var signalIndex = map[string]interface{}{
	"settings": map[string]interface{}{
		"number_of_shards":   1,
		"number_of_replicas": 1,
	},
	"mappings": map[string]interface{}{
		"properties": map[string]interface{}{
			"signal_name": map[string]interface{}{
				"type": "keyword",
			},
			"severity": map[string]interface{}{
				"type": "keyword",
			},
			"trace_id": map[string]interface{}{
				"type": "keyword",
			},
			"target_span_id": map[string]interface{}{
				"type": "keyword",
			},
			"timestamp": map[string]interface{}{
				"type": "date_nanos",
			},
		},
	},
}
