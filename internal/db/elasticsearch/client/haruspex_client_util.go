package client

import (
	"encoding/json"
	"fmt"
)

type MetaMap map[string]interface{}
type DocumentMap map[string]interface{}

// ToMetaAndDataMap converts typed documents to the meta/data pairs expected by
// the bulk API. A populated `_id` field becomes the document id instead of a
// source field, which is how idempotent keys keep re-ingested events from
// duplicating.
func ToMetaAndDataMap[T any](values []T) ([]MetaMap, []DocumentMap, error) {
	dataMap := make([]DocumentMap, len(values))
	metaMap := make([]MetaMap, len(values))
	for i, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal value to JSON: %w", err)
		}
		var mapStruct map[string]interface{}
		if err := json.Unmarshal(data, &mapStruct); err != nil {
			return nil, nil, fmt.Errorf("failed to unmarshal JSON to map: %w", err)
		}

		if id, ok := mapStruct["_id"]; ok {
			delete(mapStruct, "_id")
			metaMap[i] = MetaMap{"index": map[string]interface{}{"_id": id}}
		} else {
			metaMap[i] = MetaMap{"index": map[string]interface{}{}}
		}
		dataMap[i] = mapStruct
	}
	return metaMap, dataMap, nil
}
