package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

func (h *HaruspexClientImpl) BulkIndex(
	ctx context.Context,
	data []DocumentMap,
	metaInfo []MetaMap,
	index string,
) error {
	var buf bytes.Buffer
	for i, d := range data {
		var meta MetaMap
		if metaInfo != nil && i < len(metaInfo) {
			meta = metaInfo[i]
		} else {
			// empty meta for bulk index
			meta = MetaMap{"index": map[string]interface{}{}}
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("error marshaling meta to bulk index: %w", err)
		}
		buf.Write(metaJSON)
		buf.WriteByte('\n')

		dataJSON, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("error marshaling data to bulk index: %w", err)
		}
		buf.Write(dataJSON)
		buf.WriteByte('\n')
	}

	res, err := h.es.Bulk(
		bytes.NewReader(buf.Bytes()),
		h.es.Bulk.WithIndex(index),
		h.es.Bulk.WithContext(ctx),
		h.es.Bulk.WithRefresh(h.refreshRate),
	)
	if err != nil {
		return fmt.Errorf("error bulk indexing: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk index error: %s", res.String())
	}
	return nil
}

func (h *HaruspexClientImpl) Index(
	ctx context.Context,
	data DocumentMap,
	metaInfo MetaMap,
	index string,
) error {
	if metaInfo == nil {
		return h.BulkIndex(ctx, []DocumentMap{data}, nil, index)
	}
	return h.BulkIndex(ctx, []DocumentMap{data}, []MetaMap{metaInfo}, index)
}
