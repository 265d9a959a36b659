package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"

	"query_gateway/internal/model"
)

// MetadataQuery asks a backend for its indexing status.
const MetadataQuery = `query { _metadata { lastProcessedHeight lastProcessedTimestamp targetHeight chain specName genesisHash indexerHealthy indexerNodeVersion queryNodeVersion } }`

// validateEnvelope checks only the GraphQL-over-HTTP shape. The body is
// forwarded as-is, never re-encoded.
func validateEnvelope(body []byte) error {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(body, &env); err != nil || env == nil {
		return fmt.Errorf("%w: body must be a JSON object", model.ErrMalformedInput)
	}

	var query string
	if err := json.Unmarshal(env["query"], &query); err != nil || query == "" {
		return fmt.Errorf("%w: query must be a non-empty string", model.ErrMalformedInput)
	}
	if v, ok := env["variables"]; ok && !isNull(v) && !bytes.HasPrefix(bytes.TrimSpace(v), []byte("{")) {
		return fmt.Errorf("%w: variables must be an object", model.ErrMalformedInput)
	}
	if op, ok := env["operationName"]; ok && !isNull(op) {
		var name string
		if err := json.Unmarshal(op, &name); err != nil {
			return fmt.Errorf("%w: operationName must be a string", model.ErrMalformedInput)
		}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func metadataBody() []byte {
	body, _ := json.Marshal(map[string]string{"query": MetadataQuery})
	return body
}
