package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaUsesFileKeys(t *testing.T) {
	b, err := json.Marshal(Schema())
	require.NoError(t, err)

	var doc struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(b, &doc))
	for _, key := range []string{"logging", "server", "client", "store", "inbox", "shutdown_timeout"} {
		assert.Contains(t, doc.Properties, key)
	}
}
