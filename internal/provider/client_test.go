// File: internal/provider/client_test.go
package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainpulse/chainpulse/pkg/utils"
)

// jsonRPCServer answers every request with the given handler
func jsonRPCServer(t *testing.T, handler func(method string, id json.RawMessage) interface{}) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(handler(req.Method, req.ID))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestBlockNumberTimeoutMapsToProviderTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(server.URL, 50*time.Millisecond, time.Second)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	_, err = client.BlockNumber(context.Background())
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.ErrCodeProviderTimeout))
}

func TestBlockByNumberValidatesPayload(t *testing.T) {
	server := jsonRPCServer(t, func(method string, id json.RawMessage) interface{} {
		return map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      id,
			"result": map[string]interface{}{
				// Zero hash is not a block the chain can serve
				"number":       "0x5",
				"hash":         "0x0000000000000000000000000000000000000000000000000000000000000000",
				"parentHash":   "0x0000000000000000000000000000000000000000000000000000000000000000",
				"timestamp":    "0x1",
				"transactions": []interface{}{},
			},
		}
	})

	client, err := NewClient(server.URL, time.Second, time.Second)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	_, err = client.BlockByNumber(context.Background(), 5)
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.ErrCodeProviderError))
}

func TestBlockByNumberRejectsNumberMismatch(t *testing.T) {
	server := jsonRPCServer(t, func(method string, id json.RawMessage) interface{} {
		return map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      id,
			"result": map[string]interface{}{
				"number":       "0x9",
				"hash":         "0x00000000000000000000000000000000000000000000000000000000000000aa",
				"parentHash":   "0x00000000000000000000000000000000000000000000000000000000000000bb",
				"timestamp":    "0x1",
				"transactions": []interface{}{},
			},
		}
	})

	client, err := NewClient(server.URL, time.Second, time.Second)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	_, err = client.BlockByNumber(context.Background(), 5)
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.ErrCodeProviderError))
}

func TestBlockByNumberNilForUnknownBlock(t *testing.T) {
	server := jsonRPCServer(t, func(method string, id json.RawMessage) interface{} {
		return map[string]interface{}{"jsonrpc": "2.0", "id": id, "result": nil}
	})

	client, err := NewClient(server.URL, time.Second, time.Second)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	block, err := client.BlockByNumber(context.Background(), 5)
	require.NoError(t, err)
	assert.Nil(t, block)
}

func TestSupportsTraceDetection(t *testing.T) {
	withTrace := jsonRPCServer(t, func(method string, id json.RawMessage) interface{} {
		if method == "debug_traceTransaction" {
			return map[string]interface{}{
				"jsonrpc": "2.0", "id": id,
				"error": map[string]interface{}{
					"code": -32000, "message": "transaction not found",
				},
			}
		}
		return map[string]interface{}{"jsonrpc": "2.0", "id": id, "result": "0x1"}
	})

	client, err := NewClient(withTrace.URL, time.Second, time.Second)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	// A routable method that rejects the bogus hash still counts as support
	assert.True(t, client.SupportsTrace(context.Background()))

	withoutTrace := jsonRPCServer(t, func(method string, id json.RawMessage) interface{} {
		return map[string]interface{}{
			"jsonrpc": "2.0", "id": id,
			"error": map[string]interface{}{
				"code": -32601, "message": "the method does not exist/is not available",
			},
		}
	})

	client2, err := NewClient(withoutTrace.URL, time.Second, time.Second)
	require.NoError(t, err)
	t.Cleanup(client2.Close)
	assert.False(t, client2.SupportsTrace(context.Background()))
}
