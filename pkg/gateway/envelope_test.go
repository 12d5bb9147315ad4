package gateway_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/illmade-knight/go-sensor-gateway/pkg/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandEnvelope_TimestampIsFractionalSeconds(t *testing.T) {
	before := float64(time.Now().UnixNano()) / 1e9
	env := gateway.NewCommandEnvelope(gateway.CommandPing)
	after := float64(time.Now().UnixNano()) / 1e9

	assert.Equal(t, gateway.CommandPing, env.Cmd)
	assert.GreaterOrEqual(t, env.Timestamp, before)
	assert.LessOrEqual(t, env.Timestamp, after)

	payload, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"cmd":"ping"`)
}

func TestParseTelemetry(t *testing.T) {
	t.Run("data sample with quoted value", func(t *testing.T) {
		env, err := gateway.ParseTelemetry([]byte(`{"timestamp":1721122942092696,"value":"42"}`))
		require.NoError(t, err)

		assert.False(t, env.IsReply())
		assert.Equal(t, int64(1721122942092696), env.Timestamp)
		require.NotNil(t, env.Value)
		assert.Equal(t, 42.0, float64(*env.Value))
	})

	t.Run("data sample with numeric value", func(t *testing.T) {
		env, err := gateway.ParseTelemetry([]byte(`{"timestamp":1721122942092696,"value":21.5}`))
		require.NoError(t, err)
		require.NotNil(t, env.Value)
		assert.Equal(t, 21.5, float64(*env.Value))
	})

	t.Run("control reply", func(t *testing.T) {
		env, err := gateway.ParseTelemetry([]byte(`{"ans":"pong.publishing"}`))
		require.NoError(t, err)
		assert.True(t, env.IsReply())
		assert.Equal(t, gateway.ReplyPongPublishing, env.Ans)
		assert.Nil(t, env.Value)
	})

	t.Run("malformed JSON is an error", func(t *testing.T) {
		_, err := gateway.ParseTelemetry([]byte(`{"timestamp":`))
		assert.Error(t, err)
	})

	t.Run("non-numeric value is an error", func(t *testing.T) {
		_, err := gateway.ParseTelemetry([]byte(`{"timestamp":1721122942092696,"value":"warm"}`))
		assert.Error(t, err)
	})
}
