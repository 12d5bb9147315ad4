package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Command is a device-bound instruction carried in a CommandEnvelope.
type Command string

const (
	CommandStart Command = "start"
	CommandStop  Command = "stop"
	CommandPing  Command = "ping"
)

// Reply is a device-originated answer to a command. Replies travel on the same
// deviceToServer sub-topic as data samples and are distinguished by the "ans"
// field being present.
type Reply string

const (
	ReplyPong            Reply = "pong"
	ReplyPongPublishing  Reply = "pong.publishing"
	ReplyStartPublishing Reply = "start.publishing"
	ReplyStopPublishing  Reply = "stop.publishing"
)

// CommandEnvelope is the JSON message the gateway sends to a device.
// The timestamp is fractional seconds since epoch. Note the asymmetry with
// TelemetryEnvelope, whose timestamp is integer microseconds: both units are
// part of the device firmware contract and must not be normalised here.
type CommandEnvelope struct {
	Timestamp float64 `json:"timestamp"`
	Cmd       Command `json:"cmd"`
}

// NewCommandEnvelope stamps a command with the current time.
func NewCommandEnvelope(cmd Command) CommandEnvelope {
	return CommandEnvelope{
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
		Cmd:       cmd,
	}
}

// Number accepts a JSON number or a numeric string. Device firmware is not
// consistent about quoting sample values, so both {"value": 42} and
// {"value": "42"} must decode.
type Number float64

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("value %q is not numeric: %w", string(data), err)
	}
	*n = Number(f)
	return nil
}

// TelemetryEnvelope is the JSON message a device sends to the gateway. It is
// one of two shapes sharing the deviceToServer sub-topic: a command reply
// carrying "ans", or a data sample carrying "timestamp" (integer microseconds
// since epoch) and "value". The shapes are disambiguated by field presence,
// never by topic.
type TelemetryEnvelope struct {
	Timestamp int64   `json:"timestamp,omitempty"`
	Value     *Number `json:"value,omitempty"`
	Ans       Reply   `json:"ans,omitempty"`
}

// IsReply reports whether the envelope is a command reply rather than a data sample.
func (e *TelemetryEnvelope) IsReply() bool {
	return e.Ans != ""
}

// ParseTelemetry decodes an inbound device payload.
func ParseTelemetry(payload []byte) (*TelemetryEnvelope, error) {
	var env TelemetryEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("malformed telemetry payload: %w", err)
	}
	return &env, nil
}
