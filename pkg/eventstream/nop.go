package eventstream

import "context"

// NopPublisher satisfies the gateway's EventStreamPublisher for deployments
// without an analytics pipeline.
type NopPublisher struct{}

// Publish discards the payload.
func (NopPublisher) Publish(_ context.Context, _ string, _ []byte) error {
	return nil
}
