package api

import (
	"context"
	"fmt"
	"sync/atomic"
)

// MediaKind classifies an outbound media message.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
)

// ChannelConnector sends outbound messages on a concrete channel. It is
// consumed by node handlers, never by the engine itself. Failures surface
// as a *DeliveryError; the engine never converts them into session
// failures on its own.
type ChannelConnector interface {
	SendText(ctx context.Context, conversationID, contactID, text string) (deliveryRef string, err error)
	SendMedia(ctx context.Context, conversationID, contactID string, kind MediaKind, url, caption string) (deliveryRef string, err error)
}

// DeliveryError is the typed failure a connector reports.
type DeliveryError struct {
	Channel string
	Code    string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed on %s (%s): %v", e.Channel, e.Code, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// NopConnector discards outbound messages and fabricates delivery refs.
// Useful as a default and in tests that don't assert on sends.
type NopConnector struct {
	seq atomic.Int64
}

var _ ChannelConnector = (*NopConnector)(nil)

func (c *NopConnector) SendText(ctx context.Context, conversationID, contactID, text string) (string, error) {
	return fmt.Sprintf("nop-%d", c.seq.Add(1)), nil
}

func (c *NopConnector) SendMedia(ctx context.Context, conversationID, contactID string, kind MediaKind, url, caption string) (string, error) {
	return fmt.Sprintf("nop-%d", c.seq.Add(1)), nil
}
