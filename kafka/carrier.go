package kafka

import (
	"slices"

	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/propagation"
)

var _ propagation.TextMapCarrier = (*HeaderCarrier)(nil)

// HeaderCarrier adapts the headers of a kafka record to a text map carrier,
// so that the span context can travel with the record.
type HeaderCarrier struct {
	headers []kafkago.Header
}

func NewHeaderCarrier(headers ...kafkago.Header) *HeaderCarrier {
	// One extra slot for the traceparent header
	h := make([]kafkago.Header, 0, len(headers)+1)
	h = append(h, headers...)

	return &HeaderCarrier{
		headers: h,
	}
}

func (hc *HeaderCarrier) Get(key string) string {
	for _, header := range hc.headers {
		if key == header.Key {
			return string(header.Value)
		}
	}
	return ""
}

// Set replaces every header with the given key.
func (hc *HeaderCarrier) Set(key, value string) {
	hc.headers = slices.DeleteFunc(hc.headers, func(header kafkago.Header) bool {
		return header.Key == key
	})

	hc.headers = append(hc.headers, kafkago.Header{
		Key:   key,
		Value: []byte(value),
	})
}

func (hc *HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(hc.headers))
	for _, header := range hc.headers {
		keys = append(keys, header.Key)
	}
	return keys
}

func (hc *HeaderCarrier) Headers() []kafkago.Header {
	return hc.headers
}
