package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/angelmondragon/settlement-ledger/pkg/enums"
)

// ErrNoDecoder is returned for an event type and version nobody registered.
var ErrNoDecoder = errors.New("no decoder registered")

type decodeKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry maps event type and payload version to a typed decoder on
// the consuming side. It is built once at startup and read concurrently.
type DecoderRegistry struct {
	decoders map[decodeKey]func(json.RawMessage) (any, error)
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{decoders: map[decodeKey]func(json.RawMessage) (any, error){}}
}

// Register makes payloads of eventType@version decode into *T. Registering
// the same key twice replaces the earlier decoder.
func Register[T any](r *DecoderRegistry, eventType enums.OutboxEventType, version int) {
	r.decoders[decodeKey{eventType, version}] = func(raw json.RawMessage) (any, error) {
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
			return nil, fmt.Errorf("%s@v%d: empty payload", eventType, version)
		}
		payload := new(T)
		if err := json.Unmarshal(trimmed, payload); err != nil {
			return nil, fmt.Errorf("%s@v%d: %w", eventType, version, err)
		}
		return payload, nil
	}
}

// Decode returns a *T for the registered type, or ErrNoDecoder.
func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error) {
	decode, ok := r.decoders[decodeKey{eventType, version}]
	if !ok {
		return nil, fmt.Errorf("%s@v%d: %w", eventType, version, ErrNoDecoder)
	}
	return decode(payload)
}
