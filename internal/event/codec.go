package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/ethereum/go-ethereum/common"
)

// record is the JSON wire form of an Event, used by the NATS and file sources.
type record struct {
	Kind Kind `json:"kind"`
	Meta
	Payload json.RawMessage `json:"payload"`
}

// MarshalJSON encodes the event as a flat record with a nested payload.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, errors.New("event has no payload")
	}
	body, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Kind(), err)
	}
	return json.Marshal(record{Kind: e.Kind(), Meta: e.Meta, Payload: body})
}

// UnmarshalJSON decodes a record produced by MarshalJSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	if len(rec.Payload) == 0 {
		return fmt.Errorf("%s event without payload", rec.Kind)
	}
	if err := rec.Meta.validate(); err != nil {
		return fmt.Errorf("%s event: %w", rec.Kind, err)
	}

	ptr, err := NewPayload(rec.Kind)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(rec.Payload, ptr); err != nil {
		return fmt.Errorf("decode %s payload: %w", rec.Kind, err)
	}

	e.Meta = rec.Meta
	e.Payload = reflect.ValueOf(ptr).Elem().Interface().(Payload)
	return nil
}

// ErrIncompleteMeta marks a record that does not identify its log. Such
// records would all share one dedupe key.
var ErrIncompleteMeta = errors.New("event record missing log identity")

func (m Meta) validate() error {
	switch {
	case m.TxHash == (common.Hash{}):
		return fmt.Errorf("%w: tx_hash", ErrIncompleteMeta)
	case m.BlockNumber == 0:
		return fmt.Errorf("%w: block_number", ErrIncompleteMeta)
	case m.Contract == (common.Address{}):
		return fmt.Errorf("%w: contract", ErrIncompleteMeta)
	}
	return nil
}

// Decode parses one JSON event record.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}
