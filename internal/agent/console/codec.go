package console

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is registered with grpc's encoding package so the duplex
// stream carries plain JSON envelopes instead of requiring a compiled
// protobuf schema for every message kind.
const codecName = "loadforge-json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements grpc's encoding.Codec over encoding/json. Every
// value sent across the stream must be an *envelope; grpc.NewStream is
// called directly rather than through generated client stubs, so this
// is the only marshalling path in play.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

// envelopeKind discriminates which concrete Message an envelope carries.
type envelopeKind string

const (
	kindStartGrinder     envelopeKind = "start_grinder"
	kindStop             envelopeKind = "stop"
	kindShutdown         envelopeKind = "shutdown"
	kindReset            envelopeKind = "reset"
	kindFileDistribution envelopeKind = "file_distribution"
	kindProcessReport    envelopeKind = "process_report"
)

// envelope is the single wire type exchanged over the duplex stream.
// Payload holds the kind-specific message, deferred to json.RawMessage
// so envelope itself never needs a type switch to marshal.
type envelope struct {
	Kind    envelopeKind    `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// encode wraps a Message (or AgentProcessReport) into an envelope ready
// to send on the stream.
func encode(m interface{}) (*envelope, error) {
	var kind envelopeKind
	switch m.(type) {
	case *StartGrinder:
		kind = kindStartGrinder
	case *Stop:
		kind = kindStop
	case *Shutdown:
		kind = kindShutdown
	case *Reset:
		kind = kindReset
	case *FileDistribution:
		kind = kindFileDistribution
	case *AgentProcessReport:
		kind = kindProcessReport
	default:
		return nil, fmt.Errorf("console: unsupported message type %T", m)
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return &envelope{Kind: kind, Payload: payload}, nil
}

// decode unwraps an envelope into its concrete Message. Process reports
// decode too, since the same envelope type carries both directions of
// traffic over the stream.
func decode(e *envelope) (interface{}, error) {
	switch e.Kind {
	case kindStartGrinder:
		var m StartGrinder
		if err := json.Unmarshal(e.Payload, &m); err != nil {
			return nil, err
		}
		return &m, nil
	case kindStop:
		return &Stop{}, nil
	case kindShutdown:
		return &Shutdown{}, nil
	case kindReset:
		return &Reset{}, nil
	case kindFileDistribution:
		var m FileDistribution
		if err := json.Unmarshal(e.Payload, &m); err != nil {
			return nil, err
		}
		return &m, nil
	case kindProcessReport:
		var m AgentProcessReport
		if err := json.Unmarshal(e.Payload, &m); err != nil {
			return nil, err
		}
		return &m, nil
	default:
		return nil, fmt.Errorf("console: unknown envelope kind %q", e.Kind)
	}
}
