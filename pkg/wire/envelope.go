package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Control frame actions accepted on a multiplexed connection
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPublish     = "publish"
)

var (
	// ErrUnknownAction is returned for a control frame with an unsupported action
	ErrUnknownAction = errors.New("unknown control action")
	// ErrMissingTopic is returned for a control frame without a topic
	ErrMissingTopic = errors.New("control frame requires a topic")
)

// ControlFrame is a client request on a multiplexed connection. Binary publishes carry
// base64 data in Data and set Binary.
type ControlFrame struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
	Data   string `json:"data,omitempty"`
	Binary bool   `json:"binary,omitempty"`
}

// Validate checks the action and topic
func (f ControlFrame) Validate() error {
	switch f.Action {
	case ActionSubscribe, ActionUnsubscribe, ActionPublish:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, f.Action)
	}
	if f.Topic == "" {
		return ErrMissingTopic
	}
	return nil
}

// Envelope is a message forwarded on a multiplexed connection. Text messages travel as
// JSON text frames, binary ones as CBOR binary frames. Error is only set on text
// frames that report a rejected control frame.
type Envelope struct {
	Topic string
	Data  []byte
	Error string
}

type textEnvelope struct {
	Topic string `json:"topic,omitempty"`
	Data  string `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

type binaryEnvelope struct {
	Topic string `cbor:"topic"`
	Data  []byte `cbor:"data"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("wire: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("wire: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodeText renders e as a JSON text frame
func EncodeText(e Envelope) ([]byte, error) {
	return json.Marshal(textEnvelope{Topic: e.Topic, Data: string(e.Data), Error: e.Error})
}

// DecodeText parses a JSON text frame
func DecodeText(frame []byte) (Envelope, error) {
	var te textEnvelope
	if err := json.Unmarshal(frame, &te); err != nil {
		return Envelope{}, fmt.Errorf("invalid text envelope: %w", err)
	}
	return Envelope{Topic: te.Topic, Data: []byte(te.Data), Error: te.Error}, nil
}

// EncodeBinary renders e as a CBOR binary frame
func EncodeBinary(e Envelope) ([]byte, error) {
	return encMode.Marshal(binaryEnvelope{Topic: e.Topic, Data: e.Data})
}

// DecodeBinary parses a CBOR binary frame
func DecodeBinary(frame []byte) (Envelope, error) {
	var be binaryEnvelope
	if err := decMode.Unmarshal(frame, &be); err != nil {
		return Envelope{}, fmt.Errorf("invalid binary envelope: %w", err)
	}
	return Envelope{Topic: be.Topic, Data: be.Data}, nil
}
