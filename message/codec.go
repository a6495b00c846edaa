package message

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaSource string

var schema = jsonschema.MustCompileString("schema.json", schemaSource)

type taskWire struct {
	Type Kind `json:"type"`
	Task
}

type statusWire struct {
	Type Kind `json:"type"`
	Status
}

type resultWire struct {
	Type Kind `json:"type"`
	Result
}

// Marshal encodes a message with its "type" discriminant.
func Marshal(m Message) ([]byte, error) {
	switch v := normalize(m).(type) {
	case Task:
		return json.Marshal(taskWire{Type: KindTask, Task: v})
	case Status:
		return json.Marshal(statusWire{Type: KindStatus, Status: v})
	case Result:
		return json.Marshal(resultWire{Type: KindResult, Result: v})
	default:
		return nil, fmt.Errorf("%w: %T", ErrInvalid, m)
	}
}

// Unmarshal parses and validates data against the closed variant set.
// Any error means the payload must be dropped.
func Unmarshal(data []byte) (Message, error) {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return decode(data, raw)
}

// FromFields validates a decoded JSON object and converts it to a Message.
// It is used by transports that have already parsed and stripped an envelope.
func FromFields(fields map[string]interface{}) (Message, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return decode(data, raw)
}

func decode(data []byte, raw interface{}) (Message, error) {
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: not a JSON object", ErrInvalid)
	}

	kindStr, _ := obj["type"].(string)
	kind := Kind(kindStr)
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kindStr)
	}

	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	switch kind {
	case KindTask:
		var t Task
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		return t, nil
	case KindStatus:
		var s Status
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		return s, nil
	default:
		var r Result
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		return r, nil
	}
}

// Validate checks that an outgoing message encodes to a valid variant.
func Validate(m Message) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}
	_, err = Unmarshal(data)
	return err
}
