package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// headerSize is the fixed portion of a frame: 1 byte type, 8 bytes
// timestamp, 4 bytes payload length.
const headerSize = 1 + 8 + 4

// MinFrameSize is the smallest binary frame that can possibly decode.
// Textual frames (starting with '{' or '[') are not bound by it.
const MinFrameSize = headerSize

// Message is the decoded form of a frame. Payload carries the
// structured body; for wire compatibility with clients that expect
// payload fields hoisted to the top level, use Flatten.
type Message struct {
	Type      MessageType
	TypeName  string
	Timestamp int64
	Payload   map[string]interface{}
}

// Flatten returns a map with "type", "timestamp", "payload", and every
// field of Payload duplicated at the top level, matching the decode
// contract in §4.1: clients read hoisted fields directly without
// reaching into a nested "payload" object.
func (m *Message) Flatten() map[string]interface{} {
	out := make(map[string]interface{}, len(m.Payload)+3)
	for k, v := range m.Payload {
		out[k] = v
	}
	out["type"] = m.TypeName
	out["timestamp"] = m.Timestamp
	out["payload"] = m.Payload
	return out
}

// Field returns a payload field by name and whether it was present.
func (m *Message) Field(name string) (interface{}, bool) {
	v, ok := m.Payload[name]
	return v, ok
}

// Decode parses a single frame. It never panics on malformed or
// unrecognized input: malformed/truncated input yields a descriptive
// error, and an unrecognized-but-well-formed type code decodes as the
// error sentinel (TypeError) rather than failing.
func Decode(frame []byte) (*Message, error) {
	if len(frame) == 0 {
		return nil, ErrMalformedFrame
	}
	if frame[0] == '{' || frame[0] == '[' {
		return decodeTextual(frame)
	}
	if len(frame) < headerSize {
		return nil, ErrMalformedFrame
	}

	typeCode := MessageType(frame[0])
	if _, known := typeNames[typeCode]; !known {
		typeCode = TypeError
	}
	timestamp := int64(binary.BigEndian.Uint64(frame[1:9]))
	length := binary.BigEndian.Uint32(frame[9:13])

	if uint64(len(frame)-headerSize) < uint64(length) {
		return nil, ErrTruncatedFrame
	}
	payloadBytes := frame[headerSize : headerSize+int(length)]

	payload := make(map[string]interface{})
	if len(payloadBytes) > 0 {
		if err := json.Unmarshal(payloadBytes, &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPayloadNotJSON, err)
		}
	}

	return &Message{
		Type:      typeCode,
		TypeName:  typeCode.String(),
		Timestamp: timestamp,
		Payload:   payload,
	}, nil
}

// decodeTextual parses the JSON/array fallback framing: the entire
// frame is one structured document and its "type" field names the
// message kind.
func decodeTextual(frame []byte) (*Message, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(frame, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadNotJSON, err)
	}

	typeName, _ := doc["type"].(string)
	var timestamp int64
	if ts, ok := doc["timestamp"]; ok {
		switch v := ts.(type) {
		case float64:
			timestamp = int64(v)
		case int64:
			timestamp = v
		}
	}

	payload, _ := doc["payload"].(map[string]interface{})
	if payload == nil {
		// No nested "payload" key: every other top-level field is the payload.
		payload = make(map[string]interface{}, len(doc))
		for k, v := range doc {
			if k == "type" || k == "timestamp" {
				continue
			}
			payload[k] = v
		}
	}

	return &Message{
		Type:      typeByName(typeName),
		TypeName:  typeName,
		Timestamp: timestamp,
		Payload:   payload,
	}, nil
}

// Encode builds a binary frame for the named type. An unknown type
// name encodes as the error sentinel (0xFF), matching Decode's
// tolerant handling of unrecognized codes.
func Encode(typeName string, payload map[string]interface{}, timestamp int64) ([]byte, error) {
	code := typeByName(typeName)

	if payload == nil {
		payload = map[string]interface{}{}
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wire: marshaling payload: %w", err)
	}

	frame := make([]byte, headerSize+len(payloadBytes))
	frame[0] = byte(code)
	binary.BigEndian.PutUint64(frame[1:9], uint64(timestamp))
	binary.BigEndian.PutUint32(frame[9:13], uint32(len(payloadBytes)))
	copy(frame[headerSize:], payloadBytes)

	return frame, nil
}

// EncodeTextual builds the JSON fallback framing for a message,
// primarily used by tests and by transports that prefer text frames.
func EncodeTextual(typeName string, payload map[string]interface{}, timestamp int64) ([]byte, error) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	doc := make(map[string]interface{}, len(payload)+2)
	for k, v := range payload {
		doc[k] = v
	}
	doc["type"] = typeName
	doc["timestamp"] = timestamp
	return json.Marshal(doc)
}
