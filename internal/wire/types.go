// Package wire implements the synckit binary frame protocol: a fixed
// header followed by a UTF-8 structured payload, with a textual JSON
// fallback for transports or clients that prefer it.
package wire

// MessageType identifies the kind of a decoded frame. Values match the
// wire type-code table exactly; clients depend on these numbers.
type MessageType byte

const (
	TypeAuth          MessageType = 0x01
	TypeAuthSuccess   MessageType = 0x02
	TypeAuthError     MessageType = 0x03
	TypeSubscribe     MessageType = 0x10
	TypeUnsubscribe   MessageType = 0x11
	TypeSyncRequest   MessageType = 0x12
	TypeSyncResponse  MessageType = 0x13
	TypeSyncStep1     MessageType = 0x14
	TypeSyncStep2     MessageType = 0x15
	TypeDelta         MessageType = 0x20
	TypeAck           MessageType = 0x21
	TypeDeltaBatch    MessageType = 0x22
	TypePing          MessageType = 0x30
	TypePong          MessageType = 0x31
	TypeAwarenessUpdate    MessageType = 0x40
	TypeAwarenessSubscribe MessageType = 0x41
	TypeAwarenessState     MessageType = 0x42
	TypeError         MessageType = 0xFF
)

var typeNames = map[MessageType]string{
	TypeAuth:              "auth",
	TypeAuthSuccess:        "auth_success",
	TypeAuthError:          "auth_error",
	TypeSubscribe:          "subscribe",
	TypeUnsubscribe:        "unsubscribe",
	TypeSyncRequest:        "sync_request",
	TypeSyncResponse:       "sync_response",
	TypeSyncStep1:          "sync_step1",
	TypeSyncStep2:          "sync_step2",
	TypeDelta:              "delta",
	TypeAck:                "ack",
	TypeDeltaBatch:         "delta_batch",
	TypePing:               "ping",
	TypePong:               "pong",
	TypeAwarenessUpdate:    "awareness_update",
	TypeAwarenessSubscribe: "awareness_subscribe",
	TypeAwarenessState:     "awareness_state",
	TypeError:              "error",
}

var namesToType map[string]MessageType

func init() {
	namesToType = make(map[string]MessageType, len(typeNames))
	for code, name := range typeNames {
		namesToType[name] = code
	}
}

// String returns the wire name of a type code, or "error" if the code
// is not part of the closed set (decoding never throws on an unknown
// code: it maps to the error sentinel instead).
func (t MessageType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "error"
}

// typeByName resolves a wire type name to its code. An unknown name
// resolves to TypeError, matching the encode-side fallback in §4.1.
func typeByName(name string) MessageType {
	if code, ok := namesToType[name]; ok {
		return code
	}
	return TypeError
}
