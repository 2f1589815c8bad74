package wire

// Typed payload variants. These let handlers in internal/hub work with
// named fields instead of raw map indexing, per the "dynamic untyped
// message bodies become tagged variants" design note; the in-memory
// representation is these structs, while Flatten preserves the
// hoisted-field wire shape for client compatibility.

type AuthPayload struct {
	Token string `json:"token"`
}

type SubscribePayload struct {
	DocID string `json:"docId"`
}

type UnsubscribePayload struct {
	DocID string `json:"docId"`
}

type DeltaPayload struct {
	DocID   string                 `json:"docId"`
	Changes map[string]interface{} `json:"changes"`
}

type DeltaBatchPayload struct {
	DocID  string         `json:"docId"`
	Deltas []DeltaPayload `json:"deltas"`
}

type AwarenessUpdatePayload struct {
	DocID string                 `json:"docId"`
	State map[string]interface{} `json:"state"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func decodeInto(payload map[string]interface{}, keys ...string) map[string]interface{} {
	if payload == nil {
		return map[string]interface{}{}
	}
	return payload
}

// AsAuth extracts an AuthPayload from a decoded message.
func (m *Message) AsAuth() AuthPayload {
	p := decodeInto(m.Payload)
	token, _ := p["token"].(string)
	return AuthPayload{Token: token}
}

// AsSubscribe extracts a SubscribePayload from a decoded message.
func (m *Message) AsSubscribe() SubscribePayload {
	p := decodeInto(m.Payload)
	docID, _ := p["docId"].(string)
	return SubscribePayload{DocID: docID}
}

// AsUnsubscribe extracts an UnsubscribePayload from a decoded message.
func (m *Message) AsUnsubscribe() UnsubscribePayload {
	p := decodeInto(m.Payload)
	docID, _ := p["docId"].(string)
	return UnsubscribePayload{DocID: docID}
}

// AsDelta extracts a DeltaPayload from a decoded message.
func (m *Message) AsDelta() DeltaPayload {
	p := decodeInto(m.Payload)
	docID, _ := p["docId"].(string)
	changes, _ := p["changes"].(map[string]interface{})
	if changes == nil {
		changes = map[string]interface{}{}
	}
	return DeltaPayload{DocID: docID, Changes: changes}
}

// AsDeltaBatch extracts a DeltaBatchPayload from a decoded message.
func (m *Message) AsDeltaBatch() DeltaBatchPayload {
	p := decodeInto(m.Payload)
	docID, _ := p["docId"].(string)

	var deltas []DeltaPayload
	if raw, ok := p["deltas"].([]interface{}); ok {
		for _, item := range raw {
			entry, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			changes, _ := entry["changes"].(map[string]interface{})
			if changes == nil {
				changes = map[string]interface{}{}
			}
			entryDocID, _ := entry["docId"].(string)
			if entryDocID == "" {
				entryDocID = docID
			}
			deltas = append(deltas, DeltaPayload{DocID: entryDocID, Changes: changes})
		}
	}
	return DeltaBatchPayload{DocID: docID, Deltas: deltas}
}

// AsAwarenessUpdate extracts an AwarenessUpdatePayload from a decoded message.
func (m *Message) AsAwarenessUpdate() AwarenessUpdatePayload {
	p := decodeInto(m.Payload)
	docID, _ := p["docId"].(string)
	state, _ := p["state"].(map[string]interface{})
	if state == nil {
		state = map[string]interface{}{}
	}
	return AwarenessUpdatePayload{DocID: docID, State: state}
}
