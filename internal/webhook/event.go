package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/MrJamesThe3rd/payments/internal/payment"
)

type event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Data eventData `json:"data"`
}

type eventData struct {
	Object json.RawMessage `json:"object"`
	raw    json.RawMessage
}

func (d *eventData) UnmarshalJSON(b []byte) error {
	type plain eventData

	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}

	*d = eventData(p)
	d.raw = append(json.RawMessage(nil), b...)

	return nil
}

// typedObject is the processor's own shape, tagged by "object".
type typedObject struct {
	Object        string          `json:"object"`
	ID            string          `json:"id"`
	PaymentIntent json.RawMessage `json:"payment_intent"`
}

// Decode parses an already authenticated payload into a Notification.
func Decode(payload []byte) (payment.Notification, error) {
	var ev event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return payment.Notification{}, fmt.Errorf("%w: malformed event: %v", ErrExtraction, err)
	}

	if ev.Type == "" {
		return payment.Notification{}, fmt.Errorf("%w: event has no type", ErrExtraction)
	}

	// Unhandled types are acknowledged as they are, whatever their object looks like.
	if !payment.Handles(ev.Type) {
		return payment.Notification{EventID: ev.ID, Type: ev.Type}, nil
	}

	externalID, ok := extractExternalID(ev.Data)
	if !ok {
		return payment.Notification{}, fmt.Errorf("%w: event %s of type %s", ErrExtraction, ev.ID, ev.Type)
	}

	return payment.Notification{EventID: ev.ID, Type: ev.Type, ExternalID: externalID}, nil
}

// extractExternalID tries, in order: the typed object, a generic JSON tree under
// data.object, and a bare string map in data itself.
func extractExternalID(data eventData) (string, bool) {
	if id, ok := fromTypedObject(data.Object); ok {
		return id, true
	}

	if id, ok := fromTree(data.Object); ok {
		return id, true
	}

	return fromStringMap(data.raw)
}

func fromTypedObject(raw json.RawMessage) (string, bool) {
	var obj typedObject
	if len(raw) == 0 || json.Unmarshal(raw, &obj) != nil {
		return "", false
	}

	switch obj.Object {
	case "payment_intent":
		return obj.ID, obj.ID != ""
	case "charge":
		if id := paymentIntentRef(obj.PaymentIntent); id != "" {
			return id, true
		}

		return obj.ID, obj.ID != ""
	default:
		return "", false
	}
}

// paymentIntentRef reads a charge's payment_intent, which is either an id or an
// expanded object.
func paymentIntentRef(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var id string
	if json.Unmarshal(raw, &id) == nil {
		return id
	}

	var expanded struct {
		ID string `json:"id"`
	}

	if json.Unmarshal(raw, &expanded) == nil {
		return expanded.ID
	}

	return ""
}

func fromTree(raw json.RawMessage) (string, bool) {
	var tree map[string]any
	if len(raw) == 0 || json.Unmarshal(raw, &tree) != nil {
		return "", false
	}

	id, ok := tree["id"].(string)

	return id, ok && id != ""
}

func fromStringMap(raw json.RawMessage) (string, bool) {
	var m map[string]string
	if len(raw) == 0 || json.Unmarshal(raw, &m) != nil {
		return "", false
	}

	id := m["id"]

	return id, id != ""
}
