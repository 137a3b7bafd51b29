// Package payload defines the inference result record handed to the
// publisher. A payload is immutable once created: the publisher and the
// destinations only read and serialize it.
package payload

import (
	"time"

	"github.com/google/uuid"

	"github.com/olkham/inference-node/pkg/json"
)

// Reserved metadata keys merged into the serialized object.
const (
	KeyTimestamp     = "timestamp"
	KeyNodeID        = "node_id"
	KeyCorrelationID = "correlation_id"
)

// Payload is one inference result plus metadata. Data holds arbitrary
// JSON-compatible values, including nested objects and fields this
// subsystem knows nothing about.
type Payload struct {
	Data          map[string]interface{}
	Timestamp     time.Time
	NodeID        string
	CorrelationID string
}

// New creates a payload stamped with the current time and a fresh
// correlation id.
func New(data map[string]interface{}, nodeID string) *Payload {
	return &Payload{
		Data:          data,
		Timestamp:     time.Now().UTC(),
		NodeID:        nodeID,
		CorrelationID: uuid.NewString(),
	}
}

// FromMap wraps an already-assembled record without generating metadata.
// Missing timestamp/correlation fields stay empty and are omitted from the
// wire form.
func FromMap(data map[string]interface{}) *Payload {
	return &Payload{Data: data}
}

// Field returns a top-level data field.
func (p *Payload) Field(key string) (interface{}, bool) {
	v, ok := p.Data[key]
	return v, ok
}

// StringField returns a top-level data field as a string, or "" when absent
// or not a string. Used for template variables like pipeline_id.
func (p *Payload) StringField(key string) string {
	if v, ok := p.Data[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// wireForm builds the serialized object: a shallow copy of Data with the
// metadata keys merged in. Data itself is never written to.
func (p *Payload) wireForm() map[string]interface{} {
	out := make(map[string]interface{}, len(p.Data)+3)
	for k, v := range p.Data {
		out[k] = v
	}
	if !p.Timestamp.IsZero() {
		out[KeyTimestamp] = p.Timestamp.Format(time.RFC3339Nano)
	}
	if p.NodeID != "" {
		out[KeyNodeID] = p.NodeID
	}
	if p.CorrelationID != "" {
		out[KeyCorrelationID] = p.CorrelationID
	}
	return out
}

// MarshalJSON serializes the payload with metadata merged in.
func (p *Payload) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.wireForm())
}
