// Package envelope implements the immutable typed message that travels
// along diagram edges.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ContentType is the closed set of payload shapes an Envelope can carry.
type ContentType string

const (
	ContentRawText          ContentType = "raw_text"
	ContentObject           ContentType = "object"
	ContentConversationState ContentType = "conversation_state"
	ContentBinary           ContentType = "binary"
)

func (c ContentType) valid() bool {
	switch c {
	case ContentRawText, ContentObject, ContentConversationState, ContentBinary:
		return true
	default:
		return false
	}
}

// Message is a single turn in a conversation_state body.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Envelope is immutable once constructed. The only permitted mutation
// is WithMeta (and its narrow siblings WithIteration/WithBranch), each
// of which returns a new Envelope sharing the body but with merged
// metadata.
type Envelope struct {
	id                  string
	traceID             string
	producedBy          string
	contentType         ContentType
	serializationFormat string
	body                any
	meta                map[string]any
}

// wireEnvelope is the serialized-form shape. EnvelopeFormat must be
// true for Deserialize to accept the payload; its presence is the
// explicit discriminator that distinguishes a serialized envelope from
// an arbitrary JSON object.
type wireEnvelope struct {
	EnvelopeFormat      bool           `json:"envelope_format"`
	ID                  string         `json:"id"`
	TraceID             string         `json:"trace_id"`
	ProducedBy          string         `json:"produced_by"`
	ContentType         ContentType    `json:"content_type"`
	SerializationFormat string         `json:"serialization_format,omitempty"`
	Body                json.RawMessage `json:"body"`
	Meta                map[string]any `json:"meta,omitempty"`
}

// ID returns the envelope's own identifier.
func (e Envelope) ID() string { return e.id }

// TraceID returns the owning execution id.
func (e Envelope) TraceID() string { return e.traceID }

// ProducedBy returns the id of the node that produced this envelope.
func (e Envelope) ProducedBy() string { return e.producedBy }

// ContentType returns the envelope's content type tag.
func (e Envelope) ContentType() ContentType { return e.contentType }

// SerializationFormat returns the optional binary sub-format (e.g. "numpy", "msgpack").
func (e Envelope) SerializationFormat() string { return e.serializationFormat }

// Body returns the raw payload value. Prefer the AsX coercion helpers.
func (e Envelope) Body() any { return e.body }

// Meta returns a copy of the metadata map; mutating it has no effect
// on the envelope.
func (e Envelope) Meta() map[string]any {
	out := make(map[string]any, len(e.meta))
	for k, v := range e.meta {
		out[k] = v
	}
	return out
}

// MetaValue returns a single metadata value and whether it was present.
func (e Envelope) MetaValue(key string) (any, bool) {
	v, ok := e.meta[key]
	return v, ok
}

// HasError reports whether this envelope carries an error tag.
func (e Envelope) HasError() bool {
	_, ok := e.meta["error"]
	return ok
}

// Error returns the error message recorded in meta, if any.
func (e Envelope) Error() string {
	if v, ok := e.meta["error"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func cloneMeta(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// WithMeta returns a new Envelope sharing this one's body but with the
// given keys merged into (overwriting) its metadata.
func (e Envelope) WithMeta(kv map[string]any) Envelope {
	next := e
	next.meta = cloneMeta(e.meta)
	for k, v := range kv {
		next.meta[k] = v
	}
	return next
}

// WithIteration stamps the iteration number a loop produced this value at.
func (e Envelope) WithIteration(n int) Envelope {
	return e.WithMeta(map[string]any{"iteration": n})
}

// WithBranch stamps the branch label (condtrue/condfalse) this value belongs to.
func (e Envelope) WithBranch(branchID string) Envelope {
	return e.WithMeta(map[string]any{"branch_id": branchID})
}

// Iteration returns the iteration meta value; it returns 0, false when
// the value is absent or not a number.
func (e Envelope) Iteration() (int, bool) {
	v, ok := e.meta["iteration"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// BranchID returns the branch_id meta value, if present.
func (e Envelope) BranchID() (string, bool) {
	v, ok := e.meta["branch_id"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// --- Coercion readers ---
// Coercions fail loudly when the content_type cannot support them:
// cross-type coercion is refused except for a small set of declared
// pairs.

// CoercionError reports a failed reader coercion.
type CoercionError struct {
	From ContentType
	To   string
	Err  error
}

func (e *CoercionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot coerce %s to %s: %v", e.From, e.To, e.Err)
	}
	return fmt.Sprintf("cannot coerce %s to %s", e.From, e.To)
}

func (e *CoercionError) Unwrap() error { return e.Err }

// AsText coerces the body to a string. raw_text returns the body
// directly; object is JSON-encoded as a fallback, the one declared
// raw_text<->object coercion pair.
func (e Envelope) AsText() (string, error) {
	switch e.contentType {
	case ContentRawText:
		s, ok := e.body.(string)
		if !ok {
			return "", &CoercionError{From: e.contentType, To: "text"}
		}
		return s, nil
	case ContentObject:
		b, err := json.Marshal(e.body)
		if err != nil {
			return "", &CoercionError{From: e.contentType, To: "text", Err: err}
		}
		return string(b), nil
	default:
		return "", &CoercionError{From: e.contentType, To: "text"}
	}
}

// AsJSON coerces the body to a JSON-like tree (map/slice/primitive).
// raw_text is parsed as JSON when unambiguously parseable.
func (e Envelope) AsJSON() (any, error) {
	switch e.contentType {
	case ContentObject:
		return e.body, nil
	case ContentRawText:
		s, ok := e.body.(string)
		if !ok {
			return nil, &CoercionError{From: e.contentType, To: "json"}
		}
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, &CoercionError{From: e.contentType, To: "json", Err: err}
		}
		return v, nil
	default:
		return nil, &CoercionError{From: e.contentType, To: "json"}
	}
}

// AsBytes coerces the body to raw bytes. Only binary bodies qualify.
func (e Envelope) AsBytes() ([]byte, error) {
	if e.contentType != ContentBinary {
		return nil, &CoercionError{From: e.contentType, To: "bytes"}
	}
	b, ok := e.body.([]byte)
	if !ok {
		return nil, &CoercionError{From: e.contentType, To: "bytes"}
	}
	return b, nil
}

// AsConversation coerces the body to a conversation message list.
func (e Envelope) AsConversation() ([]Message, error) {
	if e.contentType != ContentConversationState {
		return nil, &CoercionError{From: e.contentType, To: "conversation"}
	}
	msgs, ok := e.body.([]Message)
	if !ok {
		return nil, &CoercionError{From: e.contentType, To: "conversation"}
	}
	return msgs, nil
}

// AsMatrix coerces a numpy-formatted binary body into a flat float64
// slice, validating the declared shape/dtype meta against the decoded
// length.
func (e Envelope) AsMatrix(shape []int, dtype string) ([]float64, error) {
	if e.contentType != ContentBinary || e.serializationFormat != "numpy" {
		return nil, &CoercionError{From: e.contentType, To: "matrix"}
	}
	metaDtype, _ := e.meta["dtype"].(string)
	if dtype != "" && metaDtype != "" && metaDtype != dtype {
		return nil, &CoercionError{From: e.contentType, To: "matrix", Err: fmt.Errorf("dtype mismatch: body is %q, want %q", metaDtype, dtype)}
	}
	vals, ok := e.body.([]float64)
	if !ok {
		return nil, &CoercionError{From: e.contentType, To: "matrix"}
	}
	want := 1
	for _, d := range shape {
		want *= d
	}
	if len(shape) > 0 && want != len(vals) {
		return nil, &CoercionError{From: e.contentType, To: "matrix", Err: fmt.Errorf("shape %v implies %d elements, body has %d", shape, want, len(vals))}
	}
	return vals, nil
}

// Serialize produces the wire form, stamping the envelope_format
// discriminator onto it.
func (e Envelope) Serialize() ([]byte, error) {
	body, err := json.Marshal(e.body)
	if err != nil {
		return nil, fmt.Errorf("serialize envelope %s: %w", e.id, err)
	}
	wire := wireEnvelope{
		EnvelopeFormat:      true,
		ID:                  e.id,
		TraceID:             e.traceID,
		ProducedBy:          e.producedBy,
		ContentType:         e.contentType,
		SerializationFormat: e.serializationFormat,
		Body:                body,
		Meta:                e.meta,
	}
	return json.Marshal(wire)
}

// Deserialize parses the wire form, rejecting any payload missing the
// envelope_format discriminator.
func Deserialize(data []byte) (Envelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(data, &wire); err != nil {
		return Envelope{}, fmt.Errorf("deserialize envelope: %w", err)
	}
	if !wire.EnvelopeFormat {
		return Envelope{}, fmt.Errorf("deserialize envelope: missing envelope_format discriminator")
	}
	if !wire.ContentType.valid() {
		return Envelope{}, fmt.Errorf("deserialize envelope: unknown content_type %q", wire.ContentType)
	}

	var body any
	switch wire.ContentType {
	case ContentRawText:
		var s string
		if err := json.Unmarshal(wire.Body, &s); err != nil {
			return Envelope{}, fmt.Errorf("deserialize envelope body: %w", err)
		}
		body = s
	case ContentBinary:
		if wire.SerializationFormat == "numpy" {
			var asFloats []float64
			if err := json.Unmarshal(wire.Body, &asFloats); err != nil {
				return Envelope{}, fmt.Errorf("deserialize envelope body: %w", err)
			}
			body = asFloats
		} else {
			var b []byte
			if err := json.Unmarshal(wire.Body, &b); err != nil {
				return Envelope{}, fmt.Errorf("deserialize envelope body: %w", err)
			}
			body = b
		}
	case ContentConversationState:
		var msgs []Message
		if err := json.Unmarshal(wire.Body, &msgs); err != nil {
			return Envelope{}, fmt.Errorf("deserialize envelope body: %w", err)
		}
		body = msgs
	default: // ContentObject
		if err := json.Unmarshal(wire.Body, &body); err != nil {
			return Envelope{}, fmt.Errorf("deserialize envelope body: %w", err)
		}
	}

	return Envelope{
		id:                  wire.ID,
		traceID:             wire.TraceID,
		producedBy:          wire.ProducedBy,
		contentType:         wire.ContentType,
		serializationFormat: wire.SerializationFormat,
		body:                body,
		meta:                wire.Meta,
	}, nil
}

// Factory builds envelopes for a single execution (traceID), stamping
// a timestamp into meta on every construction.
type Factory struct {
	TraceID string
}

// NewFactory returns a Factory bound to the given execution id.
func NewFactory(traceID string) Factory {
	return Factory{TraceID: traceID}
}

func (f Factory) base(producedBy string, contentType ContentType) Envelope {
	return Envelope{
		id:          uuid.NewString(),
		traceID:     f.TraceID,
		producedBy:  producedBy,
		contentType: contentType,
		meta: map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		},
	}
}

// Text builds a raw_text envelope.
func (f Factory) Text(producedBy, body string) Envelope {
	e := f.base(producedBy, ContentRawText)
	e.body = body
	return e
}

// JSON builds an object envelope.
func (f Factory) JSON(producedBy string, body any) Envelope {
	e := f.base(producedBy, ContentObject)
	e.body = body
	return e
}

// Conversation builds a conversation_state envelope.
func (f Factory) Conversation(producedBy string, messages []Message) Envelope {
	e := f.base(producedBy, ContentConversationState)
	e.body = messages
	return e
}

// Binary builds a binary envelope with an optional serialization format.
func (f Factory) Binary(producedBy string, body []byte, serializationFormat string) Envelope {
	e := f.base(producedBy, ContentBinary)
	e.body = body
	e.serializationFormat = serializationFormat
	return e
}

// NumpyArray builds a binary envelope carrying a flat float64 array,
// stamping shape/dtype meta for AsMatrix to validate against.
func (f Factory) NumpyArray(producedBy string, values []float64, shape []int, dtype string) Envelope {
	e := f.base(producedBy, ContentBinary)
	e.serializationFormat = "numpy"
	e.body = values
	e.meta["shape"] = shape
	e.meta["dtype"] = dtype
	return e
}

// Error builds an envelope tagging a handler failure; its content_type
// is object so downstream diagnostics can still be transformed.
func (f Factory) Error(producedBy, message, errorType string) Envelope {
	e := f.base(producedBy, ContentObject)
	e.body = map[string]any{}
	e.meta["error"] = message
	e.meta["error_type"] = errorType
	return e
}
