package commerce

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Document is a JSON:API response body: primary resources plus the related
// resources they point at.
type Document struct {
	Primary  []Resource `json:"data"`
	Included []Resource `json:"included"`
}

// Resource is a JSON:API resource object.
type Resource struct {
	ID            string                       `json:"id"`
	Type          string                       `json:"type"`
	Attributes    map[string]any               `json:"attributes,omitempty"`
	Relationships map[string][]RelationshipRef `json:"relationships,omitempty"`
}

// RelationshipRef points at a resource by (type, id); the resource itself
// lives in Document.Included.
type RelationshipRef struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

var errDataNotArray = errors.New(`"data" is not an array`)

type wireResource struct {
	ID            string                     `json:"id"`
	Type          string                     `json:"type"`
	Attributes    map[string]any             `json:"attributes"`
	Relationships map[string]wireRelationship `json:"relationships"`
}

type wireRelationship struct {
	Data json.RawMessage `json:"data"`
}

// UnmarshalJSON flattens the wire form {"prices":{"data":[...]}} into
// relationship name -> refs. A to-one object becomes a one-element slice and
// null or missing data becomes an empty slice.
func (r *Resource) UnmarshalJSON(b []byte) error {
	var w wireResource
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	r.ID = w.ID
	r.Type = w.Type
	r.Attributes = w.Attributes
	r.Relationships = nil
	if len(w.Relationships) == 0 {
		return nil
	}

	r.Relationships = make(map[string][]RelationshipRef, len(w.Relationships))
	for name, rel := range w.Relationships {
		refs, err := decodeLinkage(rel.Data)
		if err != nil {
			return fmt.Errorf("relationship %q: %w", name, err)
		}
		r.Relationships[name] = refs
	}
	return nil
}

// MarshalJSON writes relationships back in wire form so documents round-trip.
func (r Resource) MarshalJSON() ([]byte, error) {
	w := struct {
		ID            string                    `json:"id"`
		Type          string                    `json:"type"`
		Attributes    map[string]any            `json:"attributes,omitempty"`
		Relationships map[string]map[string]any `json:"relationships,omitempty"`
	}{ID: r.ID, Type: r.Type, Attributes: r.Attributes}
	if len(r.Relationships) > 0 {
		w.Relationships = make(map[string]map[string]any, len(r.Relationships))
		for name, refs := range r.Relationships {
			if refs == nil {
				refs = []RelationshipRef{}
			}
			w.Relationships[name] = map[string]any{"data": refs}
		}
	}
	return json.Marshal(w)
}

func decodeLinkage(raw json.RawMessage) ([]RelationshipRef, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []RelationshipRef{}, nil
	}
	if raw[0] == '{' {
		var one RelationshipRef
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, err
		}
		return []RelationshipRef{one}, nil
	}
	var many []RelationshipRef
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, err
	}
	if many == nil {
		many = []RelationshipRef{}
	}
	return many, nil
}

// ParseDocument decodes a JSON:API body. "data" must be an array; a missing
// "included" yields an empty slice.
func ParseDocument(body []byte) (*Document, error) {
	var shape struct {
		Data     json.RawMessage `json:"data"`
		Included []Resource      `json:"included"`
	}
	if err := json.Unmarshal(body, &shape); err != nil {
		return nil, err
	}

	data := bytes.TrimSpace(shape.Data)
	if len(data) == 0 || data[0] != '[' {
		return nil, errDataNotArray
	}

	var primary []Resource
	if err := json.Unmarshal(data, &primary); err != nil {
		return nil, err
	}

	doc := &Document{Primary: primary, Included: shape.Included}
	if doc.Primary == nil {
		doc.Primary = []Resource{}
	}
	if doc.Included == nil {
		doc.Included = []Resource{}
	}
	return doc, nil
}
