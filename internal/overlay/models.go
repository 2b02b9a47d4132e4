package overlay

import (
	"encoding/json"
	"time"
)

// Position is where an overlay sits on the player, in player coordinates.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is an overlay's rendered dimensions.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Defaults applied when a create payload omits the corresponding field.
var (
	defaultPosition = Position{X: 10, Y: 10}
	defaultSize     = Size{Width: 100, Height: 30}
)

const defaultZIndex = 10

// Overlay is one annotation record shown on top of a stream. Clients may
// attach arbitrary extra fields (text, image URLs, styling); those are
// preserved round-trip in Extra without the store interpreting them.
type Overlay struct {
	ID        string
	Position  Position
	Size      Size
	ZIndex    int
	CreatedAt time.Time
	UpdatedAt time.Time
	Extra     map[string]any
}

// clone returns a copy that shares no mutable state with o, so stores can
// hand out results without exposing their internals.
func (o *Overlay) clone() *Overlay {
	cp := *o
	cp.Extra = make(map[string]any, len(o.Extra))
	for k, v := range o.Extra {
		cp.Extra[k] = v
	}
	return &cp
}

// reserved JSON keys handled by the typed fields above.
func isReservedKey(k string) bool {
	switch k {
	case "_id", "position", "size", "zIndex", "createdAt", "updatedAt":
		return true
	}
	return false
}

// MarshalJSON flattens the typed fields and Extra into one JSON object.
// Typed fields win over identically named Extra keys.
func (o *Overlay) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(o.Extra)+6)
	for k, v := range o.Extra {
		if !isReservedKey(k) {
			doc[k] = v
		}
	}
	doc["_id"] = o.ID
	doc["position"] = o.Position
	doc["size"] = o.Size
	doc["zIndex"] = o.ZIndex
	doc["createdAt"] = o.CreatedAt.UTC().Format(time.RFC3339)
	doc["updatedAt"] = o.UpdatedAt.UTC().Format(time.RFC3339)
	return json.Marshal(doc)
}

// UnmarshalJSON rebuilds an Overlay from a stored document.
func (o *Overlay) UnmarshalJSON(data []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	o.Extra = make(map[string]any)
	for k, raw := range doc {
		switch k {
		case "_id":
			if err := json.Unmarshal(raw, &o.ID); err != nil {
				return err
			}
		case "position":
			if err := json.Unmarshal(raw, &o.Position); err != nil {
				return err
			}
		case "size":
			if err := json.Unmarshal(raw, &o.Size); err != nil {
				return err
			}
		case "zIndex":
			if err := json.Unmarshal(raw, &o.ZIndex); err != nil {
				return err
			}
		case "createdAt":
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return err
			}
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				o.CreatedAt = t
			}
		case "updatedAt":
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return err
			}
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				o.UpdatedAt = t
			}
		default:
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			o.Extra[k] = v
		}
	}
	return nil
}

// fromPayload builds a new Overlay from a freeform create payload, filling
// in defaults for fields the payload omits. ID and timestamps are assigned
// by the store.
func fromPayload(payload map[string]any) (*Overlay, error) {
	o := &Overlay{
		Position: defaultPosition,
		Size:     defaultSize,
		ZIndex:   defaultZIndex,
		Extra:    make(map[string]any),
	}
	return o, applyPayload(o, payload)
}

// applyPayload merges a freeform payload into o, field by field. Unknown
// keys land in Extra. Used both for create and for merge-style updates.
func applyPayload(o *Overlay, payload map[string]any) error {
	for k, v := range payload {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		switch k {
		case "_id", "createdAt", "updatedAt":
			// Server-managed; ignored if a client sends them.
		case "position":
			if err := json.Unmarshal(raw, &o.Position); err != nil {
				return err
			}
		case "size":
			if err := json.Unmarshal(raw, &o.Size); err != nil {
				return err
			}
		case "zIndex":
			if err := json.Unmarshal(raw, &o.ZIndex); err != nil {
				return err
			}
		default:
			o.Extra[k] = v
		}
	}
	return nil
}
