package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Link connects an output slot of one node to an input slot of another.
type Link struct {
	ID         int    `json:"id"`
	OriginID   int    `json:"origin_id"`
	OriginSlot int    `json:"origin_slot"`
	TargetID   int    `json:"target_id"`
	TargetSlot int    `json:"target_slot"`
	Type       string `json:"type"`
}

type linkObject Link

// UnmarshalJSON accepts both the compact array form
// [id, origin, originSlot, target, targetSlot, type] and the object form.
func (l *Link) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '[' {
		var obj linkObject
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("link: %w", err)
		}
		*l = Link(obj)
		return nil
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("link: %w", err)
	}
	if len(parts) < 5 {
		return fmt.Errorf("link: expected at least 5 elements, got %d", len(parts))
	}
	ints := []*int{&l.ID, &l.OriginID, &l.OriginSlot, &l.TargetID, &l.TargetSlot}
	for i, dst := range ints {
		if err := json.Unmarshal(parts[i], dst); err != nil {
			return fmt.Errorf("link: element %d: %w", i, err)
		}
	}
	l.Type = ""
	if len(parts) > 5 {
		var t any
		if err := json.Unmarshal(parts[5], &t); err != nil {
			return fmt.Errorf("link: element 5: %w", err)
		}
		if s, ok := t.(string); ok {
			l.Type = s
		} else if t != nil {
			l.Type = fmt.Sprint(t)
		}
	}
	return nil
}

// MarshalJSON writes the compact array form.
func (l Link) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{l.ID, l.OriginID, l.OriginSlot, l.TargetID, l.TargetSlot, l.Type})
}
