package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// envelope decodes a page body that is either a bare JSON array or an
// object carrying the array under "data" or "items".
type envelope[D any] []D

func (e *envelope[D]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*e = nil
		return nil
	}

	if b[0] == '[' {
		var items []D
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		*e = items
		return nil
	}

	var wrapped struct {
		Data  *[]D `json:"data"`
		Items *[]D `json:"items"`
	}
	if err := json.Unmarshal(b, &wrapped); err != nil {
		return err
	}
	switch {
	case wrapped.Data != nil:
		*e = *wrapped.Data
	case wrapped.Items != nil:
		*e = *wrapped.Items
	default:
		return fmt.Errorf("page has neither data nor items")
	}
	return nil
}
