package membership

import (
	"encoding/json"
	"fmt"
	"strconv"
)

func unmarshalPayload(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("membership: decode payload: %w", err)
	}
	return nil
}

func portString(port int) string {
	return strconv.Itoa(port)
}
