package poolindex

import (
	"encoding/json"
	"fmt"
)

func unmarshalJSON(payload []byte, out any) error {
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("unmarshal request: %w", err)
	}
	return nil
}
