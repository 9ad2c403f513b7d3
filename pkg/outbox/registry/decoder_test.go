package registry

import (
	"encoding/json"
	"testing"

	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/enums"
)

func TestDecoderRegistry(t *testing.T) {
	reg := NewDecoderRegistry()
	reg.Register(enums.EventStockAlertChanged, 1, func(payload json.RawMessage) (interface{}, error) {
		var decoded map[string]string
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil, err
		}
		return decoded, nil
	})

	input := json.RawMessage(`{"state":"low"}`)
	output, err := reg.Decode(enums.EventStockAlertChanged, 1, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outMap, ok := output.(map[string]string); !ok || outMap["state"] != "low" {
		t.Fatalf("unexpected output %+v", output)
	}

	if _, err := reg.Decode(enums.EventInvoiceSettled, 1, input); err == nil {
		t.Fatalf("expected error for unregistered decoder")
	}
}
