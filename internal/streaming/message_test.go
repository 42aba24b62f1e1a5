package streaming

import "testing"

func TestEncodeRequiresTypeAndChain(t *testing.T) {
	if _, err := Encode(Message{ChainID: 1}); err == nil {
		t.Error("expected error for missing type")
	}
	if _, err := Encode(Message{Type: MessageTypePaymentLog}); err == nil {
		t.Error("expected error for missing chain id")
	}
}

func TestDecodeRejectsForeignPayloads(t *testing.T) {
	for _, payload := range []string{
		"not json",
		`{}`,
		`{"type":"payment_log"}`,
		`{"chain_id":80002}`,
	} {
		if _, err := Decode([]byte(payload)); err == nil {
			t.Errorf("expected decode error for %q", payload)
		}
	}

	payload, err := Encode(Message{Type: MessageTypePaymentLog, ChainID: 80002, TxHash: "0x1"})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	msg, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.TxHash != "0x1" {
		t.Errorf("unexpected tx hash %q", msg.TxHash)
	}
}
