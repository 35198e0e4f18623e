package json

import (
	"strings"
	"testing"
)

type peerRow struct {
	PeerID      int      `json:"peer_id"`
	ReceiveRate *float64 `json:"receive_rate"`
	Overflow    bool     `json:"overflow,omitempty"`
}

func TestMarshal(t *testing.T) {
	rate := 0.5
	data, err := Marshal(peerRow{PeerID: 3, ReceiveRate: &rate})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	expected := `{"peer_id":3,"receive_rate":0.5}`
	if string(data) != expected {
		t.Errorf("Marshal result mismatch: got %s, want %s", string(data), expected)
	}
}

func TestMarshal_NilPointerIsNull(t *testing.T) {
	data, err := Marshal(peerRow{PeerID: 1})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"receive_rate":null`) {
		t.Errorf("expected null receive_rate, got %s", string(data))
	}
}

func TestMarshalIndent(t *testing.T) {
	data, err := MarshalIndent(peerRow{PeerID: 7}, "", "  ")
	if err != nil {
		t.Fatalf("MarshalIndent failed: %v", err)
	}

	expected := "{\n  \"peer_id\": 7,\n  \"receive_rate\": null\n}"
	if string(data) != expected {
		t.Errorf("MarshalIndent result mismatch: got %q, want %q", string(data), expected)
	}
}

func TestUnmarshal(t *testing.T) {
	var row peerRow
	if err := Unmarshal([]byte(`{"peer_id":9,"receive_rate":1.25,"overflow":true}`), &row); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if row.PeerID != 9 {
		t.Errorf("PeerID mismatch: got %d, want 9", row.PeerID)
	}
	if row.ReceiveRate == nil || *row.ReceiveRate != 1.25 {
		t.Errorf("ReceiveRate mismatch: got %v, want 1.25", row.ReceiveRate)
	}
	if !row.Overflow {
		t.Error("Overflow should be true")
	}
}

func TestUnmarshal_InvalidInput(t *testing.T) {
	var row peerRow
	if err := Unmarshal([]byte(`{"peer_id":`), &row); err == nil {
		t.Fatal("expected error for truncated input")
	}
}
