package store

import (
	"encoding/json"
	"fmt"

	"github.com/flowmark/flowmark/pkg/api"
)

// EncodeSnapshot marshals a snapshot for storage
func EncodeSnapshot(snap *api.Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot %s: %w", snap.ID, err)
	}
	return data, nil
}

// DecodeSnapshot unmarshals a stored snapshot
func DecodeSnapshot(data []byte) (*api.Snapshot, error) {
	var snap api.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
