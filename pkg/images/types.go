package images

import (
	"encoding/json"
	"fmt"
)

// Record is a stored payload and the number of entries referencing it.
type Record struct {
	Hash     string
	Payload  []byte
	Refcount int
}

// Stats summarises the store.
type Stats struct {
	Total          int
	Used           int
	Unused         int
	TotalSizeBytes int64
}

// Data is the persisted form:
//
//	{"entries": [[hash, payload], ...], "refcounts": [[hash, n], ...]}
type Data struct {
	Entries   []PayloadPair `json:"entries"`
	Refcounts []CountPair   `json:"refcounts"`
}

// PayloadPair encodes as a two element JSON array; the payload is base64.
type PayloadPair struct {
	Hash    string
	Payload []byte
}

func (p PayloadPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{p.Hash, p.Payload})
}

func (p *PayloadPair) UnmarshalJSON(b []byte) error {
	parts, err := splitPair(b)
	if err != nil {
		return err
	}
	var out PayloadPair
	if err := json.Unmarshal(parts[0], &out.Hash); err != nil {
		return fmt.Errorf("image hash: %w", err)
	}
	if err := json.Unmarshal(parts[1], &out.Payload); err != nil {
		return fmt.Errorf("image payload: %w", err)
	}
	*p = out
	return nil
}

// CountPair encodes as [hash, n].
type CountPair struct {
	Hash  string
	Count int
}

func (c CountPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{c.Hash, c.Count})
}

func (c *CountPair) UnmarshalJSON(b []byte) error {
	parts, err := splitPair(b)
	if err != nil {
		return err
	}
	var out CountPair
	if err := json.Unmarshal(parts[0], &out.Hash); err != nil {
		return fmt.Errorf("refcount hash: %w", err)
	}
	if err := json.Unmarshal(parts[1], &out.Count); err != nil {
		return fmt.Errorf("refcount: %w", err)
	}
	*c = out
	return nil
}

func splitPair(b []byte) ([]json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(b, &parts); err != nil {
		return nil, err
	}
	if len(parts) != 2 {
		return nil, fmt.Errorf("expected a pair, got %d elements", len(parts))
	}
	return parts, nil
}
