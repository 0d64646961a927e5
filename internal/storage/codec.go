package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

// slotPayload is the JSON layout of a slot. Uploads keep the local path under
// "fileURL" and downloads under "localFile".
type slotPayload struct {
	Key       string     `json:"key"`
	FileURL   string     `json:"fileURL,omitempty"`
	LocalFile string     `json:"localFile,omitempty"`
	Attempts  int        `json:"attempts,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// EncodeDescriptor renders d in the slot format.
func EncodeDescriptor(d Descriptor) ([]byte, error) {
	if !d.Direction.Valid() {
		return nil, fmt.Errorf("unknown direction %q", d.Direction)
	}

	p := slotPayload{Key: d.RemoteKey, Attempts: d.Attempts}

	if !d.CreatedAt.IsZero() {
		created := d.CreatedAt.UTC()
		p.CreatedAt = &created
	}

	if d.Direction == Upload {
		p.FileURL = d.LocalPath
	} else {
		p.LocalFile = d.LocalPath
	}

	return json.Marshal(p)
}

// DecodeDescriptor parses a slot payload for dir. It returns a
// *CorruptRecordError when the payload is not a usable descriptor.
func DecodeDescriptor(dir Direction, data []byte) (Descriptor, error) {
	slot := dir.Slot()

	var p slotPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Descriptor{}, &CorruptRecordError{Slot: slot, Reason: "invalid json", Err: err}
	}

	if p.Key == "" {
		return Descriptor{}, &CorruptRecordError{Slot: slot, Reason: "missing key"}
	}

	path := p.LocalFile
	if dir == Upload {
		path = p.FileURL
	}

	if path == "" {
		return Descriptor{}, &CorruptRecordError{Slot: slot, Reason: "missing local path"}
	}

	if p.Attempts < 0 {
		return Descriptor{}, &CorruptRecordError{Slot: slot, Reason: "negative attempts"}
	}

	d := Descriptor{
		Direction: dir,
		RemoteKey: p.Key,
		LocalPath: path,
		Attempts:  p.Attempts,
	}

	if p.CreatedAt != nil {
		d.CreatedAt = *p.CreatedAt
	}

	return d, nil
}
