package bids

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// ErrNoAcquisitionDate is returned when a sidecar lacks AcquisitionDateTime.
var ErrNoAcquisitionDate = errors.New("sidecar has no AcquisitionDateTime")

// Sidecar is the subset of a raw acquisition's JSON sidecar the pipeline
// reads. Raw keeps every key.
type Sidecar struct {
	AcquisitionDateTime string                 `json:"AcquisitionDateTime"`
	SeriesDescription   string                 `json:"SeriesDescription"`
	ProtocolName        string                 `json:"ProtocolName"`
	Raw                 map[string]interface{} `json:"-"`
}

// AcquisitionDate returns the acquisition date as YYYYMMDD.
func (s Sidecar) AcquisitionDate() (string, error) {
	if s.AcquisitionDateTime == "" {
		return "", ErrNoAcquisitionDate
	}
	date, _, _ := strings.Cut(s.AcquisitionDateTime, "T")
	return strings.ReplaceAll(date, "-", ""), nil
}

// ReadSidecar decodes the JSON sidecar at path.
func ReadSidecar(path string) (Sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Sidecar{}, err
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Sidecar{}, fmt.Errorf("parse sidecar %s: %w", path, err)
	}

	var s Sidecar
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &s,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Sidecar{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return Sidecar{}, fmt.Errorf("decode sidecar %s: %w", path, err)
	}
	s.Raw = raw
	return s, nil
}

// Derived is the provenance sidecar written next to every derivative.
// Paths are relative to the dataset root (see [Relative]).
type Derived struct {
	RawSources       []string `json:"RawSources,omitempty"`
	Sources          []string `json:"Sources,omitempty"`
	SpatialReference string   `json:"SpatialReference,omitempty"`
}

// WriteSidecar writes d to path, replacing any existing file.
func WriteSidecar(path string, d Derived) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// ReadDerived reads a sidecar written by [WriteSidecar].
func ReadDerived(path string) (Derived, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Derived{}, err
	}
	var d Derived
	if err := json.Unmarshal(data, &d); err != nil {
		return Derived{}, fmt.Errorf("parse sidecar %s: %w", path, err)
	}
	return d, nil
}
