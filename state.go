package goagua

import "fmt"

// snapshot pairs one registers map with the raw values read alongside it.
// Both halves are replaced wholesale by Device.Update and a snapshot is
// never mutated after publication, so accessors working from one snapshot
// can never mix a registers map and raw values from different refreshes.
type snapshot struct {
	registers RegisterMap
	values    map[int]float64
}

// newSnapshot builds the offset-to-value mapping from the telemetry job
// answer's parallel Items/Values sequences.
func newSnapshot(registers RegisterMap, items []int, values []float64) (*snapshot, error) {
	if len(items) != len(values) {
		return nil, NewOperationError(
			fmt.Sprintf("telemetry shape mismatch: %d items, %d values", len(items), len(values)), nil)
	}
	raw := make(map[int]float64, len(items))
	for i, offset := range items {
		raw[offset] = values[i]
	}
	return &snapshot{registers: registers, values: raw}, nil
}

func (s *snapshot) entry(key string) (*RegisterEntry, error) {
	entry, ok := s.registers[key]
	if !ok {
		return nil, NewConfigurationError(fmt.Sprintf("register %s not present in registers map", key), nil)
	}
	return entry, nil
}

// rawValue returns the raw reading at the given offset. A missing offset
// means the registers map and the telemetry buffer disagree about the
// device layout; that is surfaced, not defaulted.
func (s *snapshot) rawValue(offset int) (float64, error) {
	v, ok := s.values[offset]
	if !ok {
		return 0, NewMissingDataError(offset)
	}
	return v, nil
}

// decode resolves a register by name and decodes its current raw value.
func (s *snapshot) decode(key string) (float64, error) {
	entry, err := s.entry(key)
	if err != nil {
		return 0, err
	}
	raw, err := s.rawValue(entry.Offset)
	if err != nil {
		return 0, err
	}
	return decodeValue(entry, raw)
}
