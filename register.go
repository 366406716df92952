package goagua

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// RegisterEntry describes one named field of a device's dynamic schema: the
// offset into the raw telemetry buffer, the decode/encode formulas, the
// formatting rule, and the write bounds. Entries are immutable once built;
// a registers map refresh replaces them wholesale.
type RegisterEntry struct {
	Key            string
	Type           string
	Offset         int
	Formula        string
	FormulaInverse string
	FormatString   string
	SetMin         float64
	SetMax         float64
	Mask           int

	// Enumerated encodings for boolean-like registers. Nil when the
	// descriptor carries no ENG ON/OFF values.
	OnValue  *int
	OffValue *int
}

// RegisterMap holds every register of one device/product combination,
// keyed by register name.
type RegisterMap map[string]*RegisterEntry

// Wire shape of the /deviceGetRegistersMap catalog.
type registersMapsResponse struct {
	DeviceRegistersMap struct {
		RegistersMap []registersMapGroup `json:"registers_map"`
	} `json:"device_registers_map"`
}

type registersMapGroup struct {
	ID        int                  `json:"id"`
	Registers []registerDescriptor `json:"registers"`
}

type registerDescriptor struct {
	Key            string         `json:"reg_key"`
	Type           string         `json:"reg_type"`
	Offset         int            `json:"offset"`
	Formula        string         `json:"formula"`
	FormulaInverse string         `json:"formula_inverse"`
	FormatString   string         `json:"format_string"`
	SetMin         float64        `json:"set_min"`
	SetMax         float64        `json:"set_max"`
	Mask           int            `json:"mask"`
	EncVal         []encodedValue `json:"enc_val"`
}

// encodedValue uses json.Number because the server is not consistent about
// sending enumerated values as numbers or strings.
type encodedValue struct {
	Lang        string      `json:"lang"`
	Description string      `json:"description"`
	Value       json.Number `json:"value"`
}

// buildRegisterMap selects the catalog group matching mapID and converts
// its descriptors. The catalog lists one group per product revision; each
// device references exactly one group by id.
func buildRegisterMap(catalog *registersMapsResponse, mapID int) (RegisterMap, error) {
	for _, group := range catalog.DeviceRegistersMap.RegistersMap {
		if group.ID != mapID {
			continue
		}
		registers := make(RegisterMap, len(group.Registers))
		for _, desc := range group.Registers {
			entry := &RegisterEntry{
				Key:            desc.Key,
				Type:           desc.Type,
				Offset:         desc.Offset,
				Formula:        desc.Formula,
				FormulaInverse: desc.FormulaInverse,
				FormatString:   desc.FormatString,
				SetMin:         desc.SetMin,
				SetMax:         desc.SetMax,
				Mask:           desc.Mask,
			}
			for _, enc := range desc.EncVal {
				if enc.Lang != "ENG" {
					continue
				}
				v, err := strconv.Atoi(enc.Value.String())
				if err != nil {
					continue
				}
				switch enc.Description {
				case "ON":
					on := v
					entry.OnValue = &on
				case "OFF":
					off := v
					entry.OffValue = &off
				}
			}
			registers[desc.Key] = entry
		}
		return registers, nil
	}
	return nil, NewOperationError(fmt.Sprintf("registers map %d not found in catalog", mapID), nil)
}
