// Package util holds small helpers shared across packages.
package util

import (
	"fmt"
	"strconv"
	"strings"
)

// memoryUnits maps a quantity suffix to its factor in MiB. A bare number or
// an explicit B suffix is taken as bytes.
var memoryUnits = map[string]float64{
	"":    1.0 / (1 << 20),
	"B":   1.0 / (1 << 20),
	"K":   1.0 / 1024,
	"KB":  1.0 / 1024,
	"KI":  1.0 / 1024,
	"KIB": 1.0 / 1024,
	"M":   1,
	"MB":  1,
	"MI":  1,
	"MIB": 1,
	"G":   1024,
	"GB":  1024,
	"GI":  1024,
	"GIB": 1024,
	"T":   1 << 20,
	"TB":  1 << 20,
	"TI":  1 << 20,
	"TIB": 1 << 20,
}

// ParseMemory converts a profile memory quantity ("4G", "512M", "1.5G") to
// MiB. An empty string parses to 0 so unset profile fields stay unset.
func ParseMemory(memory string) (int, error) {
	memory = strings.TrimSpace(memory)
	if memory == "" {
		return 0, nil
	}

	split := len(memory)
	for split > 0 {
		c := memory[split-1]
		if (c >= '0' && c <= '9') || c == '.' {
			break
		}
		split--
	}

	value, err := strconv.ParseFloat(memory[:split], 64)
	if err != nil {
		return 0, fmt.Errorf("bad memory quantity %q", memory)
	}

	unit := strings.ToUpper(strings.TrimSpace(memory[split:]))
	factor, ok := memoryUnits[unit]
	if !ok {
		return 0, fmt.Errorf("unknown memory unit %q in %q", unit, memory)
	}
	return int(value * factor), nil
}
