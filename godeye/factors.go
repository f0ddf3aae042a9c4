package godeye

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

// Factors are the conditions a monitor can subscribe to. A listener's
// interest is a mask of them.
const (
	FactorApp uint64 = 1 << iota
	FactorGame
	FactorVideo
	FactorTouch
	FactorScreen
	FactorBattery
	FactorThermal
	FactorRefreshRate

	FactorAll uint64 = 1<<iota - 1
)

var factorNames = []struct {
	name   string
	factor uint64
}{
	{"app", FactorApp},
	{"game", FactorGame},
	{"video", FactorVideo},
	{"touch", FactorTouch},
	{"screen", FactorScreen},
	{"battery", FactorBattery},
	{"thermal", FactorThermal},
	{"refresh_rate", FactorRefreshRate},
}

// FactorString names the bits of mask, e.g. "app|game". Unnamed bits are
// printed in hex.
func FactorString(mask uint64) string {
	if mask == 0 {
		return "none"
	}
	var parts []string
	for _, f := range factorNames {
		if mask&f.factor != 0 {
			parts = append(parts, f.name)
			mask &^= f.factor
		}
	}
	if mask != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", mask))
	}
	return strings.Join(parts, "|")
}

// ParseFactors reads a mask written as factor names joined by "|" or ",",
// as a number (decimal or 0x hex), or as a mix of both. "all" selects every
// named factor.
func ParseFactors(s string) (uint64, error) {
	var mask uint64
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' })
	if len(fields) == 0 {
		return 0, fmt.Errorf("godeye: empty factor mask")
	}

	for _, field := range fields {
		field = strings.ToLower(strings.TrimSpace(field))
		if field == "all" {
			mask |= FactorAll
			continue
		}
		if f, ok := lookupFactor(field); ok {
			mask |= f
			continue
		}
		v, err := cast.ToUint64E(field)
		if err != nil {
			return 0, fmt.Errorf("godeye: unknown factor %q", field)
		}
		mask |= v
	}
	return mask, nil
}

func lookupFactor(name string) (uint64, bool) {
	for _, f := range factorNames {
		if f.name == name {
			return f.factor, true
		}
	}
	return 0, false
}
