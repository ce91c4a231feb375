package normalize

import "strings"

// conversion converts a numeric value from one unit into another.
type conversion func(v float64) float64

// conversions maps normalized source unit → normalized target unit for every
// known unit conversion. Source units not present here are unresolvable: the
// candidate is still emitted, flagged unit_unresolved, and the mapping engine
// penalizes its confidence.
var conversions = map[string]map[string]conversion{
	"f": {
		"c": func(v float64) float64 { return (v - 32) * 5 / 9 },
	},
	"c": {
		"f": func(v float64) float64 { return v*9/5 + 32 },
	},
	"lb": {
		"kg": func(v float64) float64 { return v * 0.45359237 },
	},
	"kg": {
		"lb": func(v float64) float64 { return v / 0.45359237 },
	},
	"in": {
		"cm": func(v float64) float64 { return v * 2.54 },
	},
	"cm": {
		"in": func(v float64) float64 { return v / 2.54 },
	},
	// Glucose: 1 mmol/L = 18.0 mg/dL.
	"mmol/l": {
		"mg/dl": func(v float64) float64 { return v * 18.0 },
	},
	"mg/dl": {
		"mmol/l": func(v float64) float64 { return v / 18.0 },
	},
}

// unitAliases folds spelling variants onto canonical unit keys.
var unitAliases = map[string]string{
	"degf":       "f",
	"fahrenheit": "f",
	"degc":       "c",
	"celsius":    "c",
	"lbs":        "lb",
	"pounds":     "lb",
	"kgs":        "kg",
	"kilograms":  "kg",
	"inches":     "in",
	"bpm":        "/min",
	"beats/min":  "/min",
	"percent":    "%",
	"mm hg":      "mmhg",
}

// canonicalUnit normalizes a unit string for comparison: lowercase, degree
// signs and surrounding whitespace stripped, known aliases folded.
func canonicalUnit(u string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	u = strings.ReplaceAll(u, "°", "")
	u = strings.TrimSpace(u)
	if alias, ok := unitAliases[u]; ok {
		return alias
	}
	return u
}

// convertUnit converts v from one unit to the target unit. Returns the
// converted value and true when the units already agree or a known conversion
// exists; otherwise returns v unchanged and false.
func convertUnit(v float64, from, to string) (float64, bool) {
	cf, ct := canonicalUnit(from), canonicalUnit(to)
	if cf == ct || cf == "" || ct == "" {
		return v, true
	}
	if targets, ok := conversions[cf]; ok {
		if fn, ok := targets[ct]; ok {
			return fn(v), true
		}
	}
	return v, false
}
