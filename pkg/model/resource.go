package model

// Resources is the declared snapshot a worker sends on registration
// (cpu_cores, memory_total, battery_level, is_charging, ...). It is
// informational only and never validated.
type Resources map[string]any

// Well-known keys reported by the bundled worker.
const (
	ResCPUCores     = "cpu_cores"
	ResMemoryTotal  = "memory_total"
	ResBatteryLevel = "battery_level"
	ResIsCharging   = "is_charging"
	ResLoad1m       = "load_1m"
)

// Number returns a numeric entry, tolerating the float64 that JSON decoding
// produces as well as native ints.
func (r Resources) Number(key string) (float64, bool) {
	switch v := r[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	}
	return 0, false
}

func (r Resources) Bool(key string) (bool, bool) {
	v, ok := r[key].(bool)
	return v, ok
}

// Clone returns a shallow copy so stored snapshots are not aliased by callers.
func (r Resources) Clone() Resources {
	if r == nil {
		return Resources{}
	}
	out := make(Resources, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
