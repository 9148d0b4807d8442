package alerts

import (
	"strconv"
	"strings"
)

// Sample is the state a rule condition is evaluated against.
type Sample struct {
	Page          int
	Repos         int
	Status        string // ok | stale | error
	State         string // healthy | degraded | critical | unknown
	UptimePct     float64
	Failures      uint64
	StaleResults  uint64
	Cancellations uint64
	Generation    uint64
}

// evalCondition evaluates a rule condition string against s.
//
// Supported expressions (field operator value):
//
//	state == critical
//	status != ok
//	uptime_pct < 60
//	failures > 3
//	stale_results > 10
//	cancellations >= 100
//	repos == 0
//	page > 50
//
// Returns (fires bool, triggering value float64).
// Returns (false, 0) if the expression cannot be parsed or the field is unknown.
func evalCondition(cond string, s Sample) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	switch field {
	case "state":
		return compareString(s.State, op, rhs), 0
	case "status":
		return compareString(s.Status, op, rhs), 0
	}

	v, ok := numericField(field, s)
	if !ok {
		return false, 0
	}
	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return false, 0
	}
	return compareFloat(v, op, threshold), v
}

func numericField(field string, s Sample) (float64, bool) {
	switch field {
	case "uptime_pct":
		return s.UptimePct, true
	case "failures":
		return float64(s.Failures), true
	case "stale_results":
		return float64(s.StaleResults), true
	case "cancellations":
		return float64(s.Cancellations), true
	case "repos":
		return float64(s.Repos), true
	case "page":
		return float64(s.Page), true
	default:
		return 0, false
	}
}

func compareString(v, op, want string) bool {
	switch op {
	case "==":
		return v == want
	case "!=":
		return v != want
	default:
		return false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
