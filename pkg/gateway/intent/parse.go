package intent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidOutput marks classifier output that could not be turned into a Result.
var ErrInvalidOutput = errors.New("intent: invalid classifier output")

// Parse decodes classifier output into a normalized Result. Fields outside
// the Result contract are dropped.
func Parse(raw string) (Result, error) {
	body, err := extractObject(raw)
	if err != nil {
		return UnknownResult(), err
	}
	var loose map[string]any
	if err := json.Unmarshal([]byte(body), &loose); err != nil {
		return UnknownResult(), fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}

	typeName, _ := loose["type"].(string)
	if typeName == "" {
		typeName, _ = loose["intent"].(string)
	}
	t, ok := ParseType(typeName)
	if !ok {
		return UnknownResult(), fmt.Errorf("%w: unknown intent type %q", ErrInvalidOutput, typeName)
	}

	r := Result{
		Type:                 t,
		Confidence:           number(loose["confidence"]),
		Suggested:            boolean(loose["suggested"]),
		RequiresConfirmation: boolean(loose["requires_confirmation"]),
	}
	if params, ok := loose["params"].(map[string]any); ok && len(params) > 0 {
		r.Params = make(map[string]any, len(params))
		for k, v := range params {
			if s, ok := v.(string); ok {
				v = strings.Trim(strings.TrimSpace(s), "[]")
			}
			r.Params[k] = v
		}
	}
	return Normalize(r), nil
}

func extractObject(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", fmt.Errorf("%w: no JSON object", ErrInvalidOutput)
	}
	return s[start : end+1], nil
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err == nil {
			return f
		}
	}
	return 0
}

func boolean(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, _ := strconv.ParseBool(strings.TrimSpace(b))
		return parsed
	}
	return false
}
