package gap

import (
	"fmt"
	"strings"
)

// segment is either a plain map key (string) or an array selector
// ({field, value}) produced by a bracket token like [name=Eiffel Tower].
type segment struct {
	isArray bool
	field   string
	value   string
}

// parsePath scans a dotted path with optional bracket selectors into a
// sequence of segments: "restaurants.names_by_city[city=Paris].name" becomes
// ["restaurants", "names_by_city", {field:"city",value:"Paris"}, "name"].
func parsePath(path string) ([]segment, error) {
	var segs []segment
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			segs = append(segs, segment{field: current.String()})
			current.Reset()
		}
	}

	i := 0
	for i < len(path) {
		ch := path[i]
		switch ch {
		case '.':
			flush()
		case '[':
			flush()
			end := strings.IndexByte(path[i+1:], ']')
			if end == -1 {
				return nil, fmt.Errorf("gap: unclosed bracket in path %q", path)
			}
			end += i + 1
			spec := path[i+1 : end]
			if eq := strings.IndexByte(spec, '='); eq >= 0 {
				segs = append(segs, segment{
					isArray: true,
					field:   strings.TrimSpace(spec[:eq]),
					value:   strings.TrimSpace(spec[eq+1:]),
				})
			} else {
				segs = append(segs, segment{isArray: true, field: "index", value: strings.TrimSpace(spec)})
			}
			i = end
		default:
			current.WriteByte(ch)
		}
		i++
	}
	flush()
	return segs, nil
}

// applyOne applies one path->value patch to data in place. It returns an
// error for a malformed path; the caller (ApplyPatches) skips that patch and
// goes on with the rest, never fatal.
func applyOne(data map[string]any, path string, value any) error {
	segs, err := parsePath(path)
	if err != nil {
		return err
	}
	if len(segs) == 0 {
		return fmt.Errorf("gap: empty path")
	}

	current := data
	var lastArrayKey string
	for i := 0; i < len(segs)-1; i++ {
		seg := segs[i]
		if !seg.isArray {
			lastArrayKey = seg.field
			child, ok := current[seg.field].(map[string]any)
			if !ok {
				child = map[string]any{}
				current[seg.field] = child
			}
			current = child
			continue
		}

		arrayKey := lastArrayKey
		if arrayKey == "" {
			arrayKey = "items"
		}
		list, ok := current[arrayKey].([]any)
		if !ok {
			list = []any{}
		}
		var found map[string]any
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				if fmt.Sprintf("%v", m[seg.field]) == seg.value {
					found = m
					break
				}
			}
		}
		if found == nil {
			found = map[string]any{seg.field: seg.value}
			list = append(list, found)
		}
		current[arrayKey] = list
		current = found
	}

	final := segs[len(segs)-1]
	if final.isArray {
		// Trailing selector with no field to assign is ignored, matching
		// the original's graceful no-op.
		return nil
	}
	current[final.field] = value
	return nil
}

// ApplyPatches applies every path->value patch in patches to data, skipping
// (not failing on) any individually malformed path.
func ApplyPatches(data map[string]any, patches map[string]any) int {
	applied := 0
	for path, value := range patches {
		if err := applyOne(data, path, value); err != nil {
			continue
		}
		applied++
	}
	return applied
}
