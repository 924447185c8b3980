package pathstore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Get returns the value at path inside root.
// The boolean is false when any segment is absent. A scalar in the middle of
// the path yields ErrConflict so that callers never overwrite real data with a
// default.
func Get(root interface{}, path []string) (interface{}, bool, error) {
	if len(path) == 0 {
		return nil, false, ErrEmptyPath
	}
	if IsAll(path) {
		return root, true, nil
	}

	current := root
	for i, seg := range path {
		switch node := current.(type) {
		case map[string]interface{}:
			next, ok := node[seg]
			if !ok {
				return nil, false, nil
			}
			current = next
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false, nil
			}
			current = node[idx]
		case nil:
			// null intermediates are vivified like absent ones
			return nil, false, nil
		default:
			return nil, false, fmt.Errorf("%w: %s is %T", ErrConflict, Format(path[:i]), current)
		}
	}

	return current, true, nil
}

// Set returns a copy of root with value stored at path.
// Missing or scalar intermediates are replaced by empty objects. Only the
// containers along the path are copied.
func Set(root map[string]interface{}, path []string, value interface{}) (map[string]interface{}, error) {
	if len(path) == 0 {
		return nil, ErrEmptyPath
	}
	if IsAll(path) {
		doc, ok := value.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: whole document must be an object, got %T", ErrConflict, value)
		}
		return doc, nil
	}

	updated, err := setIn(root, path, value)
	if err != nil {
		return nil, err
	}
	return updated.(map[string]interface{}), nil
}

func setIn(node interface{}, path []string, value interface{}) (interface{}, error) {
	seg := path[0]
	rest := path[1:]

	switch container := node.(type) {
	case []interface{}:
		idx, err := strconv.Atoi(seg)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an array index", ErrConflict, seg)
		}
		if idx < 0 || idx > len(container) {
			return nil, fmt.Errorf("%w: index %d, length %d", ErrIndexOutOfRange, idx, len(container))
		}
		out := make([]interface{}, len(container), len(container)+1)
		copy(out, container)
		if idx == len(container) {
			out = append(out, nil)
		}
		if len(rest) == 0 {
			out[idx] = value
			return out, nil
		}
		child, err := setIn(out[idx], rest, value)
		if err != nil {
			return nil, err
		}
		out[idx] = child
		return out, nil

	case map[string]interface{}:
		out := make(map[string]interface{}, len(container)+1)
		for k, v := range container {
			out[k] = v
		}
		if len(rest) == 0 {
			out[seg] = value
			return out, nil
		}
		child, err := setIn(out[seg], rest, value)
		if err != nil {
			return nil, err
		}
		out[seg] = child
		return out, nil

	default:
		// Absent or scalar: vivify an object.
		return setIn(map[string]interface{}{}, path, value)
	}
}

// Delete returns a copy of root without the value at path.
// Deleting an absent path returns root unchanged and false.
func Delete(root map[string]interface{}, path []string) (map[string]interface{}, bool, error) {
	if len(path) == 0 {
		return nil, false, ErrEmptyPath
	}
	if IsAll(path) {
		return map[string]interface{}{}, len(root) > 0, nil
	}
	if _, ok, err := Get(root, path); err != nil || !ok {
		return root, false, err
	}

	updated, err := deleteIn(root, path)
	if err != nil {
		return nil, false, err
	}
	return updated.(map[string]interface{}), true, nil
}

func deleteIn(node interface{}, path []string) (interface{}, error) {
	seg := path[0]
	rest := path[1:]

	switch container := node.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(container))
		for k, v := range container {
			out[k] = v
		}
		if len(rest) == 0 {
			delete(out, seg)
			return out, nil
		}
		child, err := deleteIn(out[seg], rest)
		if err != nil {
			return nil, err
		}
		out[seg] = child
		return out, nil

	case []interface{}:
		idx, _ := strconv.Atoi(seg)
		out := make([]interface{}, 0, len(container))
		if len(rest) == 0 {
			out = append(out, container[:idx]...)
			return append(out, container[idx+1:]...), nil
		}
		out = append(out, container...)
		child, err := deleteIn(out[idx], rest)
		if err != nil {
			return nil, err
		}
		out[idx] = child
		return out, nil
	}

	return nil, fmt.Errorf("%w: cannot delete below %T", ErrConflict, node)
}

// Clone deep-copies a normalized JSON value.
func Clone(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			out[k] = Clone(child)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, child := range val {
			out[i] = Clone(child)
		}
		return out
	default:
		return val
	}
}

// CloneDoc deep-copies a document. A nil document clones to an empty one.
func CloneDoc(doc map[string]interface{}) map[string]interface{} {
	if doc == nil {
		return map[string]interface{}{}
	}
	return Clone(doc).(map[string]interface{})
}

// Normalize converts an arbitrary Go value into the generic JSON tree the
// store persists, so that a value read back from the cache is identical to
// the value decoded from the file.
func Normalize(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case nil, string, bool, float64:
		return val, nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case int32:
		return float64(val), nil
	case float32:
		return float64(val), nil
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano), nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			n, err := Normalize(child)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, child := range val {
			n, err := Normalize(child)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case []string:
		out := make([]interface{}, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out, nil
	}

	// Structs, typed maps and slices go through their JSON representation.
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value is not JSON serializable: %w", err)
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
