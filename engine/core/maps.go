package core

// CloneMap returns a shallow copy of the provided metadata map. A nil input
// yields nil so callers can distinguish "absent" from "empty".
func CloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// CloneStringMap returns a shallow copy of a string-valued map.
func CloneStringMap(src map[string]string) map[string]string {
	if src == nil {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
