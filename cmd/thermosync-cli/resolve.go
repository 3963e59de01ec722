package main

import (
	"fmt"
	"sort"
	"strings"
)

// resolveDeviceID matches input against known ids, exactly or by a unique
// case-insensitive prefix.
func resolveDeviceID(input string, ids []string) (string, error) {
	needle := strings.ToLower(strings.TrimSpace(input))
	if needle == "" {
		return "", fmt.Errorf("device id is required")
	}
	var matches []string
	for _, id := range ids {
		lower := strings.ToLower(id)
		if lower == needle {
			return id, nil
		}
		if strings.HasPrefix(lower, needle) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		available := append([]string(nil), ids...)
		sort.Strings(available)
		return "", fmt.Errorf("device %q not found. Available: %s", input, strings.Join(available, ", "))
	default:
		sort.Strings(matches)
		return "", fmt.Errorf("device %q is ambiguous: %s", input, strings.Join(matches, ", "))
	}
}
