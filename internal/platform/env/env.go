package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// String returns the raw value of key. A variable set to the empty string
// stays empty so deployments can blank out a default.
func String(key string, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func Duration(key string, def time.Duration) (time.Duration, error) {
	return parsed(key, def, time.ParseDuration)
}

func Bool(key string, def bool) (bool, error) {
	return parsed(key, def, strconv.ParseBool)
}

func Int(key string, def int) (int, error) {
	return parsed(key, def, strconv.Atoi)
}

// parsed falls back to def when key is unset or blank.
func parsed[T any](key string, def T, parse func(string) (T, error)) (T, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := parse(raw)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("parse %s=%q: %w", key, raw, err)
	}
	return v, nil
}

// CSV splits a comma separated value, dropping blanks and duplicates while
// keeping the original order and case.
func CSV(key string, def string) []string {
	raw := String(key, def)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
