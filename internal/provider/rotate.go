package provider

import (
	"context"
	"strings"
)

// Execute runs attempt once per key in caller-supplied order, rotating past
// classified failures (auth, rate limit, server, transport). Any other error
// is terminal for the whole call, as is the first success. The executor holds
// no state across calls; callers that want fresh keys fetch them per call.
func Execute[T any](ctx context.Context, keys []string, attempt func(ctx context.Context, key string) (T, error)) (T, error) {
	var zero T

	ordered := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			ordered = append(ordered, k)
		}
	}
	if len(ordered) == 0 {
		return zero, ErrNoCredentials
	}

	var last error
	for _, key := range ordered {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		out, err := attempt(ctx, key)
		if err == nil {
			return out, nil
		}
		if !rotatable(err) {
			return zero, err
		}
		last = err
	}
	return zero, &ExhaustedError{Attempts: len(ordered), Last: last}
}
