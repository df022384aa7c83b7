package health

import (
	"context"
	"net/http"
	"runtime"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when the process runs more than threshold
// goroutines. Every checkout session holds one, so a leak shows up here.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// CapacityCheck fails when used() reaches limit. A zero limit never fails.
func CapacityCheck(used func() int, limit int) CheckFunc {
	return func(context.Context) error {
		if limit <= 0 {
			return nil
		}
		if n := used(); n >= limit {
			return errors.Errorf("%d of %d slots in use", n, limit)
		}
		return nil
	}
}

// HTTPCheck fails unless GET url answers 2xx.
func HTTPCheck(client *http.Client, url string) CheckFunc {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return errors.Wrap(err, "create request")
		}
		resp, err := client.Do(req)
		if err != nil {
			return errors.Wrap(err, "probe")
		}
		_ = resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return errors.Errorf("probe answered %d", resp.StatusCode)
		}
		return nil
	}
}
