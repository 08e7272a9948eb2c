package historydb

import (
	"context"
	"time"

	"github.com/airq-visualizer/backend/internal/refresh"
)

// Listener reindexes on every successful refresh of a controller.
func (idx *Index) Listener(timeout time.Duration) refresh.Listener {
	return func(res refresh.Result) error {
		if res.Err != nil || res.Snapshot == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_, err := idx.Replace(ctx, res.Seq, res.Snapshot)
		return err
	}
}
