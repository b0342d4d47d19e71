package deletion

import (
	"context"
	"fmt"

	"github.com/arencloud/bucketwarden/internal/logging"
	"github.com/arencloud/bucketwarden/internal/storage"
)

// Report describes how far a Clear call got.
type Report struct {
	Total   int    `json:"total"`
	Cleared int    `json:"cleared"`
	Failed  string `json:"failed,omitempty"`
}

// Resolver removes the access points that block deletion of a bucket.
type Resolver struct {
	gw     storage.Gateway
	logger logging.Logger
}

func NewResolver(gw storage.Gateway, logger logging.Logger) *Resolver {
	return &Resolver{gw: gw, logger: logger}
}

// Clear deletes every access point attached to bucket, one at a time. It
// stops at the first failure and leaves the remaining access points alone.
func (r *Resolver) Clear(ctx context.Context, bucket, accountID string) (Report, error) {
	deps := r.gw.ListDependents(ctx, bucket, accountID)
	rep := Report{Total: len(deps)}
	for _, d := range deps {
		if err := r.gw.DeleteDependent(ctx, d.Name, accountID); err != nil {
			rep.Failed = d.Name
			r.logger.Error("access point delete failed", "bucket", bucket, "accessPoint", d.Name, "cleared", rep.Cleared, "error", err)
			return rep, storage.E(storage.KindUnavailable, "clear access points",
				fmt.Sprintf("cleared %d of %d access point(s) on %q before %q failed", rep.Cleared, rep.Total, bucket, d.Name), err)
		}
		rep.Cleared++
		r.logger.Info("access point deleted", "bucket", bucket, "accessPoint", d.Name)
	}
	return rep, nil
}
