// Package deletion removes buckets together with the access points that can
// block their removal.
//
// Two workflows exist. Delete never touches access points: when the provider
// refuses because some are attached, it reports their names and stops.
// ForceDelete clears the access points one by one and then removes the
// bucket; it is fail-stop, so a failure while clearing leaves the bucket in
// place.
//
// Both workflows run as a small state machine. Every state is a step function
// returning the next state, and every failure ends in the Failed state with
// the error that caused it, so each exit path can be enumerated and tested.
package deletion

import (
	"context"
	"fmt"
	"strings"

	"github.com/arencloud/bucketwarden/internal/logging"
	"github.com/arencloud/bucketwarden/internal/naming"
	"github.com/arencloud/bucketwarden/internal/storage"
)

// State is a step of a deletion workflow.
type State string

const (
	RequireAccount    State = "RequireAccount"
	CheckEmpty        State = "CheckEmpty"
	AttemptDelete     State = "AttemptDelete"
	NeedDependentInfo State = "NeedDependentInfo"
	ReportBlocked     State = "ReportBlocked"
	ClearDependents   State = "ClearDependents"
	DeleteResource    State = "DeleteResource"
	Done              State = "Done"
	Failed            State = "Failed"
)

// Outcome is the per-call result of a deletion workflow. It is never stored.
type Outcome struct {
	Bucket     string       `json:"bucket"`
	Forced     bool         `json:"forced"`
	Success    bool         `json:"success"`
	Kind       storage.Kind `json:"kind,omitempty"`
	Message    string       `json:"message"`
	Dependents []string     `json:"dependents,omitempty"`
	Removed    int          `json:"removed"`
	Trail      []State      `json:"trail"`
}

type run struct {
	bucket string
	forced bool
	out    Outcome
	deps   []string
	err    error
}

func (r *run) fail(err error) State {
	r.err = err
	return Failed
}

type step func(ctx context.Context, r *run) State

// Orchestrator composes the gateway and the resolver into the plain and
// forced deletion workflows.
type Orchestrator struct {
	gw        storage.Gateway
	resolver  *Resolver
	accountID string
	logger    logging.Logger
	steps     map[State]step
}

// New builds an Orchestrator. accountID may be empty, in which case only
// buckets without access points can be deleted.
func New(gw storage.Gateway, accountID string, logger logging.Logger) *Orchestrator {
	o := &Orchestrator{
		gw:        gw,
		resolver:  NewResolver(gw, logger),
		accountID: accountID,
		logger:    logger,
	}
	o.steps = map[State]step{
		RequireAccount:    o.requireAccount,
		CheckEmpty:        o.checkEmpty,
		AttemptDelete:     o.attemptDelete,
		NeedDependentInfo: o.needDependentInfo,
		ReportBlocked:     o.reportBlocked,
		ClearDependents:   o.clearDependents,
		DeleteResource:    o.deleteResource,
	}
	return o
}

// Delete removes an empty bucket that has no access points. When access
// points block the removal the error is KindHasDependents and carries their
// names; nothing is deleted.
func (o *Orchestrator) Delete(ctx context.Context, bucket string) (Outcome, error) {
	return o.execute(ctx, bucket, false, CheckEmpty)
}

// ForceDelete removes every access point of an empty bucket and then the
// bucket itself.
func (o *Orchestrator) ForceDelete(ctx context.Context, bucket string) (Outcome, error) {
	return o.execute(ctx, bucket, true, RequireAccount)
}

func (o *Orchestrator) execute(ctx context.Context, bucket string, forced bool, start State) (Outcome, error) {
	r := &run{bucket: bucket, forced: forced, out: Outcome{Bucket: bucket, Forced: forced, Trail: []State{}}}
	state := start
	if err := naming.Bucket(bucket); err != nil {
		state = r.fail(err)
	}
	for state != Done && state != Failed {
		r.out.Trail = append(r.out.Trail, state)
		fn, ok := o.steps[state]
		if !ok {
			state = r.fail(storage.Errorf(storage.KindUnavailable, "delete bucket", "no step for state %s", state))
			break
		}
		next := fn(ctx, r)
		o.logger.Debug("bucket delete transition", "bucket", bucket, "forced", forced, "from", state, "to", next)
		state = next
	}
	r.out.Trail = append(r.out.Trail, state)

	if state == Done {
		r.out.Success = true
		o.logger.Info("bucket deleted", "bucket", bucket, "forced", forced, "accessPointsRemoved", r.out.Removed)
		return r.out, nil
	}
	r.out.Kind = storage.KindOf(r.err)
	r.out.Message = storage.MessageOf(r.err)
	r.out.Dependents = storage.DependentsOf(r.err)
	o.logger.Error("bucket delete failed", "bucket", bucket, "forced", forced, "kind", r.out.Kind, "error", r.err)
	return r.out, r.err
}

func (o *Orchestrator) requireAccount(ctx context.Context, r *run) State {
	if o.accountID == "" {
		return r.fail(storage.Errorf(storage.KindConfigMissing, "force delete bucket",
			"an account id must be configured to remove access points of %q", r.bucket))
	}
	return CheckEmpty
}

func (o *Orchestrator) checkEmpty(ctx context.Context, r *run) State {
	has, err := storage.HasItems(ctx, o.gw, r.bucket)
	if err != nil {
		return r.fail(err)
	}
	if has {
		return r.fail(storage.Errorf(storage.KindNotEmpty, "delete bucket",
			"bucket %q is not empty; delete its objects first", r.bucket))
	}
	if r.forced {
		return ClearDependents
	}
	return AttemptDelete
}

func (o *Orchestrator) attemptDelete(ctx context.Context, r *run) State {
	err := o.gw.DeleteResource(ctx, r.bucket)
	switch {
	case err == nil:
		r.out.Message = fmt.Sprintf("Bucket %q deleted", r.bucket)
		return Done
	case storage.KindOf(err) == storage.KindHasDependents:
		return NeedDependentInfo
	default:
		return r.fail(err)
	}
}

func (o *Orchestrator) needDependentInfo(ctx context.Context, r *run) State {
	if o.accountID == "" {
		return r.fail(storage.Errorf(storage.KindConfigMissing, "delete bucket",
			"bucket %q has access points attached and no account id is configured to list them", r.bucket))
	}
	deps := o.gw.ListDependents(ctx, r.bucket, o.accountID)
	if len(deps) == 0 {
		return r.fail(storage.Errorf(storage.KindUnavailable, "delete bucket",
			"provider reports access points on %q but none could be listed", r.bucket))
	}
	r.deps = make([]string, 0, len(deps))
	for _, d := range deps {
		r.deps = append(r.deps, d.Name)
	}
	return ReportBlocked
}

func (o *Orchestrator) reportBlocked(ctx context.Context, r *run) State {
	return r.fail(&storage.Error{
		Kind: storage.KindHasDependents,
		Op:   "delete bucket",
		Message: fmt.Sprintf("bucket %q has %d access point(s) attached: %s; use forced delete to remove them",
			r.bucket, len(r.deps), strings.Join(r.deps, ", ")),
		Dependents: r.deps,
	})
}

func (o *Orchestrator) clearDependents(ctx context.Context, r *run) State {
	rep, err := o.resolver.Clear(ctx, r.bucket, o.accountID)
	r.out.Removed = rep.Cleared
	if err != nil {
		return r.fail(err)
	}
	return DeleteResource
}

func (o *Orchestrator) deleteResource(ctx context.Context, r *run) State {
	if err := o.gw.DeleteResource(ctx, r.bucket); err != nil {
		return r.fail(err)
	}
	r.out.Message = fmt.Sprintf("Bucket %q deleted after removing %d access point(s)", r.bucket, r.out.Removed)
	return Done
}
