package group

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/PolarWolf314/muna/internal/cryptoprovider"
	"github.com/PolarWolf314/muna/internal/directory"
	kerrors "github.com/PolarWolf314/muna/internal/errors"

	"golang.org/x/sync/errgroup"
)

// RotateOptions tunes RotateGroupKey.
type RotateOptions struct {
	// Force creates a new epoch even when the latest one already covers
	// exactly the current members.
	Force bool
}

// RotationResult reports what a rotation did. When Pending is non-empty the
// epoch exists but some members have no copy of its key yet; Retry writes
// only those records.
type RotationResult struct {
	ConversationID string
	Epoch          int
	// Created is false when the latest epoch was reused.
	Created bool
	// Resumed is true when the latest epoch was reused and completed for
	// recipients whose record had never been stored.
	Resumed bool
	// Wrapped lists members whose record for Epoch is stored.
	Wrapped []string
	// Degraded lists members skipped because they have no usable published key.
	Degraded []string
	// Pending lists members whose record could not be stored.
	Pending []string
	// Attempts counts how often the rotation was computed.
	Attempts int

	mu      sync.Mutex
	pending []directory.ConversationKeyRecord
	c       *Coordinator
}

// Complete reports whether every resolvable member holds the epoch key.
func (r *RotationResult) Complete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending) == 0
}

// Retry stores the records that failed earlier. Records are never rewrapped.
// It returns an error matching ErrDirectoryOrStoreFailure if some remain pending.
func (r *RotationResult) Retry(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pending) == 0 {
		return nil
	}
	stored, failed := r.c.upsertAll(ctx, r.pending)
	r.Wrapped = sortedCopy(append(r.Wrapped, stored...))
	r.pending = failed
	r.Pending = pendingIDs(failed)

	r.c.log.Infof("Retried %d pending records for epoch %d of %s, %d still pending", len(stored)+len(failed), r.Epoch, r.ConversationID, len(failed))
	if len(failed) > 0 {
		return fmt.Errorf("%w: %d members still pending for epoch %d", kerrors.ErrDirectoryOrStoreFailure, len(failed), r.Epoch)
	}
	return nil
}

type rotationPlan struct {
	members  []string
	keys     []MemberKey
	degraded []string
	latest   int
}

// RotateGroupKey distributes a new epoch key to the conversation's current
// members. Prior epochs are never rewrapped or removed.
//
// When the latest epoch was issued to exactly the current members but some
// of their records were never stored, its key is wrapped for those members
// only and no new epoch is created.
//
// The plan is computed from a snapshot of membership and the latest epoch,
// wrapped in memory, then checked against a fresh snapshot before anything
// is written. If either changed the rotation is recomputed, up to the
// configured attempt limit.
func (c *Coordinator) RotateGroupKey(ctx context.Context, conversationID string, opts RotateOptions) (res *RotationResult, err error) {
	defer func() {
		if res != nil {
			c.metrics.ObserveRotation(err, len(res.Wrapped), len(res.Degraded), len(res.Pending))
		} else {
			c.metrics.ObserveRotation(err, 0, 0, 0)
		}
	}()

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		plan, err := c.plan(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if len(plan.members) == 0 {
			return nil, fmt.Errorf("%w: %s", kerrors.ErrEmptyMembership, conversationID)
		}
		if len(plan.keys) == 0 {
			return nil, fmt.Errorf("%w: no member of %s has a published key", kerrors.ErrRecipientKeyUnavailable, conversationID)
		}

		if !opts.Force && plan.latest > 0 {
			state, err := c.inspectEpoch(ctx, conversationID, plan.latest, plan.keys)
			if err != nil {
				return nil, err
			}
			if state.reusable && len(state.missing) == 0 {
				c.log.Infof("Epoch %d of %s already covers every member", plan.latest, conversationID)
				return &RotationResult{
					ConversationID: conversationID,
					Epoch:          plan.latest,
					Wrapped:        memberIDs(plan.keys),
					Degraded:       plan.degraded,
					Attempts:       attempt,
					c:              c,
				}, nil
			}
			if state.reusable {
				result, err := c.completeEpoch(ctx, conversationID, plan, state, attempt)
				switch {
				case errors.Is(err, errStalePlan):
					c.log.Warnf("Membership or epoch of %s changed during rotation, recomputing (attempt %d of %d)", conversationID, attempt, c.maxAttempts)
					continue
				case err == nil:
					return result, nil
				case errors.Is(err, kerrors.ErrKeyVersionMissing),
					errors.Is(err, kerrors.ErrNoLocalIdentity),
					errors.Is(err, kerrors.ErrUnwrapFailed):
					c.log.Warnf("Cannot recover the key of epoch %d of %s (%v), issuing a new epoch", plan.latest, conversationID, err)
				default:
					return nil, err
				}
			}
		}

		epoch := plan.latest + 1
		records, err := c.newEpochRecords(ctx, conversationID, epoch, plan.keys)
		if err != nil {
			return nil, err
		}

		changed, err := c.changedSince(ctx, conversationID, plan)
		if err != nil {
			return nil, err
		}
		if changed {
			c.log.Warnf("Membership or epoch of %s changed during rotation, recomputing (attempt %d of %d)", conversationID, attempt, c.maxAttempts)
			continue
		}

		stored, failed := c.upsertAll(ctx, records)
		result := &RotationResult{
			ConversationID: conversationID,
			Epoch:          epoch,
			Created:        true,
			Wrapped:        sortedCopy(stored),
			Degraded:       plan.degraded,
			Pending:        pendingIDs(failed),
			Attempts:       attempt,
			pending:        failed,
			c:              c,
		}
		if len(failed) > 0 {
			c.log.WarnfAlways("Epoch %d of %s is missing for %d members, retry to complete it", epoch, conversationID, len(failed))
		}
		return result, nil
	}

	return nil, fmt.Errorf("%w: gave up on %s after %d attempts", kerrors.ErrMembershipChanged, conversationID, c.maxAttempts)
}

func (c *Coordinator) plan(ctx context.Context, conversationID string) (rotationPlan, error) {
	members, err := c.currentMembers(ctx, conversationID)
	if err != nil {
		return rotationPlan{}, err
	}
	latest, err := c.latestEpoch(ctx, conversationID)
	if err != nil {
		return rotationPlan{}, fmt.Errorf("reading latest epoch of %s: %w", conversationID, err)
	}
	keys, degraded, err := c.ResolveMembers(ctx, members)
	if err != nil {
		return rotationPlan{}, err
	}
	return rotationPlan{members: members, keys: keys, degraded: degraded, latest: latest}, nil
}

func (c *Coordinator) changedSince(ctx context.Context, conversationID string, plan rotationPlan) (bool, error) {
	members, err := c.currentMembers(ctx, conversationID)
	if err != nil {
		return false, err
	}
	latest, err := c.latestEpoch(ctx, conversationID)
	if err != nil {
		return false, fmt.Errorf("reading latest epoch of %s: %w", conversationID, err)
	}
	return latest != plan.latest || !equalStrings(members, plan.members), nil
}

var errStalePlan = errors.New("rotation plan is stale")

// epochState describes how the latest epoch relates to the current members.
type epochState struct {
	// reusable is true when the epoch was issued to exactly the current
	// members and every stored record is wrapped to the member's current
	// identity key version.
	reusable bool
	// held lists members with a stored record.
	held []string
	// missing lists recipients whose record was never stored.
	missing    []MemberKey
	recipients []string
}

func (c *Coordinator) inspectEpoch(ctx context.Context, conversationID string, epoch int, keys []MemberKey) (epochState, error) {
	var records []directory.ConversationKeyRecord
	err := c.policy.Do(ctx, func() error {
		r, err := c.store.ListEpoch(ctx, conversationID, epoch)
		records = r
		return err
	})
	if err != nil {
		return epochState{}, fmt.Errorf("listing epoch %d of %s: %w", epoch, conversationID, err)
	}
	if len(records) == 0 {
		return epochState{}, nil
	}

	current := make(map[string]int, len(keys))
	for _, k := range keys {
		current[k.UserID] = k.KeyVersion
	}
	have := make(map[string]bool, len(records))
	intended := make(map[string]bool)
	for _, rec := range records {
		if v, ok := current[rec.UserID]; !ok || v != rec.KeyVersion {
			return epochState{}, nil
		}
		have[rec.UserID] = true
		for _, id := range rec.Recipients {
			intended[id] = true
		}
	}
	for id := range intended {
		if _, ok := current[id]; !ok {
			return epochState{}, nil
		}
	}

	state := epochState{reusable: true}
	for _, k := range keys {
		switch {
		case have[k.UserID]:
			state.held = append(state.held, k.UserID)
		case intended[k.UserID]:
			state.missing = append(state.missing, k)
		default:
			// Joined after the epoch was issued.
			return epochState{}, nil
		}
	}
	state.recipients = memberIDs(keys)
	return state, nil
}

// completeEpoch wraps the latest epoch's key for the recipients that never
// received it. Records already stored are left untouched.
func (c *Coordinator) completeEpoch(ctx context.Context, conversationID string, plan rotationPlan, state epochState, attempt int) (*RotationResult, error) {
	epochKey, err := c.EpochKey(ctx, conversationID, plan.latest)
	if err != nil {
		return nil, err
	}
	defer cryptoprovider.Wipe(epochKey)

	records, err := c.wrapRecords(ctx, conversationID, plan.latest, epochKey, state.missing, state.recipients)
	if err != nil {
		return nil, err
	}
	changed, err := c.changedSince(ctx, conversationID, plan)
	if err != nil {
		return nil, err
	}
	if changed {
		return nil, errStalePlan
	}

	stored, failed := c.upsertAll(ctx, records)
	c.log.Infof("Completed epoch %d of %s for %d of %d missing members", plan.latest, conversationID, len(stored), len(records))
	if len(failed) > 0 {
		c.log.WarnfAlways("Epoch %d of %s is missing for %d members, retry to complete it", plan.latest, conversationID, len(failed))
	}
	return &RotationResult{
		ConversationID: conversationID,
		Epoch:          plan.latest,
		Resumed:        true,
		Wrapped:        sortedCopy(append(append([]string(nil), state.held...), stored...)),
		Degraded:       plan.degraded,
		Pending:        pendingIDs(failed),
		Attempts:       attempt,
		pending:        failed,
		c:              c,
	}, nil
}

func (c *Coordinator) newEpochRecords(ctx context.Context, conversationID string, epoch int, keys []MemberKey) ([]directory.ConversationKeyRecord, error) {
	epochKey, err := c.provider().NewKey()
	if err != nil {
		return nil, err
	}
	defer cryptoprovider.Wipe(epochKey)
	return c.wrapRecords(ctx, conversationID, epoch, epochKey, keys, memberIDs(keys))
}

func (c *Coordinator) wrapRecords(ctx context.Context, conversationID string, epoch int, epochKey []byte, keys []MemberKey, recipients []string) ([]directory.ConversationKeyRecord, error) {
	now := c.now().UTC()
	records := make([]directory.ConversationKeyRecord, len(keys))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, k := range keys {
		g.Go(func() error {
			wrapped, err := c.cipher.Wrap(k.PublicKey, epochKey)
			if err != nil {
				return fmt.Errorf("wrapping epoch %d for %s: %w", epoch, k.UserID, err)
			}
			records[i] = directory.ConversationKeyRecord{
				ConversationID: conversationID,
				UserID:         k.UserID,
				WrappedKey:     wrapped,
				KeyVersion:     k.KeyVersion,
				Epoch:          epoch,
				Recipients:     recipients,
				CreatedAt:      now,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

// upsertAll writes every record with bounded concurrency. Each record is
// retried independently, and one member's failure never cancels the others.
func (c *Coordinator) upsertAll(ctx context.Context, records []directory.ConversationKeyRecord) (stored []string, failed []directory.ConversationKeyRecord) {
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, c.concurrency)

	for _, rec := range records {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			err := c.policy.Do(ctx, func() error {
				return c.store.Upsert(ctx, rec)
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.log.Debugf("Storing epoch %d key for %s failed: %v", rec.Epoch, rec.UserID, err)
				failed = append(failed, rec)
				return
			}
			stored = append(stored, rec.UserID)
		}()
	}
	wg.Wait()
	return stored, failed
}

func memberIDs(keys []MemberKey) []string {
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = k.UserID
	}
	return sortedCopy(ids)
}

func pendingIDs(records []directory.ConversationKeyRecord) []string {
	if len(records) == 0 {
		return nil
	}
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.UserID
	}
	return sortedCopy(ids)
}
