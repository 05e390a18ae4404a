// README: Assignment writer; commits request and technician state changes with their audit rows.
package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fixit/internal/config"
	"fixit/internal/modules/catalog"
	"fixit/internal/modules/notify"
	"fixit/internal/modules/repair"
	"fixit/internal/modules/technician"
	"fixit/internal/types"
)

type Assigner struct {
	store    Store
	catalog  CatalogLookup
	notifier Notifier
	locker   Locker
	cfg      config.MatchingConfig
	logger   *zap.Logger
	now      func() time.Time
}

type AssignCommand struct {
	Request      *repair.Request
	TechnicianID types.ID
	EventType    string
	ActorType    string
	ActorID      *types.ID
	Content      string
	// WithSLA also stamps the SLA deadline (direct assignment).
	WithSLA bool
}

type CompleteCommand struct {
	RequestID    types.ID
	TechnicianID types.ID
	FinalCost    types.Money
}

type CancelCommand struct {
	RequestID types.ID
	ActorType string
	ActorID   *types.ID
	Reason    string
}

// Assign moves the request to assigned and the technician to busy inside tx.
// A technician who is no longer available yields ErrTechnicianUnavailable and
// the caller's transaction must be rolled back.
func (a *Assigner) Assign(ctx context.Context, tx Store, cmd AssignCommand) (*repair.Request, error) {
	req := cmd.Request
	if !repair.CanTransition(req.Status, repair.StatusAssigned) {
		return nil, fmt.Errorf("%w: cannot assign request in %s", ErrInvalidState, req.Status)
	}

	// The request row is written first: every writer that touches a request
	// together with its match or technician takes the request row lock first.
	now := a.now()
	techID := cmd.TechnicianID
	patch := repair.Patch{TechnicianID: &techID, At: now}
	if cmd.WithSLA {
		deadline := now.Add(a.cfg.SLAWindow())
		patch.SLADeadline = &deadline
	}
	ok, err := tx.UpdateRequestStatus(ctx, req.ID, req.Status, repair.StatusAssigned, req.StatusVersion, patch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}

	ok, err = tx.UpdateTechnicianStatus(ctx, cmd.TechnicianID,
		[]technician.Status{technician.StatusAvailable, technician.StatusOnline}, technician.StatusBusy)
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, err := tx.GetTechnician(ctx, cmd.TechnicianID); err != nil {
			return nil, notFound(err)
		}
		return nil, ErrTechnicianUnavailable
	}

	err = tx.AppendEvent(ctx, &repair.Event{
		RequestID:  req.ID,
		Type:       cmd.EventType,
		FromStatus: req.Status,
		ToStatus:   repair.StatusAssigned,
		Content:    cmd.Content,
		ActorType:  cmd.ActorType,
		ActorID:    cmd.ActorID,
		CreatedAt:  now,
	})
	if err != nil {
		return nil, err
	}

	out := *req
	out.Status = repair.StatusAssigned
	out.StatusVersion++
	out.TechnicianID = &techID
	out.AssignedAt = &now
	if patch.SLADeadline != nil {
		out.SLADeadline = patch.SLADeadline
	}
	return &out, nil
}

// Start records that the assigned technician began work.
func (a *Assigner) Start(ctx context.Context, requestID, technicianID types.ID) (*repair.Request, error) {
	var out *repair.Request
	err := a.store.InTx(ctx, func(tx Store) error {
		req, err := a.loadOwned(ctx, tx, requestID, technicianID)
		if err != nil {
			return err
		}
		if !repair.CanTransition(req.Status, repair.StatusInProgress) {
			return fmt.Errorf("%w: cannot start request in %s", ErrInvalidState, req.Status)
		}
		now := a.now()
		ok, err := tx.UpdateRequestStatus(ctx, req.ID, req.Status, repair.StatusInProgress, req.StatusVersion, repair.Patch{At: now})
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}
		if err := tx.AppendEvent(ctx, &repair.Event{
			RequestID:  req.ID,
			Type:       repair.EventStatusChange,
			FromStatus: req.Status,
			ToStatus:   repair.StatusInProgress,
			ActorType:  "technician",
			ActorID:    &technicianID,
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		req.Status = repair.StatusInProgress
		req.StatusVersion++
		req.StartedAt = &now
		out = req
		return nil
	})
	return out, err
}

// Complete closes the job, releases the technician, counts the job and
// issues the warranty.
func (a *Assigner) Complete(ctx context.Context, cmd CompleteCommand) (*repair.Request, *repair.Warranty, error) {
	current, err := a.store.GetRequest(ctx, cmd.RequestID)
	if err != nil {
		return nil, nil, notFound(err)
	}
	warrantyDays := a.warrantyDays(ctx, current.ServiceID)

	var out *repair.Request
	var warranty *repair.Warranty
	err = a.store.InTx(ctx, func(tx Store) error {
		req, err := a.loadOwned(ctx, tx, cmd.RequestID, cmd.TechnicianID)
		if err != nil {
			return err
		}
		if !repair.CanTransition(req.Status, repair.StatusCompleted) {
			return fmt.Errorf("%w: cannot complete request in %s", ErrInvalidState, req.Status)
		}

		now := a.now()
		cost := cmd.FinalCost
		ok, err := tx.UpdateRequestStatus(ctx, req.ID, req.Status, repair.StatusCompleted, req.StatusVersion, repair.Patch{At: now, FinalCost: &cost})
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}

		released, err := tx.FinishTechnicianJob(ctx, cmd.TechnicianID)
		if err != nil {
			return err
		}
		if !released {
			a.logger.Warn("technician was not busy at completion",
				zap.String("service_request_id", string(req.ID)),
				zap.String("technician_id", string(cmd.TechnicianID)),
			)
		}

		warranty = &repair.Warranty{
			ID:           types.NewID(),
			RequestID:    req.ID,
			TechnicianID: cmd.TechnicianID,
			FinalCost:    cost,
			StartsAt:     now,
			EndsAt:       now.AddDate(0, 0, warrantyDays),
		}
		if err := tx.CreateWarranty(ctx, warranty); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, &repair.Event{
			RequestID:  req.ID,
			Type:       repair.EventComplete,
			FromStatus: req.Status,
			ToStatus:   repair.StatusCompleted,
			Content:    fmt.Sprintf("final cost %s, warranty %d days", cost, warrantyDays),
			ActorType:  "technician",
			ActorID:    &cmd.TechnicianID,
			CreatedAt:  now,
		}); err != nil {
			return err
		}

		req.Status = repair.StatusCompleted
		req.StatusVersion++
		req.CompletedAt = &now
		req.FinalCost = &cost
		out = req
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	sendNotification(ctx, a.notifier, a.logger, out.RequesterID, notify.Event{Type: notify.EventRequestCompleted, RequestID: out.ID})
	return out, warranty, nil
}

// Cancel cancels the request, withdraws any live offer and returns an
// assigned technician to available.
func (a *Assigner) Cancel(ctx context.Context, cmd CancelCommand) (*repair.Request, error) {
	unlock, err := a.locker.Lock(ctx, requestLockKey(string(cmd.RequestID)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConflict, err)
	}
	defer unlock()

	var out *repair.Request
	var offered types.ID
	err = a.store.InTx(ctx, func(tx Store) error {
		req, err := tx.GetRequest(ctx, cmd.RequestID)
		if err != nil {
			return notFound(err)
		}
		if !repair.CanTransition(req.Status, repair.StatusCancelled) {
			return fmt.Errorf("%w: cannot cancel request in %s", ErrInvalidState, req.Status)
		}

		now := a.now()
		ok, err := tx.UpdateRequestStatus(ctx, req.ID, req.Status, repair.StatusCancelled, req.StatusVersion,
			repair.Patch{At: now, ClearTechnician: true})
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}

		pending, err := tx.PendingMatch(ctx, req.ID)
		if err != nil {
			return err
		}
		if pending != nil {
			if _, err := tx.UpdateMatchStatus(ctx, pending.ID, MatchPending, MatchExpired, nil, ""); err != nil {
				return err
			}
			offered = pending.TechnicianID
		}

		if req.TechnicianID != nil {
			if _, err := tx.UpdateTechnicianStatus(ctx, *req.TechnicianID,
				[]technician.Status{technician.StatusBusy}, technician.StatusAvailable); err != nil {
				return err
			}
		}

		if err := tx.AppendEvent(ctx, &repair.Event{
			RequestID:  req.ID,
			Type:       repair.EventCancel,
			FromStatus: req.Status,
			ToStatus:   repair.StatusCancelled,
			Content:    cmd.Reason,
			ActorType:  cmd.ActorType,
			ActorID:    cmd.ActorID,
			CreatedAt:  now,
		}); err != nil {
			return err
		}

		out = &repair.Request{}
		*out = *req
		out.Status = repair.StatusCancelled
		out.StatusVersion++
		out.CancelledAt = &now
		out.TechnicianID = nil
		if req.TechnicianID != nil {
			offered = *req.TechnicianID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if offered != "" {
		sendNotification(ctx, a.notifier, a.logger, offered, notify.Event{Type: notify.EventRequestCancelled, RequestID: out.ID})
	}
	return out, nil
}

func (a *Assigner) loadOwned(ctx context.Context, tx Store, requestID, technicianID types.ID) (*repair.Request, error) {
	req, err := tx.GetRequest(ctx, requestID)
	if err != nil {
		return nil, notFound(err)
	}
	if req.TechnicianID == nil || *req.TechnicianID != technicianID {
		return nil, ErrUnauthorized
	}
	return req, nil
}

func (a *Assigner) warrantyDays(ctx context.Context, serviceID *types.ID) int {
	if serviceID == nil {
		return catalog.DefaultWarrantyDays
	}
	entry, err := a.catalog.Get(ctx, *serviceID)
	if err != nil {
		if !errors.Is(err, catalog.ErrNotFound) {
			a.logger.Warn("catalog lookup failed, using default warranty", zap.String("service_id", string(*serviceID)), zap.Error(err))
		}
		return catalog.DefaultWarrantyDays
	}
	if entry.WarrantyDays <= 0 {
		return catalog.DefaultWarrantyDays
	}
	return entry.WarrantyDays
}
