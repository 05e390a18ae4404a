// README: Match orchestrator; offer/accept flow, direct auto-assignment and the expiry sweep.
package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fixit/internal/config"
	"fixit/internal/modules/catalog"
	"fixit/internal/modules/location"
	"fixit/internal/modules/notify"
	"fixit/internal/modules/repair"
	"fixit/internal/modules/technician"
	"fixit/internal/types"
)

const expirySweepBatch = 100

type Service struct {
	store    Store
	catalog  CatalogLookup
	notifier Notifier
	locker   Locker
	arrival  ArrivalEstimator
	nearby   NearbyIndex
	assigner *Assigner
	cfg      config.MatchingConfig
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithLocker(l Locker) Option { return func(s *Service) { s.locker = l } }

func WithArrivalEstimator(a ArrivalEstimator) Option { return func(s *Service) { s.arrival = a } }

// WithNearbyIndex enables a geo prefilter for radius-policy candidate loading.
func WithNearbyIndex(n NearbyIndex) Option { return func(s *Service) { s.nearby = n } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService rejects a config that would break ranking or expiry arithmetic.
func NewService(store Store, cat CatalogLookup, cfg config.MatchingConfig, logger *zap.Logger, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		store:    store,
		catalog:  cat,
		notifier: notify.Nop{},
		locker:   NewLocalLocker(),
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.assigner = &Assigner{
		store:    store,
		catalog:  cat,
		notifier: s.notifier,
		locker:   s.locker,
		cfg:      cfg,
		logger:   logger,
		now:      s.now,
	}
	return s, nil
}

// Assigner returns the writer sharing this service's store, clock and locks.
func (s *Service) Assigner() *Assigner {
	return s.assigner
}

// StartAutoMatch offers the request to the best-ranked technician under the
// offer policy. Already-assigned requests, live offers and empty candidate
// sets are reported in the result, not as errors.
func (s *Service) StartAutoMatch(ctx context.Context, requestID types.ID) (StartResult, error) {
	unlock, err := s.locker.Lock(ctx, requestLockKey(string(requestID)))
	if err != nil {
		return StartResult{}, fmt.Errorf("%w: %v", ErrConflict, err)
	}
	defer unlock()

	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return StartResult{}, notFound(err)
	}
	if req.TechnicianID != nil {
		return StartResult{Success: false, Reason: ReasonAlreadyAssigned}, nil
	}
	switch req.Status {
	case repair.StatusRequested:
	case repair.StatusAssigning:
		return StartResult{Success: false, Reason: ReasonMatchInProgress}, nil
	default:
		return StartResult{}, fmt.Errorf("%w: request is %s", ErrInvalidState, req.Status)
	}

	live, err := s.livePending(ctx, requestID)
	if err != nil {
		return StartResult{}, err
	}
	if live != nil {
		return s.inProgress(live), nil
	}

	policy := Policy(s.cfg.OfferPolicy)
	ranked, err := s.rank(ctx, req, policy)
	if err != nil {
		return StartResult{}, err
	}
	if len(ranked) == 0 {
		s.logger.Info("no eligible technician",
			zap.String("service_request_id", string(requestID)),
			zap.String("policy", string(policy)),
		)
		return StartResult{Success: false, Reason: ReasonNoEligible, EligibleCount: 0}, nil
	}

	top := ranked[0]
	m := s.newMatch(req.ID, top.Technician.ID, top.Score.Total, policy, backupsOf(Top(ranked, s.cfg.BackupCandidates)[1:]))
	if err := s.store.CreateMatch(ctx, m); err != nil {
		if errors.Is(err, ErrPendingExists) {
			existing, getErr := s.store.PendingMatch(ctx, requestID)
			if getErr == nil && existing != nil {
				return s.inProgress(existing), nil
			}
			return StartResult{Success: false, Reason: ReasonMatchInProgress}, nil
		}
		return StartResult{}, err
	}

	s.logger.Info("match offered",
		zap.String("service_request_id", string(req.ID)),
		zap.String("match_id", string(m.ID)),
		zap.String("technician_id", string(m.TechnicianID)),
		zap.Float64("priority", m.Priority),
		zap.Int("eligible", len(ranked)),
	)
	s.notifyOffer(ctx, m)

	expires := m.ExpiresAt
	return StartResult{
		Success:       true,
		MatchID:       m.ID,
		TechnicianID:  m.TechnicianID,
		Priority:      m.Priority,
		ExpiresAt:     &expires,
		EligibleCount: len(ranked),
		Candidates:    candidates(Top(ranked, s.cfg.BackupCandidates)),
	}, nil
}

// AcceptMatch commits the offer: the match, the request and the technician
// change together or not at all.
func (s *Service) AcceptMatch(ctx context.Context, matchID, technicianID types.ID) (*Match, error) {
	m, err := s.guardResponse(ctx, matchID, technicianID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, requestLockKey(string(m.ServiceRequestID)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConflict, err)
	}
	defer unlock()

	now := s.now()
	var assigned *repair.Request
	err = s.store.InTx(ctx, func(tx Store) error {
		req, err := tx.GetRequest(ctx, m.ServiceRequestID)
		if err != nil {
			return notFound(err)
		}
		assigned, err = s.assigner.Assign(ctx, tx, AssignCommand{
			Request:      req,
			TechnicianID: technicianID,
			EventType:    repair.EventMatchAccept,
			ActorType:    "technician",
			ActorID:      &technicianID,
			Content:      fmt.Sprintf("match %s accepted", m.ID),
		})
		if err != nil {
			return err
		}
		ok, err := tx.UpdateMatchStatus(ctx, m.ID, MatchPending, MatchAccepted, &now, "")
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: match already resolved", ErrInvalidState)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.Status = MatchAccepted
	m.RespondedAt = &now
	s.logger.Info("match accepted",
		zap.String("match_id", string(m.ID)),
		zap.String("service_request_id", string(m.ServiceRequestID)),
		zap.String("technician_id", string(technicianID)),
	)
	s.send(ctx, assigned.RequesterID, notify.Event{
		Type:      notify.EventMatchAccepted,
		RequestID: m.ServiceRequestID,
		MatchID:   m.ID,
		Data:      map[string]string{"technician_id": string(technicianID)},
	})
	return m, nil
}

// RejectMatch records the refusal and re-offers the request to the next
// backup that is still matchable.
func (s *Service) RejectMatch(ctx context.Context, matchID, technicianID types.ID, reason string) (RejectResult, error) {
	m, err := s.guardResponse(ctx, matchID, technicianID)
	if err != nil {
		return RejectResult{}, err
	}

	unlock, err := s.locker.Lock(ctx, requestLockKey(string(m.ServiceRequestID)))
	if err != nil {
		return RejectResult{}, fmt.Errorf("%w: %v", ErrConflict, err)
	}
	defer unlock()

	now := s.now()
	ok, err := s.store.UpdateMatchStatus(ctx, m.ID, MatchPending, MatchRejected, &now, reason)
	if err != nil {
		return RejectResult{}, err
	}
	if !ok {
		return RejectResult{}, fmt.Errorf("%w: match already resolved", ErrInvalidState)
	}
	s.logger.Info("match rejected",
		zap.String("match_id", string(m.ID)),
		zap.String("technician_id", string(technicianID)),
		zap.String("reason", reason),
	)
	if req, err := s.store.GetRequest(ctx, m.ServiceRequestID); err == nil {
		s.send(ctx, req.RequesterID, notify.Event{
			Type:      notify.EventMatchRejected,
			RequestID: m.ServiceRequestID,
			MatchID:   m.ID,
			Data:      map[string]string{"technician_id": string(technicianID)},
		})
	}

	next, err := s.reoffer(ctx, m, true)
	if err != nil {
		// the rejection itself is committed; a failed re-offer leaves the request searching
		s.logger.Error("re-offer failed", zap.String("match_id", string(m.ID)), zap.Error(err))
		return RejectResult{Success: true}, nil
	}
	res := RejectResult{Success: true}
	if next != nil {
		res.NextMatchID = next.ID
		res.NextTechnicianID = next.TechnicianID
	}
	return res, nil
}

// GetMatchStatus derives the requester-facing view. An expired pending
// match counts as no match; a cancelled request reports CANCELLED.
func (s *Service) GetMatchStatus(ctx context.Context, requestID types.ID) (StatusView, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return StatusView{}, notFound(err)
	}
	view := StatusView{State: ViewSearching, RequestID: req.ID, RequestStatus: req.Status}

	if req.TechnicianID != nil {
		view.State = ViewMatched
		if acc, err := s.store.AcceptedMatch(ctx, requestID); err != nil {
			return StatusView{}, err
		} else if acc != nil {
			view.MatchID = acc.ID
		}
		tech, err := s.store.GetTechnician(ctx, *req.TechnicianID)
		if err != nil {
			return StatusView{}, notFound(err)
		}
		summary := tech.Summary()
		view.Technician = &summary
		if tech.Location != nil && req.Status == repair.StatusAssigned {
			minutes := s.arrivalMinutes(ctx, *tech.Location, req.Location)
			arrival := s.now().Add(time.Duration(minutes) * time.Minute)
			view.ETAMinutes = &minutes
			view.EstimatedArrival = &arrival
		}
		return view, nil
	}
	if req.Status == repair.StatusCancelled {
		view.State = ViewCancelled
		return view, nil
	}

	pending, err := s.store.PendingMatch(ctx, requestID)
	if err != nil {
		return StatusView{}, err
	}
	if pending != nil && pending.Live(s.now()) {
		tech, err := s.store.GetTechnician(ctx, pending.TechnicianID)
		if err != nil {
			return StatusView{}, notFound(err)
		}
		summary := tech.Summary()
		expires := pending.ExpiresAt
		view.State = ViewNotifying
		view.MatchID = pending.ID
		view.Technician = &summary
		view.ExpiresAt = &expires
	}
	return view, nil
}

// Request loads a service request; handlers use it for ownership checks.
func (s *Service) Request(ctx context.Context, requestID types.ID) (*repair.Request, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, notFound(err)
	}
	return req, nil
}

// PendingMatchesForTechnician lists the live offers addressed to a technician.
func (s *Service) PendingMatchesForTechnician(ctx context.Context, technicianID types.ID) ([]EnrichedMatch, error) {
	tech, err := s.store.GetTechnician(ctx, technicianID)
	if err != nil {
		return nil, notFound(err)
	}
	matches, err := s.store.ListPendingByTechnician(ctx, technicianID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]EnrichedMatch, 0, len(matches))
	for _, m := range matches {
		if !m.Live(now) {
			continue
		}
		req, err := s.store.GetRequest(ctx, m.ServiceRequestID)
		if err != nil {
			return nil, notFound(err)
		}
		em := EnrichedMatch{Match: m, Request: req.Summary()}
		if tech.Location != nil {
			d := location.Distance(*tech.Location, req.Location)
			em.DistanceKm = &d
		}
		out = append(out, em)
	}
	return out, nil
}

// AutoAssignTechnician assigns the best technician under the direct policy
// without an offer step: requested -> assigning -> assigned, or back to
// requested when nobody qualifies.
func (s *Service) AutoAssignTechnician(ctx context.Context, requestID types.ID) (AssignResult, error) {
	unlock, err := s.locker.Lock(ctx, requestLockKey(string(requestID)))
	if err != nil {
		return AssignResult{}, fmt.Errorf("%w: %v", ErrConflict, err)
	}
	defer unlock()

	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return AssignResult{}, notFound(err)
	}
	if req.TechnicianID != nil {
		return AssignResult{Success: false, Reason: ReasonAlreadyAssigned}, nil
	}
	switch req.Status {
	case repair.StatusRequested:
	case repair.StatusAssigning:
		return AssignResult{Success: false, Reason: ReasonMatchInProgress}, nil
	default:
		return AssignResult{}, fmt.Errorf("%w: request is %s", ErrInvalidState, req.Status)
	}
	live, err := s.livePending(ctx, requestID)
	if err != nil {
		return AssignResult{}, err
	}
	if live != nil {
		return AssignResult{Success: false, Reason: ReasonMatchInProgress}, nil
	}

	ok, err := s.store.UpdateRequestStatus(ctx, req.ID, repair.StatusRequested, repair.StatusAssigning, req.StatusVersion, repair.Patch{At: s.now()})
	if err != nil {
		return AssignResult{}, err
	}
	if !ok {
		return AssignResult{}, ErrConflict
	}
	req.Status = repair.StatusAssigning
	req.StatusVersion++

	policy := Policy(s.cfg.DirectPolicy)
	ranked, err := s.rank(ctx, req, policy)
	if err != nil {
		s.revertAssigning(ctx, req, "ranking failed")
		return AssignResult{}, err
	}
	top := Top(ranked, s.cfg.BackupCandidates)

	for _, cand := range top {
		var assigned *repair.Request
		err := s.store.InTx(ctx, func(tx Store) error {
			var err error
			assigned, err = s.assigner.Assign(ctx, tx, AssignCommand{
				Request:      req,
				TechnicianID: cand.Technician.ID,
				EventType:    repair.EventAutoAssign,
				ActorType:    "system",
				Content:      fmt.Sprintf("auto-assigned (score %.2f, eta %d min)", cand.Score.Total, cand.ETAMinutes),
				WithSLA:      true,
			})
			return err
		})
		if errors.Is(err, ErrTechnicianUnavailable) {
			s.logger.Info("candidate became unavailable, trying next",
				zap.String("service_request_id", string(req.ID)),
				zap.String("technician_id", string(cand.Technician.ID)),
			)
			continue
		}
		if err != nil {
			s.revertAssigning(ctx, req, "assignment failed")
			return AssignResult{}, err
		}

		s.logger.Info("technician auto-assigned",
			zap.String("service_request_id", string(req.ID)),
			zap.String("technician_id", string(cand.Technician.ID)),
			zap.Float64("score", cand.Score.Total),
		)
		s.send(ctx, assigned.RequesterID, notify.Event{
			Type:      notify.EventTechnicianAssigned,
			RequestID: req.ID,
			Data:      map[string]string{"technician_id": string(cand.Technician.ID)},
		})
		s.send(ctx, cand.Technician.ID, notify.Event{Type: notify.EventTechnicianAssigned, RequestID: req.ID})
		return AssignResult{
			Success:       true,
			Request:       assigned,
			TechnicianID:  cand.Technician.ID,
			SLADeadline:   assigned.SLADeadline,
			EligibleCount: len(ranked),
			Candidates:    candidates(top),
		}, nil
	}

	s.revertAssigning(ctx, req, "no eligible technician")
	s.send(ctx, req.RequesterID, notify.Event{Type: notify.EventNoTechnician, RequestID: req.ID})
	return AssignResult{Success: false, Reason: ReasonNoEligible, EligibleCount: len(ranked)}, nil
}

// Dispatch routes a new request to the configured assignment mode.
func (s *Service) Dispatch(ctx context.Context, requestID types.ID) (DispatchResult, error) {
	if s.cfg.AutoAssignMode == config.ModeDirect {
		res, err := s.AutoAssignTechnician(ctx, requestID)
		if err != nil {
			return DispatchResult{}, err
		}
		return DispatchResult{Mode: config.ModeDirect, Assign: &res}, nil
	}
	res, err := s.StartAutoMatch(ctx, requestID)
	if err != nil {
		return DispatchResult{}, err
	}
	return DispatchResult{Mode: config.ModeOffer, Offer: &res}, nil
}

// ExpireStale marks overdue pending matches expired and re-offers each
// request to its next backup. It returns how many matches were expired.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	overdue, err := s.store.ListExpiredPending(ctx, s.now(), expirySweepBatch)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range overdue {
		m := &overdue[i]
		n, err := s.expireOne(ctx, m)
		if err != nil {
			return expired, err
		}
		expired += n
	}
	return expired, nil
}

func (s *Service) expireOne(ctx context.Context, m *Match) (int, error) {
	unlock, err := s.locker.Lock(ctx, requestLockKey(string(m.ServiceRequestID)))
	if err != nil {
		return 0, err
	}
	defer unlock()

	ok, _, err := s.expireLocked(ctx, m, true)
	if err != nil || !ok {
		return 0, err
	}
	return 1, nil
}

// expireLocked closes an overdue offer, tells the technician and hands the
// request to the next backup. announce controls whether an exhausted queue
// is reported to the requester. Callers hold the request lock.
func (s *Service) expireLocked(ctx context.Context, m *Match, announce bool) (bool, *Match, error) {
	ok, err := s.store.UpdateMatchStatus(ctx, m.ID, MatchPending, MatchExpired, nil, "")
	if err != nil || !ok {
		return false, nil, err
	}
	s.logger.Info("match expired",
		zap.String("match_id", string(m.ID)),
		zap.String("technician_id", string(m.TechnicianID)),
	)
	s.send(ctx, m.TechnicianID, notify.Event{Type: notify.EventMatchExpired, RequestID: m.ServiceRequestID, MatchID: m.ID})

	next, err := s.reoffer(ctx, m, announce)
	if err != nil {
		s.logger.Error("re-offer after expiry failed", zap.String("match_id", string(m.ID)), zap.Error(err))
		return true, nil, nil
	}
	return true, next, nil
}

// RunExpirySweeper runs ExpireStale on every tick until ctx is cancelled.
func (s *Service) RunExpirySweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.ExpireStale(ctx)
			if err != nil {
				s.logger.Warn("expiry sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("expiry sweep", zap.Int("expired", n))
			}
		}
	}
}

// reoffer walks the backup queue of a closed match and offers the request
// to the first technician who can still take work. Callers hold the
// request lock.
func (s *Service) reoffer(ctx context.Context, prev *Match, announce bool) (*Match, error) {
	req, err := s.store.GetRequest(ctx, prev.ServiceRequestID)
	if err != nil {
		return nil, notFound(err)
	}
	if req.TechnicianID != nil || req.Status != repair.StatusRequested {
		return nil, nil
	}

	for i, b := range prev.Backups {
		tech, err := s.store.GetTechnician(ctx, b.TechnicianID)
		if errors.Is(err, technician.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !tech.Status.Matchable() {
			continue
		}

		m := s.newMatch(req.ID, tech.ID, b.Score, prev.Policy, prev.Backups[i+1:])
		if err := s.store.CreateMatch(ctx, m); err != nil {
			if errors.Is(err, ErrPendingExists) {
				return nil, nil
			}
			return nil, err
		}
		s.logger.Info("match re-offered",
			zap.String("service_request_id", string(req.ID)),
			zap.String("previous_match_id", string(prev.ID)),
			zap.String("match_id", string(m.ID)),
			zap.String("technician_id", string(m.TechnicianID)),
		)
		s.notifyOffer(ctx, m)
		return m, nil
	}

	if announce {
		s.send(ctx, req.RequesterID, notify.Event{Type: notify.EventNoTechnician, RequestID: req.ID})
	}
	return nil, nil
}

// guardResponse loads a match and checks that technicianID may answer it.
func (s *Service) guardResponse(ctx context.Context, matchID, technicianID types.ID) (*Match, error) {
	m, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m.TechnicianID != technicianID {
		return nil, ErrUnauthorized
	}
	if m.Status != MatchPending {
		return nil, fmt.Errorf("%w: match is %s", ErrInvalidState, m.Status)
	}
	if !m.Live(s.now()) {
		return nil, fmt.Errorf("%w: offer expired", ErrInvalidState)
	}
	return m, nil
}

// livePending returns the live pending match of a request. An overdue one
// goes through the same expiry path as the sweeper, so the result may be
// the re-offer to its next backup. Callers hold the request lock.
func (s *Service) livePending(ctx context.Context, requestID types.ID) (*Match, error) {
	pending, err := s.store.PendingMatch(ctx, requestID)
	if err != nil || pending == nil {
		return nil, err
	}
	if pending.Live(s.now()) {
		return pending, nil
	}
	_, next, err := s.expireLocked(ctx, pending, false)
	return next, err
}

func (s *Service) rank(ctx context.Context, req *repair.Request, policy Policy) ([]Ranked, error) {
	techs, err := s.store.ListMatchableTechnicians(ctx)
	if err != nil {
		return nil, err
	}
	if policy == PolicyRadius {
		techs = s.prefilter(ctx, req, techs)
	}

	var skills []technician.Skill
	difficulty := catalog.DifficultyA
	if req.ServiceID != nil {
		skills, err = s.store.ListSkills(ctx, *req.ServiceID)
		if err != nil {
			return nil, err
		}
		if policy == PolicySLA {
			difficulty = s.difficulty(ctx, *req.ServiceID)
		}
	}

	eligible := FindEligible(req, techs, skills, difficulty, policy, s.cfg)
	return Rank(eligible, policy, s.cfg), nil
}

// prefilter drops technicians the geo index does not place near the
// request. The query radius is padded because the index measures on a
// slightly larger sphere; FindEligible applies the exact cutoff. Index
// failures and empty answers fall back to the full list.
func (s *Service) prefilter(ctx context.Context, req *repair.Request, techs []technician.Technician) []technician.Technician {
	if s.nearby == nil {
		return techs
	}
	ids, err := s.nearby.NearbyTechnicians(ctx, req.Location, prefilterRadius(s.cfg.RadiusKm))
	if err != nil {
		s.logger.Debug("geo prefilter unavailable", zap.Error(err))
		return techs
	}
	if len(ids) == 0 {
		s.logger.Debug("geo prefilter returned nothing, using full list",
			zap.String("service_request_id", string(req.ID)),
			zap.Int("candidates", len(techs)),
		)
		return techs
	}
	near := make(map[types.ID]struct{}, len(ids))
	for _, id := range ids {
		near[id] = struct{}{}
	}
	out := techs[:0:0]
	for _, t := range techs {
		if _, ok := near[t.ID]; ok {
			out = append(out, t)
		}
	}
	return out
}

func prefilterRadius(km float64) float64 {
	return km*1.001 + 0.01
}

func (s *Service) difficulty(ctx context.Context, serviceID types.ID) catalog.Difficulty {
	entry, err := s.catalog.Get(ctx, serviceID)
	if err != nil {
		s.logger.Warn("catalog lookup failed, assuming difficulty A",
			zap.String("service_id", string(serviceID)),
			zap.Error(err),
		)
		return catalog.DifficultyA
	}
	return entry.Difficulty
}

func (s *Service) arrivalMinutes(ctx context.Context, from, to types.Point) int {
	if s.arrival != nil {
		minutes, err := s.arrival.ArrivalMinutes(ctx, from, to)
		if err == nil {
			return minutes + s.cfg.DisplayPrepMinutes
		}
		s.logger.Debug("route estimate failed, using straight-line ETA", zap.Error(err))
	}
	return location.ETAMinutes(location.Distance(from, to), s.cfg.AverageSpeedKmh, s.cfg.DisplayPrepMinutes)
}

// revertAssigning returns a request stuck in assigning to requested and
// writes the audit row for the failed attempt.
func (s *Service) revertAssigning(ctx context.Context, req *repair.Request, why string) {
	now := s.now()
	err := s.store.InTx(ctx, func(tx Store) error {
		ok, err := tx.UpdateRequestStatus(ctx, req.ID, repair.StatusAssigning, repair.StatusRequested, req.StatusVersion, repair.Patch{At: now})
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}
		return tx.AppendEvent(ctx, &repair.Event{
			RequestID:  req.ID,
			Type:       repair.EventAutoAssign,
			FromStatus: repair.StatusAssigning,
			ToStatus:   repair.StatusRequested,
			Content:    why,
			ActorType:  "system",
			CreatedAt:  now,
		})
	})
	if err != nil {
		s.logger.Error("revert assigning failed", zap.String("service_request_id", string(req.ID)), zap.Error(err))
	}
}

func (s *Service) newMatch(requestID, technicianID types.ID, priority float64, policy Policy, backups []Backup) *Match {
	now := s.now()
	queue := make([]Backup, len(backups))
	copy(queue, backups)
	return &Match{
		ID:               types.NewID(),
		ServiceRequestID: requestID,
		TechnicianID:     technicianID,
		Status:           MatchPending,
		Policy:           policy,
		Priority:         priority,
		Backups:          queue,
		ExpiresAt:        now.Add(s.cfg.OfferTTL()),
		CreatedAt:        now,
	}
}

func (s *Service) inProgress(m *Match) StartResult {
	expires := m.ExpiresAt
	return StartResult{
		Success:      false,
		Reason:       ReasonMatchInProgress,
		MatchID:      m.ID,
		TechnicianID: m.TechnicianID,
		ExpiresAt:    &expires,
	}
}

func (s *Service) notifyOffer(ctx context.Context, m *Match) {
	s.send(ctx, m.TechnicianID, notify.Event{
		Type:      notify.EventMatchOffered,
		RequestID: m.ServiceRequestID,
		MatchID:   m.ID,
		Data:      map[string]string{"expires_at": m.ExpiresAt.UTC().Format(time.RFC3339)},
	})
}

// send is best-effort; delivery problems never change matching state.
func (s *Service) send(ctx context.Context, userID types.ID, ev notify.Event) {
	sendNotification(ctx, s.notifier, s.logger, userID, ev)
}

func sendNotification(ctx context.Context, n Notifier, logger *zap.Logger, userID types.ID, ev notify.Event) {
	if err := n.Notify(ctx, userID, ev); err != nil {
		logger.Warn("notify failed", zap.String("user_id", string(userID)), zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

func backupsOf(ranked []Ranked) []Backup {
	out := make([]Backup, len(ranked))
	for i, r := range ranked {
		out[i] = Backup{TechnicianID: r.Technician.ID, Score: r.Score.Total}
	}
	return out
}

// notFound folds the collaborators' not-found sentinels into ErrNotFound
// while keeping the original in the chain.
func notFound(err error) error {
	if errors.Is(err, repair.ErrNotFound) || errors.Is(err, technician.ErrNotFound) || errors.Is(err, catalog.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
