package scheduler

import (
	"context"
	"time"

	"github.com/bidpool/bidpool-api/internal/database"
	"github.com/bidpool/bidpool-api/internal/events"
	"github.com/bidpool/bidpool-api/internal/models"
	"github.com/bidpool/bidpool-api/internal/services"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sweeper is the deadline enforcement loop. Synchronous request paths
// re-validate deadlines themselves, so the sweeper only has to converge
// state eventually; a missed tick delays cleanup but never correctness.
type Sweeper struct {
	db             *database.DB
	groups         *services.GroupService
	acceptances    *services.AcceptanceService
	settlement     *services.SettlementService
	hub            *events.Hub
	logger         *zap.Logger
	interval       time.Duration
	grace          time.Duration
	paymentTimeout time.Duration
}

type Config struct {
	Interval       time.Duration
	Grace          time.Duration
	PaymentTimeout time.Duration
}

func NewSweeper(
	db *database.DB,
	groups *services.GroupService,
	acceptances *services.AcceptanceService,
	settlement *services.SettlementService,
	hub *events.Hub,
	logger *zap.Logger,
	cfg Config,
) *Sweeper {
	return &Sweeper{
		db:             db,
		groups:         groups,
		acceptances:    acceptances,
		settlement:     settlement,
		hub:            hub,
		logger:         logger,
		interval:       cfg.Interval,
		grace:          cfg.Grace,
		paymentTimeout: cfg.PaymentTimeout,
	}
}

// Run ticks until the context is cancelled. Each duty runs independently;
// one failing query is logged and retried next tick without blocking the
// others.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

func (s *Sweeper) Sweep(ctx context.Context) {
	if err := s.sweepFormationDeadlines(ctx); err != nil {
		s.logger.Error("formation deadline sweep failed", zap.Error(err))
	}
	if err := s.sweepAcceptanceDeadlines(ctx); err != nil {
		s.logger.Error("acceptance deadline sweep failed", zap.Error(err))
	}
	if err := s.sweepBidDeadlines(ctx); err != nil {
		s.logger.Error("bid deadline sweep failed", zap.Error(err))
	}
	if err := s.sweepPayments(ctx); err != nil {
		s.logger.Error("payment sweep failed", zap.Error(err))
	}
}

// sweepFormationDeadlines resolves forming groups whose formation window
// closed: groups that reached their minimum close, the rest dissolve.
func (s *Sweeper) sweepFormationDeadlines(ctx context.Context) error {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT id, current_members >= min_members
		FROM groups
		WHERE status = $1 AND formation_deadline <= NOW()
	`, models.GroupStatusForming)
	if err != nil {
		return err
	}

	type overdue struct {
		id     uuid.UUID
		viable bool
	}
	var groups []overdue
	for rows.Next() {
		var o overdue
		if err := rows.Scan(&o.id, &o.viable); err != nil {
			rows.Close()
			return err
		}
		groups = append(groups, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, g := range groups {
		if g.viable {
			group, err := s.groups.CloseFormation(ctx, g.id, uuid.Nil)
			if err != nil {
				s.logger.Warn("failed to close formation",
					zap.String("group_id", g.id.String()), zap.Error(err))
				continue
			}
			s.hub.Broadcast(group.ID, events.TypeFormationClosed, group)
			s.logger.Info("formation closed at deadline",
				zap.String("group_id", group.ID.String()),
				zap.Int("members", group.CurrentMembers))
			continue
		}

		result, err := s.groups.Dissolve(ctx, g.id, uuid.Nil, "formation deadline passed below minimum members")
		if err != nil {
			s.logger.Warn("failed to dissolve group",
				zap.String("group_id", g.id.String()), zap.Error(err))
			continue
		}
		s.settlement.Compensate(ctx, result.CancelledRefs)
		s.hub.Broadcast(result.Group.ID, events.TypeGroupDissolved, result.Group)
		s.logger.Info("group dissolved at formation deadline",
			zap.String("group_id", result.Group.ID.String()))
	}
	return nil
}

// sweepAcceptanceDeadlines expires open bids whose acceptance window closed.
// The grace period lets confirmations already in flight land before the bid
// is swept out from under them.
func (s *Sweeper) sweepAcceptanceDeadlines(ctx context.Context) error {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT id FROM group_bids
		WHERE status IN ($1, $2) AND acceptance_deadline <= $3
	`, models.BidStatusSubmitted, models.BidStatusActive, time.Now().Add(-s.grace))
	if err != nil {
		return err
	}

	var bidIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		bidIDs = append(bidIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, bidID := range bidIDs {
		result, err := s.acceptances.ExpireBid(ctx, bidID, s.grace)
		if err != nil {
			s.logger.Warn("failed to expire bid",
				zap.String("bid_id", bidID.String()), zap.Error(err))
			continue
		}
		if result == nil {
			// Resolved between the select and the expiry.
			continue
		}

		s.settlement.Compensate(ctx, result.RefundRefs)
		s.hub.Broadcast(result.Bid.GroupID, events.TypeBidExpired, result.Bid)
		if result.PromotedBid != nil {
			s.hub.Broadcast(result.Bid.GroupID, events.TypeBidPromoted, result.PromotedBid)
		}
		if result.GroupExpired {
			s.hub.Broadcast(result.Bid.GroupID, events.TypeGroupExpired, map[string]any{
				"group_id": result.Bid.GroupID,
			})
		}
		s.logger.Info("bid expired at acceptance deadline",
			zap.String("bid_id", bidID.String()),
			zap.Int("refunds", len(result.RefundRefs)),
			zap.Bool("group_expired", result.GroupExpired))
	}
	return nil
}

// sweepBidDeadlines expires groups whose bidding window closed with nothing
// accepted and no open bid left to resolve.
func (s *Sweeper) sweepBidDeadlines(ctx context.Context) error {
	rows, err := s.db.Pool.Query(ctx, `
		UPDATE groups SET status = $1, updated_at = NOW()
		WHERE status IN ($2, $3) AND bid_deadline <= NOW() AND accepted_bid_id IS NULL
			AND NOT EXISTS (
				SELECT 1 FROM group_bids b
				WHERE b.group_id = groups.id AND b.status IN ($4, $5)
			)
		RETURNING id
	`, models.GroupStatusExpired,
		models.GroupStatusFormed, models.GroupStatusBidding,
		models.BidStatusSubmitted, models.BidStatusActive)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return err
		}
		s.hub.Broadcast(id, events.TypeGroupExpired, map[string]any{"group_id": id})
		s.logger.Info("group expired at bid deadline", zap.String("group_id", id.String()))
	}
	return rows.Err()
}

// sweepPayments fails acceptances stuck pending past the payment timeout,
// reverses whatever holds they reserved, and retries initiations that never
// reached the gateway.
func (s *Sweeper) sweepPayments(ctx context.Context) error {
	refs, err := s.settlement.FailStale(ctx, s.paymentTimeout)
	if err != nil {
		return err
	}
	if len(refs) > 0 {
		s.settlement.Compensate(ctx, refs)
		s.logger.Info("failed stale pending acceptances", zap.Int("count", len(refs)))
	}

	return s.settlement.RetryUnreferenced(ctx)
}
