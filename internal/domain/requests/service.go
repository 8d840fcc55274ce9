package requests

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"conteo/internal/core/apperror"
	"conteo/internal/core/folio"
	"conteo/internal/core/id"
	"conteo/internal/core/tx"
	"conteo/internal/domain"
	"conteo/internal/domain/counts"
	"conteo/pkg/logger"
)

// maxDifferences caps how many requests one count may spawn.
const maxDifferences = 5000

// CountSource is the slice of the count engine this workflow reads from.
// *counts.Service satisfies it.
type CountSource interface {
	Get(ctx context.Context, countID id.ID) (*counts.Count, error)
	Details(ctx context.Context, countID id.ID) ([]counts.CountDetail, error)
}

type Service struct {
	repo     Repository
	source   CountSource
	folios   folio.Generator
	txm      tx.Manager
	settings domain.Settings
	notifier domain.Notifier
	audit    domain.Audit
	events   domain.Events
	log      *logger.Logger
}

func NewService(
	repo Repository,
	source CountSource,
	folios folio.Generator,
	txm tx.Manager,
	settings domain.Settings,
	notifier domain.Notifier,
	audit domain.Audit,
	events domain.Events,
	log *logger.Logger,
) *Service {
	return &Service{
		repo:     repo,
		source:   source,
		folios:   folios,
		txm:      txm,
		settings: settings,
		notifier: notifier,
		audit:    audit,
		events:   events,
		log:      log.WithComponent("requests"),
	}
}

// Get returns one request.
func (s *Service) Get(ctx context.Context, requestID id.ID) (*Request, error) {
	return s.repo.GetByID(ctx, requestID)
}

// List returns requests matching the filter.
func (s *Service) List(ctx context.Context, f Filter) ([]Request, error) {
	return s.repo.List(ctx, f)
}

// CreateFromCount generates one request per discrepant line of a finished
// count. Lines that already have a request are skipped, so re-invocation
// is idempotent: the second call creates nothing and reports the skips.
func (s *Service) CreateFromCount(ctx context.Context, countID id.ID, requestedBy string) (created, skipped int, err error) {
	log := s.log.WithContext(ctx)

	c, err := s.source.Get(ctx, countID)
	if err != nil {
		return 0, 0, err
	}
	if c.Status != counts.StatusClosed && c.Status != counts.StatusCounted {
		return 0, 0, apperror.NewConflict(
			fmt.Sprintf("count %s is %s; requests can only be generated from counted or closed counts", c.Folio, c.Status))
	}

	details, err := s.source.Details(ctx, countID)
	if err != nil {
		return 0, 0, err
	}

	var discrepant []counts.CountDetail
	for _, d := range details {
		if d.Discrepant() {
			discrepant = append(discrepant, d)
		}
	}
	if len(discrepant) == 0 {
		return 0, 0, nil
	}
	if len(discrepant) > maxDifferences {
		return 0, 0, apperror.NewItemCap(len(discrepant), maxDifferences)
	}

	detailIDs := make([]id.ID, len(discrepant))
	for i, d := range discrepant {
		detailIDs[i] = d.ID
	}
	existing, err := s.repo.ExistingDetailIDs(ctx, detailIDs)
	if err != nil {
		return 0, 0, err
	}

	var pending []counts.CountDetail
	for _, d := range discrepant {
		if existing[d.ID] {
			skipped++
			continue
		}
		pending = append(pending, d)
	}
	if len(pending) == 0 {
		log.Infow("request generation: nothing new", "count_id", countID, "skipped", skipped)
		return 0, skipped, nil
	}

	now := time.Now()
	folios, err := s.folios.NextN(ctx, s.requestSeries(ctx), now, len(pending))
	if err != nil {
		return 0, skipped, err
	}

	reqs := make([]Request, len(pending))
	for i, d := range pending {
		reqs[i] = Request{
			ID:            id.New(),
			Folio:         folios[i],
			CountID:       countID,
			CountDetailID: d.ID,
			BranchID:      c.BranchID,
			Warehouse:     c.Warehouse,
			ItemCode:      d.ItemCode,
			Description:   d.Description,
			SystemStock:   d.SystemStock,
			CountedStock:  *d.CountedStock,
			Difference:    *d.Difference,
			Status:        StatusPending,
			RequestedBy:   requestedBy,
			CreatedAt:     now,
		}
	}

	err = s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateAll(ctx, reqs); err != nil {
			return err
		}
		for _, r := range reqs {
			if err := s.events.Publish(ctx, domain.Event{
				Type:   "request.created",
				Entity: "request",
				ID:     r.ID.String(),
				Payload: map[string]any{
					"folio":       r.Folio,
					"count_folio": c.Folio,
					"item_code":   r.ItemCode,
					"difference":  r.Difference.String(),
				},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, skipped, err
	}

	for _, r := range reqs {
		s.notifier.NotifyRequestCreated(ctx, r.ID.String(), r.Folio, r.ItemCode)
	}
	s.audit.Record(ctx, domain.AuditEntry{
		Entity:   "request",
		EntityID: countID.String(),
		Action:   "generate",
		UserID:   requestedBy,
		Details:  map[string]any{"count_folio": c.Folio, "created": len(reqs), "skipped": skipped},
	})
	log.Infow("requests generated", "count_id", countID, "created", len(reqs), "skipped", skipped)

	return len(reqs), skipped, nil
}

// ReviewInput updates a request. An empty Status (or one equal to the
// current status) updates notes only and is not a review: reviewer and
// reviewed_at stay untouched.
type ReviewInput struct {
	RequestID id.ID
	Status    Status
	Notes     string
	UserID    string
}

// Review applies a status transition or a notes-only update.
func (s *Service) Review(ctx context.Context, in ReviewInput) (*Request, error) {
	r, err := s.repo.GetByID(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}

	if in.Status == "" || in.Status == r.Status {
		if err := s.repo.UpdateNotes(ctx, in.RequestID, in.Notes); err != nil {
			return nil, err
		}
		return s.repo.GetByID(ctx, in.RequestID)
	}

	if !in.Status.Valid() {
		return nil, apperror.NewValidation(fmt.Sprintf("unknown status %q", in.Status))
	}
	if !CanTransition(r.Status, in.Status) {
		return nil, apperror.NewInvalidTransition("request", string(r.Status), string(in.Status))
	}

	now := time.Now()
	from := r.Status
	err = s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		moved, err := s.repo.UpdateStatusIf(ctx, in.RequestID, from, in.Status, in.UserID, in.Notes, now)
		if err != nil {
			return err
		}
		if !moved {
			return apperror.NewStatusConflict("request", in.RequestID.String(), string(from))
		}
		return s.events.Publish(ctx, domain.Event{
			Type:   "request.reviewed",
			Entity: "request",
			ID:     in.RequestID.String(),
			Payload: map[string]any{
				"folio": r.Folio,
				"from":  string(from),
				"to":    string(in.Status),
				"by":    in.UserID,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, domain.AuditEntry{
		Entity:   "request",
		EntityID: in.RequestID.String(),
		Action:   "review",
		UserID:   in.UserID,
		Details:  map[string]any{"from": string(from), "to": string(in.Status)},
	})

	return s.repo.GetByID(ctx, in.RequestID)
}

func (s *Service) requestSeries(ctx context.Context) folio.Config {
	cfg := folio.DefaultConfig(s.settings.GetSettingValue(ctx, "folio.request_prefix", "SOL"))
	if w, err := strconv.Atoi(s.settings.GetSettingValue(ctx, "folio.pad_width", "4")); err == nil && w > 0 {
		cfg.PadWidth = w
	}
	return cfg
}
