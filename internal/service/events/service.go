package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/clubtix/internal/domain"
	"github.com/kirinyoku/clubtix/internal/media"
	redisx "github.com/kirinyoku/clubtix/internal/redis"
	"github.com/kirinyoku/clubtix/internal/repository"
	redisrepo "github.com/kirinyoku/clubtix/internal/repository/redis"
	"github.com/kirinyoku/clubtix/internal/uow"
	"github.com/kirinyoku/clubtix/internal/validation"
)

const (
	defaultLimit = 10
	maxLimit     = 100
	// createSkew tolerates clock drift between client and server when
	// checking that a new event is not in the past.
	createSkew   = 60 * time.Second
	imagesFolder = "events"
)

type Config struct {
	CacheTTL time.Duration
	// CleanupTimeout bounds best-effort media deletion after commit.
	CleanupTimeout time.Duration
}

type Service struct {
	store    repository.Store
	uow      *uow.UoW
	cache    *redisrepo.Cache
	media    media.Gateway
	validate *validation.Validator
	log      *slog.Logger
	cfg      Config
	now      func() time.Time
}

func New(
	store repository.Store,
	cache *redisrepo.Cache,
	gw media.Gateway,
	log *slog.Logger,
	cfg Config,
) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = 30 * time.Second
	}

	return &Service{
		store:    store,
		uow:      uow.NewUoW(store),
		cache:    cache,
		media:    gw,
		validate: validation.New(),
		log:      log,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetClock overrides the service clock.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Create validates in and stores a new event.
//
// Returns:
//   - *domain.EventView: the stored event with its derived fields.
//   - error: *validation.Error for invalid input.
//   - error: events.ErrSlugTaken if another event already uses the slug.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.EventView, error) {
	const op = "service.events.Create"

	in.Slug = strings.TrimSpace(in.Slug)
	in.Name = strings.TrimSpace(in.Name)
	in.Registration.ExternalURL = strings.TrimSpace(in.Registration.ExternalURL)

	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	now := s.now()
	if in.EventDate.Before(now.Add(-createSkew)) {
		return nil, fmt.Errorf("%s:%w", op, validation.Invalid("eventDate", "must not be in the past"))
	}

	e := domain.Event{
		ID:                  uuid.New(),
		Slug:                in.Slug,
		Name:                in.Name,
		Description:         in.Description,
		Venue:               in.Venue,
		EventDate:           in.EventDate,
		EventTime:           in.EventTime,
		RegistrationOpenAt:  in.RegistrationOpenAt,
		RegistrationCloseAt: in.RegistrationCloseAt,
		TotalSpots:          in.TotalSpots,
		Registration: domain.RegistrationPolicy{
			Mode:             in.Registration.Mode,
			ExternalURL:      in.Registration.ExternalURL,
			AllowGuests:      true,
			CapacityOverride: in.Registration.CapacityOverride,
		},
		Status: in.Status,
		Images: []domain.MediaRef{},
	}
	if e.Registration.Mode == "" {
		e.Registration.Mode = domain.ModeInternal
	}
	if in.Registration.AllowGuests != nil {
		e.Registration.AllowGuests = *in.Registration.AllowGuests
	}
	if e.Status == "" {
		e.Status = domain.EventUpcoming
	}

	if err := checkInvariants(&e); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if err := s.store.Events().Create(ctx, &e); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateWriteErr(err))
	}

	view := domain.NewEventView(e, 0, now)
	return &view, nil
}

// checkInvariants enforces the rules tags cannot express.
func checkInvariants(e *domain.Event) error {
	if e.RegistrationOpenAt != nil && e.RegistrationCloseAt != nil &&
		e.RegistrationOpenAt.After(*e.RegistrationCloseAt) {
		return validation.Invalid("registrationCloseAt", "must not be before registrationOpenAt")
	}

	if e.Registration.Mode == domain.ModeExternal {
		if e.Registration.ExternalURL == "" {
			return validation.Invalid("externalUrl", "is required for external registration")
		}
		u, err := url.Parse(e.Registration.ExternalURL)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return validation.Invalid("externalUrl", "must be an absolute http(s) URL")
		}
	}

	if e.TotalSpots < 0 || e.Registration.CapacityOverride < 0 {
		return validation.Invalid("totalSpots", "must be at least 0")
	}

	return nil
}

func translateWriteErr(err error) error {
	if field, ok := repository.ConflictField(err); ok && field == repository.FieldSlug {
		return ErrSlugTaken
	}
	if errors.Is(err, repository.ErrNotFound) {
		return ErrEventNotFound
	}
	return err
}

// Update applies in while holding the event row lock, so the linked-ticket
// check and the write see the same state as concurrent registrations.
//
// Returns:
//   - error: events.ErrModeLocked if tickets exist and the mode would leave internal.
//   - error: events.ErrCapacityBelowActive if the new capacity is under the active ticket count.
//   - error: events.ErrEventNotFound, events.ErrSlugTaken, *validation.Error.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*domain.EventView, error) {
	const op = "service.events.Update"

	var (
		updated domain.Event
		active  int
	)

	err := s.uow.DoWithOpts(ctx, &repository.TxOptions{Isolation: repository.ReadCommitted}, func(
		ctx context.Context,
		tx repository.Repos,
		after func(uow.AfterCommit),
	) error {
		e, err := tx.Events().GetForUpdate(ctx, id)
		if err != nil {
			return translateWriteErr(err)
		}
		oldSlug := e.Slug
		oldMode := e.Registration.Mode

		if err := s.apply(e, in); err != nil {
			return err
		}

		if oldMode == domain.ModeInternal && e.Registration.Mode != domain.ModeInternal {
			has, err := tx.Events().HasTickets(ctx, id)
			if err != nil {
				return err
			}
			if has {
				return ErrModeLocked
			}
		}

		active, err = tx.Tickets().CountActive(ctx, id)
		if err != nil {
			return err
		}
		if c := e.EffectiveCapacity(); c > 0 && active > c {
			return ErrCapacityBelowActive
		}

		if err := tx.Events().Update(ctx, e); err != nil {
			return translateWriteErr(err)
		}

		updated = *e

		after(func(ctx context.Context) {
			s.invalidate(ctx, id, oldSlug, e.Slug)
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	view := domain.NewEventView(updated, active, s.now())
	return &view, nil
}

func (s *Service) apply(e *domain.Event, in UpdateInput) error {
	if in.Slug.Set {
		e.Slug = ""
		if in.Slug.Value != nil {
			slug := strings.TrimSpace(*in.Slug.Value)
			if slug != "" {
				if err := s.validate.Struct(struct {
					Slug string `json:"slug" validate:"slug,max=80"`
				}{slug}); err != nil {
					return err
				}
			}
			e.Slug = slug
		}
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return validation.Invalid("name", "is required")
		}
		e.Name = name
	}
	if in.Description != nil {
		e.Description = *in.Description
	}
	if in.Venue != nil {
		e.Venue = *in.Venue
	}
	if in.EventDate != nil {
		e.EventDate = *in.EventDate
	}
	if in.EventTime.Set {
		e.EventTime = ""
		if in.EventTime.Value != nil && *in.EventTime.Value != "" {
			if err := s.validate.Struct(struct {
				EventTime string `json:"eventTime" validate:"hhmm"`
			}{*in.EventTime.Value}); err != nil {
				return err
			}
			e.EventTime = *in.EventTime.Value
		}
	}
	if in.RegistrationOpenAt.Set {
		e.RegistrationOpenAt = in.RegistrationOpenAt.Value
	}
	if in.RegistrationCloseAt.Set {
		e.RegistrationCloseAt = in.RegistrationCloseAt.Value
	}
	if in.TotalSpots != nil {
		e.TotalSpots = *in.TotalSpots
	}
	if in.Status != nil {
		if !in.Status.Valid() {
			return validation.Invalid("status", "must be one of: upcoming ongoing completed cancelled postponed")
		}
		e.Status = *in.Status
	}

	p := in.Registration
	if p.Mode != nil {
		if !p.Mode.Valid() {
			return validation.Invalid("mode", "must be one of: internal external none")
		}
		e.Registration.Mode = *p.Mode
	}
	if p.ExternalURL != nil {
		e.Registration.ExternalURL = strings.TrimSpace(*p.ExternalURL)
	}
	if p.AllowGuests != nil {
		e.Registration.AllowGuests = *p.AllowGuests
	}
	if p.CapacityOverride != nil {
		e.Registration.CapacityOverride = *p.CapacityOverride
	}

	return checkInvariants(e)
}

// Delete removes the event with its tickets and pending jobs. Images and
// ticket QR codes are deleted from the media store after commit.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	const op = "service.events.Delete"

	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Repos, after func(uow.AfterCommit)) error {
		e, err := tx.Events().GetForUpdate(ctx, id)
		if err != nil {
			return translateWriteErr(err)
		}

		tickets, err := tx.Tickets().DeleteByEvent(ctx, id)
		if err != nil {
			return err
		}

		if err := tx.Events().Delete(ctx, id); err != nil {
			return translateWriteErr(err)
		}

		refs := slices.Clone(e.Images)
		for _, t := range tickets {
			if t.QR != nil {
				refs = append(refs, domain.MediaRef{URL: t.QR.URL, MediaID: t.QR.MediaID, Kind: domain.MediaImage})
			}
		}

		after(func(ctx context.Context) {
			s.invalidate(ctx, id, e.Slug)
			s.cleanup(ctx, refs)
		})

		return nil
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// cleanup deletes media on a context detached from the request.
func (s *Service) cleanup(ctx context.Context, refs []domain.MediaRef) {
	if len(refs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CleanupTimeout)
	defer cancel()

	s.media.DeleteMany(ctx, refs)
}

func (s *Service) invalidate(ctx context.Context, id uuid.UUID, slugs ...string) {
	refs := append([]string{id.String()}, slugs...)
	if err := s.cache.InvalidateEvent(context.WithoutCancel(ctx), refs...); err != nil {
		s.log.Warn("event cache invalidation failed", slog.String("event_id", id.String()), slog.Any("err", err))
	}
}

// resolve loads an event by id or slug.
func resolve(ctx context.Context, repos repository.Repos, ref string) (*domain.Event, error) {
	var (
		e   *domain.Event
		err error
	)
	if id, perr := uuid.Parse(ref); perr == nil {
		e, err = repos.Events().Get(ctx, id)
	} else {
		e, err = repos.Events().GetBySlug(ctx, ref)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrEventNotFound
	}
	return e, err
}

// Get returns the public view of an event by id or slug. Views are cached
// briefly; writes that change them invalidate the cache.
func (s *Service) Get(ctx context.Context, ref string) (*domain.EventView, error) {
	const op = "service.events.Get"

	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%s:%w", op, ErrEventNotFound)
	}

	view, err := redisrepo.GetOrSetJSON(ctx, s.cache, redisx.KeyEventView(ref), s.cfg.CacheTTL,
		func(ctx context.Context) (domain.EventView, error) {
			e, err := resolve(ctx, s.store, ref)
			if err != nil {
				return domain.EventView{}, err
			}
			active, err := s.store.Tickets().CountActive(ctx, e.ID)
			if err != nil {
				return domain.EventView{}, err
			}
			return domain.NewEventView(*e, active, s.now()), nil
		})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &view, nil
}

// GetPublic is the sanitized alias of Get. Views never carry attendee data.
func (s *Service) GetPublic(ctx context.Context, ref string) (*domain.EventView, error) {
	return s.Get(ctx, ref)
}

// List returns a page of event summaries.
func (s *Service) List(ctx context.Context, in ListInput) (*domain.Page[domain.EventSummary], error) {
	const op = "service.events.List"

	f, err := normalizeList(in)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	now := s.now()
	f.Reference = now

	items, total, err := s.store.Events().List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	ids := make([]uuid.UUID, len(items))
	for i, e := range items {
		ids[i] = e.ID
	}
	counts, err := s.store.Tickets().CountActiveByEvents(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	out := make([]domain.EventSummary, len(items))
	for i, e := range items {
		out[i] = domain.NewEventSummary(e, counts[e.ID], now)
	}

	return &domain.Page[domain.EventSummary]{Items: out, Page: f.Page, Limit: f.Limit, Total: total}, nil
}

func normalizeList(in ListInput) (domain.EventFilter, error) {
	f := domain.EventFilter{
		Page:   in.Page,
		Limit:  in.Limit,
		Search: strings.TrimSpace(in.Search),
		SortBy: domain.SortByEventDate,
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}

	if in.Status != "" {
		st := domain.EventStatus(in.Status)
		if !st.Valid() {
			return f, validation.Invalid("status", "must be one of: upcoming ongoing completed cancelled postponed")
		}
		f.Status = st
	}

	switch p := domain.EventPeriod(in.Period); p {
	case domain.PeriodAny, domain.PeriodUpcoming, domain.PeriodPast:
		f.Period = p
	default:
		return f, validation.Invalid("period", "must be one of: upcoming past")
	}

	switch sb := domain.EventSortField(in.SortBy); sb {
	case "":
	case domain.SortByEventDate, domain.SortByCreatedAt, domain.SortByName:
		f.SortBy = sb
	default:
		return f, validation.Invalid("sortBy", "must be one of: eventDate createdAt name")
	}

	switch strings.ToLower(in.SortOrder) {
	case "", "asc":
	case "desc":
		f.SortDesc = true
	default:
		return f, validation.Invalid("sortOrder", "must be one of: asc desc")
	}

	return f, nil
}

// AddImage uploads data and appends it to the event's gallery. The upload
// is removed again if the event cannot be updated.
func (s *Service) AddImage(ctx context.Context, id uuid.UUID, data []byte) (*domain.MediaRef, error) {
	const op = "service.events.AddImage"

	if _, err := s.store.Events().Get(ctx, id); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateWriteErr(err))
	}

	ref, err := s.media.Upload(ctx, data, media.UploadOptions{
		Folder: imagesFolder,
		Kinds:  []domain.MediaKind{domain.MediaImage},
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	err = s.uow.DoWithOpts(ctx, &repository.TxOptions{Isolation: repository.ReadCommitted}, func(
		ctx context.Context,
		tx repository.Repos,
		after func(uow.AfterCommit),
	) error {
		e, err := tx.Events().GetForUpdate(ctx, id)
		if err != nil {
			return translateWriteErr(err)
		}
		e.Images = append(e.Images, ref)
		if err := tx.Events().Update(ctx, e); err != nil {
			return err
		}
		after(func(ctx context.Context) { s.invalidate(ctx, id, e.Slug) })
		return nil
	})
	if err != nil {
		s.cleanup(ctx, []domain.MediaRef{ref})
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &ref, nil
}

func (s *Service) RemoveImage(ctx context.Context, id uuid.UUID, mediaID string) error {
	const op = "service.events.RemoveImage"

	err := s.uow.DoWithOpts(ctx, &repository.TxOptions{Isolation: repository.ReadCommitted}, func(
		ctx context.Context,
		tx repository.Repos,
		after func(uow.AfterCommit),
	) error {
		e, err := tx.Events().GetForUpdate(ctx, id)
		if err != nil {
			return translateWriteErr(err)
		}

		i := slices.IndexFunc(e.Images, func(m domain.MediaRef) bool { return m.MediaID == mediaID })
		if i < 0 {
			return ErrImageNotFound
		}
		removed := e.Images[i]
		e.Images = slices.Delete(e.Images, i, i+1)

		if err := tx.Events().Update(ctx, e); err != nil {
			return err
		}

		after(func(ctx context.Context) {
			s.invalidate(ctx, id, e.Slug)
			s.cleanup(ctx, []domain.MediaRef{removed})
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// Stats reports ticket counts and capacity figures for an event.
func (s *Service) Stats(ctx context.Context, id uuid.UUID) (*Stats, error) {
	const op = "service.events.Stats"

	e, err := s.store.Events().Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateWriteErr(err))
	}

	c, err := s.store.Tickets().Counts(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	active := c.NonCancelled()
	return &Stats{
		EventID:            e.ID.String(),
		Tickets:            c,
		EffectiveCapacity:  e.EffectiveCapacity(),
		SpotsLeft:          domain.SpotsLeft(e, active),
		IsFull:             domain.IsFull(e, active),
		RegistrationStatus: domain.EvaluateRegistration(e, active, s.now()),
	}, nil
}
