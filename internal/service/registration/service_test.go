package registration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/clubtix/internal/auth"
	"github.com/kirinyoku/clubtix/internal/domain"
	"github.com/kirinyoku/clubtix/internal/media/mediatest"
	"github.com/kirinyoku/clubtix/internal/notify"
	"github.com/kirinyoku/clubtix/internal/repository/memory"
	"github.com/kirinyoku/clubtix/internal/service/outbox"
	"github.com/kirinyoku/clubtix/internal/ticketcode"
	"github.com/kirinyoku/clubtix/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	openAt  = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	closeAt = time.Date(2025, 3, 31, 23, 59, 0, 0, time.UTC)
	midway  = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	guest   = auth.Identity{}
)

type sender struct {
	mu   sync.Mutex
	fail bool
	n    int
}

func (s *sender) SendRegistration(context.Context, notify.Confirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return notify.ErrDeliveryFailed
	}
	s.n++
	return nil
}

type fixture struct {
	svc   *Service
	store *memory.Store
	media *mediatest.Gateway
	mail  *sender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{store: memory.New(), media: mediatest.New(), mail: &sender{}}
	f.store.SetClock(func() time.Time { return midway })

	ob := outbox.New(f.store, ticketcode.NewRenderer(f.media, log), f.mail, log, outbox.Config{})
	f.svc = New(f.store, nil, ob, log, Config{})
	f.svc.SetClock(func() time.Time { return midway })

	return f
}

func (f *fixture) event(t *testing.T, mutate func(e *domain.Event)) domain.Event {
	t.Helper()

	o, c := openAt, closeAt
	e := domain.Event{
		ID:                  uuid.New(),
		Slug:                "e-" + uuid.NewString()[:8],
		Name:                "E1",
		EventDate:           time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC),
		RegistrationOpenAt:  &o,
		RegistrationCloseAt: &c,
		TotalSpots:          2,
		Registration:        domain.RegistrationPolicy{Mode: domain.ModeInternal, AllowGuests: true},
		Status:              domain.EventUpcoming,
	}
	if mutate != nil {
		mutate(&e)
	}
	require.NoError(t, f.store.Events().Create(context.Background(), &e))
	return e
}

func attendee(n int) Input {
	return Input{
		FullName:  "A",
		Email:     fmt.Sprintf("a%d@x.io", n),
		StudentID: fmt.Sprintf("1234567%d", n),
		Phone:     "999",
		Course:    "CS",
		Gender:    "F",
	}
}

func TestRegisterHappyPath(t *testing.T) {
	f := newFixture(t)
	e := f.event(t, nil)
	ctx := context.Background()

	in := attendee(0)
	in.Email = "  A@X.io "
	tk, err := f.svc.Register(ctx, e.ID, guest, in)
	require.NoError(t, err)

	assert.Equal(t, domain.TicketActive, tk.Status)
	assert.True(t, ticketcode.Valid(tk.Code))
	assert.Equal(t, "a@x.io", tk.Attendee.Email)
	assert.Equal(t, "E1", tk.EventName)
	assert.Equal(t, domain.EmailSent, tk.EmailStatus)
	require.NotNil(t, tk.QR)
	assert.True(t, f.media.Has(tk.QR.MediaID))

	ids, err := f.store.Events().TicketIDs(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{tk.ID}, ids)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	e := f.event(t, func(e *domain.Event) { e.TotalSpots = 0 })
	ctx := context.Background()

	_, err := f.svc.Register(ctx, e.ID, guest, attendee(1))
	require.NoError(t, err)

	again := attendee(1)
	again.Email = "A1@X.IO"
	_, err = f.svc.Register(ctx, e.ID, guest, again)
	var dup *DuplicateAttendeeError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "email", dup.Field)

	sameStudent := attendee(2)
	sameStudent.StudentID = attendee(1).StudentID
	_, err = f.svc.Register(ctx, e.ID, guest, sameStudent)
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "studentId", dup.Field)

	n, err := f.store.Tickets().CountActive(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRegisterCapacityRace(t *testing.T) {
	f := newFixture(t)
	e := f.event(t, func(e *domain.Event) {
		e.TotalSpots = 50
		e.Registration.CapacityOverride = 1
	})

	const n = 5
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.Register(context.Background(), e.ID, guest, attendee(i))
		}()
	}
	wg.Wait()

	ok, full := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrEventFull):
			full++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, full)
}

func TestRegisterUnlimitedNeverFull(t *testing.T) {
	f := newFixture(t)
	e := f.event(t, func(e *domain.Event) { e.TotalSpots = 0 })

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.Register(context.Background(), e.ID, guest, attendee(i))
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestRegisterExternal(t *testing.T) {
	f := newFixture(t)
	e := f.event(t, func(e *domain.Event) {
		e.Registration.Mode = domain.ModeExternal
		e.Registration.ExternalURL = "https://ext.example/reg"
	})

	_, err := f.svc.Register(context.Background(), e.ID, guest, attendee(0))

	var ext *ExternalError
	require.ErrorAs(t, err, &ext)
	assert.Equal(t, "https://ext.example/reg", ext.URL)

	n, _ := f.store.Tickets().CountActive(context.Background(), e.ID)
	assert.Zero(t, n)
}

func TestRegisterWindow(t *testing.T) {
	tests := []struct {
		name   string
		now    time.Time
		reason string
	}{
		{"before open", openAt.Add(-time.Second), "coming_soon"},
		{"open instant", openAt, ""},
		{"close instant", closeAt, ""},
		{"after close", closeAt.Add(time.Second), "closed"},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.svc.SetClock(func() time.Time { return tt.now })
			e := f.event(t, nil)

			_, err := f.svc.Register(context.Background(), e.ID, guest, attendee(i))
			if tt.reason == "" {
				assert.NoError(t, err)
				return
			}
			var notOpen *NotOpenError
			require.ErrorAs(t, err, &notOpen)
			assert.Equal(t, tt.reason, notOpen.Reason)
		})
	}
}

func TestRegisterCancelledEvent(t *testing.T) {
	f := newFixture(t)
	e := f.event(t, func(e *domain.Event) { e.Status = domain.EventCancelled })

	_, err := f.svc.Register(context.Background(), e.ID, guest, attendee(0))
	var notOpen *NotOpenError
	require.ErrorAs(t, err, &notOpen)
	assert.Equal(t, "cancelled", notOpen.Reason)
}

func TestRegisterMembersOnly(t *testing.T) {
	f := newFixture(t)
	e := f.event(t, func(e *domain.Event) { e.Registration.AllowGuests = false })
	ctx := context.Background()

	_, err := f.svc.Register(ctx, e.ID, guest, attendee(0))
	assert.ErrorIs(t, err, ErrMembersOnly)

	member := auth.Identity{UserID: "u-1", Role: auth.RoleMember}
	_, err = f.svc.Register(ctx, e.ID, member, attendee(0))
	assert.NoError(t, err)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	e := f.event(t, nil)

	tests := []struct {
		name   string
		mutate func(in *Input)
		field  string
	}{
		{"blank name", func(in *Input) { in.FullName = "   " }, "fullName"},
		{"bad email", func(in *Input) { in.Email = "not-an-email" }, "email"},
		{"hosteler without hostel", func(in *Input) { in.Hosteler = true }, "hostel"},
		{"missing course", func(in *Input) { in.Course = "" }, "course"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := attendee(0)
			tt.mutate(&in)

			_, err := f.svc.Register(context.Background(), e.ID, guest, in)
			var verr *validation.Error
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestRegisterUnknownEvent(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Register(context.Background(), uuid.New(), guest, attendee(0))
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestEmailOutageStillIssuesTicket(t *testing.T) {
	f := newFixture(t)
	f.mail.fail = true
	e := f.event(t, nil)

	tk, err := f.svc.Register(context.Background(), e.ID, guest, attendee(0))
	require.NoError(t, err)
	assert.Equal(t, domain.EmailFailed, tk.EmailStatus)
	assert.NotNil(t, tk.QR)
}

func TestMediaOutageStillIssuesTicket(t *testing.T) {
	f := newFixture(t)
	f.media.FailUploads = true
	e := f.event(t, nil)

	tk, err := f.svc.Register(context.Background(), e.ID, guest, attendee(0))
	require.NoError(t, err)
	assert.Nil(t, tk.QR)
	assert.Equal(t, domain.EmailSent, tk.EmailStatus)

	job, ok := f.store.Job(tk.Code)
	require.True(t, ok)
	assert.False(t, job.Done)
}

func TestCodeCollisionIsRetried(t *testing.T) {
	f := newFixture(t)
	e := f.event(t, func(e *domain.Event) { e.TotalSpots = 0 })
	ctx := context.Background()

	first, err := f.svc.Register(ctx, e.ID, guest, attendee(0))
	require.NoError(t, err)

	fresh := ticketcode.MintCode()
	codes := []string{first.Code, fresh}
	f.svc.mint = func() string {
		c := codes[0]
		if len(codes) > 1 {
			codes = codes[1:]
		}
		return c
	}

	tk, err := f.svc.Register(ctx, e.ID, guest, attendee(1))
	require.NoError(t, err)
	assert.Equal(t, fresh, tk.Code)

	f.svc.mint = func() string { return first.Code }
	_, err = f.svc.Register(ctx, e.ID, guest, attendee(2))
	assert.ErrorIs(t, err, ErrCodeCollision)
}
