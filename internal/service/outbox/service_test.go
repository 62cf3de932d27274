package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/clubtix/internal/domain"
	"github.com/kirinyoku/clubtix/internal/media/mediatest"
	"github.com/kirinyoku/clubtix/internal/notify"
	"github.com/kirinyoku/clubtix/internal/repository/memory"
	"github.com/kirinyoku/clubtix/internal/ticketcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []notify.Confirmation
	fail bool
}

func (f *fakeSender) SendRegistration(_ context.Context, c notify.Confirmation) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		return notify.ErrDeliveryFailed
	}
	f.sent = append(f.sent, c)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakePublisher struct {
	codes []string
	err   error
}

func (p *fakePublisher) PublishJob(_ context.Context, code string) error {
	p.codes = append(p.codes, code)
	return p.err
}

type fixture struct {
	svc   *Service
	store *memory.Store
	media *mediatest.Gateway
	mail  *fakeSender
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store: memory.New(),
		media: mediatest.New(),
		mail:  &fakeSender{},
		clock: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	f.store.SetClock(func() time.Time { return f.clock })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = New(f.store, ticketcode.NewRenderer(f.media, log), f.mail, log, Config{
		RetryBase:   time.Second,
		MaxAttempts: 3,
	})

	return f
}

func (f *fixture) ticket(t *testing.T) domain.Ticket {
	t.Helper()
	ctx := context.Background()

	e := domain.Event{
		ID:           uuid.New(),
		Name:         "Hack Night",
		EventDate:    f.clock.Add(48 * time.Hour),
		EventTime:    "19:00",
		Status:       domain.EventUpcoming,
		Registration: domain.RegistrationPolicy{Mode: domain.ModeInternal, AllowGuests: true},
	}
	require.NoError(t, f.store.Events().Create(ctx, &e))

	tk := domain.Ticket{
		ID:          uuid.New(),
		Code:        ticketcode.MintCode(),
		EventID:     e.ID,
		EventName:   e.Name,
		Attendee:    domain.Attendee{FullName: "Ada", Email: "ada@uni.edu", StudentID: "S1"},
		Status:      domain.TicketActive,
		EmailStatus: domain.EmailPending,
	}
	require.NoError(t, f.store.Tickets().Insert(ctx, &tk))
	require.NoError(t, f.store.Outbox().Enqueue(ctx, tk.ID, tk.Code))

	return tk
}

func (f *fixture) reload(t *testing.T, code string) *domain.Ticket {
	t.Helper()
	tk, err := f.store.Tickets().GetByCode(context.Background(), code)
	require.NoError(t, err)
	return tk
}

func TestDispatchAttachesQRAndSendsEmail(t *testing.T) {
	f := newFixture(t)
	tk := f.ticket(t)

	require.NoError(t, f.svc.Dispatch(context.Background(), tk.Code))

	got := f.reload(t, tk.Code)
	require.NotNil(t, got.QR)
	assert.True(t, f.media.Has(got.QR.MediaID))
	assert.Equal(t, domain.EmailSent, got.EmailStatus)

	require.Equal(t, 1, f.mail.count())
	c := f.mail.sent[0]
	assert.Equal(t, "ada@uni.edu", c.To)
	assert.Equal(t, "Hack Night", c.EventName)
	assert.Equal(t, got.QR.URL, c.QRURL)

	job, ok := f.store.Job(tk.Code)
	require.True(t, ok)
	assert.True(t, job.Done)

	// A second dispatch of a finished job is a no-op.
	require.NoError(t, f.svc.Dispatch(context.Background(), tk.Code))
	assert.Equal(t, 1, f.mail.count())
}

func TestReenqueuedJobSendsWithNextGeneration(t *testing.T) {
	f := newFixture(t)
	tk := f.ticket(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Dispatch(ctx, tk.Code))

	require.NoError(t, f.store.Tickets().SetEmailStatus(ctx, tk.ID, domain.EmailPending))
	require.NoError(t, f.store.Outbox().Enqueue(ctx, tk.ID, tk.Code))
	job, _ := f.store.Job(tk.Code)
	assert.Equal(t, 2, job.Generation)
	assert.False(t, job.Done)

	require.NoError(t, f.svc.Dispatch(ctx, tk.Code))

	require.Equal(t, 2, f.mail.count())
	assert.Equal(t, 1, f.mail.sent[0].Generation)
	assert.Equal(t, 2, f.mail.sent[1].Generation)
}

func TestEmailFailureIsRecordedNotRetried(t *testing.T) {
	f := newFixture(t)
	f.mail.fail = true
	tk := f.ticket(t)

	require.NoError(t, f.svc.Dispatch(context.Background(), tk.Code))

	got := f.reload(t, tk.Code)
	assert.Equal(t, domain.EmailFailed, got.EmailStatus)
	assert.NotNil(t, got.QR)

	job, _ := f.store.Job(tk.Code)
	assert.True(t, job.Done)
}

func TestQRFailureStillSendsEmailAndRetries(t *testing.T) {
	f := newFixture(t)
	f.media.FailUploads = true
	tk := f.ticket(t)

	err := f.svc.Dispatch(context.Background(), tk.Code)
	assert.ErrorIs(t, err, ticketcode.ErrMediaUnavailable)

	got := f.reload(t, tk.Code)
	assert.Nil(t, got.QR)
	assert.Equal(t, domain.EmailSent, got.EmailStatus)
	assert.Empty(t, f.mail.sent[0].QRURL)

	job, _ := f.store.Job(tk.Code)
	assert.False(t, job.Done)
	assert.NotEmpty(t, job.LastErr)

	// The retry is not due yet.
	f.svc.drain(context.Background())
	assert.Nil(t, f.reload(t, tk.Code).QR)

	f.media.FailUploads = false
	f.clock = f.clock.Add(time.Minute)
	f.svc.drain(context.Background())

	got = f.reload(t, tk.Code)
	assert.NotNil(t, got.QR)
	assert.Equal(t, 1, f.mail.count())

	job, _ = f.store.Job(tk.Code)
	assert.True(t, job.Done)
}

func TestJobIsAbandonedAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	f.media.FailUploads = true
	tk := f.ticket(t)

	for range 3 {
		f.svc.drain(context.Background())
		f.clock = f.clock.Add(time.Hour)
	}

	job, _ := f.store.Job(tk.Code)
	assert.Equal(t, 3, job.Attempts)
	assert.True(t, job.Done)
	assert.NotEmpty(t, job.LastErr)
}

func TestDeletedTicketCompletesQuietly(t *testing.T) {
	f := newFixture(t)
	tk := f.ticket(t)

	job, err := f.store.Outbox().ClaimByCode(context.Background(), tk.Code, time.Minute)
	require.NoError(t, err)
	require.NoError(t, f.store.Tickets().Delete(context.Background(), tk.ID))

	assert.NoError(t, f.svc.process(context.Background(), *job))
	assert.Zero(t, f.mail.count())
}

func TestBackoffDoublesUpToCeiling(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, time.Second, f.svc.backoff(1))
	assert.Equal(t, 4*time.Second, f.svc.backoff(3))
	assert.Equal(t, 10*time.Minute, f.svc.backoff(30))
}

func TestKickPrefersPublisher(t *testing.T) {
	f := newFixture(t)
	pub := &fakePublisher{}
	f.svc.SetPublisher(pub)

	f.svc.Kick(context.Background(), "abc")
	assert.Equal(t, []string{"abc"}, pub.codes)
	assert.Len(t, f.svc.wake, 0)

	pub.err = errors.New("redis down")
	f.svc.Kick(context.Background(), "def")
	assert.Len(t, f.svc.wake, 1)
}

func TestRunProcessesWokenJobs(t *testing.T) {
	f := newFixture(t)
	f.svc.cfg.PollInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.svc.Run(ctx) }()

	tk := f.ticket(t)
	f.svc.Wake(tk.Code)

	assert.Eventually(t, func() bool {
		got, err := f.store.Tickets().GetByCode(context.Background(), tk.Code)
		return err == nil && got.EmailStatus == domain.EmailSent
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
