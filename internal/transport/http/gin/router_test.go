package httpgin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kirinyoku/clubtix/internal/auth"
	"github.com/kirinyoku/clubtix/internal/domain"
	"github.com/kirinyoku/clubtix/internal/media/mediatest"
	"github.com/kirinyoku/clubtix/internal/notify"
	redisx "github.com/kirinyoku/clubtix/internal/redis"
	"github.com/kirinyoku/clubtix/internal/repository/memory"
	redisrepo "github.com/kirinyoku/clubtix/internal/repository/redis"
	"github.com/kirinyoku/clubtix/internal/service"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

var (
	openAt  = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	closeAt = time.Date(2025, 3, 31, 23, 59, 0, 0, time.UTC)
	midway  = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

	pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)
)

type mailer struct {
	mu   sync.Mutex
	fail bool
	sent []notify.Confirmation
}

func (m *mailer) SendRegistration(_ context.Context, c notify.Confirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return notify.ErrDeliveryFailed
	}
	m.sent = append(m.sent, c)
	return nil
}

type harness struct {
	router *gin.Engine
	store  *memory.Store
	media  *mediatest.Gateway
	mail   *mailer
	admin  string
	member string
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{store: memory.New(), media: mediatest.New(), mail: &mailer{}}
	h.store.SetClock(func() time.Time { return midway })

	svcs := service.NewServices(h.store, nil, h.media, h.mail, log, service.Config{})
	svcs.Events.SetClock(func() time.Time { return midway })
	svcs.Registration.SetClock(func() time.Time { return midway })

	opts.TokenSecret = secret
	h.router = NewRouter(svcs, opts, log)

	var err error
	h.admin, err = auth.IssueToken(auth.Identity{UserID: "u-admin", Role: auth.RoleAdmin}, secret, time.Hour)
	require.NoError(t, err)
	h.member, err = auth.IssueToken(auth.Identity{UserID: "u-member", Role: auth.RoleMember}, secret, time.Hour)
	require.NoError(t, err)

	return h
}

func (h *harness) event(t *testing.T, mutate func(e *domain.Event)) domain.Event {
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
	require.NoError(t, h.store.Events().Create(context.Background(), &e))
	return e
}

func (h *harness) do(method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func attendee(email, studentID string) map[string]any {
	return map[string]any{
		"email": email, "studentId": studentID, "fullName": "A", "phone": "999",
		"course": "CS", "gender": "F", "hosteler": false,
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func registerPath(e domain.Event) string { return "/api/v1/events/" + e.ID.String() + "/register" }

func TestRegisterHappyPath(t *testing.T) {
	h := newHarness(t, Options{})
	e := h.event(t, nil)

	w := h.do(http.MethodPost, registerPath(e), "", attendee("a@x.io", "12345678"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decode[TicketResponse](t, w)
	require.NotNil(t, resp.Ticket)
	assert.Equal(t, domain.TicketActive, resp.Ticket.Status)
	assert.NotEmpty(t, resp.Ticket.Code)
	assert.Contains(t, []domain.EmailStatus{domain.EmailPending, domain.EmailSent, domain.EmailFailed}, resp.Ticket.EmailStatus)

	list := h.do(http.MethodGet, "/api/v1/tickets?eventId="+e.ID.String(), h.admin, nil)
	require.Equal(t, http.StatusOK, list.Code)
	page := decode[domain.Page[domain.Ticket]](t, list)
	require.Len(t, page.Items, 1)
	assert.Equal(t, resp.Ticket.ID, page.Items[0].ID)
}

func TestRegisterBySlug(t *testing.T) {
	h := newHarness(t, Options{})
	e := h.event(t, nil)

	w := h.do(http.MethodPost, "/api/v1/events/"+e.Slug+"/register", "", attendee("a@x.io", "12345678"))
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestRegisterDuplicateAttendee(t *testing.T) {
	h := newHarness(t, Options{})
	e := h.event(t, nil)

	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, registerPath(e), "", attendee("a@x.io", "12345678")).Code)

	w := h.do(http.MethodPost, registerPath(e), "", attendee("A@X.io", "87654321"))
	require.Equal(t, http.StatusConflict, w.Code)
	body := decode[ErrorResponse](t, w)
	assert.Equal(t, "DuplicateAttendee", body.Code)
	assert.Equal(t, "email", body.Field)
}

func TestRegisterCapacityRace(t *testing.T) {
	h := newHarness(t, Options{})
	e := h.event(t, func(e *domain.Event) {
		e.Name = "E2"
		e.TotalSpots = 10
		e.Registration.CapacityOverride = 1
	})

	codes := make([]int, 5)
	bodies := make([]ErrorResponse, 5)
	var wg sync.WaitGroup
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := uuid.NewString()[:8]
			w := h.do(http.MethodPost, registerPath(e), "", attendee(id+"@x.io", id))
			codes[i] = w.Code
			_ = json.Unmarshal(w.Body.Bytes(), &bodies[i])
		}()
	}
	wg.Wait()

	created := 0
	for i, c := range codes {
		switch c {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
			assert.Equal(t, "EventFull", bodies[i].Code)
		default:
			t.Fatalf("unexpected status %d", c)
		}
	}
	assert.Equal(t, 1, created)
}

func TestRegisterExternalMode(t *testing.T) {
	h := newHarness(t, Options{})
	e := h.event(t, func(e *domain.Event) {
		e.Name = "E3"
		e.Registration.Mode = domain.ModeExternal
		e.Registration.ExternalURL = "https://ext.example/reg"
	})

	w := h.do(http.MethodPost, registerPath(e), "", attendee("a@x.io", "12345678"))
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[ErrorResponse](t, w)
	assert.Equal(t, "UseExternalRegistration", body.Code)
	assert.Equal(t, "https://ext.example/reg", body.ExternalURL)

	n, err := h.store.Tickets().CountActive(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdateEventModeLocked(t *testing.T) {
	h := newHarness(t, Options{})
	e := h.event(t, func(e *domain.Event) { e.Name = "E4" })
	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, registerPath(e), "", attendee("a@x.io", "12345678")).Code)

	w := h.do(http.MethodPatch, "/api/v1/events/"+e.ID.String(), h.admin, map[string]any{
		"registration": map[string]any{"mode": "none"},
	})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ModeLocked", decode[ErrorResponse](t, w).Code)

	got, err := h.store.Events().Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ModeInternal, got.Registration.Mode)
}

func TestUpdateEventCapacityBelowActive(t *testing.T) {
	h := newHarness(t, Options{})
	e := h.event(t, nil)
	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, registerPath(e), "", attendee("a@x.io", "1")).Code)
	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, registerPath(e), "", attendee("b@x.io", "2")).Code)

	w := h.do(http.MethodPatch, "/api/v1/events/"+e.ID.String(), h.admin, map[string]any{"totalSpots": 1})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CapacityBelowActive", decode[ErrorResponse](t, w).Code)

	got, err := h.store.Events().Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalSpots)
}

func TestRegisterEmailOutage(t *testing.T) {
	h := newHarness(t, Options{})
	h.mail.fail = true
	e := h.event(t, nil)

	w := h.do(http.MethodPost, registerPath(e), "", attendee("a@x.io", "12345678"))
	require.Equal(t, http.StatusCreated, w.Code)
	code := decode[TicketResponse](t, w).Ticket.Code

	got := h.do(http.MethodGet, "/api/v1/tickets/"+code, "", nil)
	require.Equal(t, http.StatusOK, got.Code)
	tk := decode[TicketResponse](t, got).Ticket
	assert.Equal(t, domain.EmailFailed, tk.EmailStatus)
	assert.NotNil(t, tk.QR)
}

func TestRegisterIdempotentReplay(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := newHarness(t, Options{Idempotency: redisrepo.NewIdempotencyStore(rdb, time.Hour)})
	e := h.event(t, nil)

	first := h.do(http.MethodPost, registerPath(e), "", attendee("a@x.io", "12345678"), "Idempotency-Key", "k1")
	require.Equal(t, http.StatusCreated, first.Code)

	second := h.do(http.MethodPost, registerPath(e), "", attendee("a@x.io", "12345678"), "Idempotency-Key", "k1")
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	n, err := h.store.Tickets().CountActive(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRegisterIdempotencyKeyInFlight(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := newHarness(t, Options{Idempotency: redisrepo.NewIdempotencyStore(rdb, time.Hour)})
	e := h.event(t, nil)

	require.NoError(t, mr.Set(redisx.KeyIdemRegistration(e.ID, "busy"), "LOCK"))
	w := h.do(http.MethodPost, registerPath(e), "", attendee("a@x.io", "1"), "Idempotency-Key", "busy")
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "IdempotencyInProgress", decode[ErrorResponse](t, w).Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	// An unreadable value is neither in flight nor replayable; it is replaced.
	require.NoError(t, mr.Set(redisx.KeyIdemRegistration(e.ID, "junk"), "garbage"))
	w = h.do(http.MethodPost, registerPath(e), "", attendee("b@x.io", "2"), "Idempotency-Key", "junk")
	require.Equal(t, http.StatusCreated, w.Code)
	stored, err := mr.Get(redisx.KeyIdemRegistration(e.ID, "junk"))
	require.NoError(t, err)
	assert.Contains(t, stored, "RES:201:")

	n, err := h.store.Tickets().CountActive(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRegisterRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := newHarness(t, Options{
		RegisterLimiter: redisrepo.NewSlidingWindowLimiter(rdb, "register", 1, time.Minute),
	})
	e := h.event(t, nil)

	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, registerPath(e), "", attendee("a@x.io", "1")).Code)

	w := h.do(http.MethodPost, registerPath(e), "", attendee("b@x.io", "2"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	h := newHarness(t, Options{})

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"anonymous", "", http.StatusUnauthorized},
		{"member", h.member, http.StatusForbidden},
		{"garbage token", "not-a-jwt", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(http.MethodPost, "/api/v1/events", tt.token, map[string]any{"name": "x"})
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestCreateAndGetEvent(t *testing.T) {
	h := newHarness(t, Options{})

	w := h.do(http.MethodPost, "/api/v1/events", h.admin, map[string]any{
		"slug": "open-day", "name": "Open Day", "eventDate": "2025-04-01T10:00:00Z", "totalSpots": 50,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	got := h.do(http.MethodGet, "/api/v1/events/open-day/public", "", nil)
	require.Equal(t, http.StatusOK, got.Code)
	view := decode[domain.EventView](t, got)
	assert.Equal(t, "Open Day", view.Name)
	assert.Equal(t, 50, view.EffectiveCapacity)

	etag := got.Header().Get("ETag")
	require.NotEmpty(t, etag)
	again := h.do(http.MethodGet, "/api/v1/events/open-day/public", "", nil, "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, again.Code)

	dup := h.do(http.MethodPost, "/api/v1/events", h.admin, map[string]any{
		"slug": "open-day", "name": "Again", "eventDate": "2025-04-01T10:00:00Z",
	})
	assert.Equal(t, http.StatusConflict, dup.Code)
	assert.Equal(t, "SlugTaken", decode[ErrorResponse](t, dup).Code)
}

func TestListEventsRejectsBadSort(t *testing.T) {
	h := newHarness(t, Options{})
	h.event(t, nil)

	ok := h.do(http.MethodGet, "/api/v1/events?limit=5", "", nil)
	require.Equal(t, http.StatusOK, ok.Code)
	assert.Equal(t, 1, decode[domain.Page[domain.EventSummary]](t, ok).Total)

	bad := h.do(http.MethodGet, "/api/v1/events?sortBy=price", "", nil)
	require.Equal(t, http.StatusBadRequest, bad.Code)
	assert.Equal(t, "sortBy", decode[ErrorResponse](t, bad).Field)
}

func TestEventImages(t *testing.T) {
	h := newHarness(t, Options{MaxUploadBytes: 1 << 10})
	e := h.event(t, nil)

	upload := func(data []byte) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("image", "poster.png")
		require.NoError(t, err)
		_, _ = fw.Write(data)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/v1/events/"+e.ID.String()+"/images", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+h.admin)
		w := httptest.NewRecorder()
		h.router.ServeHTTP(w, req)
		return w
	}

	w := upload(pngBytes)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	ref := decode[domain.MediaRef](t, w)
	assert.True(t, h.media.Has(ref.MediaID))

	assert.Equal(t, http.StatusRequestEntityTooLarge, upload(make([]byte, 2<<10)).Code)
	assert.Equal(t, http.StatusBadRequest, upload([]byte("plain text")).Code)

	del := h.do(http.MethodDelete, "/api/v1/events/"+e.ID.String()+"/images/"+ref.MediaID, h.admin, nil)
	require.Equal(t, http.StatusNoContent, del.Code)
	assert.False(t, h.media.Has(ref.MediaID))

	again := h.do(http.MethodDelete, "/api/v1/events/"+e.ID.String()+"/images/"+ref.MediaID, h.admin, nil)
	assert.Equal(t, http.StatusNotFound, again.Code)
}

func TestTicketLifecycle(t *testing.T) {
	h := newHarness(t, Options{})
	e := h.event(t, nil)

	w := h.do(http.MethodPost, registerPath(e), "", attendee("a@x.io", "12345678"))
	require.Equal(t, http.StatusCreated, w.Code)
	tk := decode[TicketResponse](t, w).Ticket
	path := "/api/v1/tickets/" + tk.Code

	// Only admins may look a ticket up by id.
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/v1/tickets/"+tk.ID.String(), "", nil).Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/api/v1/tickets/"+tk.ID.String(), h.admin, nil).Code)

	used := h.do(http.MethodPatch, path, h.admin, TransitionRequest{Status: domain.TicketUsed})
	require.Equal(t, http.StatusOK, used.Code)
	assert.Equal(t, domain.TicketUsed, decode[TicketResponse](t, used).Ticket.Status)

	back := h.do(http.MethodPatch, path, h.admin, TransitionRequest{Status: domain.TicketActive})
	assert.Equal(t, http.StatusConflict, back.Code)

	resend := h.do(http.MethodPost, path+"/resend", h.admin, nil)
	require.Equal(t, http.StatusAccepted, resend.Code)
	assert.Equal(t, domain.EmailPending, decode[TicketResponse](t, resend).Ticket.EmailStatus)

	require.Equal(t, http.StatusOK, h.do(http.MethodDelete, path, h.admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, path, "", nil).Code)
}

func TestCheckAvailability(t *testing.T) {
	h := newHarness(t, Options{})
	e := h.event(t, nil)
	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, registerPath(e), "", attendee("a@x.io", "12345678")).Code)

	free := h.do(http.MethodPost, "/api/v1/tickets/check-availability", "", AvailabilityRequest{
		EventID: e.ID.String(), Email: "b@x.io",
	})
	require.Equal(t, http.StatusOK, free.Code)
	assert.True(t, decode[AvailabilityResponse](t, free).Available)

	taken := h.do(http.MethodPost, "/api/v1/tickets/check-availability", "", AvailabilityRequest{
		EventID: e.ID.String(), StudentID: "12345678",
	})
	require.Equal(t, http.StatusConflict, taken.Code)
	assert.Equal(t, "studentId", decode[ErrorResponse](t, taken).Field)

	bad := h.do(http.MethodPost, "/api/v1/tickets/check-availability", "", AvailabilityRequest{
		EventID: "not-a-uuid", Email: "b@x.io",
	})
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestStatsAndDeleteEvent(t *testing.T) {
	h := newHarness(t, Options{})
	e := h.event(t, nil)
	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, registerPath(e), "", attendee("a@x.io", "12345678")).Code)

	st := h.do(http.MethodGet, "/api/v1/events/"+e.ID.String()+"/stats", h.admin, nil)
	require.Equal(t, http.StatusOK, st.Code)

	require.Equal(t, http.StatusNoContent, h.do(http.MethodDelete, "/api/v1/events/"+e.ID.String(), h.admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/v1/events/"+e.ID.String(), "", nil).Code)
}

func TestHealthAndReadiness(t *testing.T) {
	h := newHarness(t, Options{})
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/readyz", "", nil).Code)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	down := NewRouter(&service.Services{}, Options{Ready: func(context.Context) error { return context.DeadlineExceeded }}, log)
	w := httptest.NewRecorder()
	down.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestETagMatches(t *testing.T) {
	tag := `W/"abc"`
	assert.True(t, etagMatches(`W/"abc"`, tag))
	assert.True(t, etagMatches(`"abc"`, tag))
	assert.True(t, etagMatches(`"x", W/"abc"`, tag))
	assert.True(t, etagMatches(`*`, tag))
	assert.False(t, etagMatches(``, tag))
	assert.False(t, etagMatches(`"abd"`, tag))
}
