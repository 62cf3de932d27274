package httpgin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kirinyoku/clubtix/internal/domain"
	"github.com/kirinyoku/clubtix/internal/media"
	redisx "github.com/kirinyoku/clubtix/internal/redis"
	redisrepo "github.com/kirinyoku/clubtix/internal/repository/redis"
	"github.com/kirinyoku/clubtix/internal/service"
	"github.com/kirinyoku/clubtix/internal/service/events"
	"github.com/kirinyoku/clubtix/internal/service/registration"
	"github.com/kirinyoku/clubtix/internal/service/tickets"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const idemLockTTL = 60 * time.Second

type Options struct {
	// Idempotency and the limiters are optional; they need Redis.
	Idempotency       *redisrepo.IdempotencyStore
	RegisterLimiter   *redisrepo.SlidingWindowLimiter
	AvailabilityLimit *redisrepo.SlidingWindowLimiter

	TokenSecret    string
	AllowedOrigins []string
	RequestTimeout time.Duration
	MaxUploadBytes int64
	// Ready reports whether dependencies are reachable.
	Ready func(ctx context.Context) error
}

func NewRouter(
	svcs *service.Services,
	opts Options,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = media.DefaultMaxBytes
	}

	r := gin.New()
	r.MaxMultipartMemory = opts.MaxUploadBytes

	r.Use(gin.Recovery(), RequestIDMiddleware(), LoggingMiddleware(logger), CORS(opts.AllowedOrigins))
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", handleReady(opts.Ready))

	api := r.Group("/api/v1", Timeout(opts.RequestTimeout), Authenticate(opts.TokenSecret))

	// Public API
	api.GET("/events", handleListEvents(svcs))
	api.GET("/events/:id", handleGetEvent(svcs.Events.Get))
	api.GET("/events/:id/public", handleGetEvent(svcs.Events.GetPublic))
	api.POST("/events/:id/register",
		RateLimit(opts.RegisterLimiter, logger),
		handleRegister(svcs, opts.Idempotency),
	)
	api.GET("/tickets/:code", handleGetTicket(svcs))
	api.POST("/tickets/check-availability",
		RateLimit(opts.AvailabilityLimit, logger),
		handleCheckAvailability(svcs),
	)

	// Admin API
	admin := api.Group("", RequireAdmin())
	{
		admin.POST("/events", handleCreateEvent(svcs))
		admin.PATCH("/events/:id", handleUpdateEvent(svcs))
		admin.DELETE("/events/:id", handleDeleteEvent(svcs))
		admin.POST("/events/:id/images", handleAddImage(svcs, opts.MaxUploadBytes))
		admin.DELETE("/events/:id/images/*mediaId", handleRemoveImage(svcs))
		admin.GET("/events/:id/stats", handleEventStats(svcs))

		admin.GET("/tickets", handleListTickets(svcs))
		admin.PATCH("/tickets/:code", handleTransitionTicket(svcs))
		admin.DELETE("/tickets/:code", handleDeleteTicket(svcs))
		admin.POST("/tickets/:code/resend", handleResendConfirmation(svcs))
	}

	return r
}

// @Summary  Readiness probe
// @Success  200  {object}  map[string]string
// @Failure  503  {object}  map[string]string
// @Router   /readyz [get]
func handleReady(ready func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				_ = c.Error(err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// --- Events ---

// @Summary  List events
// @Param    page       query  int     false  "page (from 1)"
// @Param    limit      query  int     false  "page size, at most 100"
// @Param    status     query  string  false  "upcoming|ongoing|completed|cancelled|postponed"
// @Param    period     query  string  false  "upcoming|past"
// @Param    search     query  string  false  "matches name, description and venue"
// @Param    sortBy     query  string  false  "eventDate|createdAt|name"
// @Param    sortOrder  query  string  false  "asc|desc"
// @Success  200  {object}  domain.Page[domain.EventSummary]
// @Failure  400  {object}  ErrorResponse
// @Router   /api/v1/events [get]
func handleListEvents(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, err := svcs.Events.List(c.Request.Context(), events.ListInput{
			Page:      parseIntDefault(c.Query("page"), 1),
			Limit:     parseIntDefault(c.Query("limit"), 0),
			Status:    c.Query("status"),
			Period:    c.Query("period"),
			Search:    c.Query("search"),
			SortBy:    c.Query("sortBy"),
			SortOrder: c.Query("sortOrder"),
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		writeCachedJSON(c, page, "15")
	}
}

// @Summary  Get event by id or slug
// @Param    id  path  string  true  "Event id or slug"
// @Success  200  {object}  domain.EventView
// @Failure  404  {object}  ErrorResponse
// @Router   /api/v1/events/{id} [get]
// @Router   /api/v1/events/{id}/public [get]
func handleGetEvent(get func(ctx context.Context, ref string) (*domain.EventView, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		e, err := get(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		writeCachedJSON(c, e, "30")
	}
}

// @Summary  Create event
// @Security BearerAuth
// @Param    req  body  events.CreateInput  true  "event"
// @Success  201  {object}  domain.EventView
// @Failure  400  {object}  ErrorResponse
// @Failure  409  {object}  ErrorResponse  "slug taken"
// @Router   /api/v1/events [post]
func handleCreateEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req events.CreateInput
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		e, err := svcs.Events.Create(c.Request.Context(), req)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, e)
	}
}

// @Summary  Update event
// @Description Absent fields are left as they are; null clears slug, eventTime and the window bounds.
// @Security BearerAuth
// @Param    id   path  string              true  "Event id"
// @Param    req  body  UpdateEventRequest  true  "patch"
// @Success  200  {object}  domain.EventView
// @Failure  409  {object}  ErrorResponse  "mode locked / slug taken / capacity below active tickets"
// @Router   /api/v1/events/{id} [patch]
func handleUpdateEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		var req UpdateEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		e, err := svcs.Events.Update(c.Request.Context(), id, req.input())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, e)
	}
}

// @Summary  Delete event with its tickets
// @Security BearerAuth
// @Param    id  path  string  true  "Event id"
// @Success  204
// @Failure  404  {object}  ErrorResponse
// @Router   /api/v1/events/{id} [delete]
func handleDeleteEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		respondErr(c, svcs.Events.Delete(c.Request.Context(), id))
	}
}

// @Summary  Upload event image
// @Security BearerAuth
// @Accept   multipart/form-data
// @Param    id     path      string  true  "Event id"
// @Param    image  formData  file    true  "image file"
// @Success  201  {object}  domain.MediaRef
// @Failure  400  {object}  ErrorResponse
// @Failure  413  {object}  ErrorResponse
// @Router   /api/v1/events/{id}/images [post]
func handleAddImage(svcs *service.Services, maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		fh, err := c.FormFile("image")
		if err != nil {
			badRequest(c, "multipart field image is required")
			return
		}
		f, err := fh.Open()
		if err != nil {
			badRequest(c, "unreadable upload")
			return
		}
		defer f.Close()

		data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
		if err != nil {
			badRequest(c, "unreadable upload")
			return
		}
		if int64(len(data)) > maxBytes {
			respondErr(c, media.ErrTooLarge)
			return
		}

		ref, err := svcs.Events.AddImage(c.Request.Context(), id, data)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, ref)
	}
}

// @Summary  Remove event image
// @Security BearerAuth
// @Param    id       path  string  true  "Event id"
// @Param    mediaId  path  string  true  "Media id (may contain slashes)"
// @Success  204
// @Failure  404  {object}  ErrorResponse
// @Router   /api/v1/events/{id}/images/{mediaId} [delete]
func handleRemoveImage(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		mediaID := strings.TrimPrefix(c.Param("mediaId"), "/")
		if mediaID == "" {
			badRequest(c, "invalid mediaId")
			return
		}
		respondErr(c, svcs.Events.RemoveImage(c.Request.Context(), id, mediaID))
	}
}

// @Summary  Ticket statistics of an event
// @Security BearerAuth
// @Param    id  path  string  true  "Event id"
// @Success  200  {object}  events.Stats
// @Router   /api/v1/events/{id}/stats [get]
func handleEventStats(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		st, err := svcs.Events.Stats(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

// --- Registration ---

// @Summary  Register for an event (idempotent)
// @Param    id   path    string              true   "Event id or slug"
// @Param    req  body    registration.Input  true   "attendee"
// @Param    Idempotency-Key  header  string  false  "replays the first response for the same key"
// @Success  201  {object}  TicketResponse
// @Failure  400  {object}  ErrorResponse  "RegistrationNotOpen / UseExternalRegistration"
// @Failure  403  {object}  ErrorResponse  "members only"
// @Failure  404  {object}  ErrorResponse
// @Failure  409  {object}  ErrorResponse  "DuplicateAttendee / EventFull"
// @Failure  429  {object}  ErrorResponse  "rate limited"
// @Router   /api/v1/events/{id}/register [post]
func handleRegister(svcs *service.Services, idem *redisrepo.IdempotencyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		eventID, ok := resolveEventID(c, svcs)
		if !ok {
			return
		}
		var req registration.Input
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisx.KeyIdemRegistration(eventID, idemKey)

			if replayed := replay(c, idem, idemStorageKey, idemKey); replayed {
				return
			}

			if !claimIdempotencyKey(c, idem, idemStorageKey, idemKey) {
				return
			}
		}

		t, err := svcs.Registration.Register(ctx, eventID, identity(c), req)
		if err != nil {
			if idemStorageKey != "" {
				_ = idem.Release(context.WithoutCancel(ctx), idemStorageKey)
			}
			respondErr(c, err)
			return
		}

		resp := TicketResponse{Ticket: t}
		if idemStorageKey != "" {
			b, _ := json.Marshal(resp)
			_ = idem.SaveResult(context.WithoutCancel(ctx), idemStorageKey, http.StatusCreated, b)
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, resp)
	}
}

// claimIdempotencyKey takes the in-flight lock for a key. A key that is
// neither locked nor holding a stored response is unreadable and gets
// replaced. It writes the response itself when the caller must stop.
func claimIdempotencyKey(c *gin.Context, idem *redisrepo.IdempotencyStore, storageKey, idemKey string) bool {
	ctx := c.Request.Context()

	locked, err := idem.AcquireLock(ctx, storageKey, idemLockTTL)
	if err != nil {
		respondErr(c, err)
		return false
	}
	if locked {
		return true
	}
	if replay(c, idem, storageKey, idemKey) {
		return false
	}

	busy, err := idem.IsLocked(ctx, storageKey)
	if err != nil {
		respondErr(c, err)
		return false
	}
	if !busy {
		if err := idem.Release(ctx, storageKey); err != nil {
			respondErr(c, err)
			return false
		}
		if locked, err = idem.AcquireLock(ctx, storageKey, idemLockTTL); err != nil {
			respondErr(c, err)
			return false
		}
		if locked {
			return true
		}
	}

	c.Header("Retry-After", "1")
	abortWith(c, http.StatusConflict, ErrorResponse{
		Error: "idempotency key in progress", Kind: kindConflict, Code: "IdempotencyInProgress",
	})
	return false
}

func replay(c *gin.Context, idem *redisrepo.IdempotencyStore, storageKey, idemKey string) bool {
	res, ok, _ := idem.GetResult(c.Request.Context(), storageKey)
	if !ok {
		return false
	}
	c.Header("Idempotency-Key", idemKey)
	c.Header("Idempotent-Replayed", "true")
	c.Data(res.Status, "application/json; charset=utf-8", res.Body)
	return true
}

// resolveEventID accepts an event id or slug.
func resolveEventID(c *gin.Context, svcs *service.Services) (uuid.UUID, bool) {
	ref := c.Param("id")
	if id, err := uuid.Parse(ref); err == nil {
		return id, true
	}
	e, err := svcs.Events.Get(c.Request.Context(), ref)
	if err != nil {
		respondErr(c, err)
		return uuid.Nil, false
	}
	return e.ID, true
}

// --- Tickets ---

// @Summary  List tickets of an event
// @Security BearerAuth
// @Param    eventId      query  string  true   "Event id"
// @Param    status       query  string  false  "active|used|cancelled"
// @Param    emailStatus  query  string  false  "pending|sent|failed"
// @Param    page         query  int     false  "page (from 1)"
// @Param    limit        query  int     false  "page size, at most 100"
// @Success  200  {object}  domain.Page[domain.Ticket]
// @Router   /api/v1/tickets [get]
func handleListTickets(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, err := uuid.Parse(c.Query("eventId"))
		if err != nil {
			badRequest(c, "invalid eventId")
			return
		}
		page, err := svcs.Tickets.List(c.Request.Context(), tickets.ListInput{
			EventID:     eventID,
			Status:      c.Query("status"),
			EmailStatus: c.Query("emailStatus"),
			Page:        parseIntDefault(c.Query("page"), 1),
			Limit:       parseIntDefault(c.Query("limit"), 0),
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

// @Summary  Get ticket
// @Description Anyone holding the code may read the ticket; admins may also use the ticket id.
// @Param    code  path  string  true  "Ticket code (or id for admins)"
// @Success  200  {object}  TicketResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /api/v1/tickets/{code} [get]
func handleGetTicket(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, err := svcs.Tickets.Get(c.Request.Context(), c.Param("code"), identity(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, TicketResponse{Ticket: t})
	}
}

// @Summary  Change ticket status
// @Security BearerAuth
// @Param    code  path  string             true  "Ticket code or id"
// @Param    req   body  TransitionRequest  true  "target status"
// @Success  200  {object}  TicketResponse
// @Failure  409  {object}  ErrorResponse  "invalid transition"
// @Router   /api/v1/tickets/{code} [patch]
func handleTransitionTicket(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TransitionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		t, err := svcs.Tickets.Transition(c.Request.Context(), c.Param("code"), req.Status)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, TicketResponse{Ticket: t})
	}
}

// @Summary  Delete ticket
// @Security BearerAuth
// @Param    code  path  string  true  "Ticket code or id"
// @Success  200  {object}  TicketResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /api/v1/tickets/{code} [delete]
func handleDeleteTicket(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, err := svcs.Tickets.Delete(c.Request.Context(), c.Param("code"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, TicketResponse{Ticket: t})
	}
}

// @Summary  Queue the confirmation email again
// @Security BearerAuth
// @Param    code  path  string  true  "Ticket code or id"
// @Success  202  {object}  TicketResponse
// @Failure  409  {object}  ErrorResponse  "ticket cancelled"
// @Router   /api/v1/tickets/{code}/resend [post]
func handleResendConfirmation(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, err := svcs.Tickets.ResendConfirmation(c.Request.Context(), c.Param("code"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusAccepted, TicketResponse{Ticket: t})
	}
}

// @Summary  Check whether an email or student id is still free for an event
// @Param    req  body  AvailabilityRequest  true  "email or student id to check"
// @Success  200  {object}  AvailabilityResponse
// @Failure  400  {object}  ErrorResponse  "invalid eventId"
// @Failure  409  {object}  ErrorResponse  "DuplicateAttendee"
// @Router   /api/v1/tickets/check-availability [post]
func handleCheckAvailability(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AvailabilityRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		eventID, err := uuid.Parse(req.EventID)
		if err != nil {
			badRequest(c, "invalid eventId")
			return
		}

		if err := svcs.Tickets.CheckAvailability(c.Request.Context(), eventID, req.Email, req.StudentID); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, AvailabilityResponse{Available: true})
	}
}

// --- Helpers ---

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
