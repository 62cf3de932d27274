package service

import (
	"log/slog"

	"github.com/kirinyoku/clubtix/internal/media"
	"github.com/kirinyoku/clubtix/internal/notify"
	"github.com/kirinyoku/clubtix/internal/repository"
	redisrepo "github.com/kirinyoku/clubtix/internal/repository/redis"
	"github.com/kirinyoku/clubtix/internal/service/events"
	"github.com/kirinyoku/clubtix/internal/service/outbox"
	"github.com/kirinyoku/clubtix/internal/service/registration"
	"github.com/kirinyoku/clubtix/internal/service/tickets"
	"github.com/kirinyoku/clubtix/internal/ticketcode"
)

type Services struct {
	Events       *events.Service
	Registration *registration.Service
	Tickets      *tickets.Service
	Outbox       *outbox.Service
}

type Config struct {
	Events       events.Config
	Registration registration.Config
	Outbox       outbox.Config
}

// NewServices wires the services over one store. cache may be nil.
func NewServices(
	store repository.Store,
	cache *redisrepo.Cache,
	gw media.Gateway,
	mail notify.Sender,
	logger *slog.Logger,
	cfg Config,
) *Services {
	ob := outbox.New(store, ticketcode.NewRenderer(gw, logger), mail, logger, cfg.Outbox)

	return &Services{
		Events:       events.New(store, cache, gw, logger, cfg.Events),
		Registration: registration.New(store, cache, ob, logger, cfg.Registration),
		Tickets:      tickets.New(store, cache, gw, ob, logger),
		Outbox:       ob,
	}
}
