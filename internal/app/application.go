// Package app wires the auction house services over their stores and chain
// collaborators.
package app

import (
	"context"
	"fmt"

	"github.com/tokenhall/auctionhouse/internal/app/events"
	"github.com/tokenhall/auctionhouse/internal/app/services/auctionhouse"
	"github.com/tokenhall/auctionhouse/internal/app/services/marketplace"
	"github.com/tokenhall/auctionhouse/internal/app/services/sweeper"
	"github.com/tokenhall/auctionhouse/internal/app/services/tickets"
	"github.com/tokenhall/auctionhouse/internal/app/storage"
	"github.com/tokenhall/auctionhouse/internal/app/storage/memory"
	"github.com/tokenhall/auctionhouse/internal/app/system"
	"github.com/tokenhall/auctionhouse/internal/chain"
	"github.com/tokenhall/auctionhouse/internal/config"
	"github.com/tokenhall/auctionhouse/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to a
// shared in-memory implementation.
type Stores struct {
	Auctions storage.AuctionStore
	Balances storage.BalanceStore
	Market   storage.MarketStore
	Tickets  storage.TicketStore
}

// Options configures application assembly. Nil chain collaborators default to
// the in-process memory implementations.
type Options struct {
	Config      config.Config
	Stores      Stores
	Collections chain.CollectionRegistry
	Treasury    chain.Treasury
	Logger      *logger.Logger
}

// Application ties the services together and manages their lifecycle.
type Application struct {
	Config config.Config
	Log    *logger.Logger
	Events *events.Hub

	Engine      *auctionhouse.Service
	Tickets     *tickets.Service
	Marketplace *marketplace.Service
	Sweeper     *sweeper.Sweeper

	manager *system.Manager
}

// New builds a fully initialised application.
func New(ctx context.Context, opts Options) (*Application, error) {
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	stores := opts.Stores
	if stores.Auctions == nil {
		stores.Auctions = mem
	}
	if stores.Balances == nil {
		stores.Balances = mem
	}
	if stores.Market == nil {
		stores.Market = mem
	}
	if stores.Tickets == nil {
		stores.Tickets = mem
	}

	collections := opts.Collections
	if collections == nil {
		collections = chain.NewMemoryRegistry()
	}
	treasury := opts.Treasury
	if treasury == nil {
		treasury = chain.NewMemoryTreasury()
	}

	hub := events.NewHub(0)
	ticketService := tickets.NewService(stores.Tickets, log.WithField("component", "tickets"))

	engine, err := auctionhouse.NewService(ctx, auctionhouse.Params{
		Config:      opts.Config.Auction,
		Auctions:    stores.Auctions,
		Balances:    stores.Balances,
		Meter:       ticketService,
		Collections: collections,
		Treasury:    treasury,
		Events:      hub,
		Logger:      log.WithField("component", "auctionhouse"),
	})
	if err != nil {
		return nil, fmt.Errorf("build auction engine: %w", err)
	}

	market := marketplace.NewService(
		marketplace.Config{Owner: opts.Config.Auction.Owner, Custodian: opts.Config.Auction.Custodian},
		stores.Market,
		stores.Balances,
		engine.Custody(),
		collections,
		hub,
		log.WithField("component", "marketplace"),
	)

	sweep := sweeper.New(engine, opts.Config.Auction.Owner, opts.Config.Auction.SweepSchedule, log.WithField("component", "sweeper"))

	manager := system.NewManager(log)
	manager.Register(sweep)

	return &Application{
		Config:      opts.Config,
		Log:         log,
		Events:      hub,
		Engine:      engine,
		Tickets:     ticketService,
		Marketplace: market,
		Sweeper:     sweep,
		manager:     manager,
	}, nil
}

// Start launches the background services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop shuts the background services down.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
