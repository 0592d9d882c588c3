// Package app wires configuration into the running service.
package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ppiankov/extralife/internal/api"
	"github.com/ppiankov/extralife/internal/audit"
	"github.com/ppiankov/extralife/internal/beneficiary"
	"github.com/ppiankov/extralife/internal/checkout"
	"github.com/ppiankov/extralife/internal/claim"
	"github.com/ppiankov/extralife/internal/clock"
	"github.com/ppiankov/extralife/internal/documents"
	"github.com/ppiankov/extralife/internal/juno"
	"github.com/ppiankov/extralife/internal/model"
	"github.com/ppiankov/extralife/internal/policy"
	"github.com/ppiankov/extralife/internal/registry"
	"github.com/ppiankov/extralife/internal/store"
)

// App holds every service built from one configuration
type App struct {
	Config        model.Config
	Docs          *store.Documents
	Audit         *audit.Service
	Policies      *policy.Manager
	Beneficiaries *beneficiary.Allocator
	Claims        *claim.Manager
	Checkout      *checkout.Service
	Activator     *policy.Activator
	Server        *api.Server

	logger logrus.FieldLogger
}

// New builds the store, collaborators and managers. Collaborator modes are
// resolved here and nowhere else.
func New(ctx context.Context, cfg model.Config, logger logrus.FieldLogger) (*App, error) {
	backend, err := store.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return newWithStore(ctx, cfg, backend, clock.Real{}, logger)
}

func newWithStore(ctx context.Context, cfg model.Config, backend store.Store, clk clock.Clock, logger logrus.FieldLogger) (*App, error) {
	docs := store.NewDocuments(backend)

	gateway, err := juno.NewGateway(cfg, clk, logger)
	if err != nil {
		return nil, fmt.Errorf("juno gateway: %w", err)
	}

	evidence, err := documents.NewStore(ctx, cfg, clk, logger)
	if err != nil {
		return nil, fmt.Errorf("document store: %w", err)
	}

	var reg registry.Registry
	if cfg.Registry.Enabled {
		r, err := registry.NewRegistry(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("policy registry: %w", err)
		}
		reg = r
	}

	policies := policy.NewManager(docs, clk, cfg.Activation.Delay, logger)
	bens := beneficiary.NewAllocator(docs, clk, logger)
	claims := claim.NewManager(docs, clk, gateway, cfg.Payout, logger)
	auditSvc := audit.NewService(docs, clk)

	co := checkout.NewService(checkout.Options{
		Docs:          docs,
		Policies:      policies,
		Beneficiaries: bens,
		Gateway:       gateway,
		Registry:      reg,
		OnChainParty:  cfg.Registry.FromAddress,
		Clock:         clk,
		Logger:        logger,
	})

	a := &App{
		Config:        cfg,
		Docs:          docs,
		Audit:         auditSvc,
		Policies:      policies,
		Beneficiaries: bens,
		Claims:        claims,
		Checkout:      co,
		Activator:     policy.NewActivator(policies, cfg.Activation.Interval, logger),
		logger:        logger,
	}
	a.Server = api.NewServer(cfg, api.Deps{
		Policies:      policies,
		Beneficiaries: bens,
		Claims:        claims,
		Checkout:      co,
		Documents:     evidence,
		Audit:         auditSvc,
		Clock:         clk,
	}, logger)

	logger.WithFields(logrus.Fields{
		"mode":      cfg.Mode,
		"store":     cfg.Store.Driver,
		"juno":      cfg.CollaboratorMode(cfg.Juno.Mode),
		"documents": cfg.CollaboratorMode(cfg.Documents.Mode),
		"registry":  cfg.Registry.Enabled,
	}).Info("service configured")
	return a, nil
}

// Run starts the activation sweep and serves HTTP until ctx is cancelled
func (a *App) Run(ctx context.Context) error {
	if a.Config.Activation.Enabled {
		if err := a.Activator.Start(); err != nil {
			return err
		}
		defer a.Activator.Stop()
	} else {
		a.logger.Warn("activation sweep disabled, pending policies stay pending")
	}

	return a.Server.Run(ctx)
}
