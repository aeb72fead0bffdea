// Package dispatch fans one notification out to every subscription in a
// scope and aggregates the outcomes.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tariel-x/apppush/internal/metrics"
	"github.com/tariel-x/apppush/internal/models"
	"github.com/tariel-x/apppush/internal/push"
	"github.com/tariel-x/apppush/internal/tenant"
)

const dispatchIDLength = 12

// ScopeResolver expands a scope into app ids.
type ScopeResolver interface {
	Resolve(ctx context.Context, scope tenant.Scope) (tenant.Resolution, error)
}

// Subscriptions is the part of the registry a dispatch reads and prunes.
type Subscriptions interface {
	ListByTenants(ctx context.Context, appIDs []string) ([]models.PushSubscription, error)
	DeleteByID(ctx context.Context, appID, id string) error
}

type Options struct {
	// Concurrency caps outstanding transport calls per dispatch.
	Concurrency int
	// DeliveryTimeout bounds one Send plus its cleanup delete.
	DeliveryTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 32
	}
	if o.DeliveryTimeout <= 0 {
		o.DeliveryTimeout = 10 * time.Second
	}
	return o
}

type Engine struct {
	resolver  ScopeResolver
	subs      Subscriptions
	transport push.Transport
	logger    *slog.Logger
	opts      Options
}

func New(resolver ScopeResolver, subs Subscriptions, transport push.Transport, logger *slog.Logger, opts Options) *Engine {
	return &Engine{
		resolver:  resolver,
		subs:      subs,
		transport: transport,
		logger:    logger.With("component", "dispatch"),
		opts:      opts.withDefaults(),
	}
}

// Dispatch delivers req to every subscription in its scope. It fails only if
// the scope cannot be resolved or the subscriptions cannot be read; per
// recipient failures are counted in the Result. Cancelling ctx stops new
// deliveries from starting and returns the outcomes completed so far.
func (e *Engine) Dispatch(ctx context.Context, req Request) (Result, error) {
	resolution, err := e.resolver.Resolve(ctx, req.Scope)
	if err != nil {
		return Result{}, fmt.Errorf("resolve scope: %w", err)
	}

	id, err := gonanoid.New(dispatchIDLength)
	if err != nil {
		return Result{}, fmt.Errorf("dispatch id: %w", err)
	}
	log := e.logger.With("dispatch_id", id, "scope", req.Scope.String())

	if len(resolution.AppIDs) == 0 {
		log.Debug("No apps in scope")
		return Result{DispatchID: id, Removed: []string{}}, nil
	}

	subs, err := e.subs.ListByTenants(ctx, resolution.AppIDs)
	if err != nil {
		return Result{}, fmt.Errorf("load subscriptions: %w", err)
	}

	payload, err := NewPayload(req, resolution.App).Marshal()
	if err != nil {
		return Result{}, fmt.Errorf("encode payload: %w", err)
	}

	rep := NewReporter()
	started := e.deliverAll(ctx, subs, payload, rep, log)

	result := rep.Result()
	result.DispatchID = id
	result.Recipients = len(subs)

	attrs := []any{
		"apps", len(resolution.AppIDs),
		"recipients", len(subs),
		"success", result.Success,
		"failure", result.Failure,
		"removed", len(result.Removed),
	}
	if started < len(subs) {
		log.Warn("Dispatch cut short", append(attrs, "started", started, "error", ctx.Err())...)
	} else {
		log.Info("Dispatch complete", attrs...)
	}
	return result, nil
}

// deliverAll runs one delivery per subscription with at most
// opts.Concurrency in flight and waits for all started ones. It returns the
// number started.
func (e *Engine) deliverAll(ctx context.Context, subs []models.PushSubscription, payload []byte, rep *Reporter, log *slog.Logger) int {
	sem := semaphore.NewWeighted(int64(e.opts.Concurrency))
	var g errgroup.Group

	started := 0
	for _, sub := range subs {
		if ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		started++
		g.Go(func() error {
			defer sem.Release(1)
			e.deliver(ctx, sub, payload, rep, log)
			return nil
		})
	}
	_ = g.Wait()
	return started
}

// deliver is detached from ctx cancellation so an in-flight send finishes;
// DeliveryTimeout still bounds it.
func (e *Engine) deliver(ctx context.Context, sub models.PushSubscription, payload []byte, rep *Reporter, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.DeliveryTimeout)
	defer cancel()

	out := e.transport.Send(ctx, push.Target{
		Endpoint: sub.Endpoint,
		Auth:     sub.Auth,
		P256DH:   sub.P256DH,
	}, payload)
	metrics.Deliveries.WithLabelValues(out.Kind.String()).Inc()

	switch out.Kind {
	case push.Delivered:
		rep.Delivered()
	case push.Gone:
		rep.Failed()
		if err := e.subs.DeleteByID(ctx, sub.AppID, sub.ID); err != nil {
			metrics.PruneFailures.Inc()
			log.Warn("Failed to delete gone subscription", "subscription_id", sub.ID, "error", err)
			return
		}
		metrics.Pruned.Inc()
		rep.Removed(sub.ID)
		log.Debug("Deleted gone subscription", "subscription_id", sub.ID, "status", out.StatusCode)
	default:
		rep.Failed()
		log.Debug("Delivery failed", "subscription_id", sub.ID, "status", out.StatusCode, "error", out.Err)
	}
}
