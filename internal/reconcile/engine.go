// Package reconcile keeps the stored lesson instances of each subject in
// step with its recurrence template.
//
// Resync regenerates a subject's future schedule after a template change and
// removes auto-generated lessons the template no longer produces. Ensure only
// fills in the lessons a window is missing and never deletes.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/julianstephens/lessonsync/internal/constants"
	"github.com/julianstephens/lessonsync/internal/guard"
	"github.com/julianstephens/lessonsync/internal/storage"
)

// ErrPartialResync is returned when a store without transactions accepted
// the new instances but failed while removing or replacing stale ones.
// Running Resync again converges.
var ErrPartialResync = errors.New("resync partially applied")

const tracerName = "github.com/julianstephens/lessonsync/internal/reconcile"

type Options struct {
	// Location is the zone templates are expanded in
	Location *time.Location
	// HorizonWeeks bounds how far ahead Resync generates
	HorizonWeeks int
	// StoreTimeout bounds each store round-trip; zero disables the bound
	StoreTimeout time.Duration
	// Concurrency limits how many subjects Ensure processes at once
	Concurrency int
	// NewID mints instance ids; defaults to random UUIDs
	NewID func() string
}

func (o Options) withDefaults() (Options, error) {
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.HorizonWeeks == 0 {
		o.HorizonWeeks = constants.DefaultHorizonWeeks
	}
	if o.HorizonWeeks < 0 || o.HorizonWeeks > constants.MaxHorizonWeeks {
		return o, fmt.Errorf("horizon must be between 1 and %d weeks, got %d", constants.MaxHorizonWeeks, o.HorizonWeeks)
	}
	if o.StoreTimeout < 0 {
		return o, fmt.Errorf("store timeout must not be negative")
	}
	if o.Concurrency <= 0 {
		o.Concurrency = constants.DefaultEnsureConcurrency
	}
	if o.NewID == nil {
		o.NewID = func() string { return uuid.New().String() }
	}
	return o, nil
}

type Engine struct {
	subjects  storage.SubjectRepository
	instances storage.InstanceStore
	guard     *guard.Guard
	opts      Options
	tracer    trace.Tracer
}

func New(subjects storage.SubjectRepository, instances storage.InstanceStore, g *guard.Guard, opts Options) (*Engine, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	if g == nil {
		g = guard.New()
	}
	return &Engine{
		subjects:  subjects,
		instances: instances,
		guard:     g,
		opts:      opts,
		tracer:    otel.Tracer(tracerName),
	}, nil
}

// Options returns the engine's effective options
func (e *Engine) Options() Options {
	return e.opts
}

// storeCtx bounds a single store round-trip
func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.opts.StoreTimeout)
}

func recordError(span trace.Span, err error, msg string) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}
