package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"licenseops/internal/models"

	"github.com/robfig/cron/v3"
)

// MaxTimeout bounds every job definition's timeout.
const MaxTimeout = 3 * time.Hour

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobAlreadyRunning = errors.New("job already running")
	ErrJobTimeout        = errors.New("job timed out")
	ErrInvalidDefinition = errors.New("invalid job definition")
)

// Handler is one job's business logic. It must honour ctx cancellation.
type Handler func(ctx context.Context) error

type Definition struct {
	Name          string
	Description   string
	Schedule      string
	Priority      models.JobPriority
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	Enabled       bool
	Handler       Handler
}

// RetryWait is how long the executor waits before re-invoking a failed run.
// It never undercuts the timeout so two runs of one job cannot overlap.
func (d Definition) RetryWait() time.Duration {
	if d.RetryDelay > d.Timeout {
		return d.RetryDelay
	}
	return d.Timeout
}

// MaxSpan is the worst-case wall time of one scheduled trigger including retries.
func (d Definition) MaxSpan() time.Duration {
	return time.Duration(d.RetryAttempts+1)*d.Timeout + time.Duration(d.RetryAttempts)*d.RetryWait()
}

func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidDefinition)
	}
	if fields := strings.Fields(d.Schedule); len(fields) != 5 {
		return fmt.Errorf("%w: %s: schedule %q must have 5 fields, got %d", ErrInvalidDefinition, d.Name, d.Schedule, len(fields))
	}
	if _, err := cron.ParseStandard(d.Schedule); err != nil {
		return fmt.Errorf("%w: %s: schedule %q: %v", ErrInvalidDefinition, d.Name, d.Schedule, err)
	}
	if d.Timeout <= 0 || d.Timeout > MaxTimeout {
		return fmt.Errorf("%w: %s: timeout %s outside (0, %s]", ErrInvalidDefinition, d.Name, d.Timeout, MaxTimeout)
	}
	if d.RetryAttempts < 0 {
		return fmt.Errorf("%w: %s: negative retry attempts", ErrInvalidDefinition, d.Name)
	}
	if d.RetryDelay < 0 {
		return fmt.Errorf("%w: %s: negative retry delay", ErrInvalidDefinition, d.Name)
	}
	switch d.Priority {
	case models.PriorityCritical, models.PriorityHigh, models.PriorityMedium, models.PriorityLow:
	default:
		return fmt.Errorf("%w: %s: unknown priority %q", ErrInvalidDefinition, d.Name, d.Priority)
	}
	if d.Handler == nil {
		return fmt.Errorf("%w: %s: nil handler", ErrInvalidDefinition, d.Name)
	}
	return nil
}

// Registry is the validated, read-only set of job definitions.
type Registry struct {
	defs   []Definition
	byName map[string]int
}

func NewRegistry(defs []Definition) (*Registry, error) {
	r := &Registry{
		defs:   make([]Definition, 0, len(defs)),
		byName: make(map[string]int, len(defs)),
	}
	var errs []error
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := r.byName[d.Name]; dup {
			errs = append(errs, fmt.Errorf("%w: duplicate name %s", ErrInvalidDefinition, d.Name))
			continue
		}
		r.byName[d.Name] = len(r.defs)
		r.defs = append(r.defs, d)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

// WithOverrides returns a new registry with the enabled flag replaced for the
// named jobs. Unknown names are rejected.
func (r *Registry) WithOverrides(enabled map[string]bool) (*Registry, error) {
	defs := r.All()
	for name, on := range enabled {
		i, ok := r.byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: override for %s", ErrJobNotFound, name)
		}
		defs[i].Enabled = on
	}
	return NewRegistry(defs)
}

func (r *Registry) All() []Definition {
	return append([]Definition(nil), r.defs...)
}

func (r *Registry) Enabled() []Definition {
	var out []Definition
	for _, d := range r.defs {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}

func (r *Registry) Get(name string) (Definition, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Definition{}, false
	}
	return r.defs[i], true
}

// Spans maps each job name to its MaxSpan.
func (r *Registry) Spans() map[string]time.Duration {
	spans := make(map[string]time.Duration, len(r.defs))
	for _, d := range r.defs {
		spans[d.Name] = d.MaxSpan()
	}
	return spans
}

// LongestSpan is the largest MaxSpan across all definitions.
func (r *Registry) LongestSpan() time.Duration {
	var longest time.Duration
	for _, d := range r.defs {
		if s := d.MaxSpan(); s > longest {
			longest = s
		}
	}
	return longest
}
