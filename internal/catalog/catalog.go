// Package catalog holds the in-memory view of job and macro definitions.
// Readers see immutable snapshots; every write publishes a new snapshot.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"keypilot/internal/domain"
	"keypilot/internal/store"
)

// ErrJobNotFound is returned when a job reference cannot be resolved.
var ErrJobNotFound = errors.New("job not found")

// ErrMacroNotFound is returned when a macro name is unknown.
var ErrMacroNotFound = errors.New("macro not found")

type snapshot struct {
	jobsByName map[string]domain.Job
	jobsByID   map[string]domain.Job
	macros     map[string]domain.Macro
}

// Catalog serves job and macro lookups. Values handed out share step
// settings with the snapshot and must be treated as read-only.
type Catalog struct {
	jobs   store.Store[domain.Job]
	macros store.Store[domain.Macro]

	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

// New creates an empty catalog over the given stores.
func New(jobs store.Store[domain.Job], macros store.Store[domain.Macro]) *Catalog {
	c := &Catalog{jobs: jobs, macros: macros}
	c.snap.Store(buildSnapshot(nil, nil))
	return c
}

// Reload replaces the snapshot with the stores' current contents.
func (c *Catalog) Reload(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	jobs, err := c.jobs.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}
	macros, err := c.macros.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load macros: %w", err)
	}

	c.snap.Store(buildSnapshot(jobs, macros))
	return nil
}

// Job looks a job up by name.
func (c *Catalog) Job(name string) (domain.Job, bool) {
	job, ok := c.snap.Load().jobsByName[name]
	return job, ok
}

// Resolve prefers the stable id and falls back to the name.
func (c *Catalog) Resolve(id, name string) (domain.Job, bool) {
	snap := c.snap.Load()
	if id != "" {
		if job, ok := snap.jobsByID[id]; ok {
			return job, true
		}
	}
	if name != "" {
		if job, ok := snap.jobsByName[name]; ok {
			return job, true
		}
	}
	return domain.Job{}, false
}

// Macro looks a macro up by name.
func (c *Catalog) Macro(name string) (domain.Macro, bool) {
	macro, ok := c.snap.Load().macros[name]
	return macro, ok
}

// Jobs returns every job ordered by name.
func (c *Catalog) Jobs() []domain.Job {
	jobs := lo.Values(c.snap.Load().jobsByName)
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs
}

// Macros returns every macro ordered by name.
func (c *Catalog) Macros() []domain.Macro {
	macros := lo.Values(c.snap.Load().macros)
	sort.Slice(macros, func(i, j int) bool { return macros[i].Name < macros[j].Name })
	return macros
}

// SaveJob validates, assigns an id when missing, persists and publishes.
func (c *Catalog) SaveJob(ctx context.Context, job domain.Job) (domain.Job, error) {
	job.Name = strings.TrimSpace(job.Name)
	if err := job.Validate(); err != nil {
		return domain.Job{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.snap.Load()
	if job.ID == "" {
		if existing, ok := snap.jobsByName[job.Name]; ok {
			job.ID = existing.ID
		} else {
			job.ID = uuid.NewString()
		}
	}
	if other, ok := snap.jobsByID[job.ID]; ok && other.Name != job.Name {
		return domain.Job{}, fmt.Errorf("job id %s already belongs to %q", job.ID, other.Name)
	}

	if err := c.jobs.Save(ctx, job); err != nil {
		return domain.Job{}, fmt.Errorf("save job: %w", err)
	}

	jobs := lo.Values(snap.jobsByName)
	jobs = lo.Reject(jobs, func(j domain.Job, _ int) bool { return j.Name == job.Name })
	c.snap.Store(buildSnapshot(append(jobs, job), lo.Values(snap.macros)))
	return job, nil
}

// DeleteJob removes a job by name.
func (c *Catalog) DeleteJob(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.snap.Load()
	if _, ok := snap.jobsByName[name]; !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if err := c.jobs.Delete(ctx, name); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete job: %w", err)
	}

	jobs := lo.Reject(lo.Values(snap.jobsByName), func(j domain.Job, _ int) bool { return j.Name == name })
	c.snap.Store(buildSnapshot(jobs, lo.Values(snap.macros)))
	return nil
}

// SaveMacro persists and publishes a macro.
func (c *Catalog) SaveMacro(ctx context.Context, macro domain.Macro) error {
	macro.Name = strings.TrimSpace(macro.Name)
	if macro.Name == "" {
		return fmt.Errorf("macro name is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.macros.Save(ctx, macro); err != nil {
		return fmt.Errorf("save macro: %w", err)
	}

	snap := c.snap.Load()
	macros := lo.Reject(lo.Values(snap.macros), func(m domain.Macro, _ int) bool { return m.Name == macro.Name })
	c.snap.Store(buildSnapshot(lo.Values(snap.jobsByName), append(macros, macro)))
	return nil
}

// DeleteMacro removes a macro by name.
func (c *Catalog) DeleteMacro(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.snap.Load()
	if _, ok := snap.macros[name]; !ok {
		return fmt.Errorf("%w: %s", ErrMacroNotFound, name)
	}
	if err := c.macros.Delete(ctx, name); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete macro: %w", err)
	}

	macros := lo.Reject(lo.Values(snap.macros), func(m domain.Macro, _ int) bool { return m.Name == name })
	c.snap.Store(buildSnapshot(lo.Values(snap.jobsByName), macros))
	return nil
}

func buildSnapshot(jobs []domain.Job, macros []domain.Macro) *snapshot {
	snap := &snapshot{
		jobsByName: lo.KeyBy(jobs, func(j domain.Job) string { return j.Name }),
		jobsByID:   make(map[string]domain.Job, len(jobs)),
		macros:     lo.KeyBy(macros, func(m domain.Macro) string { return m.Name }),
	}
	for _, job := range jobs {
		if job.ID != "" {
			snap.jobsByID[job.ID] = job
		}
	}
	return snap
}
