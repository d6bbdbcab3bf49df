package jobs_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"keypilot/internal/domain"
	"keypilot/internal/jobs"
	"keypilot/internal/runner"
)

type fakeResolver struct {
	byName map[string]domain.Job
}

func newFakeResolver(list ...domain.Job) *fakeResolver {
	r := &fakeResolver{byName: map[string]domain.Job{}}
	for _, job := range list {
		r.byName[job.Name] = job
	}
	return r
}

func (r *fakeResolver) Job(name string) (domain.Job, bool) {
	job, ok := r.byName[name]
	return job, ok
}

func (r *fakeResolver) Resolve(id, name string) (domain.Job, bool) {
	for _, job := range r.byName {
		if id != "" && job.ID == id {
			return job, true
		}
	}
	return r.Job(name)
}

// blockingRunner runs until cancelled and counts concurrent runs per job.
type blockingRunner struct {
	mu      sync.Mutex
	active  map[string]int
	peak    map[string]int
	started atomic.Int32
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{active: map[string]int{}, peak: map[string]int{}}
}

func (r *blockingRunner) Run(ctx context.Context, job domain.Job) error {
	r.mu.Lock()
	r.active[job.Name]++
	if r.active[job.Name] > r.peak[job.Name] {
		r.peak[job.Name] = r.active[job.Name]
	}
	r.mu.Unlock()
	r.started.Add(1)

	<-ctx.Done()

	r.mu.Lock()
	r.active[job.Name]--
	r.mu.Unlock()
	return ctx.Err()
}

func (r *blockingRunner) Peak(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peak[name]
}

func countEvents(bus *jobs.EventBus, typ jobs.EventType, job string) int {
	n := 0
	for _, ev := range bus.Since(0) {
		if ev.Type == typ && ev.Job == job {
			n++
		}
	}
	return n
}

func requireStep(name string) domain.JobStep {
	return domain.JobStep{Kind: domain.StepRequireProcess, RequireProcess: &domain.RequireProcessSettings{Name: name}}
}

var _ = Describe("Orchestrator", func() {
	var (
		bus   *jobs.EventBus
		run   *blockingRunner
		orch  *jobs.Orchestrator
		farm  domain.Job
		other domain.Job
	)

	BeforeEach(func() {
		bus = jobs.NewEventBus(100)
		run = newBlockingRunner()
		farm = domain.Job{ID: "id-farm", Name: "farm"}
		other = domain.Job{ID: "id-other", Name: "other"}
		orch = jobs.NewOrchestrator(newFakeResolver(farm, other), run, bus, nil)
	})

	AfterEach(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		Expect(orch.Shutdown(ctx)).To(Succeed())
	})

	Describe("Start", func() {
		It("runs at most one instance per job name", func() {
			Expect(orch.Start("farm")).To(Succeed())
			err := orch.Start("farm")
			Expect(errors.Is(err, jobs.ErrJobAlreadyRunning)).To(BeTrue())

			Eventually(run.started.Load).Should(BeEquivalentTo(1))
			Consistently(run.started.Load, 50*time.Millisecond).Should(BeEquivalentTo(1))
			Expect(orch.Running()).To(HaveLen(1))
		})

		It("admits exactly one run under concurrent starts", func() {
			var wg sync.WaitGroup
			var accepted atomic.Int32
			for i := 0; i < 32; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if orch.Start("farm") == nil {
						accepted.Add(1)
					}
				}()
			}
			wg.Wait()

			Expect(accepted.Load()).To(BeEquivalentTo(1))
			Eventually(run.started.Load).Should(BeEquivalentTo(1))
			Expect(run.Peak("farm")).To(Equal(1))
		})

		It("rejects unknown jobs", func() {
			Expect(errors.Is(orch.Start("missing"), jobs.ErrUnknownJob)).To(BeTrue())
		})

		It("rejects starts after shutdown", func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			Expect(orch.Shutdown(ctx)).To(Succeed())
			Expect(errors.Is(orch.Start("farm"), jobs.ErrOrchestratorClosed)).To(BeTrue())
		})
	})

	Describe("Toggle", func() {
		It("starts a stopped job and cancels a running one", func() {
			Expect(orch.Toggle("farm")).To(Succeed())
			Eventually(func() bool { return orch.IsRunning("farm") }).Should(BeTrue())
			Eventually(run.started.Load).Should(BeEquivalentTo(1))

			Expect(orch.Toggle("farm")).To(Succeed())
			Expect(orch.IsRunning("farm")).To(BeFalse())
			Eventually(func() int { return countEvents(bus, jobs.EventTypeJobCancelled, "farm") }).Should(Equal(1))
			Expect(countEvents(bus, jobs.EventTypeJobFailed, "farm")).To(Equal(0))
			Expect(countEvents(bus, jobs.EventTypeJobFinished, "farm")).To(Equal(0))
		})

		It("leaves other jobs untouched", func() {
			Expect(orch.Start("farm")).To(Succeed())
			Expect(orch.Start("other")).To(Succeed())
			Expect(orch.Toggle("farm")).To(Succeed())

			Expect(orch.IsRunning("other")).To(BeTrue())
			Expect(orch.Stop("other")).To(BeTrue())
			Expect(orch.Stop("other")).To(BeFalse())
		})
	})

	Describe("HandleAction", func() {
		It("resolves by id before name", func() {
			action := domain.ActionDefinition{JobID: "id-other", JobName: "farm", Command: domain.CommandStart}
			Expect(orch.HandleAction(context.Background(), action)).To(Succeed())
			Expect(orch.IsRunning("other")).To(BeTrue())
			Expect(orch.IsRunning("farm")).To(BeFalse())
		})

		It("reports unresolved targets as job failures", func() {
			action := domain.ActionDefinition{JobName: "ghost", Command: domain.CommandToggle}
			err := orch.HandleAction(context.Background(), action)
			Expect(errors.Is(err, jobs.ErrUnknownJob)).To(BeTrue())
			Expect(countEvents(bus, jobs.EventTypeJobFailed, "ghost")).To(Equal(1))
		})

		It("stops through the stop command", func() {
			Expect(orch.Start("farm")).To(Succeed())
			Expect(orch.HandleAction(context.Background(), domain.ActionDefinition{JobName: "farm", Command: domain.CommandStop})).To(Succeed())
			Expect(orch.IsRunning("farm")).To(BeFalse())
		})
	})

	Describe("Wait", func() {
		It("returns once the run has ended", func() {
			Expect(orch.Start("farm")).To(Succeed())
			Eventually(run.started.Load).Should(BeEquivalentTo(1))

			waitCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			Expect(orch.Wait(waitCtx, "farm")).To(MatchError(context.DeadlineExceeded))

			orch.Stop("farm")
			Expect(orch.Wait(context.Background(), "farm")).To(Succeed())
		})

		It("stops and waits in one call", func() {
			Expect(orch.Start("farm")).To(Succeed())
			Eventually(run.started.Load).Should(BeEquivalentTo(1))

			found, err := orch.StopAndWait(context.Background(), "farm")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeTrue())
			Expect(countEvents(bus, jobs.EventTypeJobCancelled, "farm")).To(Equal(1))

			found, err = orch.StopAndWait(context.Background(), "farm")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeFalse())
		})
	})
})

var _ = Describe("Orchestrator with the step runner", func() {
	var (
		bus   *jobs.EventBus
		orch  *jobs.Orchestrator
		calls []string
		mu    sync.Mutex
	)

	BeforeEach(func() {
		calls = nil
		handlers := map[domain.StepKind]runner.Handler{
			domain.StepRequireProcess: runner.HandlerFunc(func(_ context.Context, step domain.JobStep, _ domain.Job, _ *runner.RunContext) (bool, error) {
				mu.Lock()
				calls = append(calls, step.RequireProcess.Name)
				mu.Unlock()
				if step.RequireProcess.Name == "B" {
					return false, errors.New("B broke")
				}
				return true, nil
			}),
		}
		isolated := domain.Job{Name: "isolated", Steps: []domain.JobStep{requireStep("A"), requireStep("B"), requireStep("C")}}
		healthy := domain.Job{Name: "healthy", Steps: []domain.JobStep{requireStep("ok")}}
		resolver := newFakeResolver(isolated, healthy)

		bus = jobs.NewEventBus(100)
		orch = jobs.NewOrchestrator(resolver, runner.NewExecutor(catalogAdapter{resolver}, handlers), bus, nil)
	})

	AfterEach(func() {
		Expect(orch.Shutdown(context.Background())).To(Succeed())
	})

	It("isolates a failing step and keeps accepting work", func() {
		Expect(orch.Start("isolated")).To(Succeed())
		Expect(orch.Wait(context.Background(), "isolated")).To(Succeed())
		Eventually(func() int { return countEvents(bus, jobs.EventTypeStepFailed, "isolated") }).Should(Equal(1))

		mu.Lock()
		Expect(calls).To(Equal([]string{"A", "B"}))
		mu.Unlock()
		Expect(countEvents(bus, jobs.EventTypeJobFailed, "isolated")).To(Equal(0))

		var failed jobs.Event
		for _, ev := range bus.Since(0) {
			if ev.Type == jobs.EventTypeStepFailed {
				failed = ev
			}
		}
		Expect(failed.StepIndex).NotTo(BeNil())
		Expect(*failed.StepIndex).To(Equal(1))

		Expect(orch.Start("healthy")).To(Succeed())
		Eventually(func() int { return countEvents(bus, jobs.EventTypeJobFinished, "healthy") }).Should(Equal(1))

		recent := orch.Recent()
		Expect(recent).NotTo(BeEmpty())
		Expect(recent[len(recent)-1].Status).To(Equal(domain.RunStatusFailed))
	})
})

type catalogAdapter struct {
	r *fakeResolver
}

func (c catalogAdapter) Job(name string) (domain.Job, bool) { return c.r.Job(name) }
func (c catalogAdapter) Jobs() []domain.Job                 { return nil }
func (c catalogAdapter) Macros() []domain.Macro             { return nil }
