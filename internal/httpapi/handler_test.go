package httpapi_test

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"keypilot/internal/domain"
	"keypilot/internal/httpapi"
	"keypilot/internal/jobs"
)

var _ = Describe("Handler", func() {
	var (
		router *gin.Engine
		orch   *mockOrchestrator
		bus    *jobs.EventBus
		diag   *mockDiagnoser
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		orch = &mockOrchestrator{}
		bus = jobs.NewEventBus(100)
		diag = &mockDiagnoser{}
		catalog := &mockCatalog{
			jobs:   []domain.Job{{ID: "1", Name: "farm"}},
			macros: []domain.Macro{{Name: "loot"}},
		}
		hotkeys := &mockHotkeys{defs: []domain.HotkeyDefinition{{Name: "f5", Key: 0x3F, Active: true}}}
		h := httpapi.NewHandler(orch, catalog, hotkeys, bus, diag)
		router = httpapi.NewRouter(h, httpapi.RouterConfig{ServiceName: "keypilot"})
	})

	do := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	decode := func(w *httptest.ResponseRecorder) map[string]any {
		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		return resp
	}

	It("reports health", func() {
		w := do(http.MethodGet, "/health")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(decode(w)["status"]).To(Equal("ok"))
	})

	It("lists jobs, macros and hotkeys", func() {
		Expect(do(http.MethodGet, "/api/v1/jobs").Body.String()).To(ContainSubstring(`"name":"farm"`))
		Expect(do(http.MethodGet, "/api/v1/macros").Body.String()).To(ContainSubstring(`"name":"loot"`))
		Expect(do(http.MethodGet, "/api/v1/hotkeys").Body.String()).To(ContainSubstring(`"name":"f5"`))
	})

	Describe("start", func() {
		It("returns 202 and passes the job name", func() {
			var got string
			orch.startFn = func(name string) error {
				got = name
				return nil
			}
			w := do(http.MethodPost, "/api/v1/jobs/farm/start")
			Expect(w.Code).To(Equal(http.StatusAccepted))
			Expect(got).To(Equal("farm"))
		})

		It("returns 409 when the job already runs", func() {
			orch.startFn = func(name string) error {
				return fmt.Errorf("%w: %s", jobs.ErrJobAlreadyRunning, name)
			}
			Expect(do(http.MethodPost, "/api/v1/jobs/farm/start").Code).To(Equal(http.StatusConflict))
		})

		It("returns 404 for unknown jobs", func() {
			orch.startFn = func(name string) error {
				return fmt.Errorf("%w: %s", jobs.ErrUnknownJob, name)
			}
			Expect(do(http.MethodPost, "/api/v1/jobs/nope/start").Code).To(Equal(http.StatusNotFound))
		})

		It("returns 503 after shutdown", func() {
			orch.startFn = func(string) error { return jobs.ErrOrchestratorClosed }
			Expect(do(http.MethodPost, "/api/v1/jobs/farm/start").Code).To(Equal(http.StatusServiceUnavailable))
		})
	})

	It("reports whether stop found a run", func() {
		orch.stopFn = func(name string) bool { return name == "farm" }

		w := do(http.MethodPost, "/api/v1/jobs/farm/stop")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(decode(w)["stopped"]).To(BeTrue())

		w = do(http.MethodPost, "/api/v1/jobs/idle/stop")
		Expect(decode(w)["stopped"]).To(BeFalse())
	})

	It("maps toggle to the orchestrator", func() {
		calls := 0
		orch.toggleFn = func(string) error {
			calls++
			return nil
		}
		Expect(do(http.MethodPost, "/api/v1/jobs/farm/toggle").Code).To(Equal(http.StatusAccepted))
		Expect(calls).To(Equal(1))
	})

	It("lists active and recent runs", func() {
		started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		orch.running = []domain.RunInfo{{Job: "farm", RunID: "r1", StartedAt: started}}
		orch.recent = []jobs.RunRecord{{RunID: "r0", Job: "farm", Status: domain.RunStatusDone}}

		Expect(do(http.MethodGet, "/api/v1/runs/active").Body.String()).To(ContainSubstring(`"runId":"r1"`))
		Expect(do(http.MethodGet, "/api/v1/runs").Body.String()).To(ContainSubstring(`"r0"`))
	})

	Describe("events", func() {
		It("returns events after since", func() {
			bus.Publish(jobs.Event{Type: jobs.EventTypeJobStarted, Job: "a"})
			bus.Publish(jobs.Event{Type: jobs.EventTypeJobFinished, Job: "a"})

			w := do(http.MethodGet, "/api/v1/events?since=1")
			Expect(w.Code).To(Equal(http.StatusOK))
			var resp struct {
				Events []jobs.Event `json:"events"`
			}
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Events).To(HaveLen(1))
			Expect(resp.Events[0].Type).To(Equal(jobs.EventTypeJobFinished))
		})

		It("rejects a malformed since", func() {
			Expect(do(http.MethodGet, "/api/v1/events?since=abc").Code).To(Equal(http.StatusBadRequest))
		})

		It("streams new events", func() {
			srv := httptest.NewServer(router)
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/api/v1/events/stream")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			reader := bufio.NewReader(resp.Body)
			readEvent := func() string {
				for {
					line, err := reader.ReadString('\n')
					Expect(err).NotTo(HaveOccurred())
					if name, ok := strings.CutPrefix(strings.TrimSpace(line), "event:"); ok {
						return name
					}
				}
			}

			Expect(readEvent()).To(Equal("ping"))
			bus.Publish(jobs.Event{Type: jobs.EventTypeStepFailed, Job: "farm"})
			Expect(readEvent()).To(Equal(string(jobs.EventTypeStepFailed)))
		})
	})

	It("serves diagnostics", func() {
		diag.report = domain.DiagnosticReport{HasFailures: true}
		w := do(http.MethodGet, "/api/v1/diagnostics")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(decode(w)["hasFailures"]).To(BeTrue())
	})
})
