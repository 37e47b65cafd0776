// Package server is the thin HTTP surface over the healing core: submit
// a run, poll its result, health check.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"healbot/internal/models"
	"healbot/internal/repositories"
)

// Healer runs one healing pipeline to completion.
type Healer interface {
	Heal(ctx context.Context, req models.RunRequest) *models.RunReport
}

// taskState is the three-state handle a polling caller reads. The worker
// writes it exactly once, under the server's single mutex.
type taskState struct {
	state  string
	report *models.RunReport
	err    string
}

type Server struct {
	engine *gin.Engine
	healer Healer
	runs   repositories.HealRunRepository

	mu    sync.Mutex
	tasks map[string]*taskState
}

func New(healer Healer, runs repositories.HealRunRepository) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine: gin.Default(),
		healer: healer,
		runs:   runs,
		tasks:  make(map[string]*taskState),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.engine.Group("/api")
	api.POST("/run", s.handleRun)
	api.GET("/result/:task_id", s.handleResult)
	api.GET("/health", s.handleHealth)
}

func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

type runBody struct {
	RepoURL    string `json:"repo_url" binding:"required"`
	TeamName   string `json:"team_name" binding:"required"`
	TeamLeader string `json:"team_leader" binding:"required"`
}

func (s *Server) handleRun(c *gin.Context) {
	var body runBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
		return
	}
	if !strings.HasPrefix(body.RepoURL, "http://") && !strings.HasPrefix(body.RepoURL, "https://") {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "repo_url must be an http(s) URL"})
		return
	}

	taskID := uuid.NewString()
	req := models.RunRequest{
		RepoURL:    body.RepoURL,
		TeamName:   body.TeamName,
		TeamLeader: body.TeamLeader,
	}

	s.mu.Lock()
	s.tasks[taskID] = &taskState{state: models.RunStateRunning}
	s.mu.Unlock()

	if s.runs != nil {
		if err := s.runs.Create(&models.HealRun{
			TaskID:     taskID,
			RepoURL:    req.RepoURL,
			TeamName:   req.TeamName,
			TeamLeader: req.TeamLeader,
			State:      models.RunStateRunning,
		}); err != nil {
			log.Printf("server: persist run %s: %v", taskID, err)
		}
	}

	go s.work(taskID, req)

	c.JSON(http.StatusOK, gin.H{"task_id": taskID})
}

// work executes the run detached from the request and writes the task
// handle once on completion.
func (s *Server) work(taskID string, req models.RunRequest) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("server: run %s panicked: %v", taskID, r)
			s.complete(taskID, nil, "internal error")
		}
	}()

	report := s.healer.Heal(context.Background(), req)
	s.complete(taskID, report, "")
}

func (s *Server) complete(taskID string, report *models.RunReport, errMsg string) {
	s.mu.Lock()
	t, ok := s.tasks[taskID]
	if ok {
		if errMsg != "" {
			t.state = models.RunStateError
			t.err = errMsg
		} else {
			t.state = models.RunStateDone
			t.report = report
		}
	}
	s.mu.Unlock()

	if s.runs == nil {
		return
	}
	if errMsg != "" {
		if err := s.runs.MarkError(taskID, errMsg); err != nil {
			log.Printf("server: mark error %s: %v", taskID, err)
		}
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		log.Printf("server: marshal report %s: %v", taskID, err)
		return
	}
	if err := s.runs.MarkDone(taskID, string(payload)); err != nil {
		log.Printf("server: mark done %s: %v", taskID, err)
	}
}

func (s *Server) handleResult(c *gin.Context) {
	taskID := c.Param("task_id")

	s.mu.Lock()
	t, ok := s.tasks[taskID]
	var state taskState
	if ok {
		state = *t
	}
	s.mu.Unlock()

	if !ok {
		// Not in this process; a restart may have orphaned it. The
		// persisted row is the source of truth then.
		if s.runs != nil {
			if run, err := s.runs.GetByTaskID(taskID); err == nil && run != nil {
				s.renderPersisted(c, run)
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "unknown task id"})
		return
	}

	switch state.state {
	case models.RunStateRunning:
		c.JSON(http.StatusOK, gin.H{"status": "running"})
	case models.RunStateError:
		c.JSON(http.StatusOK, gin.H{"status": "error", "error": state.err})
	default:
		c.JSON(http.StatusOK, state.report)
	}
}

func (s *Server) renderPersisted(c *gin.Context, run *models.HealRun) {
	switch run.State {
	case models.RunStateRunning:
		c.JSON(http.StatusOK, gin.H{"status": "running"})
	case models.RunStateError:
		c.JSON(http.StatusOK, gin.H{"status": "error", "error": run.Error})
	default:
		var report models.RunReport
		if err := json.Unmarshal([]byte(run.ReportJSON), &report); err != nil {
			c.JSON(http.StatusOK, gin.H{"status": "error", "error": "stored report unreadable"})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
