package web

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/phalanx-soar/phalanx/pkg/cases"
	"github.com/phalanx-soar/phalanx/pkg/compiler"
	"github.com/phalanx-soar/phalanx/pkg/engine"
	"github.com/phalanx-soar/phalanx/pkg/ledger"
	"github.com/phalanx-soar/phalanx/pkg/models"
	"github.com/phalanx-soar/phalanx/pkg/persistence"
)

const defaultActor = "api"

// Handlers serves the case, playbook and run endpoints.
type Handlers struct {
	logger   *slog.Logger
	store    persistence.Persistence
	cases    *cases.Manager
	engine   *engine.Engine
	ledger   *ledger.Ledger
	validate *validator.Validate
}

func NewHandlers(
	logger *slog.Logger,
	store persistence.Persistence,
	caseManager *cases.Manager,
	eng *engine.Engine,
	auditLedger *ledger.Ledger,
) *Handlers {
	return &Handlers{
		logger:   logger.With("module", "web"),
		store:    store,
		cases:    caseManager,
		engine:   eng,
		ledger:   auditLedger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// NewApp assembles the fiber application with all routes mounted.
func NewApp(h *Handlers) *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Phalanx API")
	})

	cs := app.Group("/cases")
	cs.Post("/", h.CreateCase)
	cs.Get("/", h.ListCases)
	cs.Get("/:id", h.GetCase)
	cs.Post("/:id/transition", h.TransitionCase)
	cs.Post("/:id/assign", h.AssignCase)
	cs.Post("/:id/comments", h.CommentCase)
	cs.Post("/:id/artifacts", h.AddArtifact)
	cs.Get("/:id/events", h.CaseEvents)
	cs.Get("/:id/runs", h.ListCaseRuns)

	pb := app.Group("/playbooks")
	pb.Post("/", h.CreatePlaybook)
	pb.Get("/", h.ListPlaybooks)
	pb.Get("/:id", h.GetPlaybook)
	pb.Post("/validate", h.ValidatePlaybook)

	rs := app.Group("/runs")
	rs.Post("/", h.StartRun)
	rs.Get("/:id", h.GetRun)
	rs.Post("/:id/cancel", h.CancelRun)
	rs.Post("/:id/resume", h.ResumeRun)
	rs.Get("/:id/events", h.RunEvents)

	app.Get("/health", h.HealthCheck)

	return app
}

// actor resolves the acting analyst from the request, defaulting to the
// anonymous api actor.
func actor(c fiber.Ctx) string {
	if who := c.Get("X-Actor"); who != "" {
		return who
	}

	return defaultActor
}

func (h *Handlers) CreateCase(c fiber.Ctx) error {
	var req CreateCaseRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.cases.Create(c.Context(), req.Title, req.Description, models.Severity(req.Severity), actor(c))
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *Handlers) ListCases(c fiber.Ctx) error {
	opts := persistence.ListCasesOptions{}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.CaseStatus(statusStr)
		opts.Status = &status
	}

	if severityStr := c.Query("severity"); severityStr != "" {
		severity := models.Severity(severityStr)
		opts.Severity = &severity
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid limit: "+limitStr)
		}

		opts.Limit = limit
	}

	listed, err := h.cases.List(c.Context(), opts)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(listed)
}

func (h *Handlers) GetCase(c fiber.Ctx) error {
	found, err := h.cases.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(found)
}

func (h *Handlers) TransitionCase(c fiber.Ctx) error {
	var req TransitionCaseRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.cases.Transition(c.Context(), c.Params("id"), models.CaseStatus(req.Status), actor(c))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(updated)
}

func (h *Handlers) AssignCase(c fiber.Ctx) error {
	var req AssignCaseRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.cases.Assign(c.Context(), c.Params("id"), req.Assignee, actor(c)); err != nil {
		return handleError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handlers) CommentCase(c fiber.Ctx) error {
	var req CommentRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.cases.Comment(c.Context(), c.Params("id"), actor(c), req.Text); err != nil {
		return handleError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handlers) AddArtifact(c fiber.Ctx) error {
	var req ArtifactRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	artifact := &models.Artifact{
		Type:        req.Type,
		Value:       req.Value,
		Description: req.Description,
		Tags:        req.Tags,
	}

	if err := h.cases.AddArtifact(c.Context(), c.Params("id"), actor(c), artifact); err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(artifact)
}

func (h *Handlers) CaseEvents(c fiber.Ctx) error {
	since := int64(0)

	if sinceStr := c.Query("since"); sinceStr != "" {
		parsed, err := strconv.ParseInt(sinceStr, 10, 64)
		if err != nil {
			return badRequest(c, "Invalid since offset: "+sinceStr)
		}

		since = parsed
	}

	limit := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid limit: "+limitStr)
		}

		limit = parsed
	}

	caseID := c.Params("id")

	if _, err := h.cases.Get(c.Context(), caseID); err != nil {
		return handleError(c, err)
	}

	events, err := h.ledger.Read(c.Context(), caseID, since, limit)
	if err != nil {
		return handleError(c, err)
	}

	next := since
	if len(events) > 0 {
		next = events[len(events)-1].Offset
	}

	return c.JSON(EventsResponse{Events: events, NextOffset: next})
}

func (h *Handlers) ListCaseRuns(c fiber.Ctx) error {
	caseID := c.Params("id")

	if _, err := h.cases.Get(c.Context(), caseID); err != nil {
		return handleError(c, err)
	}

	runs, err := h.store.Runs().ListByCase(c.Context(), caseID)
	if err != nil {
		return handleError(c, err)
	}

	snapshots := make([]models.RunSnapshot, 0, len(runs))
	for _, run := range runs {
		snapshots = append(snapshots, SnapshotRun(run))
	}

	return c.JSON(snapshots)
}

// CreatePlaybook accepts a JSON or YAML playbook document, compiles it, and
// stores the new version. Stored versions are immutable.
func (h *Handlers) CreatePlaybook(c fiber.Ctx) error {
	def, err := compiler.ParseDefinition(c.Body())
	if err != nil {
		return handleError(c, err)
	}

	if _, err := compiler.Compile(def); err != nil {
		return handleError(c, err)
	}

	def.CreatedAt = time.Now().UTC()

	if err := h.store.Playbooks().Save(c.Context(), def); err != nil {
		if errors.Is(err, persistence.ErrPlaybookVersionExists) {
			return conflict(c, "version_exists", err.Error())
		}

		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(def)
}

func (h *Handlers) ListPlaybooks(c fiber.Ctx) error {
	listed, err := h.store.Playbooks().List(c.Context())
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(listed)
}

func (h *Handlers) GetPlaybook(c fiber.Ctx) error {
	id := c.Params("id")

	if versionStr := c.Query("version"); versionStr != "" {
		version, err := strconv.Atoi(versionStr)
		if err != nil {
			return badRequest(c, "Invalid version: "+versionStr)
		}

		def, err := h.store.Playbooks().GetByVersion(c.Context(), id, version)
		if err != nil {
			return handleError(c, err)
		}

		return c.JSON(def)
	}

	def, err := h.store.Playbooks().GetLatest(c.Context(), id)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(def)
}

// ValidatePlaybook compiles a document without storing it.
func (h *Handlers) ValidatePlaybook(c fiber.Ctx) error {
	def, err := compiler.ParseDefinition(c.Body())
	if err != nil {
		return handleError(c, err)
	}

	if _, err := compiler.Compile(def); err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{"valid": true, "id": def.ID, "version": def.Version})
}

func (h *Handlers) StartRun(c fiber.Ctx) error {
	var req StartRunRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	run, err := h.engine.StartRun(c.Context(), engine.StartRequest{
		PlaybookID:      req.PlaybookID,
		PlaybookVersion: req.PlaybookVersion,
		CaseID:          req.CaseID,
		Inputs:          req.Inputs,
		Actor:           actor(c),
	})
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(SnapshotRun(run))
}

func (h *Handlers) GetRun(c fiber.Ctx) error {
	run, err := h.engine.Status(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(SnapshotRun(run))
}

func (h *Handlers) CancelRun(c fiber.Ctx) error {
	if err := h.engine.Cancel(c.Context(), c.Params("id")); err != nil {
		return handleError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *Handlers) ResumeRun(c fiber.Ctx) error {
	run, err := h.engine.Resume(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(SnapshotRun(run))
}

func (h *Handlers) RunEvents(c fiber.Ctx) error {
	runID := c.Params("id")

	if _, err := h.engine.Status(c.Context(), runID); err != nil {
		return handleError(c, err)
	}

	events, err := h.ledger.ReadRun(c.Context(), runID)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(events)
}

func (h *Handlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.store.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}
