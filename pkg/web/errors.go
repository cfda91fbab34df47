package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/phalanx-soar/phalanx/pkg/cases"
	"github.com/phalanx-soar/phalanx/pkg/compiler"
	"github.com/phalanx-soar/phalanx/pkg/engine"
	"github.com/phalanx-soar/phalanx/pkg/persistence"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, problemType, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleError maps domain errors onto problem responses.
func handleError(c fiber.Ctx, err error) error {
	var (
		compileErr    *compiler.CompileError
		missingInput  *engine.MissingInputError
		unknownAction *engine.UnknownActionError
		transitionErr *cases.TransitionError
	)

	switch {
	case errors.As(err, &compileErr):
		problem := problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType("compile_error").
			WithDetail(compileErr.Error())

		return c.Status(fiber.StatusBadRequest).JSON(problem)

	case errors.As(err, &missingInput), errors.As(err, &unknownAction):
		return badRequest(c, err.Error())

	case errors.As(err, &transitionErr):
		return conflict(c, "illegal_transition", transitionErr.Error())

	case errors.Is(err, cases.ErrLockConflict):
		return conflict(c, "remediation_locked", "another remediation run holds the case lock")

	case errors.Is(err, engine.ErrRunFinished),
		errors.Is(err, engine.ErrRunNotActive),
		errors.Is(err, engine.ErrNotSuspended):
		return conflict(c, "run_state", err.Error())

	case persistence.IsNotFound(err):
		return notFound(c, err.Error())

	default:
		return internalError(c, err)
	}
}
