package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/dipeo/engine/cmd/engine/executions"
	"github.com/dipeo/engine/common/bootstrap"
	"github.com/dipeo/engine/condition"
	"github.com/dipeo/engine/eventbus"
	"github.com/dipeo/engine/scheduler"
	"github.com/dipeo/engine/services"
	"github.com/dipeo/engine/store"
)

func main() {
	ctx := context.Background()

	components, err := bootstrap.Setup(ctx, "engine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap engine: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	// Concrete LLM/template/conversation/storage adapters are an
	// explicit non-goal of this module (see the services package doc
	// comment); a host application wires them in before running
	// person_job- or llm_decision-bearing diagrams for real.
	svc := &services.Registry{}

	bus := eventbus.New(components.Config.Engine.SubscriberQueueSize)
	conditionRegistry := scheduler.NewConditionRegistry(llmDecisionEvaluator(svc))

	engineCfg := scheduler.EngineConfig{
		MaxConcurrency:       components.Config.Engine.MaxConcurrency,
		ExecutionTimeout:     components.Config.Engine.ExecutionTimeout,
		DefaultMaxIterations: components.Config.Engine.DefaultMaxIterations,
	}

	checkpoints := store.NewCheckpointer(components.Redis)
	cas := store.NewCASStore(components.Redis)
	archive := store.NewArchive(components.Postgres)
	if components.Postgres != nil {
		if err := archive.EnsureSchema(ctx); err != nil {
			components.Logger.Error("archive schema setup failed", "error", err)
		}
	}

	registry := executions.NewRegistry(conditionRegistry, svc, bus, components.Logger, engineCfg, checkpoints, cas, archive)
	handler := executions.NewHandler(registry, bus)

	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e, components)
	executions.RegisterRoutes(e, handler)

	startServer(e, components)
}

// llmDecisionEvaluator builds the condition package's LLM-backed
// evaluator when an LLM service was wired in, or nil otherwise — a nil
// evaluator just means the llm_decision evaluator kind fails loudly
// when a diagram actually uses it, rather than failing at startup.
func llmDecisionEvaluator(svc *services.Registry) condition.Evaluator {
	if svc == nil || svc.LLM == nil {
		return nil
	}
	return condition.NewLLMDecisionEvaluator(svc.LLM, svc.Template)
}

func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(503, map[string]string{"status": "degraded", "error": err.Error()})
		}
		return c.JSON(200, map[string]string{"status": "ok", "service": "engine"})
	})
}

func startServer(e *echo.Echo, components *bootstrap.Components) {
	port := components.Config.Service.Port
	components.Logger.Info("starting engine", "port", port)

	if err := e.Start(fmt.Sprintf(":%d", port)); err != nil {
		components.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
