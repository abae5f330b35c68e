package api

import (
	"github.com/fako1024/perchscale/pkg/metrics"
	"github.com/fako1024/perchscale/pkg/monitor"
	"github.com/fako1024/perchscale/pkg/scale"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
)

// Controller denotes the monitor functionality exposed via the API
type Controller interface {
	Status() *monitor.Status
	RequestTare()
}

// API denotes a REST API for a running monitor
type API struct {
	controller Controller
	router     *fiber.App
	logger     scale.Logger
}

// New instantiates a new API, executing functional options, if any
func New(controller Controller, m *metrics.Metrics, options ...func(*API)) *API {

	api := API{
		controller: controller,
		router: fiber.New(fiber.Config{
			DisableStartupMessage: true,
		}),
		logger: &scale.NullLogger{},
	}

	for _, option := range options {
		option(&api)
	}

	// Setup routes
	api.router.Get("/status", api.handleStatus())
	api.router.Post("/tare", api.handleTare())
	if m != nil {
		api.router.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	}

	return &api
}

// WithLogger sets the logger
func WithLogger(logger scale.Logger) func(*API) {
	return func(api *API) {
		api.logger = logger
	}
}

// Start starts to listen on the given endpoint in the background
func (api *API) Start(endpoint string) {
	go func() {
		if err := api.router.Listen(endpoint); err != nil {
			api.logger.Errorf("api server on %s failed: %s", endpoint, err)
		}
	}()
}

// Shutdown stops the server
func (api *API) Shutdown() error {
	return api.router.Shutdown()
}

func (api *API) handleStatus() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		return c.JSON(api.controller.Status().Snapshot())
	}
}

func (api *API) handleTare() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		api.controller.RequestTare()
		return c.SendStatus(fiber.StatusAccepted)
	}
}
