package handler

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sifan077/ShortRank/internal/app/codegen"
	"github.com/sifan077/ShortRank/internal/app/repository"
	"github.com/sifan077/ShortRank/internal/app/service"
	"go.uber.org/zap"
)

// RedirectDeps groups dependencies required by the redirect handler.
type RedirectDeps struct {
	Logger    *zap.Logger
	Shortener service.ShortenerService
	Postgres  *pgxpool.Pool
}

// RedirectHandler resolves short codes and issues the 302 redirect.
type RedirectHandler struct {
	logger    *zap.Logger
	shortener service.ShortenerService
	postgres  *pgxpool.Pool
}

// NewRedirectHandler creates a redirect handler with the provided dependencies.
func NewRedirectHandler(deps RedirectDeps) *RedirectHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedirectHandler{
		logger:    logger,
		shortener: deps.Shortener,
		postgres:  deps.Postgres,
	}
}

// Register wires redirect routes onto the provided router. The catch-all
// code route must come after every named route.
func (h *RedirectHandler) Register(router fiber.Router) {
	router.Get("/", h.Health)
	router.Get("/health", h.Health)
	router.Get("/:code", h.Redirect)
}

// Health is a simple liveness endpoint that also pings the database pool.
func (h *RedirectHandler) Health(c *fiber.Ctx) error {
	status := "ok"
	if h.postgres != nil {
		if err := h.postgres.Ping(userContext(c)); err != nil {
			h.logger.Warn("health check: postgres ping failed", zap.Error(err))
			status = "degraded"
		}
	}
	return c.JSON(fiber.Map{
		"service": "ShortRank",
		"status":  status,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// Redirect handles GET /:code: resolve, record the access, 302 to the target.
func (h *RedirectHandler) Redirect(c *fiber.Ctx) error {
	code := c.Params("code")
	if !codegen.ValidCode(code) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "short link not found",
		})
	}

	ctx := userContext(c)
	link, err := h.shortener.Resolve(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "short link not found",
			})
		}
		h.logger.Error("failed to resolve short link", zap.Error(err), zap.String("code", code))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal server error",
		})
	}

	if err := h.shortener.RecordAccess(ctx, link, c.Get(fiber.HeaderUserAgent), c.Get(fiber.HeaderReferer)); err != nil {
		h.logger.Error("failed to record access", zap.Error(err), zap.String("code", code))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal server error",
		})
	}

	h.logger.Debug("redirecting short link",
		zap.String("code", code), zap.String("target", link.TargetURL))
	return c.Redirect(link.TargetURL, fiber.StatusFound)
}
