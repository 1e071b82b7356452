package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/ShortRank/internal/app/codegen"
	"github.com/sifan077/ShortRank/internal/app/repository"
	"github.com/sifan077/ShortRank/internal/app/service"
	"go.uber.org/zap"
)

// APIDeps groups dependencies required by API handlers.
type APIDeps struct {
	Logger    *zap.Logger
	Shortener service.ShortenerService
}

// APIHandler implements the shorten, ranking and stats endpoints.
type APIHandler struct {
	logger    *zap.Logger
	shortener service.ShortenerService
}

// NewAPIHandler creates an API handler with the provided dependencies.
func NewAPIHandler(deps APIDeps) *APIHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{
		logger:    logger,
		shortener: deps.Shortener,
	}
}

// Register wires API routes onto the provided router.
func (h *APIHandler) Register(router fiber.Router) {
	router.Post("/shorten", h.Shorten)
	router.Get("/ranking", h.Ranking)

	stats := router.Group("/stats")
	{
		stats.Get("/", h.ListStats)
		stats.Get("/summary", h.StatsSummary)
		stats.Get("/:code", h.Stats)
		stats.Get("/:code/summary", h.StatsSummaryByCode)
	}
}

// ShortenRequest represents the request body for shortening a URL.
type ShortenRequest struct {
	URL  string `json:"url" validate:"required,url"`
	Code string `json:"code,omitempty" validate:"omitempty,alphanum,len=5"`
}

// ShortenResponse represents the response for a shortened URL.
type ShortenResponse struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

// Shorten handles POST /shorten
func (h *APIHandler) Shorten(c *fiber.Ctx) error {
	var req ShortenRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if req.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "url is required",
		})
	}
	if req.Code != "" && !codegen.ValidCode(req.Code) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "code must be 5 alphanumeric characters",
		})
	}

	link, err := h.shortener.Shorten(userContext(c), req.URL, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, codegen.ErrInvalidURL):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		case errors.Is(err, repository.ErrDuplicateCode):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "code already in use",
			})
		default:
			h.logger.Error("failed to shorten url", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to shorten url",
			})
		}
	}

	c.Set(fiber.HeaderLocation, "/"+link.Code)
	return c.Status(fiber.StatusCreated).JSON(ShortenResponse{
		ID:        link.ID,
		URL:       link.TargetURL,
		Code:      link.Code,
		CreatedAt: link.CreatedAt,
	})
}

// RankingItem is one row of the ranking response.
type RankingItem struct {
	Code string `json:"code"`
	URL  string `json:"url,omitempty"`
	Hits int64  `json:"hits"`
}

// Ranking handles GET /ranking
func (h *APIHandler) Ranking(c *fiber.Ctx) error {
	top, err := h.shortener.Ranking(userContext(c))
	if err != nil {
		h.logger.Error("failed to load ranking", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load ranking",
		})
	}

	items := make([]RankingItem, len(top))
	for i, entry := range top {
		items[i] = RankingItem{Code: entry.Code, URL: entry.TargetURL, Hits: entry.Hits}
	}
	return c.JSON(items)
}

// ListStats handles GET /stats
func (h *APIHandler) ListStats(c *fiber.Ctx) error {
	limit := 20
	offset := 0
	if parsed := c.QueryInt("limit"); parsed > 0 && parsed <= 100 {
		limit = parsed
	}
	if parsed := c.QueryInt("offset"); parsed > 0 {
		offset = parsed
	}

	rows, err := h.shortener.ListStats(userContext(c), limit, offset)
	if err != nil {
		h.logger.Error("failed to list stats", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list stats",
		})
	}

	stats := make([]service.CodeStats, len(rows))
	for i, row := range rows {
		stats[i] = service.CodeStats{Code: row.Code, TargetURL: row.TargetURL, Hits: row.Hits}
	}
	return c.JSON(fiber.Map{
		"stats":  stats,
		"limit":  limit,
		"offset": offset,
		"count":  len(stats),
	})
}

// StatsSummary handles GET /stats/summary
func (h *APIHandler) StatsSummary(c *fiber.Ctx) error {
	summary, err := h.shortener.StatsSummary(userContext(c))
	if err != nil {
		h.logger.Error("failed to compute stats summary", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to compute stats summary",
		})
	}
	return c.JSON(summary)
}

// Stats handles GET /stats/:code
func (h *APIHandler) Stats(c *fiber.Ctx) error {
	code := c.Params("code")
	if !codegen.ValidCode(code) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "short link not found",
		})
	}

	stats, err := h.shortener.Stats(userContext(c), code)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "short link not found",
			})
		}
		h.logger.Error("failed to compute stats", zap.Error(err), zap.String("code", code))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to compute stats",
		})
	}
	return c.JSON(stats)
}

// StatsSummaryByCode handles GET /stats/:code/summary
func (h *APIHandler) StatsSummaryByCode(c *fiber.Ctx) error {
	code := c.Params("code")
	if !codegen.ValidCode(code) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "short link not found",
		})
	}

	summary, err := h.shortener.StatsSummaryByCode(userContext(c), code)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "short link not found",
			})
		}
		h.logger.Error("failed to compute code summary", zap.Error(err), zap.String("code", code))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to compute stats",
		})
	}
	return c.JSON(summary)
}

func userContext(c *fiber.Ctx) context.Context {
	if ctx := c.UserContext(); ctx != nil {
		return ctx
	}
	return context.Background()
}
