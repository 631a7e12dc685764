package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"provengine/internal/domain"
)

// BatchService is the coordinator surface the HTTP layer needs.
type BatchService interface {
	CreateBatch(ctx context.Context, requester string, count int, metadata string) (domain.BatchSnapshot, error)
	StartBatch(ctx context.Context, batchID string, chatID int64) error
	Status(batchID string) (domain.BatchSnapshot, error)
	Cancel(batchID string) error
}

// ResultSource surfaces the results of completed units.
type ResultSource interface {
	Collect(ctx context.Context, batchID string) ([]domain.UnitResult, error)
}

type BatchHandler struct {
	service   BatchService
	collector ResultSource
}

func NewBatchHandler(service BatchService, collector ResultSource) (*BatchHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("batch service is required")
	}
	if collector == nil {
		return nil, fmt.Errorf("result collector is required")
	}
	return &BatchHandler{service: service, collector: collector}, nil
}

func RegisterBatchRoutes(router fiber.Router, service BatchService, collector ResultSource) error {
	h, err := NewBatchHandler(service, collector)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/batches", h.CreateBatch)
	v1.Post("/batches/:id/start", h.StartBatch)
	v1.Get("/batches/:id", h.GetBatch)
	v1.Post("/batches/:id/cancel", h.CancelBatch)
	v1.Get("/batches/:id/results", h.GetResults)

	return nil
}

type createBatchRequest struct {
	Requester string `json:"requester"`
	Count     int    `json:"count"`
	Metadata  string `json:"metadata,omitempty"`
}

type startBatchRequest struct {
	ChatID int64 `json:"chatId,omitempty"`
}

type unitErrorResponse struct {
	Stage  string `json:"stage"`
	Kind   string `json:"kind"`
	Reason string `json:"reason,omitempty"`
}

type unitResponse struct {
	UnitID  string             `json:"unitId"`
	Ordinal int                `json:"ordinal"`
	Stage   string             `json:"stage"`
	Step    string             `json:"step"`
	Percent int                `json:"percent"`
	Error   *unitErrorResponse `json:"error,omitempty"`
}

type batchResponse struct {
	BatchID        string         `json:"batchId"`
	Requester      string         `json:"requester"`
	TargetCount    int            `json:"targetCount"`
	Metadata       string         `json:"metadata,omitempty"`
	Completed      int            `json:"completed"`
	Failed         int            `json:"failed"`
	Aborted        int            `json:"aborted"`
	Terminal       bool           `json:"terminal"`
	OverallPercent int            `json:"overallPercent"`
	Units          []unitResponse `json:"units"`
	CreatedAt      time.Time      `json:"createdAt"`
	FinishedAt     *time.Time     `json:"finishedAt,omitempty"`
}

type unitResultResponse struct {
	UnitID      string    `json:"unitId"`
	Ordinal     int       `json:"ordinal"`
	Username    string    `json:"username"`
	Password    string    `json:"password,omitempty"`
	Email       string    `json:"email,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
}

type resultsResponse struct {
	BatchID string               `json:"batchId"`
	Count   int                  `json:"count"`
	Results []unitResultResponse `json:"results"`
}

func (h *BatchHandler) CreateBatch(c *fiber.Ctx) error {
	var req createBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	snap, err := h.service.CreateBatch(c.Context(), req.Requester, req.Count, req.Metadata)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toBatchResponse(snap))
}

func (h *BatchHandler) StartBatch(c *fiber.Ctx) error {
	var req startBatchRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.StartBatch(c.Context(), id, req.ChatID); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"batchId": id,
		"status":  "started",
	})
}

func (h *BatchHandler) GetBatch(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	snap, err := h.service.Status(id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toBatchResponse(snap))
}

func (h *BatchHandler) CancelBatch(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.Cancel(id); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"batchId": id,
		"status":  "canceling",
	})
}

func (h *BatchHandler) GetResults(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	results, err := h.collector.Collect(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]unitResultResponse, 0, len(results))
	for _, result := range results {
		items = append(items, unitResultResponse{
			UnitID:      result.UnitID,
			Ordinal:     result.Ordinal,
			Username:    result.Credentials.Username,
			Password:    result.Credentials.Password,
			Email:       result.Email,
			Phone:       result.Phone,
			CompletedAt: result.CompletedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(resultsResponse{
		BatchID: id,
		Count:   len(items),
		Results: items,
	})
}

func toBatchResponse(snap domain.BatchSnapshot) batchResponse {
	units := make([]unitResponse, 0, len(snap.Units))
	for _, u := range snap.Units {
		item := unitResponse{
			UnitID:  u.ID,
			Ordinal: u.Ordinal,
			Stage:   u.Stage.String(),
			Step:    u.Step,
			Percent: u.Percent,
		}
		if u.Err != nil {
			item.Error = &unitErrorResponse{
				Stage:  u.Err.Stage.String(),
				Kind:   u.Err.Kind.String(),
				Reason: u.Err.Reason,
			}
		}
		units = append(units, item)
	}

	return batchResponse{
		BatchID:        snap.BatchID,
		Requester:      snap.Requester,
		TargetCount:    snap.TargetCount,
		Metadata:       snap.Metadata,
		Completed:      snap.Completed,
		Failed:         snap.Failed,
		Aborted:        snap.Aborted,
		Terminal:       snap.Terminal,
		OverallPercent: snap.OverallPercent,
		Units:          units,
		CreatedAt:      snap.CreatedAt,
		FinishedAt:     snap.FinishedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrBatchStarted), errors.Is(err, domain.ErrBatchTerminal):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
