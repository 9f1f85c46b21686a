// handlers/payout.go
package handlers

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"rps-arena/models"
	"rps-arena/services"
	"rps-arena/workers"
)

// Payout endpoint actions.
const (
	ActionExecutePayout     = "executePayout"
	ActionProcessAllPayouts = "processAllPayouts"
	ActionGetUnpaidPayouts  = "getUnpaidPayouts"
	ActionGetGameEndData    = "getGameEndData"
	ActionStartListener     = "startListener"
	ActionStopListener      = "stopListener"
	ActionGetListenerStatus = "getListenerStatus"
	ActionResetListener     = "resetListenerTimestamp"
	ActionGetPayoutHistory  = "getPayoutHistory"
)

type payoutRequest struct {
	Action     string `json:"action"`
	GameID     string `json:"gameId"`
	Mode       string `json:"mode"`       // "poll" (default) or "blocks"
	IntervalMs int64  `json:"intervalMs"` // poll period override
	OnlyPaid   bool   `json:"onlyPaid"`
	Limit      int    `json:"limit"`
}

// PayoutHandler exposes reconciliation, the listener lifecycle and payout
// history over the action contract. Mirror is optional; history falls back
// to the ledger when no database is configured.
type PayoutHandler struct {
	Payouts  *services.PayoutService
	Listener *services.PayoutListener
	Mirror   *workers.MirrorWorker
}

func NewPayoutHandler(payouts *services.PayoutService, listener *services.PayoutListener, mirror *workers.MirrorWorker) *PayoutHandler {
	return &PayoutHandler{Payouts: payouts, Listener: listener, Mirror: mirror}
}

func SetupPayoutRoutes(app *fiber.App, h *PayoutHandler) {
	app.Post("/api/payout", h.Dispatch)
}

func (h *PayoutHandler) Dispatch(c *fiber.Ctx) error {
	var req payoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	switch req.Action {
	case ActionExecutePayout:
		return h.executePayout(c, &req)
	case ActionProcessAllPayouts:
		return h.processAllPayouts(c)
	case ActionGetUnpaidPayouts:
		return h.getUnpaidPayouts(c)
	case ActionGetGameEndData:
		return h.getGameEndData(c, &req)
	case ActionStartListener:
		return h.startListener(c, &req)
	case ActionStopListener:
		return h.stopListener(c)
	case ActionGetListenerStatus:
		return c.JSON(h.Listener.Status())
	case ActionResetListener:
		h.Listener.ResetWatermark()
		return c.JSON(fiber.Map{"success": true})
	case ActionGetPayoutHistory:
		return h.getPayoutHistory(c, &req)
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unknown action: " + req.Action,
		})
	}
}

func (h *PayoutHandler) executePayout(c *fiber.Ctx, req *payoutRequest) error {
	gameID, err := models.ParseBigInt(req.GameID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid gameId: " + req.GameID})
	}

	result := h.Payouts.ExecutePayout(c.Context(), gameID)
	return c.JSON(payoutResultView(result))
}

func (h *PayoutHandler) processAllPayouts(c *fiber.Ctx) error {
	results := h.Payouts.ProcessAllUnpaid(c.Context())

	views := make([]fiber.Map, 0, len(results))
	success := 0
	for _, r := range results {
		if r.Success {
			success++
		}
		views = append(views, payoutResultView(r))
	}
	return c.JSON(fiber.Map{
		"processed": len(results),
		"succeeded": success,
		"failed":    len(results) - success,
		"results":   views,
	})
}

func (h *PayoutHandler) getUnpaidPayouts(c *fiber.Ctx) error {
	ends, err := h.Payouts.UnpaidGameEnds(c.Context())
	if err != nil {
		return serviceError(c, err)
	}

	views := make([]fiber.Map, 0, len(ends))
	for _, end := range ends {
		views = append(views, gameEndView(end))
	}
	return c.JSON(fiber.Map{
		"count":   len(views),
		"pending": views,
	})
}

func (h *PayoutHandler) getGameEndData(c *fiber.Ctx, req *payoutRequest) error {
	gameID, err := models.ParseBigInt(req.GameID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid gameId: " + req.GameID})
	}

	end, err := h.Payouts.GameEndData(c.Context(), gameID)
	if err != nil {
		return serviceError(c, err)
	}
	if end == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no game end data for game " + gameID.String(),
		})
	}

	paid, err := h.Payouts.IsPayoutExecuted(c.Context(), gameID)
	if err != nil {
		return serviceError(c, err)
	}

	view := gameEndView(end)
	view["payoutExecuted"] = paid
	return c.JSON(view)
}

func (h *PayoutHandler) startListener(c *fiber.Ctx, req *payoutRequest) error {
	h.Listener.SetInterval(time.Duration(req.IntervalMs) * time.Millisecond)

	var err error
	switch req.Mode {
	case services.ModeBlocks:
		err = h.Listener.StartBlockDriven()
	case "", services.ModePoll:
		err = h.Listener.Start()
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown listener mode: " + req.Mode})
	}
	if err != nil {
		log.Printf("❌ [Payout] listener start failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(h.Listener.Status())
}

func (h *PayoutHandler) stopListener(c *fiber.Ctx) error {
	h.Listener.Stop()
	return c.JSON(h.Listener.Status())
}

func (h *PayoutHandler) getPayoutHistory(c *fiber.Ctx, req *payoutRequest) error {
	if h.Mirror != nil {
		rows, err := h.Mirror.History(c.Context(), req.OnlyPaid, req.Limit)
		if err != nil {
			log.Printf("❌ [Payout] history query failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{
			"source":  "mirror",
			"count":   len(rows),
			"history": rows,
		})
	}

	// No database configured — answer from the ledger directly.
	receipts, err := h.Payouts.ListReceipts(c.Context())
	if err != nil {
		return serviceError(c, err)
	}
	views := make([]fiber.Map, 0, len(receipts))
	for _, r := range receipts {
		views = append(views, fiber.Map{
			"timestamp": r.Timestamp,
			"gameId":    r.GameID.String(),
			"winner":    r.Winner,
			"payout":    r.Payout.String(),
			"txRef":     r.TxRef,
		})
	}
	return c.JSON(fiber.Map{
		"source":  "ledger",
		"count":   len(views),
		"history": views,
	})
}

func payoutResultView(r *models.PayoutResult) fiber.Map {
	view := fiber.Map{
		"success": r.Success,
		"gameId":  r.GameID.String(),
		"winner":  r.Winner,
	}
	if r.Payout != nil {
		view["payout"] = r.Payout.String()
	}
	if r.TxRef != "" {
		view["txHash"] = r.TxRef
	}
	if r.Error != "" {
		view["error"] = r.Error
	}
	return view
}

func gameEndView(end *models.GameEnd) fiber.Map {
	return fiber.Map{
		"timestamp":   end.Timestamp,
		"gameId":      end.GameID.String(),
		"winner":      end.Winner,
		"payout":      end.Payout.String(),
		"finalScores": end.FinalScores,
	}
}
