// handlers/game.go
package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"rps-arena/ledger"
	"rps-arena/models"
	"rps-arena/services"
)

// Game endpoint actions.
const (
	ActionCreateGame   = "createGame"
	ActionJoinGame     = "joinGame"
	ActionMakeMove     = "makeMove"
	ActionGetGame      = "getGame"
	ActionGetUserGames = "getUserGames"
)

type gameRequest struct {
	Action   string `json:"action"`
	GameID   string `json:"gameId"`
	GameType *uint8 `json:"gameType"`
	Stake    string `json:"stake"`  // base units, decimal string
	Player   string `json:"player"` // caller address
	Choice   uint8  `json:"choice"`
}

// GameHandler exposes the session engine over the single-endpoint action
// contract the Gateway speaks.
type GameHandler struct {
	Games *services.GameService
}

func NewGameHandler(games *services.GameService) *GameHandler {
	return &GameHandler{Games: games}
}

func SetupGameRoutes(app *fiber.App, h *GameHandler) {
	app.Post("/api/game", h.Dispatch)
}

func (h *GameHandler) Dispatch(c *fiber.Ctx) error {
	var req gameRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	switch req.Action {
	case ActionCreateGame:
		return h.createGame(c, &req)
	case ActionJoinGame:
		return h.joinGame(c, &req)
	case ActionMakeMove:
		return h.makeMove(c, &req)
	case ActionGetGame:
		return h.getGame(c, &req)
	case ActionGetUserGames:
		return h.getUserGames(c, &req)
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unknown action: " + req.Action,
		})
	}
}

func (h *GameHandler) createGame(c *fiber.Ctx, req *gameRequest) error {
	if req.GameType == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "gameType is required"})
	}
	stake, err := models.ParseBigInt(req.Stake)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid stake: " + req.Stake})
	}

	result, err := h.Games.CreateGame(c.Context(), models.GameType(*req.GameType), stake, req.Player)
	if err != nil {
		return serviceError(c, err)
	}

	log.Printf("✅ [Game] created game %s by %s", result.GameID, req.Player)
	return c.JSON(fiber.Map{
		"success": true,
		"gameId":  result.GameID.String(),
		"txHash":  result.TxRef,
	})
}

func (h *GameHandler) joinGame(c *fiber.Ctx, req *gameRequest) error {
	gameID, err := models.ParseBigInt(req.GameID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid gameId: " + req.GameID})
	}
	stake, err := models.ParseBigInt(req.Stake)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid stake: " + req.Stake})
	}

	txRef, err := h.Games.JoinGame(c.Context(), gameID, req.Player, stake)
	if err != nil {
		return serviceError(c, err)
	}

	log.Printf("✅ [Game] %s joined game %s", req.Player, gameID)
	return c.JSON(fiber.Map{
		"success": true,
		"gameId":  gameID.String(),
		"txHash":  txRef,
	})
}

func (h *GameHandler) makeMove(c *fiber.Ctx, req *gameRequest) error {
	gameID, err := models.ParseBigInt(req.GameID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid gameId: " + req.GameID})
	}

	txRef, err := h.Games.SubmitMove(c.Context(), gameID, req.Player, models.Choice(req.Choice))
	if err != nil {
		return serviceError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"gameId":  gameID.String(),
		"txHash":  txRef,
	})
}

func (h *GameHandler) getGame(c *fiber.Ctx, req *gameRequest) error {
	gameID, err := models.ParseBigInt(req.GameID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid gameId: " + req.GameID})
	}

	game, err := h.Games.GetGameByID(c.Context(), gameID)
	if err != nil {
		return serviceError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"game":    gameView(game),
	})
}

func (h *GameHandler) getUserGames(c *fiber.Ctx, req *gameRequest) error {
	if req.Player == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "player is required"})
	}

	ids, err := h.Games.GetUserGames(c.Context(), req.Player)
	if err != nil {
		return serviceError(c, err)
	}

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return c.JSON(fiber.Map{
		"success": true,
		"gameIds": out,
	})
}

// gameView renders big ints as decimal strings so clients never see
// float-mangled stakes.
func gameView(g *models.Game) fiber.Map {
	return fiber.Map{
		"timestamp":      g.Timestamp,
		"gameId":         g.GameID.String(),
		"players":        g.Players,
		"stake":          g.Stake.String(),
		"gameType":       g.GameType,
		"roundsPlayed":   g.RoundsPlayed,
		"scores":         g.Scores,
		"choices":        g.Choices,
		"isActive":       g.IsActive,
		"lastPlayerMove": g.LastMover,
		"player1Moves":   g.Player1Moves,
		"player2Moves":   g.Player2Moves,
	}
}

// serviceError maps domain sentinels to HTTP statuses.
func serviceError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrValidation):
		status = fiber.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, services.ErrStateConflict):
		status = fiber.StatusConflict
	case errors.Is(err, services.ErrInsufficientFunds):
		status = fiber.StatusPaymentRequired
	case errors.Is(err, ledger.ErrSignerUnavailable):
		status = fiber.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrTimeout):
		status = fiber.StatusGatewayTimeout
	case errors.Is(err, ledger.ErrLedger):
		status = fiber.StatusBadGateway
	}
	log.Printf("❌ [Game] request failed: %v", err)
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
