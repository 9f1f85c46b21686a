package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sort"
	"sync"
	"time"

	"rps-arena/ledger"
	"rps-arena/models"
	"rps-arena/utils"
)

// GameService advances session records against the ledger. Every mutation
// re-reads the latest record before computing the next one; there is no
// cached session state.
type GameService struct {
	Ledger    ledger.Client
	Signer    ledger.Signer
	Publisher string

	// Now is injectable for tests; timestamps are unix milliseconds.
	Now func() time.Time

	mu           sync.Mutex
	schemaIDs    map[string]string
	bootstrapped bool
}

func NewGameService(client ledger.Client, signer ledger.Signer, publisher string) *GameService {
	return &GameService{
		Ledger:    client,
		Signer:    signer,
		Publisher: publisher,
		Now:       time.Now,
		schemaIDs: make(map[string]string),
	}
}

func (s *GameService) nowMillis() uint64 {
	return uint64(s.Now().UnixMilli())
}

// schemaID computes and caches the store id of a schema string.
func (s *GameService) schemaID(ctx context.Context, schema string) (string, error) {
	s.mu.Lock()
	if id, ok := s.schemaIDs[schema]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	id, err := s.Ledger.ComputeSchemaID(ctx, schema)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.schemaIDs[schema] = id
	s.mu.Unlock()
	return id, nil
}

// ensureRegistered registers data and event schemas on first write. "Already
// registered" conditions are logged and swallowed; anything else aborts the
// calling operation.
func (s *GameService) ensureRegistered(ctx context.Context) error {
	s.mu.Lock()
	done := s.bootstrapped
	s.mu.Unlock()
	if done {
		return nil
	}
	if s.Signer == nil {
		return ledger.ErrSignerUnavailable
	}

	defs := []ledger.SchemaDef{
		{ID: "game", Schema: GameSchema},
		{ID: "gameCreated", Schema: GameCreatedSchema},
		{ID: "gameJoined", Schema: GameJoinedSchema},
		{ID: "move", Schema: MoveSchema},
		{ID: "roundResult", Schema: RoundResultSchema},
		{ID: "gameEnd", Schema: GameEndSchema},
	}

	var missing []ledger.SchemaDef
	for _, def := range defs {
		id, err := s.schemaID(ctx, def.Schema)
		if err != nil {
			return err
		}
		registered, err := s.Ledger.IsSchemaRegistered(ctx, id)
		if err != nil {
			return err
		}
		if !registered {
			missing = append(missing, def)
		}
	}

	if len(missing) > 0 {
		txRef, err := s.Ledger.RegisterSchemas(ctx, missing)
		if errors.Is(err, ledger.ErrAlreadyRegistered) {
			log.Printf("[Game Service] schemas already registered, continuing")
		} else if err != nil {
			return err
		} else if txRef != "" {
			if _, err := s.Ledger.WaitForConfirmation(ctx, txRef); err != nil {
				return err
			}
		}
	}

	events := []ledger.EventDef{
		{ID: GameCreatedEvent, Topic: "GameCreated(uint256 indexed gameId)"},
		{ID: GameJoinedEvent, Topic: "GameJoined(uint256 indexed gameId)"},
		{ID: PlayerMovedEvent, Topic: "PlayerMoved(uint256 indexed gameId)"},
		{ID: RoundPlayedEvent, Topic: "RoundPlayed(uint256 indexed gameId)"},
		{ID: GameEndedEvent, Topic: "GameEnded(uint256 indexed gameId)"},
	}
	if err := s.Ledger.RegisterEventSchemas(ctx, events); err != nil {
		if errors.Is(err, ledger.ErrAlreadyRegistered) {
			log.Printf("[Game Service] event schemas already registered, continuing")
		} else {
			return err
		}
	}

	s.mu.Lock()
	s.bootstrapped = true
	s.mu.Unlock()
	return nil
}

// readGame fetches and decodes the current session record, retrying
// transient read failures. A nil game with nil error means the key was never
// written.
func (s *GameService) readGame(ctx context.Context, gameID *big.Int) (*models.Game, error) {
	schemaID, err := s.schemaID(ctx, GameSchema)
	if err != nil {
		return nil, err
	}

	var row ledger.Row
	err = utils.Retry(ctx, 3, 100*time.Millisecond, func() error {
		var readErr error
		row, readErr = s.Ledger.GetByKey(ctx, schemaID, s.Publisher, gameStateKey(gameID))
		return readErr
	})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	return models.DecodeGameRecord(row)
}

// CreateResult is returned by CreateGame.
type CreateResult struct {
	GameID *big.Int `json:"gameId"`
	TxRef  string   `json:"txHash"`
}

// CreateGame allocates a new session keyed by the creation timestamp and
// commits its initial record.
func (s *GameService) CreateGame(ctx context.Context, gameType models.GameType, stake *big.Int, player string) (*CreateResult, error) {
	if s.Signer == nil {
		return nil, ledger.ErrSignerUnavailable
	}
	if !gameType.Valid() {
		return nil, fmt.Errorf("%w: unknown game type %d", ErrValidation, gameType)
	}
	if stake == nil || stake.Sign() <= 0 {
		return nil, fmt.Errorf("%w: stake must be positive", ErrValidation)
	}
	if player == "" || player == models.ZeroAddress {
		return nil, fmt.Errorf("%w: player address required", ErrValidation)
	}
	if err := s.ensureRegistered(ctx); err != nil {
		return nil, err
	}

	ts := s.nowMillis()
	gameID := new(big.Int).SetUint64(ts)

	game := &models.Game{
		Timestamp: ts,
		GameID:    gameID,
		Players:   [2]string{player, models.ZeroAddress},
		Stake:     stake,
		GameType:  gameType,
		IsActive:  true,
		LastMover: models.ZeroAddress,
	}

	createdSchemaID, err := s.schemaID(ctx, GameCreatedSchema)
	if err != nil {
		return nil, err
	}
	gameSchemaID, err := s.schemaID(ctx, GameSchema)
	if err != nil {
		return nil, err
	}

	txRef, err := s.Ledger.SetAndEmit(ctx,
		[]ledger.Record{
			{Key: gameCreatedKey(gameID), SchemaID: createdSchemaID,
				Fields: models.EncodeGameCreatedRecord(ts, gameID, player, stake, gameType)},
			{Key: gameStateKey(gameID), SchemaID: gameSchemaID,
				Fields: models.EncodeGameRecord(game)},
		},
		[]ledger.Event{
			{ID: GameCreatedEvent, Topics: []string{gameID.String()}},
		},
	)
	if err != nil {
		return nil, err
	}
	if _, err := s.Ledger.WaitForConfirmation(ctx, txRef); err != nil {
		return nil, err
	}

	log.Printf("[Game Service] Game created: %s (stake %s, type %d)", gameID, stake, gameType)
	return &CreateResult{GameID: gameID, TxRef: txRef}, nil
}

// JoinGame commits the joiner into the empty second slot.
func (s *GameService) JoinGame(ctx context.Context, gameID *big.Int, joiner string, stake *big.Int) (string, error) {
	if s.Signer == nil {
		return "", ledger.ErrSignerUnavailable
	}
	if joiner == "" || joiner == models.ZeroAddress {
		return "", fmt.Errorf("%w: player address required", ErrValidation)
	}
	if err := s.ensureRegistered(ctx); err != nil {
		return "", err
	}

	game, err := s.readGame(ctx, gameID)
	if err != nil {
		return "", err
	}
	if game == nil {
		return "", fmt.Errorf("%w: game %s", ErrNotFound, gameID)
	}
	if !game.IsActive {
		return "", fmt.Errorf("%w: game %s is not active", ErrStateConflict, gameID)
	}
	if game.HasOpponent() {
		return "", fmt.Errorf("%w: game %s is full", ErrStateConflict, gameID)
	}
	if models.EqualAddress(game.Players[0], joiner) {
		return "", fmt.Errorf("%w: creator cannot join their own game", ErrStateConflict)
	}
	if stake == nil || game.Stake.Cmp(stake) != 0 {
		return "", fmt.Errorf("%w: incorrect stake amount, game requires %s", ErrStateConflict, game.Stake)
	}

	ts := s.nowMillis()
	game.Timestamp = ts
	game.Players[1] = joiner

	joinedSchemaID, err := s.schemaID(ctx, GameJoinedSchema)
	if err != nil {
		return "", err
	}
	gameSchemaID, err := s.schemaID(ctx, GameSchema)
	if err != nil {
		return "", err
	}

	txRef, err := s.Ledger.SetAndEmit(ctx,
		[]ledger.Record{
			{Key: gameJoinedKey(gameID), SchemaID: joinedSchemaID,
				Fields: models.EncodeGameJoinedRecord(ts, gameID, joiner)},
			{Key: gameStateKey(gameID), SchemaID: gameSchemaID,
				Fields: models.EncodeGameRecord(game)},
		},
		[]ledger.Event{
			{ID: GameJoinedEvent, Topics: []string{gameID.String()}},
		},
	)
	if err != nil {
		return "", err
	}
	if _, err := s.Ledger.WaitForConfirmation(ctx, txRef); err != nil {
		return "", err
	}

	log.Printf("[Game Service] Player joined game %s", gameID)
	return txRef, nil
}

// SubmitMove validates and commits one choice. When the commit fills the
// second choice slot the round resolves synchronously before returning.
func (s *GameService) SubmitMove(ctx context.Context, gameID *big.Int, player string, choice models.Choice) (string, error) {
	if s.Signer == nil {
		return "", ledger.ErrSignerUnavailable
	}
	if !choice.Valid() {
		return "", fmt.Errorf("%w: invalid choice %d", ErrValidation, choice)
	}
	if err := s.ensureRegistered(ctx); err != nil {
		return "", err
	}

	game, err := s.readGame(ctx, gameID)
	if err != nil {
		return "", err
	}
	if game == nil {
		return "", fmt.Errorf("%w: game %s", ErrNotFound, gameID)
	}
	if !game.IsActive {
		return "", fmt.Errorf("%w: game %s is not active", ErrStateConflict, gameID)
	}

	// A crash between the second choice commit and the resolution commit
	// leaves both slots filled in the durable record. Settle that round
	// before validating this move, or the session stays stuck on the
	// already-made-choice check forever.
	if game.Choices[0] != models.ChoiceNone && game.Choices[1] != models.ChoiceNone {
		if err := s.resolveRound(ctx, gameID); err != nil {
			return "", err
		}
		game, err = s.readGame(ctx, gameID)
		if err != nil {
			return "", err
		}
		if game == nil {
			return "", fmt.Errorf("%w: game %s", ErrNotFound, gameID)
		}
		if !game.IsActive {
			return "", fmt.Errorf("%w: game %s is not active", ErrStateConflict, gameID)
		}
	}

	idx := game.PlayerIndex(player)
	if idx < 0 {
		return "", fmt.Errorf("%w: %s is not a player in game %s", ErrValidation, player, gameID)
	}
	if game.Choices[idx] != models.ChoiceNone {
		return "", fmt.Errorf("%w: choice already made this round", ErrStateConflict)
	}
	if models.EqualAddress(game.LastMover, player) {
		return "", fmt.Errorf("%w: cannot make two moves in a row", ErrStateConflict)
	}

	ts := s.nowMillis()
	round := game.RoundsPlayed + 1
	game.Timestamp = ts
	game.Choices[idx] = choice
	game.LastMover = player

	moveSchemaID, err := s.schemaID(ctx, MoveSchema)
	if err != nil {
		return "", err
	}
	gameSchemaID, err := s.schemaID(ctx, GameSchema)
	if err != nil {
		return "", err
	}

	txRef, err := s.Ledger.SetAndEmit(ctx,
		[]ledger.Record{
			{Key: moveKey(gameID, player, ts), SchemaID: moveSchemaID,
				Fields: models.EncodeMoveRecord(ts, gameID, player, choice, round)},
			{Key: gameStateKey(gameID), SchemaID: gameSchemaID,
				Fields: models.EncodeGameRecord(game)},
		},
		[]ledger.Event{
			{ID: PlayerMovedEvent, Topics: []string{gameID.String()}},
		},
	)
	if err != nil {
		return "", err
	}
	if _, err := s.Ledger.WaitForConfirmation(ctx, txRef); err != nil {
		return "", err
	}

	if game.Choices[0] != models.ChoiceNone && game.Choices[1] != models.ChoiceNone {
		if err := s.resolveRound(ctx, gameID); err != nil {
			return "", err
		}
	}
	return txRef, nil
}

// resolveRound re-reads the committed record and resolves the pending choice
// pair. Re-reading (instead of trusting the caller's copy) makes resolution
// safe to re-run after a crash between the second move and the resolution
// commit: the next action on the session sees both choices and resolves.
func (s *GameService) resolveRound(ctx context.Context, gameID *big.Int) error {
	game, err := s.readGame(ctx, gameID)
	if err != nil {
		return err
	}
	if game == nil || !game.IsActive {
		return nil
	}
	if game.Choices[0] == models.ChoiceNone || game.Choices[1] == models.ChoiceNone {
		return nil
	}

	winnerIdx := RoundWinner(game.Choices[0], game.Choices[1])
	result := &models.RoundResult{
		Timestamp:   s.nowMillis(),
		GameID:      gameID,
		RoundNumber: game.RoundsPlayed + 1,
		Choices:     game.Choices,
		WinnerIndex: winnerIdx,
	}

	if winnerIdx == 0 || winnerIdx == 1 {
		game.Scores[winnerIdx]++
	}
	game.RoundsPlayed++
	game.Choices = [2]models.Choice{models.ChoiceNone, models.ChoiceNone}
	game.LastMover = models.ZeroAddress
	game.Timestamp = result.Timestamp

	over := GameOver(game.GameType, game.Scores, game.RoundsPlayed)
	game.IsActive = !over

	roundSchemaID, err := s.schemaID(ctx, RoundResultSchema)
	if err != nil {
		return err
	}
	gameSchemaID, err := s.schemaID(ctx, GameSchema)
	if err != nil {
		return err
	}

	records := []ledger.Record{
		{Key: roundResultKey(gameID, result.RoundNumber), SchemaID: roundSchemaID,
			Fields: models.EncodeRoundResultRecord(result)},
		{Key: gameStateKey(gameID), SchemaID: gameSchemaID,
			Fields: models.EncodeGameRecord(game)},
	}
	events := []ledger.Event{
		{ID: RoundPlayedEvent, Topics: []string{gameID.String()}},
	}

	if over {
		winner := WinnerByScore(game.Players, game.Scores)
		payout := big.NewInt(0)
		if winner != models.ZeroAddress {
			payout = PayoutAmount(game.Stake)
		}

		end := &models.GameEnd{
			Timestamp:   result.Timestamp,
			GameID:      gameID,
			Winner:      winner,
			Payout:      payout,
			FinalScores: game.Scores,
		}
		endSchemaID, err := s.schemaID(ctx, GameEndSchema)
		if err != nil {
			return err
		}
		records = append(records, ledger.Record{
			Key: gameEndKey(gameID), SchemaID: endSchemaID,
			Fields: models.EncodeGameEndRecord(end),
		})
		events = append(events, ledger.Event{ID: GameEndedEvent, Topics: []string{gameID.String()}})
		log.Printf("[Game Service] Game %s concluded: winner %s, payout %s", gameID, winner, payout)
	}

	txRef, err := s.Ledger.SetAndEmit(ctx, records, events)
	if err != nil {
		return err
	}
	_, err = s.Ledger.WaitForConfirmation(ctx, txRef)
	return err
}

// GetGameByID returns the current session record with per-player move
// history attached.
func (s *GameService) GetGameByID(ctx context.Context, gameID *big.Int) (*models.Game, error) {
	game, err := s.readGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game == nil {
		return nil, fmt.Errorf("%w: game %s", ErrNotFound, gameID)
	}

	game.Player1Moves, err = s.playerMoves(ctx, gameID, game.Players[0])
	if err != nil {
		return nil, err
	}
	if game.HasOpponent() {
		game.Player2Moves, err = s.playerMoves(ctx, gameID, game.Players[1])
		if err != nil {
			return nil, err
		}
	}
	return game, nil
}

// playerMoves scans the move schema for one player's choices, in round order.
func (s *GameService) playerMoves(ctx context.Context, gameID *big.Int, player string) ([]models.Choice, error) {
	moveSchemaID, err := s.schemaID(ctx, MoveSchema)
	if err != nil {
		return nil, err
	}
	rows, err := s.Ledger.GetAllForSchema(ctx, moveSchemaID, s.Publisher)
	if err != nil {
		return nil, err
	}

	var moves []*models.DecodedMove
	for _, row := range rows {
		m, err := models.DecodeMoveRecord(row)
		if err != nil {
			continue // skip foreign or malformed rows
		}
		if m.GameID.Cmp(gameID) == 0 && models.EqualAddress(m.Player, player) {
			moves = append(moves, m)
		}
	}
	sort.Slice(moves, func(i, j int) bool { return moves[i].Round < moves[j].Round })

	out := make([]models.Choice, 0, len(moves))
	for _, m := range moves {
		out = append(out, m.Choice)
	}
	return out, nil
}

// GetUserGames lists ids of every session the address created or joined.
func (s *GameService) GetUserGames(ctx context.Context, address string) ([]*big.Int, error) {
	createdSchemaID, err := s.schemaID(ctx, GameCreatedSchema)
	if err != nil {
		return nil, err
	}
	joinedSchemaID, err := s.schemaID(ctx, GameJoinedSchema)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var ids []*big.Int

	created, err := s.Ledger.GetAllForSchema(ctx, createdSchemaID, s.Publisher)
	if err != nil {
		return nil, err
	}
	for _, row := range created {
		id, player, err := models.ParticipantOfCreated(row)
		if err != nil {
			continue
		}
		if models.EqualAddress(player, address) && !seen[id.String()] {
			seen[id.String()] = true
			ids = append(ids, id)
		}
	}

	joined, err := s.Ledger.GetAllForSchema(ctx, joinedSchemaID, s.Publisher)
	if err != nil {
		return nil, err
	}
	for _, row := range joined {
		id, player, err := models.ParticipantOfJoined(row)
		if err != nil {
			continue
		}
		if models.EqualAddress(player, address) && !seen[id.String()] {
			seen[id.String()] = true
			ids = append(ids, id)
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i].Cmp(ids[j]) < 0 })
	return ids, nil
}
