// Package tictactoe is the built-in example game: the full contract in
// one small package, with move enumeration so bot slots can play it.
package tictactoe

import (
	"errors"
	"fmt"

	"github.com/youngZwiebelandtheGemuseBeat/turnwire/internal/game"
)

// Board is the replicated game state. Cells run row-major, "" is empty.
type Board struct {
	Cells [9]string `json:"cells"`
}

var lines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// Game returns the definition. Slot "0" plays X and starts, slot "1"
// plays O.
func Game() *game.Game {
	return &game.Game{
		Name:  "tictactoe",
		Setup: func(ctx *game.Context) any { return &Board{} },
		Moves: map[string]game.MoveFunc{
			"place": place,
		},
		Enumerate: enumerate,
	}
}

func place(g any, ctx *game.Context, player game.PlayerID, args ...any) error {
	b, ok := g.(*Board)
	if !ok {
		return fmt.Errorf("tictactoe: state is %T, want *Board", g)
	}
	if player != ctx.CurrentPlayer {
		return errors.New("not your turn")
	}
	if len(args) != 1 {
		return errors.New("place wants exactly one cell argument")
	}
	cell, err := cellIndex(args[0])
	if err != nil {
		return err
	}
	if b.Cells[cell] != "" {
		return fmt.Errorf("cell %d already taken", cell)
	}
	mark := markFor(player)
	if mark == "" {
		return fmt.Errorf("player %q has no mark", player)
	}

	b.Cells[cell] = mark
	switch {
	case wins(b, mark):
		ctx.Gameover = map[string]any{"winner": string(player)}
	case full(b):
		ctx.Gameover = map[string]any{"draw": true}
	}
	ctx.Turn++
	ctx.CurrentPlayer = nextPlayer(ctx)
	return nil
}

func enumerate(g any, ctx *game.Context) []game.Move {
	b, ok := g.(*Board)
	if !ok {
		return nil
	}
	var moves []game.Move
	for i, c := range b.Cells {
		if c == "" {
			moves = append(moves, game.Move{Type: "place", Args: []any{i}})
		}
	}
	return moves
}

// cellIndex accepts both in-process ints and float64 from decoded JSON.
func cellIndex(v any) (int, error) {
	var cell int
	switch n := v.(type) {
	case int:
		cell = n
	case float64:
		cell = int(n)
		if float64(cell) != n {
			return 0, fmt.Errorf("cell %v is not an integer", n)
		}
	default:
		return 0, fmt.Errorf("cell argument is %T, want a number", v)
	}
	if cell < 0 || cell > 8 {
		return 0, fmt.Errorf("cell %d out of range", cell)
	}
	return cell, nil
}

func markFor(player game.PlayerID) string {
	switch player {
	case "0":
		return "X"
	case "1":
		return "O"
	}
	return ""
}

func wins(b *Board, mark string) bool {
	for _, l := range lines {
		if b.Cells[l[0]] == mark && b.Cells[l[1]] == mark && b.Cells[l[2]] == mark {
			return true
		}
	}
	return false
}

func full(b *Board) bool {
	for _, c := range b.Cells {
		if c == "" {
			return false
		}
	}
	return true
}

func nextPlayer(ctx *game.Context) game.PlayerID {
	order := ctx.PlayOrder
	if len(order) == 0 {
		return ctx.CurrentPlayer
	}
	for i, p := range order {
		if p == ctx.CurrentPlayer {
			return order[(i+1)%len(order)]
		}
	}
	return order[0]
}
