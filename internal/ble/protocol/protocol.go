// Package protocol defines the payloads the beep test exchanges over the
// link characteristic. The link itself treats them as opaque bytes.
package protocol

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// Grid and tone limits of the beep test board.
const (
	GridWidth  = 12
	GridHeight = 8
	MinTone    = 3
	MaxTone    = 30
)

// StartCommand is served to the central's first read to start the exchange.
const StartCommand = "START"

// ErrInvalidPayload is returned for payloads that are neither a move nor an ack.
var ErrInvalidPayload = errors.New("protocol: invalid payload")

// Move reports a player position and the tone played with it.
type Move struct {
	X, Y uint8
	Tone uint8
}

// Marshal encodes m as [x, y, tone].
func (m Move) Marshal() []byte {
	return []byte{m.X, m.Y, m.Tone}
}

// ToneHz returns the buzzer frequency for a tone value.
func ToneHz(tone uint8) int { return int(tone) * 100 }

// Ack encodes the acknowledgement of a move: the tone it carried.
func Ack(tone uint8) []byte {
	return []byte{tone}
}

// Message is a decoded payload: exactly one of Move or Ack is meaningful.
type Message struct {
	Move  Move
	IsAck bool
	Tone  uint8 // set for acks
}

// Parse decodes a payload written or notified over the link.
func Parse(b []byte) (Message, error) {
	switch len(b) {
	case 1:
		return Message{IsAck: true, Tone: b[0]}, nil
	case 3:
		m := Move{X: b[0], Y: b[1], Tone: b[2]}
		if m.X >= GridWidth || m.Y >= GridHeight {
			return Message{}, fmt.Errorf("%w: position %d,%d off the grid", ErrInvalidPayload, m.X, m.Y)
		}
		return Message{Move: m}, nil
	}
	return Message{}, fmt.Errorf("%w: %d bytes", ErrInvalidPayload, len(b))
}

// IsStart reports whether b is the start command.
func IsStart(b []byte) bool {
	return string(b) == StartCommand
}

// RandomTone picks a tone in [MinTone, MaxTone].
func RandomTone() uint8 {
	return uint8(MinTone + rand.IntN(MaxTone-MinTone+1))
}

// Direction is one step on the grid.
type Direction int

const (
	Up Direction = iota
	Down
	Left
	Right
)

// Player is a position on the grid.
type Player struct {
	X, Y uint8
}

// Step moves p one cell in d, staying on the grid. It reports whether p moved.
func (p *Player) Step(d Direction) bool {
	switch d {
	case Up:
		if p.Y > 0 {
			p.Y--
			return true
		}
	case Down:
		if p.Y < GridHeight-1 {
			p.Y++
			return true
		}
	case Left:
		if p.X > 0 {
			p.X--
			return true
		}
	case Right:
		if p.X < GridWidth-1 {
			p.X++
			return true
		}
	}
	return false
}

// Wander takes one random step, retrying directions until one moves.
func (p *Player) Wander() {
	for _, i := range rand.Perm(4) {
		if p.Step(Direction(i)) {
			return
		}
	}
}

// Move returns the payload for p's position with tone.
func (p Player) Move(tone uint8) Move {
	return Move{X: p.X, Y: p.Y, Tone: tone}
}
