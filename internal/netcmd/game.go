package netcmd

import (
	"fmt"

	"generals-net/internal/sim"
)

// GameMessageType identifies a simulation order. Values are shared with the
// simulation's message table; only the ones the network layer itself
// produces are named here.
type GameMessageType uint32

const (
	MsgInvalid GameMessageType = iota
	MsgLogicCRC
	MsgCreateSelectedGroup
	MsgDoMoveTo
	MsgDoAttackObject
	MsgDoSpecialPower
	MsgPlaceBeacon
)

// ArgumentDataType tags a GameMessage argument.
type ArgumentDataType uint8

const (
	ArgInteger ArgumentDataType = iota
	ArgReal
	ArgBool
	ArgObjectID
	ArgDrawableID
	ArgTeamID
	ArgLocation
	ArgPixel
	ArgPixelRegion
	ArgTimestamp
	ArgWideChar

	argTypeCount
)

// Valid reports whether t is a known argument type.
func (t ArgumentDataType) Valid() bool { return t < argTypeCount }

// Argument is one tagged GameMessage argument. Only the field matching Type
// is meaningful.
type Argument struct {
	Type        ArgumentDataType
	Integer     int32
	Real        float32
	Bool        bool
	ObjectID    sim.ObjectID
	DrawableID  sim.DrawableID
	TeamID      uint32
	Location    sim.Coord3D
	Pixel       sim.ICoord2D
	PixelRegion sim.IRegion2D
	Timestamp   uint32
	WideChar    uint16
}

func IntegerArg(v int32) Argument             { return Argument{Type: ArgInteger, Integer: v} }
func RealArg(v float32) Argument              { return Argument{Type: ArgReal, Real: v} }
func BoolArg(v bool) Argument                 { return Argument{Type: ArgBool, Bool: v} }
func ObjectIDArg(v sim.ObjectID) Argument     { return Argument{Type: ArgObjectID, ObjectID: v} }
func DrawableIDArg(v sim.DrawableID) Argument { return Argument{Type: ArgDrawableID, DrawableID: v} }
func TeamIDArg(v uint32) Argument             { return Argument{Type: ArgTeamID, TeamID: v} }
func LocationArg(v sim.Coord3D) Argument      { return Argument{Type: ArgLocation, Location: v} }
func PixelArg(v sim.ICoord2D) Argument        { return Argument{Type: ArgPixel, Pixel: v} }
func PixelRegionArg(v sim.IRegion2D) Argument { return Argument{Type: ArgPixelRegion, PixelRegion: v} }
func TimestampArg(v uint32) Argument          { return Argument{Type: ArgTimestamp, Timestamp: v} }
func WideCharArg(v uint16) Argument           { return Argument{Type: ArgWideChar, WideChar: v} }

// GameMessage is an order as the simulation sees it.
type GameMessage struct {
	Type        GameMessageType
	PlayerIndex int
	Args        []Argument
}

// PlayerDirectory resolves network slots to simulation player indexes.
type PlayerDirectory interface {
	PlayerIndexForSlot(slot uint8) (int, bool)
}

// GameCommand carries a GameMessage between peers.
type GameCommand struct {
	Header
	MessageType GameMessageType
	Args        []Argument
}

func (*GameCommand) Type() CommandType { return TypeGameCommand }

// NewGameCommand copies msg's type and arguments into a command.
func NewGameCommand(msg *GameMessage) *GameCommand {
	return &GameCommand{
		MessageType: msg.Type,
		Args:        append([]Argument(nil), msg.Args...),
	}
}

// AddArgument appends an argument.
func (g *GameCommand) AddArgument(a Argument) {
	g.Args = append(g.Args, a)
}

// ConstructGameMessage rebuilds the simulation order, resolving the sending
// slot through dir rather than trusting an index on the wire.
func (g *GameCommand) ConstructGameMessage(dir PlayerDirectory) (*GameMessage, error) {
	index, ok := dir.PlayerIndexForSlot(g.PlayerID)
	if !ok {
		return nil, fmt.Errorf("no player for slot %d", g.PlayerID)
	}
	return &GameMessage{
		Type:        g.MessageType,
		PlayerIndex: index,
		Args:        append([]Argument(nil), g.Args...),
	}, nil
}
