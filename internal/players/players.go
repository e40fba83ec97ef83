// Package players maps network slots to stable player identities.
//
// The wire format never carries a player index. A command from slot N names
// the player "player<N>"; the name is interned to a NameKey and the key is
// looked up in the List to find whichever player currently owns it.
package players

import (
	"fmt"
	"sync"
)

// NameKey is an interned name. Zero is never assigned.
type NameKey uint32

// KeyGenerator interns names to keys.
type KeyGenerator struct {
	mu    sync.RWMutex
	keys  map[string]NameKey
	names []string
}

// NewKeyGenerator returns an empty generator.
func NewKeyGenerator() *KeyGenerator {
	return &KeyGenerator{
		keys:  make(map[string]NameKey),
		names: []string{""},
	}
}

// NameToKey returns the key for name, assigning one on first use.
func (g *KeyGenerator) NameToKey(name string) NameKey {
	g.mu.RLock()
	k, ok := g.keys[name]
	g.mu.RUnlock()
	if ok {
		return k
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if k, ok := g.keys[name]; ok {
		return k
	}
	k = NameKey(len(g.names))
	g.keys[name] = k
	g.names = append(g.names, name)
	return k
}

// KeyToName returns the name behind k, or "" if k was never assigned.
func (g *KeyGenerator) KeyToName(k NameKey) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if int(k) >= len(g.names) {
		return ""
	}
	return g.names[k]
}

// SlotName is the stable name of the player in a network slot.
func SlotName(slot uint8) string {
	return fmt.Sprintf("player%d", slot)
}

// Player is one participant in the simulation.
type Player struct {
	Index       int
	NameKey     NameKey
	DisplayName string
	Side        string
}

// List holds the players of one game session.
type List struct {
	mu      sync.RWMutex
	gen     *KeyGenerator
	players []*Player
	byKey   map[NameKey]*Player
}

// NewList returns an empty list that interns names with gen.
func NewList(gen *KeyGenerator) *List {
	return &List{
		gen:   gen,
		byKey: make(map[NameKey]*Player),
	}
}

// Add appends a player identified by name. Adding a name twice returns the
// existing player.
func (l *List) Add(name, displayName, side string) *Player {
	key := l.gen.NameToKey(name)

	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.byKey[key]; ok {
		return p
	}
	p := &Player{
		Index:       len(l.players),
		NameKey:     key,
		DisplayName: displayName,
		Side:        side,
	}
	l.players = append(l.players, p)
	l.byKey[key] = p
	return p
}

// AddSlot adds the player for a network slot.
func (l *List) AddSlot(slot uint8, displayName, side string) *Player {
	return l.Add(SlotName(slot), displayName, side)
}

// FindPlayerWithNameKey looks a player up by key.
func (l *List) FindPlayerWithNameKey(key NameKey) (*Player, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.byKey[key]
	return p, ok
}

// PlayerIndexForSlot resolves a network slot to a player index.
func (l *List) PlayerIndexForSlot(slot uint8) (int, bool) {
	p, ok := l.FindPlayerWithNameKey(l.gen.NameToKey(SlotName(slot)))
	if !ok {
		return 0, false
	}
	return p.Index, true
}

// Count returns the number of players.
func (l *List) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.players)
}

// Players returns a copy of the player slice.
func (l *List) Players() []*Player {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]*Player(nil), l.players...)
}
