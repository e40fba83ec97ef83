// Package gamestate saves, loads and checksums the whole game.
//
// Subsystems register named snapshot blocks with a GameState. A save file
// is the registered blocks in order, each as its name, a size and the
// snapshot's data, ended by an end-of-file token. Loading matches blocks by
// name and skips ones this build does not know, so blocks can be retired
// without breaking old saves. The same walk in CRC mode produces the deep
// desync checksum.
package gamestate

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"generals-net/internal/config"
	"generals-net/internal/metrics"
	"generals-net/internal/xfer"
)

const (
	// GameStateBlock is the block holding SaveGameInfo.
	GameStateBlock = "CHUNK_GameState"
	// CampaignBlock holds campaign progress; mission saves keep only it and
	// the game state block.
	CampaignBlock = "CHUNK_Campaign"

	saveFileEOF = "SG_EOF"
)

var (
	errInvalidXfer  = errors.New("gamestate: invalid xfer")
	errUnknownBlock = errors.New("gamestate: unknown block")
	errNoGameInfo   = errors.New("gamestate: no game state block")
)

// Campaign reports the campaign the running game belongs to.
type Campaign interface {
	// CampaignSide names the campaign, or "" outside one.
	CampaignSide() string
	MissionNumber() int32
	// CurrentMap is the map a mission save restarts.
	CurrentMap() string
}

// Hooks let the engine react to load milestones.
type Hooks struct {
	// BeforeLoad runs after the file opens and before any block loads.
	BeforeLoad func()
	// OnLoadFailed runs when a load fails after BeforeLoad.
	OnLoadFailed func()
	// OnMissionLoad runs after a mission save loads, with the mission info.
	OnMissionLoad func(info SaveGameInfo)
}

// Options configures a GameState.
type Options struct {
	Save     config.SaveConfig
	Names    xfer.Names
	Campaign Campaign
	// MapName returns the path of the map being played.
	MapName func() string
	// MapLabel returns the display name of the current map, or "".
	MapLabel func() string
	Clock    func() time.Time
	Hooks    Hooks
}

// SnapshotBlock is one registered block.
type SnapshotBlock struct {
	BlockName string
	Snapshot  xfer.Snapshot
}

// GameState owns the snapshot block registry and the save directory for
// one game session.
type GameState struct {
	opts Options
	now  func() time.Time

	blocksMu sync.RWMutex
	blocks   [snapshotTypeCount][]SnapshotBlock

	// passMu serializes save, load and crc passes. postProcess and info
	// are only touched while it is held.
	passMu      sync.Mutex
	postProcess []xfer.Snapshot
	info        SaveGameInfo

	inLoadGame    atomic.Bool
	maxFileNumber int
}

// New returns a GameState. Call Init before use.
func New(opts Options) *GameState {
	g := &GameState{
		opts:          opts,
		now:           opts.Clock,
		maxFileNumber: maxSaveFileNumber,
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.opts.Save.Extension == "" {
		g.opts.Save.Extension = config.DefaultSave().Extension
	}
	return g
}

// Init registers the game state block.
func (g *GameState) Init() error {
	return g.AddSnapshotBlock(GameStateBlock, g, SnapshotSaveLoad)
}

// Reset clears per-game state: the post-process queue, the load latch and
// the current save info. Registered blocks are kept.
func (g *GameState) Reset() {
	g.passMu.Lock()
	defer g.passMu.Unlock()
	g.postProcess = nil
	g.info = SaveGameInfo{}
	g.inLoadGame.Store(false)
}

// AddSnapshotBlock registers s under name in the which list. Blocks are
// saved in registration order.
func (g *GameState) AddSnapshotBlock(name string, s xfer.Snapshot, which SnapshotType) error {
	if !which.Valid() {
		return fmt.Errorf("add block %s: invalid snapshot type %d", name, which)
	}
	if name == "" || s == nil {
		return fmt.Errorf("add block: name and snapshot are required")
	}
	if len(name) > xfer.MaxStringLength {
		return fmt.Errorf("add block %s: %w", name, xfer.ErrStringTooLong)
	}

	g.blocksMu.Lock()
	defer g.blocksMu.Unlock()
	for _, b := range g.blocks[which] {
		if strings.EqualFold(b.BlockName, name) {
			return fmt.Errorf("add block %s: already registered for %s", name, which)
		}
	}
	g.blocks[which] = append(g.blocks[which], SnapshotBlock{BlockName: name, Snapshot: s})
	return nil
}

// FindBlockInfoByToken looks a block up by name, ignoring case.
func (g *GameState) FindBlockInfoByToken(token string, which SnapshotType) (SnapshotBlock, bool) {
	if !which.Valid() {
		return SnapshotBlock{}, false
	}
	g.blocksMu.RLock()
	defer g.blocksMu.RUnlock()
	for _, b := range g.blocks[which] {
		if strings.EqualFold(b.BlockName, token) {
			return b, true
		}
	}
	return SnapshotBlock{}, false
}

func (g *GameState) blockList(which SnapshotType) []SnapshotBlock {
	g.blocksMu.RLock()
	defer g.blocksMu.RUnlock()
	return append([]SnapshotBlock(nil), g.blocks[which]...)
}

// AddPostProcessSnapshot queues s for the post-load pass. Load xfers call
// this for every snapshot they load.
func (g *GameState) AddPostProcessSnapshot(s xfer.Snapshot) {
	g.postProcess = append(g.postProcess, s)
}

// IsInLoadGame reports whether a load is in progress.
func (g *GameState) IsInLoadGame() bool {
	return g.inLoadGame.Load()
}

// SaveGameInfo returns the info of the current game.
func (g *GameState) SaveGameInfo() SaveGameInfo {
	g.passMu.Lock()
	defer g.passMu.Unlock()
	return g.info
}

func (g *GameState) xferOptions(extra ...xfer.Option) []xfer.Option {
	opts := []xfer.Option{
		xfer.WithNames(g.opts.Names),
		xfer.WithPaths(g),
		xfer.WithPostProcess(g),
	}
	return append(opts, extra...)
}

// =============================================================================
// SAVE / LOAD
// =============================================================================

// SaveGame writes every block of the which list to filename in the save
// directory. An empty filename picks the next free numbered file. The
// filename used is returned.
func (g *GameState) SaveGame(filename, description string, saveType SaveFileType, which SnapshotType) (string, SaveCode) {
	code := g.saveGame(&filename, description, saveType, which)
	metrics.RecordSaveResult("save", code.String())
	return filename, code
}

func (g *GameState) saveGame(filename *string, description string, saveType SaveFileType, which SnapshotType) SaveCode {
	// Held from picking a free name until the file exists.
	g.passMu.Lock()
	defer g.passMu.Unlock()

	if *filename == "" {
		*filename = g.FindNextSaveFilename()
	}
	if *filename == "" {
		log.Printf("❌ Unable to find a free save filename in %s", g.opts.Save.SaveDir)
		return SCNoFileAvailable
	}

	if err := os.MkdirAll(g.opts.Save.SaveDir, 0o755); err != nil {
		log.Printf("⚠️ Could not create save directory %s: %v", g.opts.Save.SaveDir, err)
	}
	path := g.FilePathInSaveDirectory(*filename)

	x, err := xfer.CreateSave(path, g.opts.Save.Compress, g.xferOptions()...)
	if err != nil {
		log.Printf("❌ Error opening save file %s: %v", path, err)
		return SCError
	}

	g.info.Description = description
	g.info.SaveFileType = saveType
	g.info.SaveID = uuid.New()
	g.info.MissionMapName = ""
	if saveType == SaveFileMission && g.opts.Campaign != nil {
		g.info.MissionMapName = g.opts.Campaign.CurrentMap()
	}

	start := time.Now()
	err = g.xferSaveData(x, which)
	if cerr := x.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		log.Printf("❌ Error saving game to %s: %v", path, err)
		return SCError
	}

	metrics.RecordXfer("save", time.Since(start))
	log.Printf("💾 Game saved to %s (%s)", path, which)
	return SCOk
}

// LoadGame loads a save found by AvailableGames and runs the post-process
// pass.
func (g *GameState) LoadGame(game AvailableGameInfo) SaveCode {
	code := g.loadGame(game)
	metrics.RecordSaveResult("load", code.String())
	return code
}

func (g *GameState) loadGame(game AvailableGameInfo) SaveCode {
	if !g.DoesSaveGameExist(game.Filename) {
		return SCFileNotFound
	}
	path := g.FilePathInSaveDirectory(game.Filename)

	g.passMu.Lock()
	defer g.passMu.Unlock()

	x, err := xfer.OpenLoad(path, g.xferOptions()...)
	if err != nil {
		log.Printf("❌ Error opening save file %s: %v", path, err)
		return SCUnableToOpenFile
	}

	if g.opts.Hooks.BeforeLoad != nil {
		g.opts.Hooks.BeforeLoad()
	}

	g.inLoadGame.Store(true)
	start := time.Now()
	err = g.xferSaveData(x, SnapshotSaveLoad)
	x.Close()
	g.inLoadGame.Store(false)

	if perr := g.postProcessLoad(); err == nil {
		err = perr
	}
	if err != nil {
		log.Printf("❌ Error loading game from %s: %v", path, err)
		if g.opts.Hooks.OnLoadFailed != nil {
			g.opts.Hooks.OnLoadFailed()
		}
		return SCInvalidData
	}
	metrics.RecordXfer("load", time.Since(start))

	if g.info.SaveFileType == SaveFileMission {
		if g.opts.Hooks.OnMissionLoad != nil {
			g.opts.Hooks.OnMissionLoad(g.info)
		}
		g.info.SaveFileType = SaveFileNormal
		g.info.MissionMapName = ""
	}

	log.Printf("💾 Game loaded from %s", path)
	return SCOk
}

// postProcessLoad runs LoadPostProcess on everything queued during the
// load, in load order, then clears the queue.
func (g *GameState) postProcessLoad() error {
	queued := g.postProcess
	g.postProcess = nil

	var errs []error
	for _, s := range queued {
		if err := s.LoadPostProcess(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ComputeCRC walks the which list in CRC mode.
func (g *GameState) ComputeCRC(which SnapshotType) (uint32, error) {
	g.passMu.Lock()
	defer g.passMu.Unlock()

	x := xfer.NewCRC(g.xferOptions()...)
	if err := x.Open("crc:" + which.String()); err != nil {
		return 0, err
	}
	defer x.Close()

	start := time.Now()
	if err := g.xferSaveData(x, which); err != nil {
		return 0, err
	}
	metrics.RecordXfer("crc", time.Since(start))
	return x.CRC(), nil
}

// XferSaveData moves every block of the which list through x. Saves and
// CRCs write blocks in registration order; loads read blocks by name until
// the end token, skipping unknown ones.
func (g *GameState) XferSaveData(x *xfer.Xfer, which SnapshotType) error {
	g.passMu.Lock()
	defer g.passMu.Unlock()
	return g.xferSaveData(x, which)
}

func (g *GameState) xferSaveData(x *xfer.Xfer, which SnapshotType) error {
	if x == nil || !which.Valid() {
		return errInvalidXfer
	}

	switch x.Mode() {
	case xfer.ModeSave, xfer.ModeCRC:
		return g.writeBlocks(x, which)
	case xfer.ModeLoad:
		return g.readBlocks(x, which)
	default:
		return fmt.Errorf("%w: %w", errInvalidXfer, xfer.ErrModeUnknown)
	}
}

func (g *GameState) writeBlocks(x *xfer.Xfer, which SnapshotType) error {
	mission := x.Mode() == xfer.ModeSave && g.info.SaveFileType == SaveFileMission

	for _, b := range g.blockList(which) {
		if mission && !strings.EqualFold(b.BlockName, GameStateBlock) && !strings.EqualFold(b.BlockName, CampaignBlock) {
			continue
		}

		name := b.BlockName
		x.AsciiString(&name)
		x.BeginBlock()
		x.Snapshot(b.Snapshot)
		if err := x.EndBlock(); err != nil {
			return fmt.Errorf("block %s in %s: %w", b.BlockName, x.Identifier(), err)
		}
	}

	eof := saveFileEOF
	return x.AsciiString(&eof)
}

func (g *GameState) readBlocks(x *xfer.Xfer, which SnapshotType) error {
	for {
		var token string
		if err := x.AsciiString(&token); err != nil {
			return fmt.Errorf("reading block name in %s: %w", x.Identifier(), err)
		}
		if strings.EqualFold(token, saveFileEOF) {
			return nil
		}

		b, ok := g.FindBlockInfoByToken(token, which)
		if !ok {
			log.Printf("⚠️ Skipping unknown block '%s' in %s", token, x.Identifier())
			size, _ := x.BeginBlock()
			if err := x.Skip(size); err != nil {
				return fmt.Errorf("skipping block %s: %w", token, err)
			}
			continue
		}

		x.BeginBlock()
		x.Snapshot(b.Snapshot)
		if err := x.EndBlock(); err != nil {
			return fmt.Errorf("block %s in %s: %w", b.BlockName, x.Identifier(), err)
		}
	}
}

// =============================================================================
// GAME STATE BLOCK
// =============================================================================

// gameInfoVersion history:
//
//	1: date, description, map label, campaign side, mission number
//	2: save file type and mission map name
//	3: save id
const gameInfoVersion xfer.Version = 3

// CRC implements xfer.Snapshot. Save metadata never affects the simulation.
func (g *GameState) CRC(x *xfer.Xfer) error { return nil }

// Xfer implements xfer.Snapshot for the game state block.
func (g *GameState) Xfer(x *xfer.Xfer) error {
	if x.Mode() == xfer.ModeSave {
		g.fillSaveInfo()
	}
	return xferGameInfo(x, &g.info)
}

// LoadPostProcess implements xfer.Snapshot.
func (g *GameState) LoadPostProcess() error { return nil }

// fillSaveInfo stamps the fields that describe the game as it is now.
func (g *GameState) fillSaveInfo() {
	g.info.Date = DateFromTime(g.now())

	g.info.MapLabel = ""
	if g.opts.MapLabel != nil {
		g.info.MapLabel = g.opts.MapLabel()
	}
	if g.info.MapLabel == "" && g.opts.MapName != nil {
		g.info.MapLabel = MapLeafName(g.opts.MapName())
	}

	g.info.CampaignSide = ""
	g.info.MissionNumber = invalidMissionNumber
	if c := g.opts.Campaign; c != nil && c.CampaignSide() != "" {
		g.info.CampaignSide = c.CampaignSide()
		g.info.MissionNumber = c.MissionNumber()
	}
}

const invalidMissionNumber int32 = -1

func xferGameInfo(x *xfer.Xfer, info *SaveGameInfo) error {
	version := gameInfoVersion
	if err := x.Version(&version, gameInfoVersion); err != nil {
		return err
	}

	if version >= 2 {
		fileType := int32(info.SaveFileType)
		x.Int(&fileType)
		info.SaveFileType = SaveFileType(fileType)
		x.AsciiString(&info.MissionMapName)
	}

	d := &info.Date
	for _, f := range []*uint16{&d.Year, &d.Month, &d.Day, &d.DayOfWeek, &d.Hour, &d.Minute, &d.Second, &d.Milliseconds} {
		x.Ushort(f)
	}

	x.UnicodeString(&info.Description)
	x.AsciiString(&info.MapLabel)
	x.AsciiString(&info.CampaignSide)
	x.Int(&info.MissionNumber)

	if version >= 3 {
		id := info.SaveID
		x.User(id[:])
		info.SaveID = id
	}
	return x.Err()
}

// gameInfoReader loads only SaveGameInfo, for listing save files.
type gameInfoReader struct {
	info SaveGameInfo
}

func (r *gameInfoReader) CRC(x *xfer.Xfer) error  { return nil }
func (r *gameInfoReader) Xfer(x *xfer.Xfer) error { return xferGameInfo(x, &r.info) }
func (r *gameInfoReader) LoadPostProcess() error  { return nil }
