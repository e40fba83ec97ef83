package gamestate

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"generals-net/internal/xfer"
)

// maxSaveFileNumber is the largest numbered save filename.
const maxSaveFileNumber = 99999999

// SaveDirectory returns the directory saves are written to.
func (g *GameState) SaveDirectory() string {
	return g.opts.Save.SaveDir
}

// FilePathInSaveDirectory joins a save filename onto the save directory.
// Only the base name of leaf is used.
func (g *GameState) FilePathInSaveDirectory(leaf string) string {
	return filepath.Join(g.opts.Save.SaveDir, filepath.Base(leaf))
}

// FindNextSaveFilename returns the lowest numbered filename not yet in use,
// or "" when every number is taken.
func (g *GameState) FindNextSaveFilename() string {
	for i := 0; i <= g.maxFileNumber; i++ {
		name := fmt.Sprintf("%08d%s", i, g.opts.Save.Extension)
		if _, err := os.Stat(g.FilePathInSaveDirectory(name)); errors.Is(err, os.ErrNotExist) {
			return name
		}
	}
	return ""
}

// DoesSaveGameExist reports whether filename can be opened for loading.
func (g *GameState) DoesSaveGameExist(filename string) bool {
	if filename == "" {
		return false
	}
	x, err := xfer.OpenLoad(g.FilePathInSaveDirectory(filename))
	if err != nil {
		return false
	}
	x.Close()
	return true
}

// DeleteSaveGame removes a save file.
func (g *GameState) DeleteSaveGame(filename string) error {
	path := g.FilePathInSaveDirectory(filename)
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete save %s: %w", filename, err)
	}
	log.Printf("💾 Deleted save %s", path)
	return nil
}

// SaveGameInfoFromFile reads the game state block of a save without
// loading anything else.
func (g *GameState) SaveGameInfoFromFile(filename string) (SaveGameInfo, SaveCode) {
	path := g.FilePathInSaveDirectory(filename)
	x, err := xfer.OpenLoad(path, xfer.WithNames(g.opts.Names), xfer.WithPaths(g),
		xfer.WithOptions(xfer.NoPostProcessing))
	if err != nil {
		if errors.Is(err, xfer.ErrFileNotFound) {
			return SaveGameInfo{}, SCFileNotFound
		}
		return SaveGameInfo{}, SCUnableToOpenFile
	}
	defer x.Close()

	info, err := g.readGameInfo(x)
	switch {
	case err == nil:
		return info, SCOk
	case errors.Is(err, errUnknownBlock):
		log.Printf("⚠️ %v", err)
		return SaveGameInfo{}, SCUnknownBlock
	default:
		log.Printf("⚠️ Could not read game info from %s: %v", path, err)
		return SaveGameInfo{}, SCInvalidData
	}
}

func (g *GameState) readGameInfo(x *xfer.Xfer) (SaveGameInfo, error) {
	for {
		var token string
		if err := x.AsciiString(&token); err != nil {
			return SaveGameInfo{}, err
		}
		if strings.EqualFold(token, saveFileEOF) {
			return SaveGameInfo{}, fmt.Errorf("%w in %s", errNoGameInfo, x.Identifier())
		}
		if _, ok := g.FindBlockInfoByToken(token, SnapshotSaveLoad); !ok {
			return SaveGameInfo{}, fmt.Errorf("%w '%s' in %s", errUnknownBlock, token, x.Identifier())
		}

		size, err := x.BeginBlock()
		if err != nil {
			return SaveGameInfo{}, err
		}
		if strings.EqualFold(token, GameStateBlock) {
			var r gameInfoReader
			if err := x.Snapshot(&r); err != nil {
				return SaveGameInfo{}, err
			}
			return r.info, nil
		}
		x.Skip(size)
		if err := x.EndBlock(); err != nil {
			return SaveGameInfo{}, err
		}
	}
}

// AvailableGames lists the readable saves in the save directory, newest
// first.
func (g *GameState) AvailableGames() ([]AvailableGameInfo, error) {
	entries, err := os.ReadDir(g.opts.Save.SaveDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read save directory: %w", err)
	}

	var games []AvailableGameInfo
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), g.opts.Save.Extension) {
			continue
		}
		info, code := g.SaveGameInfoFromFile(e.Name())
		if code != SCOk {
			log.Printf("⚠️ Ignoring save %s: %s", e.Name(), code)
			continue
		}
		games = append(games, AvailableGameInfo{Filename: e.Name(), SaveGameInfo: info})
	}

	sort.SliceStable(games, func(i, j int) bool {
		return games[i].SaveGameInfo.Date.IsNewerThan(games[j].SaveGameInfo.Date)
	})
	return games, nil
}
