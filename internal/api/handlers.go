package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strconv"

	"generals-net/internal/gamestate"

	"github.com/go-chi/chi/v5"
)

// Handler methods for routerHandlers
// These are used by both the standalone router (for testing) and the full Server.

// saveJSON is the API form of a save's metadata.
type saveJSON struct {
	Filename      string `json:"filename"`
	SaveID        string `json:"saveId"`
	Type          string `json:"type"`
	Description   string `json:"description"`
	MapLabel      string `json:"mapLabel"`
	MissionMap    string `json:"missionMap,omitempty"`
	CampaignSide  string `json:"campaignSide,omitempty"`
	MissionNumber int32  `json:"missionNumber,omitempty"`
	Date          string `json:"date"`
}

func toSaveJSON(filename string, info gamestate.SaveGameInfo) saveJSON {
	saveType := "normal"
	if info.SaveFileType == gamestate.SaveFileMission {
		saveType = "mission"
	}
	d := info.Date
	return saveJSON{
		Filename:      filename,
		SaveID:        info.SaveID.String(),
		Type:          saveType,
		Description:   info.Description,
		MapLabel:      info.MapLabel,
		MissionMap:    info.MissionMapName,
		CampaignSide:  info.CampaignSide,
		MissionNumber: info.MissionNumber,
		Date: fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d.%03d",
			d.Year, d.Month, d.Day, d.Hour, d.Minute, d.Second, d.Milliseconds),
	}
}

// saveCodeStatus maps a save code to the HTTP status reported for it.
func saveCodeStatus(code gamestate.SaveCode) int {
	switch code {
	case gamestate.SCOk:
		return http.StatusOK
	case gamestate.SCFileNotFound:
		return http.StatusNotFound
	case gamestate.SCNoFileAvailable:
		return http.StatusConflict
	case gamestate.SCInvalidXfer, gamestate.SCUnknownBlock, gamestate.SCInvalidData:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// fileParam returns the {file} route parameter, rejecting anything that is
// not a bare file name.
func fileParam(r *http.Request) (string, bool) {
	file := chi.URLParam(r, "file")
	if file == "" || file != filepath.Base(file) || file == "." || file == ".." {
		return "", false
	}
	return file, true
}

func (h *routerHandlers) handleListSaves(w http.ResponseWriter, r *http.Request) {
	games, err := h.saves.AvailableGames()
	if err != nil {
		log.Printf("❌ Listing saves failed: %v", err)
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	result := make([]saveJSON, 0, len(games))
	for _, g := range games {
		result = append(result, toSaveJSON(g.Filename, g.SaveGameInfo))
	}
	writeJSON(w, result)
}

func (h *routerHandlers) handleSave(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filename    string `json:"filename"`
		Description string `json:"description"`
		Type        string `json:"type"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.Filename != "" && req.Filename != filepath.Base(req.Filename) {
		writeError(w, "Invalid filename", http.StatusBadRequest)
		return
	}

	saveType := gamestate.SaveFileNormal
	switch req.Type {
	case "", "normal":
	case "mission":
		saveType = gamestate.SaveFileMission
	default:
		writeError(w, "Unknown save type", http.StatusBadRequest)
		return
	}

	log.Printf("💾 Save requested via API: %q", req.Description)
	filename, code := h.saves.SaveGame(req.Filename, req.Description, saveType, gamestate.SnapshotSaveLoad)
	if code != gamestate.SCOk {
		writeError(w, code.String(), saveCodeStatus(code))
		return
	}

	info, code := h.saves.SaveGameInfoFromFile(filename)
	if code != gamestate.SCOk {
		writeError(w, code.String(), saveCodeStatus(code))
		return
	}
	if h.onSaveWritten != nil {
		h.onSaveWritten(filename, info)
	}
	writeJSON(w, toSaveJSON(filename, info))
}

func (h *routerHandlers) handleGetSave(w http.ResponseWriter, r *http.Request) {
	file, ok := fileParam(r)
	if !ok {
		writeError(w, "Invalid filename", http.StatusBadRequest)
		return
	}

	info, code := h.saves.SaveGameInfoFromFile(file)
	if code != gamestate.SCOk {
		writeError(w, code.String(), saveCodeStatus(code))
		return
	}
	writeJSON(w, toSaveJSON(file, info))
}

func (h *routerHandlers) handleDeleteSave(w http.ResponseWriter, r *http.Request) {
	file, ok := fileParam(r)
	if !ok {
		writeError(w, "Invalid filename", http.StatusBadRequest)
		return
	}

	if _, code := h.saves.SaveGameInfoFromFile(file); code == gamestate.SCFileNotFound {
		writeError(w, code.String(), http.StatusNotFound)
		return
	}
	if err := h.saves.DeleteSaveGame(file); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

func (h *routerHandlers) handleLoadSave(w http.ResponseWriter, r *http.Request) {
	file, ok := fileParam(r)
	if !ok {
		writeError(w, "Invalid filename", http.StatusBadRequest)
		return
	}

	info, code := h.saves.SaveGameInfoFromFile(file)
	if code != gamestate.SCOk {
		writeError(w, code.String(), saveCodeStatus(code))
		return
	}

	log.Printf("💾 Load requested via API: %s", file)
	if code := h.saves.LoadGame(gamestate.AvailableGameInfo{Filename: file, SaveGameInfo: info}); code != gamestate.SCOk {
		writeError(w, code.String(), saveCodeStatus(code))
		return
	}
	writeJSON(w, map[string]interface{}{
		"success": true,
		"save":    toSaveJSON(file, info),
	})
}

func (h *routerHandlers) handleSession(w http.ResponseWriter, r *http.Request) {
	if h.session == nil {
		writeError(w, "No session running", http.StatusServiceUnavailable)
		return
	}

	result := map[string]interface{}{
		"session": h.session.Stats(),
	}
	if h.journal != nil {
		result["journal"] = h.journal.Stats()
	}
	if h.chat != nil {
		result["chat"] = h.chat.Recent(10)
	}
	writeJSON(w, result)
}

func (h *routerHandlers) handleChat(w http.ResponseWriter, r *http.Request) {
	if h.chat == nil {
		writeJSON(w, []interface{}{})
		return
	}

	n := 50
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeError(w, "Invalid n", http.StatusBadRequest)
			return
		}
		n = parsed
	}
	writeJSON(w, h.chat.Recent(n))
}

func (h *routerHandlers) handleCRC(w http.ResponseWriter, r *http.Request) {
	which, ok := parseSnapshotType(chi.URLParam(r, "snapshot"))
	if !ok {
		writeError(w, "Unknown snapshot list", http.StatusBadRequest)
		return
	}

	crc, err := h.saves.ComputeCRC(which)
	if err != nil {
		log.Printf("❌ CRC over %s failed: %v", which, err)
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{
		"snapshot": which.String(),
		"crc":      fmt.Sprintf("%08X", crc),
	})
}

func parseSnapshotType(name string) (gamestate.SnapshotType, bool) {
	for t := gamestate.SnapshotSaveLoad; t.Valid(); t++ {
		if t.String() == name {
			return t, true
		}
	}
	return 0, false
}

// Helper functions (package-level for reuse)

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
