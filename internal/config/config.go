// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for network, save and server settings.
//
// IMPORTANT: When changing values, only modify this file.
// All other parts of the codebase should reference these values.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// LOCKSTEP NETWORK CONFIGURATION
// =============================================================================

// NetConfig holds the lockstep scheduling and packet limits.
// Every peer in a game must agree on these values.
type NetConfig struct {
	MaxFramesAhead       int           // Upper bound on run-ahead is half of this
	MinRunAhead          int           // Lower bound on computed run-ahead
	DefaultRunAhead      int           // Run-ahead requested before any metrics arrive
	MaxPacketSize        int           // Largest datagram we will send, in bytes
	FrameRate            int           // Logic frames per second
	MinFrameRate         int           // Floor for negotiated frame rate
	FrameRateLimit       int           // Ceiling for negotiated frame rate
	RunAheadSlackPercent int           // Extra run-ahead on top of measured latency
	MaxSlots             int           // Player slots in a game
	LocalSlot            int           // Our slot
	MetricsInterval      time.Duration // How often run-ahead metrics are sent
	KeepAliveInterval    time.Duration // Idle time before a keepalive goes out
	ResendTimeout        time.Duration // Unacked commands are resent after this
}

// DefaultNet returns the default lockstep configuration.
func DefaultNet() NetConfig {
	return NetConfig{
		MaxFramesAhead:       128,
		MinRunAhead:          10,
		DefaultRunAhead:      20,
		MaxPacketSize:        476, // fits a 576-byte IPv4 datagram with room for headers
		FrameRate:            30,
		MinFrameRate:         5,
		FrameRateLimit:       30,
		RunAheadSlackPercent: 10,
		MaxSlots:             8,
		LocalSlot:            0,
		MetricsInterval:      2 * time.Second,
		KeepAliveInterval:    500 * time.Millisecond,
		ResendTimeout:        300 * time.Millisecond,
	}
}

// NetFromEnv returns lockstep configuration with environment variable overrides.
func NetFromEnv() NetConfig {
	cfg := DefaultNet()

	if v := getEnvInt("NET_MAX_FRAMES_AHEAD", 0); v > 0 {
		cfg.MaxFramesAhead = v
	}
	if v := getEnvInt("NET_MIN_RUNAHEAD", 0); v > 0 {
		cfg.MinRunAhead = v
	}
	if v := getEnvInt("NET_MAX_PACKET_SIZE", 0); v > 0 {
		cfg.MaxPacketSize = v
	}
	if v := getEnvInt("NET_FRAME_RATE", 0); v > 0 {
		cfg.FrameRate = v
		cfg.FrameRateLimit = v
	}
	if v := getEnvInt("NET_LOCAL_SLOT", -1); v >= 0 {
		cfg.LocalSlot = v
	}
	if v := getEnvDuration("NET_RESEND_TIMEOUT", 0); v > 0 {
		cfg.ResendTimeout = v
	}

	return cfg
}

// RunAheadBounds returns the inclusive range a run-ahead command may carry.
func (c NetConfig) RunAheadBounds() (lo, hi int) {
	lo = max(20, c.MinRunAhead)
	hi = c.MaxFramesAhead / 2
	if lo > hi {
		lo = hi
	}
	return lo, hi
}

// =============================================================================
// SAVE GAME CONFIGURATION
// =============================================================================

// SaveConfig holds save directory and map path settings.
type SaveConfig struct {
	SaveDir    string // Where numbered save files live
	MapDir     string // Shipped maps
	UserMapDir string // Maps downloaded or made by the user
	Extension  string // Save file extension, including the dot
	Compress   bool   // Write lz4-compressed save files
}

// DefaultSave returns the default save configuration.
func DefaultSave() SaveConfig {
	return SaveConfig{
		SaveDir:    "data/save",
		MapDir:     "data/maps",
		UserMapDir: "data/userdata/maps",
		Extension:  ".sav",
		Compress:   false,
	}
}

// SaveFromEnv returns save configuration with environment variable overrides.
func SaveFromEnv() SaveConfig {
	cfg := DefaultSave()

	cfg.SaveDir = getEnvString("SAVE_DIR", cfg.SaveDir)
	cfg.MapDir = getEnvString("MAP_DIR", cfg.MapDir)
	cfg.UserMapDir = getEnvString("USER_MAP_DIR", cfg.UserMapDir)
	cfg.Compress = getEnvBool("SAVE_COMPRESS", cfg.Compress)

	return cfg
}

// =============================================================================
// TRANSPORT CONFIGURATION
// =============================================================================

// TransportConfig selects how packets reach the other peers.
type TransportConfig struct {
	Kind       string           // "udp", "stream" or "inproc"
	ListenAddr string           // e.g. "udp://:8088"
	Peers      map[uint8]string // Remote slot -> address, from PEERS="1=10.0.0.2:8088,2=..."
	Multicore  bool             // Let gnet spread event loops across cores
}

// DefaultTransport returns the default transport configuration.
func DefaultTransport() TransportConfig {
	return TransportConfig{
		Kind:       "udp",
		ListenAddr: "udp://:8088",
		Multicore:  true,
	}
}

// TransportFromEnv returns transport configuration with environment variable overrides.
func TransportFromEnv() TransportConfig {
	cfg := DefaultTransport()

	cfg.Kind = getEnvString("TRANSPORT", cfg.Kind)
	cfg.ListenAddr = getEnvString("LISTEN_ADDR", cfg.ListenAddr)
	if peers := os.Getenv("PEERS"); peers != "" {
		cfg.Peers = parsePeers(peers)
	}
	cfg.Multicore = getEnvBool("MULTICORE", cfg.Multicore)

	return cfg
}

// =============================================================================
// CHAT CONFIGURATION
// =============================================================================

// ChatConfig limits in-game chat traffic per player.
type ChatConfig struct {
	MessagesPerSecond float64 // Sustained rate per player
	Burst             int     // Messages allowed back to back
	HistorySize       int     // Lines kept for the admin API
}

// DefaultChat returns the default chat configuration.
func DefaultChat() ChatConfig {
	return ChatConfig{
		MessagesPerSecond: 1,
		Burst:             5,
		HistorySize:       100,
	}
}

// ChatFromEnv returns chat configuration with environment variable overrides.
func ChatFromEnv() ChatConfig {
	cfg := DefaultChat()

	if v := getEnvFloat("CHAT_RATE", 0); v > 0 {
		cfg.MessagesPerSecond = v
	}
	if v := getEnvInt("CHAT_BURST", 0); v > 0 {
		cfg.Burst = v
	}
	if v := getEnvInt("CHAT_HISTORY", 0); v > 0 {
		cfg.HistorySize = v
	}

	return cfg
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int
	JournalPath    string // Command journal (JSONL); empty disables it
	BroadcastEvery time.Duration
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:           3000,
		JournalPath:    "commands.jsonl",
		BroadcastEvery: 500 * time.Millisecond,
	}
}

// ServerFromEnv returns server configuration with environment variable overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	cfg.JournalPath = getEnvString("JOURNAL_PATH", cfg.JournalPath)
	cfg.BroadcastEvery = getEnvDuration("BROADCAST_EVERY", cfg.BroadcastEvery)

	return cfg
}

// =============================================================================
// DEBUG SERVER CONFIGURATION
// =============================================================================

// DebugConfig holds the pprof and metrics server settings.
type DebugConfig struct {
	Enabled       bool
	ListenAddr    string // Forced to localhost unless AllowExternal
	AllowExternal bool
	BasicAuthUser string // Optional basic auth
	BasicAuthPass string
}

// DefaultDebug returns the default debug server configuration.
func DefaultDebug() DebugConfig {
	return DebugConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060",
	}
}

// DebugFromEnv returns debug server configuration with environment variable overrides.
func DebugFromEnv() DebugConfig {
	cfg := DefaultDebug()

	cfg.Enabled = !getEnvBool("DISABLE_DEBUG_SERVER", false)
	cfg.ListenAddr = getEnvString("DEBUG_ADDR", cfg.ListenAddr)
	cfg.AllowExternal = getEnvBool("ALLOW_DEBUG_EXTERNAL", false)
	cfg.BasicAuthUser = os.Getenv("DEBUG_USER")
	cfg.BasicAuthPass = os.Getenv("DEBUG_PASS")

	return cfg
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Net       NetConfig
	Save      SaveConfig
	Transport TransportConfig
	Chat      ChatConfig
	Server    ServerConfig
	Debug     DebugConfig
}

// Load returns the complete configuration with environment overrides.
func Load() AppConfig {
	return AppConfig{
		Net:       NetFromEnv(),
		Save:      SaveFromEnv(),
		Transport: TransportFromEnv(),
		Chat:      ChatFromEnv(),
		Server:    ServerFromEnv(),
		Debug:     DebugFromEnv(),
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// parsePeers reads "slot=addr" pairs separated by commas. Malformed
// entries are skipped.
func parsePeers(list string) map[uint8]string {
	peers := make(map[uint8]string)
	for _, entry := range strings.Split(list, ",") {
		slot, addr, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSpace(slot), 10, 8)
		addr = strings.TrimSpace(addr)
		if err != nil || addr == "" {
			continue
		}
		peers[uint8(n)] = addr
	}
	return peers
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
