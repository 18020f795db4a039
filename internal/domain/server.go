package domain

import (
	"strings"
	"time"
)

// Engine identifies the RCON wire dialect a game server speaks.
type Engine string

const (
	EngineGoldSrc    Engine = "goldsrc"
	EngineSource     Engine = "source"
	EngineSource2009 Engine = "source2009"
)

// ConnectMode selects how the daemon reaches the server for RCON.
type ConnectMode string

const (
	ConnectDirect        ConnectMode = "direct"
	ConnectContainerHost ConnectMode = "container-host"
)

// Server is a registered game server. Identity is the (address, port) pair.
type Server struct {
	ID          int64
	Address     string
	Port        int
	Game        string
	Engine      Engine
	ConnectMode ConnectMode

	// RconPassword holds the AES-GCM ciphertext envelope, never cleartext.
	RconPassword string

	// TokenHash is SHA-256 of the full beacon token; TokenPrefix keeps the
	// first 13 characters in cleartext for admin display.
	TokenHash   string
	TokenPrefix string

	Name       string
	ActiveMap  string
	MapRounds  int
	MapCTWins  int
	MapTWins   int
	Players    int
	MaxPlayers int

	City      string
	Country   string
	Latitude  float64
	Longitude float64

	LastEvent time.Time
	CreatedAt time.Time
}

// Per-server config keys consulted by the pipeline.
const (
	ConfigIgnoreBots          = "IgnoreBots"
	ConfigSkillMaxChange      = "SkillMaxChange"
	ConfigMinPlayers          = "MinPlayers"
	ConfigMinActivity         = "MinActivity"
	ConfigEnableMapStats      = "EnableMapStats"
	ConfigSuicidePenalty      = "SuicidePenalty"
	ConfigTeamkillPenalty     = "TeamkillPenalty"
	ConfigTeamkillVictimBonus = "TeamkillVictimBonus"
)

// Teams recognised for team-win bookkeeping.
const (
	TeamCT        = "CT"
	TeamTerrorist = "TERRORIST"
)

// ParseBool interprets the tri-state truthy/falsy config strings. Anything
// unrecognised falls back to def.
func ParseBool(s string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
