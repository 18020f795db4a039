package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the parser and the status scraper
const (
	EventPlayerConnect      = "player_connect"
	EventPlayerDisconnect   = "player_disconnect"
	EventPlayerEntry        = "player_entry"
	EventPlayerKill         = "player_kill"
	EventPlayerSuicide      = "player_suicide"
	EventPlayerTeamkill     = "player_teamkill"
	EventPlayerChangeTeam   = "player_change_team"
	EventPlayerChangeName   = "player_change_name"
	EventPlayerAction       = "player_action"
	EventPlayerPlayerAction = "player_player_action"
	EventTeamAction         = "team_action"
	EventWorldAction        = "world_action"
	EventChatMessage        = "chat_message"
	EventRoundStart         = "round_start"
	EventRoundEnd           = "round_end"
	EventMapChange          = "map_change"
	EventServerStatus       = "server_status"
)

// PlayerRef is a player identity as it appears in a log line:
// "<name><uid><steam><team>". A literal BOT in the steam slot marks a bot.
type PlayerRef struct {
	Name    string
	SlotID  int
	SteamID string
	Team    string
	IsBot   bool

	// PlayerID is filled in by the pipeline's identity-resolution step.
	PlayerID int64
}

// EventMeta carries the identities extracted from the line. Which fields are
// set depends on the event type: kills and teamkills fill Killer and Victim,
// everything else player-scoped fills Player.
type EventMeta struct {
	Player *PlayerRef
	Killer *PlayerRef
	Victim *PlayerRef
}

// Event is the envelope every pipeline stage sees. ID is generated at parse
// time; CorrelationID carries the same value downstream so side effects can
// be traced back to the line that caused them.
type Event struct {
	ID            uuid.UUID
	CorrelationID uuid.UUID
	ServerID      int64
	Timestamp     time.Time
	Type          string
	Data          interface{}
	Meta          EventMeta
}

// NewEvent builds an envelope with a fresh UUID.
func NewEvent(serverID int64, ts time.Time, eventType string, data interface{}) Event {
	id := uuid.New()
	return Event{
		ID:            id,
		CorrelationID: id,
		ServerID:      serverID,
		Timestamp:     ts,
		Type:          eventType,
		Data:          data,
	}
}

// Event payload structures

type PlayerConnectData struct {
	Address string
}

type PlayerDisconnectData struct {
	Reason string
}

type PlayerEntryData struct{}

type PlayerKillData struct {
	Weapon   string
	Headshot bool
}

type PlayerSuicideData struct {
	Weapon string
}

type PlayerTeamkillData struct {
	Weapon   string
	Headshot bool
}

type PlayerChangeTeamData struct {
	Team string
}

type PlayerChangeNameData struct {
	NewName string
}

type PlayerActionData struct {
	Code string
}

type PlayerPlayerActionData struct {
	Code string
}

type TeamActionData struct {
	Team string
	Code string
}

type WorldActionData struct {
	Code string
}

type ChatMessageData struct {
	Message string
	Team    string
	IsDead  bool
}

type RoundStartData struct{}

type RoundEndData struct {
	WinningTeam string
}

type MapChangeData struct {
	PreviousMap string
	NewMap      string
	PlayerCount int
}

// ServerStatusData is the parsed output of an RCON `status` command.
type ServerStatusData struct {
	Hostname      string
	Version       string
	Map           string
	FPS           float64
	PlayerCount   int
	MaxPlayers    int
	BotCount      int
	RealPlayers   int
	ActivePlayers int
}
