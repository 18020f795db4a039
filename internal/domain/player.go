package domain

import "time"

// BotSteamID is the literal token game servers put in the steam slot for
// server-controlled players.
const BotSteamID = "BOT"

// DefaultSkill is the rating every player starts at.
const DefaultSkill = 1000

// Player is keyed by (game, unique_id). Skill is stored unsigned and clamped
// at zero; Name tracks the most recently observed value.
type Player struct {
	ID       int64
	Game     string
	UniqueID string
	Name     string
	IsBot    bool

	Skill     int64
	Kills     int64
	Deaths    int64
	Headshots int64
	Suicides  int64
	Teamkills int64

	City      string
	Country   string
	Latitude  float64
	Longitude float64

	LastEvent       time.Time
	LastSkillChange time.Time
	CreatedAt       time.Time
}

// PlayerHistory is one per-day aggregate row per player. A second write for
// the same (player, day) adds to the existing row.
type PlayerHistory struct {
	PlayerID int64
	Day      string // YYYY-MM-DD
	Kills    int64
	Deaths   int64
	Suicides int64
	Skill    int64
}
