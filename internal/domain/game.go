package domain

// Weapon is keyed by (game, code). Modifier scales the Elo gain on every
// kill; unknown weapons behave as modifier 1.0.
type Weapon struct {
	ID        int64
	Game      string
	Code      string
	Name      string
	Modifier  float64
	Kills     int64
	Headshots int64
}

// Action is keyed by (game, code, team). A team-specific row is preferred
// over the team-blank row when both exist.
type Action struct {
	ID           int64
	Game         string
	Code         string
	Team         string
	Description  string
	RewardPlayer int
	RewardTeam   int

	ForPlayerActions       bool
	ForPlayerPlayerActions bool
	ForTeamActions         bool
	ForWorldActions        bool
}
