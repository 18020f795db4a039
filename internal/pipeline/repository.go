package pipeline

import (
	"context"
	"time"

	"github.com/jstnmthw/hlstatsnext-sub008/internal/domain"
)

// Repository is the persistence surface the pipeline depends on. The sqlite
// store implements it; tests substitute a fake.
type Repository interface {
	// GetServer returns the server row for id.
	GetServer(ctx context.Context, id int64) (*domain.Server, error)

	// GetServerConfig returns all per-server config keys for id.
	GetServerConfig(ctx context.Context, serverID int64) (map[string]string, error)

	// ResolvePlayer finds or creates the player for ref's unique id within
	// game, updating the stored name and last-seen timestamp.
	ResolvePlayer(ctx context.Context, game string, ref *domain.PlayerRef, seen time.Time) (*domain.Player, error)

	// GetPlayer returns the player row for id.
	GetPlayer(ctx context.Context, id int64) (*domain.Player, error)

	// GetPlayerRank returns the 1-based skill rank of the player within its
	// game, counting humans only.
	GetPlayerRank(ctx context.Context, game string, playerID int64) (int, error)

	// FindWeapon returns the weapon row for (game, code), or nil when the
	// weapon is unknown.
	FindWeapon(ctx context.Context, game, code string) (*domain.Weapon, error)

	// FindAction returns the action row for (game, code), preferring a
	// team-specific row over the team-blank one. Nil when undefined.
	FindAction(ctx context.Context, game, code, team string) (*domain.Action, error)

	// RecordKill applies both skill deltas, bumps kill/death/headshot and
	// weapon counters, appends the frag row and both players' daily history
	// rows, all in one transaction. Replays of an already-recorded event id
	// are ignored.
	RecordKill(ctx context.Context, ev domain.Event, killerDelta, victimDelta int64) error

	// RecordSuicide applies the penalty and appends the suicide row plus the
	// player's daily history row, in one transaction.
	RecordSuicide(ctx context.Context, ev domain.Event, delta int64) error

	// RecordTeamkill applies penalty and victim bonus and appends the row.
	RecordTeamkill(ctx context.Context, ev domain.Event, killerDelta, victimDelta int64) error

	// RecordConnect appends a connect row and bumps the server player count.
	RecordConnect(ctx context.Context, ev domain.Event) error

	// RecordDisconnect appends a disconnect row.
	RecordDisconnect(ctx context.Context, ev domain.Event) error

	// RecordChat appends a chat row.
	RecordChat(ctx context.Context, ev domain.Event) error

	// RecordPlayerAction applies the action reward and appends the row.
	RecordPlayerAction(ctx context.Context, ev domain.Event, reward int) error

	// RecordPlayerPlayerAction applies the actor reward and appends the row.
	RecordPlayerPlayerAction(ctx context.Context, ev domain.Event, reward int) error

	// RecordTeamAction appends the team action row and applies the team
	// reward to every listed member in one transaction.
	RecordTeamAction(ctx context.Context, ev domain.Event, reward int, memberIDs []int64) error

	// RecordWorldAction appends the world action row.
	RecordWorldAction(ctx context.Context, ev domain.Event) error

	// UpdatePlayerName records a rename.
	UpdatePlayerName(ctx context.Context, playerID int64, name string, seen time.Time) error

	// IncrementServerRounds bumps the per-map round counter.
	IncrementServerRounds(ctx context.Context, serverID int64) error

	// IncrementTeamWins bumps the CT or TERRORIST win counter.
	IncrementTeamWins(ctx context.Context, serverID int64, team string) error

	// ApplyMapChange resets per-map stats and records the new map. It returns
	// the map that was active before.
	ApplyMapChange(ctx context.Context, serverID int64, newMap string, at time.Time) (string, error)

	// UpdateServerStatus stores the latest scrape results on the server row.
	UpdateServerStatus(ctx context.Context, serverID int64, status domain.ServerStatusData, at time.Time) error
}
