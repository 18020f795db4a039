package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jstnmthw/hlstatsnext-sub008/internal/domain"
)

// Event persistence. Each Record method writes the event-log row and every
// counter update it implies in one transaction, so no failure leaves a
// half-applied event. The event-log row goes in first with OR IGNORE: its
// unique event id makes replays no-ops, counters and all. Meta player refs
// must have PlayerID resolved before these are called.

// insertEventTx inserts an event-log row, ignoring duplicates. It reports
// whether the row was new; a replayed event id returns false so the caller
// skips the counter updates already applied by the first delivery.
func insertEventTx(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) (bool, error) {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// applySkillTx adds delta to a player's rating inside tx, clamping at zero.
func applySkillTx(ctx context.Context, tx *sql.Tx, playerID, delta int64, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE players SET skill = MAX(0, skill + ?), last_skill_change = ?
		WHERE id = ?
	`, delta, formatTimestamp(at), playerID)
	return err
}

// addHistoryTx folds the increments into the player's daily row inside tx,
// snapshotting the rating as it stands after this event's updates.
func addHistoryTx(ctx context.Context, tx *sql.Tx, playerID int64, at time.Time, kills, deaths, suicides int64) error {
	var rating int64
	if err := tx.QueryRowContext(ctx,
		"SELECT skill FROM players WHERE id = ?", playerID).Scan(&rating); err != nil {
		return fmt.Errorf("reading skill for history: %w", err)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO players_history (player_id, day, kills, deaths, suicides, skill)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(player_id, day) DO UPDATE SET
			kills = players_history.kills + excluded.kills,
			deaths = players_history.deaths + excluded.deaths,
			suicides = players_history.suicides + excluded.suicides,
			skill = excluded.skill
	`, playerID, at.UTC().Format("2006-01-02"), kills, deaths, suicides, rating)
	if err != nil {
		return fmt.Errorf("updating history: %w", err)
	}
	return nil
}

// RecordKill applies both rating deltas, bumps killer/victim/weapon counters
// and appends the frag row plus both players' daily history rows.
func (s *Store) RecordKill(ctx context.Context, ev domain.Event, killerDelta, victimDelta int64) error {
	data, ok := ev.Data.(domain.PlayerKillData)
	if !ok {
		return fmt.Errorf("event %s is not a kill", ev.ID)
	}
	killer, victim := ev.Meta.Killer, ev.Meta.Victim

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	headshot := 0
	if data.Headshot {
		headshot = 1
	}

	fresh, err := insertEventTx(ctx, tx, `
		INSERT OR IGNORE INTO events_frags (event_id, server_id, killer_id, victim_id, weapon, headshot, killer_team, victim_team, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID.String(), ev.ServerID, killer.PlayerID, victim.PlayerID,
		data.Weapon, headshot, killer.Team, victim.Team, formatTimestamp(ev.Timestamp))
	if err != nil {
		return fmt.Errorf("recording frag: %w", err)
	}
	if !fresh {
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE players SET kills = kills + 1, headshots = headshots + ?,
			skill = MAX(0, skill + ?), last_event = ?, last_skill_change = ?
		WHERE id = ?
	`, headshot, killerDelta, formatTimestamp(ev.Timestamp), formatTimestamp(ev.Timestamp), killer.PlayerID); err != nil {
		return fmt.Errorf("updating killer: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE players SET deaths = deaths + 1,
			skill = MAX(0, skill + ?), last_event = ?, last_skill_change = ?
		WHERE id = ?
	`, victimDelta, formatTimestamp(ev.Timestamp), formatTimestamp(ev.Timestamp), victim.PlayerID); err != nil {
		return fmt.Errorf("updating victim: %w", err)
	}

	server, err := s.serverGameTx(ctx, tx, ev.ServerID)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO weapons (game, code, kills, headshots) VALUES (?, ?, 1, ?)
		ON CONFLICT(game, code) DO UPDATE SET
			kills = weapons.kills + 1,
			headshots = weapons.headshots + excluded.headshots
	`, server, data.Weapon, headshot); err != nil {
		return fmt.Errorf("updating weapon stats: %w", err)
	}

	if err := addHistoryTx(ctx, tx, killer.PlayerID, ev.Timestamp, 1, 0, 0); err != nil {
		return err
	}
	if err := addHistoryTx(ctx, tx, victim.PlayerID, ev.Timestamp, 0, 1, 0); err != nil {
		return err
	}

	return tx.Commit()
}

// RecordSuicide applies the penalty and appends the suicide row plus the
// player's daily history row.
func (s *Store) RecordSuicide(ctx context.Context, ev domain.Event, delta int64) error {
	data, _ := ev.Data.(domain.PlayerSuicideData)
	player := ev.Meta.Player

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	fresh, err := insertEventTx(ctx, tx, `
		INSERT OR IGNORE INTO events_suicides (event_id, server_id, player_id, weapon, at)
		VALUES (?, ?, ?, ?, ?)
	`, ev.ID.String(), ev.ServerID, player.PlayerID, data.Weapon, formatTimestamp(ev.Timestamp))
	if err != nil {
		return fmt.Errorf("recording suicide: %w", err)
	}
	if !fresh {
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE players SET suicides = suicides + 1, deaths = deaths + 1,
			skill = MAX(0, skill + ?), last_event = ?, last_skill_change = ?
		WHERE id = ?
	`, delta, formatTimestamp(ev.Timestamp), formatTimestamp(ev.Timestamp), player.PlayerID); err != nil {
		return fmt.Errorf("updating player: %w", err)
	}

	if err := addHistoryTx(ctx, tx, player.PlayerID, ev.Timestamp, 0, 1, 1); err != nil {
		return err
	}

	return tx.Commit()
}

// RecordTeamkill applies penalty and victim bonus and appends the row.
func (s *Store) RecordTeamkill(ctx context.Context, ev domain.Event, killerDelta, victimDelta int64) error {
	data, _ := ev.Data.(domain.PlayerTeamkillData)
	killer, victim := ev.Meta.Killer, ev.Meta.Victim

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	fresh, err := insertEventTx(ctx, tx, `
		INSERT OR IGNORE INTO events_teamkills (event_id, server_id, killer_id, victim_id, weapon, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.ID.String(), ev.ServerID, killer.PlayerID, victim.PlayerID, data.Weapon, formatTimestamp(ev.Timestamp))
	if err != nil {
		return fmt.Errorf("recording teamkill: %w", err)
	}
	if !fresh {
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE players SET teamkills = teamkills + 1,
			skill = MAX(0, skill + ?), last_event = ?, last_skill_change = ?
		WHERE id = ?
	`, killerDelta, formatTimestamp(ev.Timestamp), formatTimestamp(ev.Timestamp), killer.PlayerID); err != nil {
		return fmt.Errorf("updating killer: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE players SET deaths = deaths + 1,
			skill = MAX(0, skill + ?), last_event = ?, last_skill_change = ?
		WHERE id = ?
	`, victimDelta, formatTimestamp(ev.Timestamp), formatTimestamp(ev.Timestamp), victim.PlayerID); err != nil {
		return fmt.Errorf("updating victim: %w", err)
	}

	return tx.Commit()
}

// RecordConnect appends a connect row and bumps the server player count.
func (s *Store) RecordConnect(ctx context.Context, ev domain.Event) error {
	data, _ := ev.Data.(domain.PlayerConnectData)
	player := ev.Meta.Player

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	fresh, err := insertEventTx(ctx, tx, `
		INSERT OR IGNORE INTO events_connects (event_id, server_id, player_id, address, at)
		VALUES (?, ?, ?, ?, ?)
	`, ev.ID.String(), ev.ServerID, player.PlayerID, data.Address, formatTimestamp(ev.Timestamp))
	if err != nil {
		return fmt.Errorf("recording connect: %w", err)
	}
	if !fresh {
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE servers SET players = players + 1, last_event = ? WHERE id = ?",
		formatTimestamp(ev.Timestamp), ev.ServerID); err != nil {
		return fmt.Errorf("updating server: %w", err)
	}

	return tx.Commit()
}

// RecordDisconnect appends a disconnect row and drops the player count.
func (s *Store) RecordDisconnect(ctx context.Context, ev domain.Event) error {
	data, _ := ev.Data.(domain.PlayerDisconnectData)
	player := ev.Meta.Player

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	fresh, err := insertEventTx(ctx, tx, `
		INSERT OR IGNORE INTO events_disconnects (event_id, server_id, player_id, reason, at)
		VALUES (?, ?, ?, ?, ?)
	`, ev.ID.String(), ev.ServerID, player.PlayerID, data.Reason, formatTimestamp(ev.Timestamp))
	if err != nil {
		return fmt.Errorf("recording disconnect: %w", err)
	}
	if !fresh {
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE servers SET players = MAX(0, players - 1), last_event = ? WHERE id = ?",
		formatTimestamp(ev.Timestamp), ev.ServerID); err != nil {
		return fmt.Errorf("updating server: %w", err)
	}

	return tx.Commit()
}

// RecordChat appends a chat row.
func (s *Store) RecordChat(ctx context.Context, ev domain.Event) error {
	data, _ := ev.Data.(domain.ChatMessageData)
	player := ev.Meta.Player

	dead := 0
	if data.IsDead {
		dead = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO events_chat (event_id, server_id, player_id, message, team, is_dead, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.ID.String(), ev.ServerID, player.PlayerID, data.Message, data.Team, dead, formatTimestamp(ev.Timestamp))
	return err
}

// RecordPlayerAction applies the action reward and appends the row.
func (s *Store) RecordPlayerAction(ctx context.Context, ev domain.Event, reward int) error {
	data, _ := ev.Data.(domain.PlayerActionData)
	player := ev.Meta.Player

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	fresh, err := insertEventTx(ctx, tx, `
		INSERT OR IGNORE INTO events_player_actions (event_id, server_id, player_id, code, reward, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.ID.String(), ev.ServerID, player.PlayerID, data.Code, reward, formatTimestamp(ev.Timestamp))
	if err != nil {
		return fmt.Errorf("recording action: %w", err)
	}
	if !fresh {
		return tx.Commit()
	}

	if reward != 0 {
		if err := applySkillTx(ctx, tx, player.PlayerID, int64(reward), ev.Timestamp); err != nil {
			return fmt.Errorf("applying reward: %w", err)
		}
	}

	return tx.Commit()
}

// RecordPlayerPlayerAction applies the actor reward and appends the row.
func (s *Store) RecordPlayerPlayerAction(ctx context.Context, ev domain.Event, reward int) error {
	data, _ := ev.Data.(domain.PlayerPlayerActionData)
	actor, target := ev.Meta.Killer, ev.Meta.Victim

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	fresh, err := insertEventTx(ctx, tx, `
		INSERT OR IGNORE INTO events_player_player_actions (event_id, server_id, actor_id, target_id, code, reward, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.ID.String(), ev.ServerID, actor.PlayerID, target.PlayerID, data.Code, reward, formatTimestamp(ev.Timestamp))
	if err != nil {
		return fmt.Errorf("recording action: %w", err)
	}
	if !fresh {
		return tx.Commit()
	}

	if reward != 0 {
		if err := applySkillTx(ctx, tx, actor.PlayerID, int64(reward), ev.Timestamp); err != nil {
			return fmt.Errorf("applying reward: %w", err)
		}
	}

	return tx.Commit()
}

// RecordTeamAction appends the team action row and applies the team reward to
// every member in one transaction.
func (s *Store) RecordTeamAction(ctx context.Context, ev domain.Event, reward int, memberIDs []int64) error {
	data, _ := ev.Data.(domain.TeamActionData)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	fresh, err := insertEventTx(ctx, tx, `
		INSERT OR IGNORE INTO events_team_actions (event_id, server_id, team, code, reward, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.ID.String(), ev.ServerID, data.Team, data.Code, reward, formatTimestamp(ev.Timestamp))
	if err != nil {
		return fmt.Errorf("recording team action: %w", err)
	}
	if !fresh {
		return tx.Commit()
	}

	if reward != 0 {
		for _, id := range memberIDs {
			if err := applySkillTx(ctx, tx, id, int64(reward), ev.Timestamp); err != nil {
				return fmt.Errorf("applying team reward to player %d: %w", id, err)
			}
		}
	}

	return tx.Commit()
}

// RecordWorldAction appends the world action row.
func (s *Store) RecordWorldAction(ctx context.Context, ev domain.Event) error {
	data, _ := ev.Data.(domain.WorldActionData)
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO events_world_actions (event_id, server_id, code, at)
		VALUES (?, ?, ?, ?)
	`, ev.ID.String(), ev.ServerID, data.Code, formatTimestamp(ev.Timestamp))
	return err
}

// --- Map and round bookkeeping ---

// IncrementServerRounds bumps the per-map round counter.
func (s *Store) IncrementServerRounds(ctx context.Context, serverID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE servers SET map_rounds = map_rounds + 1 WHERE id = ?", serverID)
	return err
}

// IncrementTeamWins bumps the CT or TERRORIST win counter for the active map.
func (s *Store) IncrementTeamWins(ctx context.Context, serverID int64, team string) error {
	var column string
	switch team {
	case domain.TeamCT:
		column = "map_ct_wins"
	case domain.TeamTerrorist:
		column = "map_t_wins"
	default:
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE servers SET "+column+" = "+column+" + 1 WHERE id = ?", serverID)
	return err
}

// ApplyMapChange records the new map and resets per-map counters, returning
// the previously active map.
func (s *Store) ApplyMapChange(ctx context.Context, serverID int64, newMap string, at time.Time) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var previous string
	if err := tx.QueryRowContext(ctx,
		"SELECT active_map FROM servers WHERE id = ?", serverID).Scan(&previous); err != nil {
		return "", err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE servers SET active_map = ?, map_rounds = 0, map_ct_wins = 0, map_t_wins = 0, last_event = ?
		WHERE id = ?
	`, newMap, formatTimestamp(at), serverID); err != nil {
		return "", err
	}

	return previous, tx.Commit()
}

// UpdateServerStatus stores the latest scrape results on the server row.
func (s *Store) UpdateServerStatus(ctx context.Context, serverID int64, status domain.ServerStatusData, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE servers SET name = CASE WHEN ? != '' THEN ? ELSE name END,
			players = ?, max_players = ?, last_event = ?
		WHERE id = ?
	`, status.Hostname, status.Hostname, status.PlayerCount, status.MaxPlayers,
		formatTimestamp(at), serverID)
	return err
}

// serverGameTx reads the game code for a server inside tx.
func (s *Store) serverGameTx(ctx context.Context, tx *sql.Tx, serverID int64) (string, error) {
	var game string
	if err := tx.QueryRowContext(ctx,
		"SELECT game FROM servers WHERE id = ?", serverID).Scan(&game); err != nil {
		return "", fmt.Errorf("resolving server game: %w", err)
	}
	return game, nil
}
