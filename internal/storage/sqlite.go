// Package storage persists daemon state to SQLite.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/jstnmthw/hlstatsnext-sub008/internal/domain"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// formatTimestamp converts time.Time to a SQLite-friendly UTC ISO8601 string.
// The Z suffix makes the driver parse it back as UTC.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// Store provides database access.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Server methods ---

const serverColumns = `id, address, port, game, engine, connect_mode, rcon_password,
	token_hash, token_prefix, name, active_map, map_rounds, map_ct_wins, map_t_wins,
	players, max_players, city, country, latitude, longitude, last_event, created_at`

func scanServer(row interface{ Scan(...interface{}) error }) (*domain.Server, error) {
	var srv domain.Server
	var engine, mode string
	var lastEvent sql.NullTime
	err := row.Scan(&srv.ID, &srv.Address, &srv.Port, &srv.Game, &engine, &mode,
		&srv.RconPassword, &srv.TokenHash, &srv.TokenPrefix, &srv.Name, &srv.ActiveMap,
		&srv.MapRounds, &srv.MapCTWins, &srv.MapTWins, &srv.Players, &srv.MaxPlayers,
		&srv.City, &srv.Country, &srv.Latitude, &srv.Longitude, &lastEvent, &srv.CreatedAt)
	if err != nil {
		return nil, err
	}
	srv.Engine = domain.Engine(engine)
	srv.ConnectMode = domain.ConnectMode(mode)
	if lastEvent.Valid {
		srv.LastEvent = lastEvent.Time
	}
	return &srv, nil
}

// CreateServer registers a server, updating mutable fields if the
// (address, port) pair already exists. The row ID is filled in either way.
func (s *Store) CreateServer(ctx context.Context, srv *domain.Server) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO servers (address, port, game, engine, connect_mode, name)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(address, port) DO UPDATE SET
			game = excluded.game,
			engine = excluded.engine,
			connect_mode = excluded.connect_mode,
			name = excluded.name
	`, srv.Address, srv.Port, srv.Game, string(srv.Engine), string(srv.ConnectMode), srv.Name)
	if err != nil {
		return err
	}

	// Always query for the ID (LastInsertId unreliable with ON CONFLICT)
	return s.db.QueryRowContext(ctx,
		"SELECT id FROM servers WHERE address = ? AND port = ?",
		srv.Address, srv.Port).Scan(&srv.ID)
}

// GetServer returns a server by ID.
func (s *Store) GetServer(ctx context.Context, id int64) (*domain.Server, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+serverColumns+" FROM servers WHERE id = ?", id)
	return scanServer(row)
}

// GetServerByAddress returns the server registered for (address, port).
func (s *Store) GetServerByAddress(ctx context.Context, address string, port int) (*domain.Server, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+serverColumns+" FROM servers WHERE address = ? AND port = ?", address, port)
	return scanServer(row)
}

// GetServerByTokenHash returns the server owning the beacon token hash.
func (s *Store) GetServerByTokenHash(ctx context.Context, hash string) (*domain.Server, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+serverColumns+" FROM servers WHERE token_hash = ?", hash)
	return scanServer(row)
}

// ListServers returns all servers ordered by ID.
func (s *Store) ListServers(ctx context.Context) ([]domain.Server, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+serverColumns+" FROM servers ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var servers []domain.Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, *srv)
	}
	return servers, rows.Err()
}

// ActiveServers returns servers whose last event falls within the window.
func (s *Store) ActiveServers(ctx context.Context, window time.Duration) ([]domain.Server, error) {
	cutoff := time.Now().UTC().Add(-window)
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+serverColumns+" FROM servers WHERE last_event >= ? ORDER BY id",
		formatTimestamp(cutoff))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var servers []domain.Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, *srv)
	}
	return servers, rows.Err()
}

// UpdateServerRconPassword stores the encrypted password envelope.
func (s *Store) UpdateServerRconPassword(ctx context.Context, serverID int64, ciphertext string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE servers SET rcon_password = ? WHERE id = ?", ciphertext, serverID)
	return err
}

// UpdateServerToken stores a freshly issued beacon token's hash and display
// prefix, replacing any previous token.
func (s *Store) UpdateServerToken(ctx context.Context, serverID int64, hash, prefix string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE servers SET token_hash = ?, token_prefix = ? WHERE id = ?", hash, prefix, serverID)
	return err
}

// TouchServer bumps the server's last-event timestamp.
func (s *Store) TouchServer(ctx context.Context, serverID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE servers SET last_event = ? WHERE id = ?", formatTimestamp(at), serverID)
	return err
}

// DeleteServer removes a server and its config rows.
func (s *Store) DeleteServer(ctx context.Context, serverID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM servers WHERE id = ?", serverID)
	return err
}

// --- Server config methods ---

// GetServerConfig returns every config key for a server.
func (s *Store) GetServerConfig(ctx context.Context, serverID int64) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value FROM server_config WHERE server_id = ?", serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cfg := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		cfg[k] = v
	}
	return cfg, rows.Err()
}

// SetServerConfig writes one config key.
func (s *Store) SetServerConfig(ctx context.Context, serverID int64, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO server_config (server_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT(server_id, key) DO UPDATE SET value = excluded.value
	`, serverID, key, value)
	return err
}

// --- Player methods ---

const playerColumns = `id, game, unique_id, name, is_bot, skill, kills, deaths,
	headshots, suicides, teamkills, city, country, latitude, longitude,
	last_event, last_skill_change, created_at`

func scanPlayer(row interface{ Scan(...interface{}) error }) (*domain.Player, error) {
	var p domain.Player
	var lastEvent, lastSkillChange sql.NullTime
	err := row.Scan(&p.ID, &p.Game, &p.UniqueID, &p.Name, &p.IsBot, &p.Skill,
		&p.Kills, &p.Deaths, &p.Headshots, &p.Suicides, &p.Teamkills,
		&p.City, &p.Country, &p.Latitude, &p.Longitude,
		&lastEvent, &lastSkillChange, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if lastEvent.Valid {
		p.LastEvent = lastEvent.Time
	}
	if lastSkillChange.Valid {
		p.LastSkillChange = lastSkillChange.Time
	}
	return &p, nil
}

// playerUniqueID derives the storage key for a log identity. Bots all carry
// the literal BOT steam id, so they are namespaced by name instead.
func playerUniqueID(ref *domain.PlayerRef) string {
	if ref.IsBot {
		return domain.BotSteamID + ":" + ref.Name
	}
	return ref.SteamID
}

// ResolvePlayer finds or creates the player for ref, updating the stored name
// and last-seen timestamp. The returned row reflects the update.
func (s *Store) ResolvePlayer(ctx context.Context, game string, ref *domain.PlayerRef, seen time.Time) (*domain.Player, error) {
	uniqueID := playerUniqueID(ref)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		"SELECT "+playerColumns+" FROM players WHERE game = ? AND unique_id = ?",
		game, uniqueID)
	p, err := scanPlayer(row)

	switch {
	case err == sql.ErrNoRows:
		result, err := tx.ExecContext(ctx, `
			INSERT INTO players (game, unique_id, name, is_bot, skill, last_event)
			VALUES (?, ?, ?, ?, ?, ?)
		`, game, uniqueID, ref.Name, ref.IsBot, domain.DefaultSkill, formatTimestamp(seen))
		if err != nil {
			return nil, fmt.Errorf("creating player: %w", err)
		}
		id, _ := result.LastInsertId()
		p = &domain.Player{
			ID:        id,
			Game:      game,
			UniqueID:  uniqueID,
			Name:      ref.Name,
			IsBot:     ref.IsBot,
			Skill:     domain.DefaultSkill,
			LastEvent: seen,
		}

	case err != nil:
		return nil, err

	default:
		if _, err := tx.ExecContext(ctx,
			"UPDATE players SET name = ?, last_event = ? WHERE id = ?",
			ref.Name, formatTimestamp(seen), p.ID); err != nil {
			return nil, err
		}
		p.Name = ref.Name
		p.LastEvent = seen
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return p, nil
}

// GetPlayer returns a player by ID.
func (s *Store) GetPlayer(ctx context.Context, id int64) (*domain.Player, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+playerColumns+" FROM players WHERE id = ?", id)
	return scanPlayer(row)
}

// GetPlayerRank returns the 1-based skill rank within the game, humans only.
func (s *Store) GetPlayerRank(ctx context.Context, game string, playerID int64) (int, error) {
	var rank int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) + 1 FROM players
		WHERE game = ? AND is_bot = 0 AND skill > (SELECT skill FROM players WHERE id = ?)
	`, game, playerID).Scan(&rank)
	return rank, err
}

// CountPlayers returns how many human players the game has.
func (s *Store) CountPlayers(ctx context.Context, game string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM players WHERE game = ? AND is_bot = 0", game).Scan(&n)
	return n, err
}

// TopPlayers returns the highest rated human players for a game.
func (s *Store) TopPlayers(ctx context.Context, game string, limit int) ([]domain.Player, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+playerColumns+" FROM players WHERE game = ? AND is_bot = 0 ORDER BY skill DESC, kills DESC LIMIT ?",
		game, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []domain.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, *p)
	}
	return players, rows.Err()
}

// UpdatePlayerName records a rename.
func (s *Store) UpdatePlayerName(ctx context.Context, playerID int64, name string, seen time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE players SET name = ?, last_event = ? WHERE id = ?",
		name, formatTimestamp(seen), playerID)
	return err
}

// GetPlayerHistory returns the most recent daily rows for a player. The rows
// are written by the event recorders, same-day increments folding in place.
func (s *Store) GetPlayerHistory(ctx context.Context, playerID int64, limit int) ([]domain.PlayerHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT player_id, day, kills, deaths, suicides, skill
		FROM players_history WHERE player_id = ? ORDER BY day DESC LIMIT ?
	`, playerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []domain.PlayerHistory
	for rows.Next() {
		var h domain.PlayerHistory
		if err := rows.Scan(&h.PlayerID, &h.Day, &h.Kills, &h.Deaths, &h.Suicides, &h.Skill); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// --- Weapon and action methods ---

// FindWeapon returns the weapon for (game, code), or nil if unknown.
func (s *Store) FindWeapon(ctx context.Context, game, code string) (*domain.Weapon, error) {
	var w domain.Weapon
	err := s.db.QueryRowContext(ctx, `
		SELECT id, game, code, name, modifier, kills, headshots
		FROM weapons WHERE game = ? AND code = ?
	`, game, code).Scan(&w.ID, &w.Game, &w.Code, &w.Name, &w.Modifier, &w.Kills, &w.Headshots)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// FindAction returns the action for (game, code), preferring the
// team-specific row. Nil when the code is not defined.
func (s *Store) FindAction(ctx context.Context, game, code, team string) (*domain.Action, error) {
	var a domain.Action
	err := s.db.QueryRowContext(ctx, `
		SELECT id, game, code, team, description, reward_player, reward_team,
			for_player_actions, for_player_player_actions, for_team_actions, for_world_actions
		FROM actions
		WHERE game = ? AND code = ? AND team IN (?, '')
		ORDER BY team DESC LIMIT 1
	`, game, code, team).Scan(&a.ID, &a.Game, &a.Code, &a.Team, &a.Description,
		&a.RewardPlayer, &a.RewardTeam,
		&a.ForPlayerActions, &a.ForPlayerPlayerActions, &a.ForTeamActions, &a.ForWorldActions)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// UpsertWeapon writes a weapon catalogue entry, keeping counters intact.
func (s *Store) UpsertWeapon(ctx context.Context, w *domain.Weapon) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO weapons (game, code, name, modifier) VALUES (?, ?, ?, ?)
		ON CONFLICT(game, code) DO UPDATE SET
			name = excluded.name,
			modifier = excluded.modifier
	`, w.Game, w.Code, w.Name, w.Modifier)
	return err
}

// UpsertAction writes an action catalogue entry.
func (s *Store) UpsertAction(ctx context.Context, a *domain.Action) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO actions (game, code, team, description, reward_player, reward_team,
			for_player_actions, for_player_player_actions, for_team_actions, for_world_actions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(game, code, team) DO UPDATE SET
			description = excluded.description,
			reward_player = excluded.reward_player,
			reward_team = excluded.reward_team,
			for_player_actions = excluded.for_player_actions,
			for_player_player_actions = excluded.for_player_player_actions,
			for_team_actions = excluded.for_team_actions,
			for_world_actions = excluded.for_world_actions
	`, a.Game, a.Code, a.Team, a.Description, a.RewardPlayer, a.RewardTeam,
		a.ForPlayerActions, a.ForPlayerPlayerActions, a.ForTeamActions, a.ForWorldActions)
	return err
}

// --- User methods ---

// CreateUser registers an admin account.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, password_hash) VALUES (?, ?)", username, passwordHash)
	return err
}

// GetUserPasswordHash returns the stored hash for a username.
func (s *Store) GetUserPasswordHash(ctx context.Context, username string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		"SELECT password_hash FROM users WHERE username = ?", username).Scan(&hash)
	return hash, err
}

// UpdateUserPassword replaces an account's password hash.
func (s *Store) UpdateUserPassword(ctx context.Context, username, passwordHash string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE users SET password_hash = ? WHERE username = ?", passwordHash, username)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteUser removes an account.
func (s *Store) DeleteUser(ctx context.Context, username string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE username = ?", username)
	return err
}

// ListUsers returns all account names.
func (s *Store) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT username FROM users ORDER BY username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
