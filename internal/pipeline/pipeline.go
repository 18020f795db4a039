// Package pipeline turns identified log lines into persisted statistics.
package pipeline

import (
	"context"
	"log"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/jstnmthw/hlstatsnext-sub008/internal/domain"
	"github.com/jstnmthw/hlstatsnext-sub008/internal/metrics"
	"github.com/jstnmthw/hlstatsnext-sub008/internal/notify"
	"github.com/jstnmthw/hlstatsnext-sub008/internal/parser"
	"github.com/jstnmthw/hlstatsnext-sub008/internal/skill"
)

const (
	queueSize      = 4096
	maxWorkers     = 8
	configCacheTTL = time.Minute
)

// Announcer pushes in-game messages. The RCON notifier implements it; tests
// substitute a recorder.
type Announcer interface {
	Announce(serverID int64, text string)
}

// Publisher fans processed events to live subscribers. Best effort.
type Publisher interface {
	Publish(ev domain.Event) error
}

// Pipeline parses, enriches, scores and persists events. Events for one
// server always land on the same worker, so per-server ordering holds.
type Pipeline struct {
	repo      Repository
	parser    *parser.HalfLife
	announcer Announcer
	publisher Publisher

	queues []chan domain.Event
	wg     sync.WaitGroup

	mu      sync.Mutex
	rosters map[int64]*roster
	configs map[int64]*serverConfig
}

// roster is the per-server view of who is on which team, keyed by the log
// slot id.
type roster struct {
	players map[int]rosterEntry
}

type rosterEntry struct {
	playerID int64
	name     string
	team     string
	isBot    bool
}

// serverConfig caches the server row and its config keys. raw keeps the full
// key/value map so announcement template overrides resolve per server.
type serverConfig struct {
	game                string
	ignoreBots          bool
	skillMaxChange      int
	minPlayers          int
	suicidePenalty      int
	teamkillPenalty     int
	teamkillVictimBonus int
	activeMap           string
	raw                 map[string]string
	fetched             time.Time
}

// template returns the server's override for an announcement template key,
// falling back to the built-in default.
func (c *serverConfig) template(key string) string {
	return notify.Template(key, c.raw)
}

// New builds a pipeline. announcer and publisher may be nil.
func New(repo Repository, announcer Announcer, publisher Publisher) *Pipeline {
	return &Pipeline{
		repo:      repo,
		parser:    parser.NewHalfLife(),
		announcer: announcer,
		publisher: publisher,
		rosters:   make(map[int64]*roster),
		configs:   make(map[int64]*serverConfig),
	}
}

// Start launches the worker pool.
func (p *Pipeline) Start(ctx context.Context) {
	workers := runtime.NumCPU()
	if workers > maxWorkers {
		workers = maxWorkers
	}
	if workers < 1 {
		workers = 1
	}

	p.queues = make([]chan domain.Event, workers)
	for i := range p.queues {
		p.queues[i] = make(chan domain.Event, queueSize)
		p.wg.Add(1)
		go p.work(ctx, p.queues[i])
	}
	log.Printf("pipeline: %d workers started", workers)
}

// Stop closes the queues and drains the workers.
func (p *Pipeline) Stop() {
	for _, q := range p.queues {
		close(q)
	}
	p.wg.Wait()
}

// Submit parses one log line and enqueues the event. Lines without the log
// prefix are dropped silently.
func (p *Pipeline) Submit(serverID int64, line string, received time.Time) {
	ev, err := p.parser.Parse(line, serverID)
	if err != nil {
		if err == parser.ErrUnsupportedLine {
			metrics.UnparsedLines.Inc()
		}
		return
	}
	metrics.ParsedEvents.WithLabelValues(ev.Type).Inc()
	p.Enqueue(ev)
}

// Enqueue routes an already-built event (e.g. a synthetic status event) to
// its server's worker. A full queue blocks the producer so backpressure
// reaches the socket; no event is ever discarded here, and the time spent
// waiting is observed.
func (p *Pipeline) Enqueue(ev domain.Event) {
	q := p.queues[int(ev.ServerID)%len(p.queues)]
	select {
	case q <- ev:
	default:
		start := time.Now()
		q <- ev
		metrics.QueueWaitSeconds.Observe(time.Since(start).Seconds())
	}
	metrics.QueueDepth.Set(float64(len(q)))
}

func (p *Pipeline) work(ctx context.Context, queue <-chan domain.Event) {
	defer p.wg.Done()
	for ev := range queue {
		if err := p.handle(ctx, ev); err != nil {
			// One retry covers transient lock contention; anything that
			// fails twice is abandoned.
			if err = p.handle(ctx, ev); err != nil {
				metrics.DeadLetters.Inc()
				log.Printf("pipeline: dropping %s event %s: %v", ev.Type, ev.ID, err)
			}
		}
	}
}

func (p *Pipeline) handle(ctx context.Context, ev domain.Event) error {
	cfg, err := p.config(ctx, ev.ServerID)
	if err != nil {
		return err
	}

	if err := p.resolve(ctx, cfg.game, &ev); err != nil {
		return err
	}

	switch ev.Type {
	case domain.EventPlayerConnect:
		err = p.handleConnect(ctx, cfg, ev)
	case domain.EventPlayerDisconnect:
		err = p.handleDisconnect(ctx, cfg, ev)
	case domain.EventPlayerEntry:
		p.updateRoster(ev.ServerID, ev.Meta.Player)
	case domain.EventPlayerChangeTeam:
		p.handleChangeTeam(ev)
	case domain.EventPlayerChangeName:
		err = p.handleChangeName(ctx, ev)
	case domain.EventPlayerKill:
		err = p.handleKill(ctx, cfg, ev)
	case domain.EventPlayerTeamkill:
		err = p.handleTeamkill(ctx, cfg, ev)
	case domain.EventPlayerSuicide:
		err = p.handleSuicide(ctx, cfg, ev)
	case domain.EventChatMessage:
		err = p.repo.RecordChat(ctx, ev)
	case domain.EventPlayerAction:
		err = p.handlePlayerAction(ctx, cfg, ev)
	case domain.EventPlayerPlayerAction:
		err = p.handlePlayerPlayerAction(ctx, cfg, ev)
	case domain.EventTeamAction:
		err = p.handleTeamAction(ctx, cfg, ev)
	case domain.EventWorldAction:
		err = p.repo.RecordWorldAction(ctx, ev)
	case domain.EventRoundEnd:
		err = p.repo.IncrementServerRounds(ctx, ev.ServerID)
	case domain.EventServerStatus:
		err = p.handleServerStatus(ctx, cfg, ev)
	}
	if err != nil {
		return err
	}

	if p.publisher != nil {
		if perr := p.publisher.Publish(ev); perr != nil {
			log.Printf("pipeline: publishing %s event: %v", ev.Type, perr)
		}
	}
	return nil
}

// resolve fills PlayerID on every identity the event carries and keeps the
// roster current.
func (p *Pipeline) resolve(ctx context.Context, game string, ev *domain.Event) error {
	for _, ref := range []*domain.PlayerRef{ev.Meta.Player, ev.Meta.Killer, ev.Meta.Victim} {
		if ref == nil {
			continue
		}
		player, err := p.repo.ResolvePlayer(ctx, game, ref, ev.Timestamp)
		if err != nil {
			return err
		}
		ref.PlayerID = player.ID
		p.updateRoster(ev.ServerID, ref)
	}
	return nil
}

func (p *Pipeline) updateRoster(serverID int64, ref *domain.PlayerRef) {
	if ref == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.rosters[serverID]
	if !ok {
		r = &roster{players: make(map[int]rosterEntry)}
		p.rosters[serverID] = r
	}
	r.players[ref.SlotID] = rosterEntry{
		playerID: ref.PlayerID,
		name:     ref.Name,
		team:     ref.Team,
		isBot:    ref.IsBot,
	}
}

func (p *Pipeline) removeFromRoster(serverID int64, slotID int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.rosters[serverID]; ok {
		delete(r.players, slotID)
	}
}

// teamMembers returns the player ids currently on a team, humans and bots
// alike; the caller filters bots if the server ignores them.
func (p *Pipeline) teamMembers(serverID int64, team string, includeBots bool) []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.rosters[serverID]
	if !ok {
		return nil
	}
	var ids []int64
	for _, entry := range r.players {
		if entry.team != team || entry.playerID == 0 {
			continue
		}
		if entry.isBot && !includeBots {
			continue
		}
		ids = append(ids, entry.playerID)
	}
	return ids
}

// rosterSize counts players currently known on the server.
func (p *Pipeline) rosterSize(serverID int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.rosters[serverID]; ok {
		return len(r.players)
	}
	return 0
}

// config returns the cached server config, refreshing past the TTL.
func (p *Pipeline) config(ctx context.Context, serverID int64) (*serverConfig, error) {
	p.mu.Lock()
	cfg, ok := p.configs[serverID]
	p.mu.Unlock()
	if ok && time.Since(cfg.fetched) < configCacheTTL {
		return cfg, nil
	}

	srv, err := p.repo.GetServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	raw, err := p.repo.GetServerConfig(ctx, serverID)
	if err != nil {
		return nil, err
	}

	cfg = &serverConfig{
		game:                srv.Game,
		ignoreBots:          domain.ParseBool(raw[domain.ConfigIgnoreBots], false),
		skillMaxChange:      intConfig(raw, domain.ConfigSkillMaxChange, skill.DefaultMaxChange),
		minPlayers:          intConfig(raw, domain.ConfigMinPlayers, 0),
		suicidePenalty:      intConfig(raw, domain.ConfigSuicidePenalty, skill.DefaultSuicidePenalty),
		teamkillPenalty:     intConfig(raw, domain.ConfigTeamkillPenalty, skill.DefaultTeamkillPenalty),
		teamkillVictimBonus: intConfig(raw, domain.ConfigTeamkillVictimBonus, skill.DefaultTeamkillVictimBonus),
		activeMap:           srv.ActiveMap,
		raw:                 raw,
		fetched:             time.Now(),
	}

	p.mu.Lock()
	p.configs[serverID] = cfg
	p.mu.Unlock()
	return cfg, nil
}

func intConfig(raw map[string]string, key string, def int) int {
	if v, ok := raw[key]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// scoringEnabled decides whether rating changes apply for this event.
func (p *Pipeline) scoringEnabled(cfg *serverConfig, serverID int64, refs ...*domain.PlayerRef) bool {
	if cfg.minPlayers > 0 && p.rosterSize(serverID) < cfg.minPlayers {
		return false
	}
	if cfg.ignoreBots {
		for _, ref := range refs {
			if ref != nil && ref.IsBot {
				return false
			}
		}
	}
	return true
}

func (p *Pipeline) announce(serverID int64, text string) {
	if p.announcer != nil {
		p.announcer.Announce(serverID, text)
	}
}

// rank looks up a player's standing for an announcement. A failed read only
// costs the message, never the event.
func (p *Pipeline) rank(ctx context.Context, game string, playerID int64) (int, bool) {
	n, err := p.repo.GetPlayerRank(ctx, game, playerID)
	if err != nil {
		log.Printf("pipeline: rank lookup for announcement: %v", err)
		return 0, false
	}
	return n, true
}

// --- Per-type handlers ---

func (p *Pipeline) handleConnect(ctx context.Context, cfg *serverConfig, ev domain.Event) error {
	if err := p.repo.RecordConnect(ctx, ev); err != nil {
		return err
	}

	player := ev.Meta.Player
	if player.IsBot {
		return nil
	}
	p.announce(ev.ServerID, notify.Render(cfg.template(notify.KeyConnect), map[string]string{
		"playerName": player.Name,
	}))
	return nil
}

func (p *Pipeline) handleDisconnect(ctx context.Context, cfg *serverConfig, ev domain.Event) error {
	if err := p.repo.RecordDisconnect(ctx, ev); err != nil {
		return err
	}
	p.removeFromRoster(ev.ServerID, ev.Meta.Player.SlotID)

	player := ev.Meta.Player
	if player.IsBot {
		return nil
	}
	rank, ok := p.rank(ctx, cfg.game, player.PlayerID)
	if !ok {
		return nil
	}
	p.announce(ev.ServerID, notify.Render(cfg.template(notify.KeyDisconnect), map[string]string{
		"playerName": player.Name,
		"playerRank": strconv.Itoa(rank),
	}))
	return nil
}

func (p *Pipeline) handleChangeTeam(ev domain.Event) {
	data, _ := ev.Data.(domain.PlayerChangeTeamData)
	ref := *ev.Meta.Player
	ref.Team = data.Team
	p.updateRoster(ev.ServerID, &ref)
}

func (p *Pipeline) handleChangeName(ctx context.Context, ev domain.Event) error {
	data, _ := ev.Data.(domain.PlayerChangeNameData)
	player := ev.Meta.Player
	if err := p.repo.UpdatePlayerName(ctx, player.PlayerID, data.NewName, ev.Timestamp); err != nil {
		return err
	}
	ref := *player
	ref.Name = data.NewName
	p.updateRoster(ev.ServerID, &ref)
	return nil
}

func (p *Pipeline) handleKill(ctx context.Context, cfg *serverConfig, ev domain.Event) error {
	data, _ := ev.Data.(domain.PlayerKillData)
	killer, victim := ev.Meta.Killer, ev.Meta.Victim

	var delta skill.Delta
	scored := p.scoringEnabled(cfg, ev.ServerID, killer, victim)
	if scored {
		killerRow, err := p.repo.GetPlayer(ctx, killer.PlayerID)
		if err != nil {
			return err
		}
		victimRow, err := p.repo.GetPlayer(ctx, victim.PlayerID)
		if err != nil {
			return err
		}

		modifier := 1.0
		weapon, err := p.repo.FindWeapon(ctx, cfg.game, data.Weapon)
		if err != nil {
			return err
		}
		if weapon != nil {
			modifier = weapon.Modifier
		}

		scorer := skill.Calculator{MaxChange: cfg.skillMaxChange}
		games := killerRow.Kills + killerRow.Deaths
		delta = scorer.Kill(killerRow.Skill, victimRow.Skill, games, modifier, data.Headshot)
		metrics.SkillChanges.Observe(float64(delta.Killer))
	}

	if err := p.repo.RecordKill(ctx, ev, delta.Killer, delta.Victim); err != nil {
		return err
	}

	if scored {
		killerRank, ok := p.rank(ctx, cfg.game, killer.PlayerID)
		if !ok {
			return nil
		}
		victimRank, ok := p.rank(ctx, cfg.game, victim.PlayerID)
		if !ok {
			return nil
		}
		p.announce(ev.ServerID, notify.Render(cfg.template(notify.KeyKill), map[string]string{
			"killerName": killer.Name,
			"killerRank": strconv.Itoa(killerRank),
			"victimName": victim.Name,
			"victimRank": strconv.Itoa(victimRank),
			"points":     notify.Points(delta.Killer),
		}))
	}
	return nil
}

func (p *Pipeline) handleTeamkill(ctx context.Context, cfg *serverConfig, ev domain.Event) error {
	killer, victim := ev.Meta.Killer, ev.Meta.Victim

	var delta skill.Delta
	scored := p.scoringEnabled(cfg, ev.ServerID, killer, victim)
	if scored {
		scorer := skill.Calculator{MaxChange: cfg.skillMaxChange}
		delta = scorer.Teamkill(cfg.teamkillPenalty, cfg.teamkillVictimBonus)
		metrics.SkillChanges.Observe(float64(delta.Killer))
	}

	if err := p.repo.RecordTeamkill(ctx, ev, delta.Killer, delta.Victim); err != nil {
		return err
	}

	if scored {
		p.announce(ev.ServerID, notify.Render(cfg.template(notify.KeyTeamkill), map[string]string{
			"killerName": killer.Name,
			"victimName": victim.Name,
			"points":     notify.Points(delta.Killer),
		}))
	}
	return nil
}

func (p *Pipeline) handleSuicide(ctx context.Context, cfg *serverConfig, ev domain.Event) error {
	player := ev.Meta.Player

	var delta int64
	scored := p.scoringEnabled(cfg, ev.ServerID, player)
	if scored {
		scorer := skill.Calculator{MaxChange: cfg.skillMaxChange}
		delta = scorer.Suicide(cfg.suicidePenalty)
		metrics.SkillChanges.Observe(float64(delta))
	}

	if err := p.repo.RecordSuicide(ctx, ev, delta); err != nil {
		return err
	}

	if scored {
		rank, ok := p.rank(ctx, cfg.game, player.PlayerID)
		if !ok {
			return nil
		}
		p.announce(ev.ServerID, notify.Render(cfg.template(notify.KeySuicide), map[string]string{
			"playerName": player.Name,
			"playerRank": strconv.Itoa(rank),
			"points":     notify.Points(delta),
		}))
	}
	return nil
}

func (p *Pipeline) handlePlayerAction(ctx context.Context, cfg *serverConfig, ev domain.Event) error {
	data, _ := ev.Data.(domain.PlayerActionData)
	player := ev.Meta.Player

	action, err := p.repo.FindAction(ctx, cfg.game, data.Code, player.Team)
	if err != nil {
		return err
	}
	if action == nil || !action.ForPlayerActions {
		// Unknown codes are still recorded, reward zero.
		return p.repo.RecordPlayerAction(ctx, ev, 0)
	}

	reward := action.RewardPlayer
	if !p.scoringEnabled(cfg, ev.ServerID, player) {
		reward = 0
	}
	if err := p.repo.RecordPlayerAction(ctx, ev, reward); err != nil {
		return err
	}

	if reward != 0 {
		desc := action.Description
		if desc == "" {
			desc = data.Code
		}
		p.announce(ev.ServerID, notify.Render(cfg.template(notify.KeyAction), map[string]string{
			"playerName": player.Name,
			"points":     notify.Points(int64(reward)),
			"action":     desc,
		}))
	}
	return nil
}

func (p *Pipeline) handlePlayerPlayerAction(ctx context.Context, cfg *serverConfig, ev domain.Event) error {
	data, _ := ev.Data.(domain.PlayerPlayerActionData)
	actor := ev.Meta.Killer

	action, err := p.repo.FindAction(ctx, cfg.game, data.Code, actor.Team)
	if err != nil {
		return err
	}
	if action == nil || !action.ForPlayerPlayerActions {
		return p.repo.RecordPlayerPlayerAction(ctx, ev, 0)
	}

	reward := action.RewardPlayer
	if !p.scoringEnabled(cfg, ev.ServerID, actor) {
		reward = 0
	}
	return p.repo.RecordPlayerPlayerAction(ctx, ev, reward)
}

func (p *Pipeline) handleTeamAction(ctx context.Context, cfg *serverConfig, ev domain.Event) error {
	data, _ := ev.Data.(domain.TeamActionData)

	switch data.Code {
	case "CTs_Win":
		if err := p.repo.IncrementTeamWins(ctx, ev.ServerID, domain.TeamCT); err != nil {
			return err
		}
	case "Terrorists_Win":
		if err := p.repo.IncrementTeamWins(ctx, ev.ServerID, domain.TeamTerrorist); err != nil {
			return err
		}
	}

	action, err := p.repo.FindAction(ctx, cfg.game, data.Code, data.Team)
	if err != nil {
		return err
	}
	if action == nil || !action.ForTeamActions {
		return p.repo.RecordTeamAction(ctx, ev, 0, nil)
	}

	members := p.teamMembers(ev.ServerID, data.Team, !cfg.ignoreBots)
	reward := action.RewardTeam
	if cfg.minPlayers > 0 && p.rosterSize(ev.ServerID) < cfg.minPlayers {
		reward = 0
	}
	if err := p.repo.RecordTeamAction(ctx, ev, reward, members); err != nil {
		return err
	}

	if reward != 0 && len(members) > 0 {
		desc := action.Description
		if desc == "" {
			desc = data.Code
		}
		p.announce(ev.ServerID, notify.Render(cfg.template(notify.KeyTeamAction), map[string]string{
			"team":   data.Team,
			"points": notify.Points(int64(reward)),
			"action": desc,
		}))
	}
	return nil
}

// handleServerStatus stores the scrape and synthesizes a map-change event
// when the reported map differs from the recorded one.
func (p *Pipeline) handleServerStatus(ctx context.Context, cfg *serverConfig, ev domain.Event) error {
	data, _ := ev.Data.(domain.ServerStatusData)

	// IgnoreBots decides whether the active count means everyone on the
	// server or humans only.
	data.ActivePlayers = data.PlayerCount
	if cfg.ignoreBots {
		data.ActivePlayers = data.RealPlayers
	}

	if err := p.repo.UpdateServerStatus(ctx, ev.ServerID, data, ev.Timestamp); err != nil {
		return err
	}

	if data.Map == "" || data.Map == cfg.activeMap {
		return nil
	}

	previous, err := p.repo.ApplyMapChange(ctx, ev.ServerID, data.Map, ev.Timestamp)
	if err != nil {
		return err
	}
	cfg.activeMap = data.Map

	if p.publisher != nil {
		change := domain.NewEvent(ev.ServerID, ev.Timestamp, domain.EventMapChange, domain.MapChangeData{
			PreviousMap: previous,
			NewMap:      data.Map,
			PlayerCount: data.ActivePlayers,
		})
		if perr := p.publisher.Publish(change); perr != nil {
			log.Printf("pipeline: publishing map change: %v", perr)
		}
	}
	return nil
}
