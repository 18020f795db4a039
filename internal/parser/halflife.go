// Package parser turns raw Half-Life engine log lines into typed events.
package parser

import (
	"errors"
	"regexp"
	"strconv"
	"time"

	"github.com/jstnmthw/hlstatsnext-sub008/internal/domain"
)

var (
	// ErrNotLogLine means the line lacks the engine timestamp prefix and
	// should be dropped silently.
	ErrNotLogLine = errors.New("not a log line")

	// ErrUnsupportedLine means the prefix matched but no known pattern did.
	// Counted, not fatal.
	ErrUnsupportedLine = errors.New("unsupported log line")
)

// logLinePattern captures the engine prefix: L MM/DD/YYYY - HH:MM:SS: ...
var logLinePattern = regexp.MustCompile(`^L (\d{2}/\d{2}/\d{4} - \d{2}:\d{2}:\d{2}):? (.*)$`)

const timestampLayout = "01/02/2006 - 15:04:05"

// idPattern matches a player identity token "<name><uid><steam><team>".
// The steam slot holds the literal BOT for server-controlled players.
const idPattern = `"(.+?)<(\d+)><([^<>]*)><([^<>]*)>"`

// coordPattern matches the optional trailing position, which is discarded.
const coordPattern = `(?: \[-?\d+ -?\d+ -?\d+\])?`

var (
	connectRegex        = regexp.MustCompile(`^` + idPattern + ` connected, address "([^"]*)"$`)
	disconnectRegex     = regexp.MustCompile(`^` + idPattern + ` disconnected(?: \(reason "([^"]*)"\))?$`)
	enterRegex          = regexp.MustCompile(`^` + idPattern + ` entered the game$`)
	joinTeamRegex       = regexp.MustCompile(`^` + idPattern + ` joined team "([^"]+)"$`)
	changeNameRegex     = regexp.MustCompile(`^` + idPattern + ` changed name to "(.+)"$`)
	killRegex           = regexp.MustCompile(`^` + idPattern + coordPattern + ` killed ` + idPattern + coordPattern + ` with "([^"]+)"( \(headshot\))?$`)
	suicideRegex        = regexp.MustCompile(`^` + idPattern + coordPattern + ` committed suicide with "([^"]+)"$`)
	sayRegex            = regexp.MustCompile(`^` + idPattern + ` say(_team)? "(.*)"( \(dead\))?$`)
	triggerAgainstRegex = regexp.MustCompile(`^` + idPattern + coordPattern + ` triggered "([^"]+)" against ` + idPattern + coordPattern + `$`)
	triggerRegex        = regexp.MustCompile(`^` + idPattern + coordPattern + ` triggered "([^"]+)"$`)
	teamTriggerRegex    = regexp.MustCompile(`^Team "([^"]+)" triggered "([^"]+)"(?: \(CT "\d+"\) \(T "\d+"\))?$`)
	worldTriggerRegex   = regexp.MustCompile(`^World triggered "([^"]+)"(?: on "([^"]+)")?$`)
)

// HalfLife parses the GoldSrc/Source shared log grammar. Parsers are
// stateless and safe for concurrent use.
type HalfLife struct{}

func NewHalfLife() *HalfLife {
	return &HalfLife{}
}

// CanParse reports whether the line carries the HL-family timestamp prefix.
func (p *HalfLife) CanParse(line string) bool {
	return logLinePattern.MatchString(line)
}

// Parse converts one log line into an event for the given server.
func (p *HalfLife) Parse(line string, serverID int64) (domain.Event, error) {
	m := logLinePattern.FindStringSubmatch(line)
	if m == nil {
		return domain.Event{}, ErrNotLogLine
	}

	ts, err := time.Parse(timestampLayout, m[1])
	if err != nil {
		return domain.Event{}, ErrNotLogLine
	}
	content := m[2]

	if r := killRegex.FindStringSubmatch(content); r != nil {
		killer := parseRef(r[1:5])
		victim := parseRef(r[5:9])
		weapon := r[9]
		headshot := r[10] != ""

		eventType := domain.EventPlayerKill
		var data interface{} = domain.PlayerKillData{Weapon: weapon, Headshot: headshot}
		if killer.Team != "" && killer.Team == victim.Team {
			eventType = domain.EventPlayerTeamkill
			data = domain.PlayerTeamkillData{Weapon: weapon, Headshot: headshot}
		}

		ev := domain.NewEvent(serverID, ts, eventType, data)
		ev.Meta.Killer = killer
		ev.Meta.Victim = victim
		return ev, nil
	}

	if r := suicideRegex.FindStringSubmatch(content); r != nil {
		ev := domain.NewEvent(serverID, ts, domain.EventPlayerSuicide, domain.PlayerSuicideData{Weapon: r[5]})
		ev.Meta.Player = parseRef(r[1:5])
		return ev, nil
	}

	if r := connectRegex.FindStringSubmatch(content); r != nil {
		ev := domain.NewEvent(serverID, ts, domain.EventPlayerConnect, domain.PlayerConnectData{Address: r[5]})
		ev.Meta.Player = parseRef(r[1:5])
		return ev, nil
	}

	if r := disconnectRegex.FindStringSubmatch(content); r != nil {
		ev := domain.NewEvent(serverID, ts, domain.EventPlayerDisconnect, domain.PlayerDisconnectData{Reason: r[5]})
		ev.Meta.Player = parseRef(r[1:5])
		return ev, nil
	}

	if r := enterRegex.FindStringSubmatch(content); r != nil {
		ev := domain.NewEvent(serverID, ts, domain.EventPlayerEntry, domain.PlayerEntryData{})
		ev.Meta.Player = parseRef(r[1:5])
		return ev, nil
	}

	if r := joinTeamRegex.FindStringSubmatch(content); r != nil {
		ev := domain.NewEvent(serverID, ts, domain.EventPlayerChangeTeam, domain.PlayerChangeTeamData{Team: r[5]})
		ev.Meta.Player = parseRef(r[1:5])
		return ev, nil
	}

	if r := changeNameRegex.FindStringSubmatch(content); r != nil {
		ev := domain.NewEvent(serverID, ts, domain.EventPlayerChangeName, domain.PlayerChangeNameData{NewName: r[5]})
		ev.Meta.Player = parseRef(r[1:5])
		return ev, nil
	}

	if r := sayRegex.FindStringSubmatch(content); r != nil {
		player := parseRef(r[1:5])
		ev := domain.NewEvent(serverID, ts, domain.EventChatMessage, domain.ChatMessageData{
			Message: r[6],
			Team:    player.Team,
			IsDead:  r[7] != "",
		})
		ev.Meta.Player = player
		return ev, nil
	}

	// triggered-against before the single-player form: the latter's pattern
	// is a prefix of the former.
	if r := triggerAgainstRegex.FindStringSubmatch(content); r != nil {
		ev := domain.NewEvent(serverID, ts, domain.EventPlayerPlayerAction, domain.PlayerPlayerActionData{Code: r[5]})
		ev.Meta.Killer = parseRef(r[1:5])
		ev.Meta.Victim = parseRef(r[6:10])
		return ev, nil
	}

	if r := triggerRegex.FindStringSubmatch(content); r != nil {
		ev := domain.NewEvent(serverID, ts, domain.EventPlayerAction, domain.PlayerActionData{Code: r[5]})
		ev.Meta.Player = parseRef(r[1:5])
		return ev, nil
	}

	if r := teamTriggerRegex.FindStringSubmatch(content); r != nil {
		return domain.NewEvent(serverID, ts, domain.EventTeamAction, domain.TeamActionData{Team: r[1], Code: r[2]}), nil
	}

	if r := worldTriggerRegex.FindStringSubmatch(content); r != nil {
		switch r[1] {
		case "Round_Start":
			return domain.NewEvent(serverID, ts, domain.EventRoundStart, domain.RoundStartData{}), nil
		case "Round_End":
			return domain.NewEvent(serverID, ts, domain.EventRoundEnd, domain.RoundEndData{}), nil
		}
		return domain.NewEvent(serverID, ts, domain.EventWorldAction, domain.WorldActionData{Code: r[1]}), nil
	}

	return domain.Event{}, ErrUnsupportedLine
}

// parseRef builds a PlayerRef from the four idPattern capture groups.
func parseRef(groups []string) *domain.PlayerRef {
	slot, _ := strconv.Atoi(groups[1])
	return &domain.PlayerRef{
		Name:    groups[0],
		SlotID:  slot,
		SteamID: groups[2],
		Team:    groups[3],
		IsBot:   groups[2] == domain.BotSteamID,
	}
}
