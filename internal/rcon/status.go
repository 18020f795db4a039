package rcon

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/jstnmthw/hlstatsnext-sub008/internal/domain"
)

// status output fields look like "key : value"; player rows start with '#'.
var (
	statusFieldRegex   = regexp.MustCompile(`^(\w[\w/]*)\s*:\s+(.*)$`)
	statusPlayersRegex = regexp.MustCompile(`^(\d+)\s+(?:humans?,\s+(\d+)\s+bots\s+)?(?:active\s+)?\((\d+)(?:/\d+)?\s+max\)`)
	statusFPSRegex     = regexp.MustCompile(`^([\d.]+)`)
	statusBotRowRegex  = regexp.MustCompile(`^#\s*\d+\s+(?:\d+\s+)?"[^"]*"\s+BOT\b`)
)

// ParseStatus extracts the fields both engines print from `status` output.
// Lines that match nothing are ignored; a missing field keeps its zero value.
func ParseStatus(raw string) domain.ServerStatusData {
	var st domain.ServerStatusData
	var rowBots int
	botsFromHeader := false

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")

		if strings.HasPrefix(line, "#") {
			if statusBotRowRegex.MatchString(line) || strings.Contains(line, "BOT  active") {
				rowBots++
			}
			continue
		}

		m := statusFieldRegex.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		key, value := m[1], m[2]

		switch key {
		case "hostname":
			st.Hostname = value
		case "version":
			st.Version = value
		case "map":
			// GoldSrc appends " at: 0 x, 0 y, 0 z".
			st.Map = strings.Fields(value)[0]
		case "fps":
			if fm := statusFPSRegex.FindStringSubmatch(value); fm != nil {
				st.FPS, _ = strconv.ParseFloat(fm[1], 64)
			}
		case "players":
			if pm := statusPlayersRegex.FindStringSubmatch(value); pm != nil {
				st.PlayerCount, _ = strconv.Atoi(pm[1])
				if pm[2] != "" {
					st.BotCount, _ = strconv.Atoi(pm[2])
					botsFromHeader = true
				}
				st.MaxPlayers, _ = strconv.Atoi(pm[3])
			}
		}
	}

	// The Source players header counts humans and bots separately; GoldSrc
	// reports one total and only reveals bots in the per-player rows.
	if botsFromHeader {
		st.RealPlayers = st.PlayerCount
		st.PlayerCount += st.BotCount
	} else {
		st.BotCount = rowBots
		st.RealPlayers = st.PlayerCount - st.BotCount
		if st.RealPlayers < 0 {
			st.RealPlayers = 0
		}
	}
	// ActivePlayers defaults to everyone on the server; the pipeline narrows
	// it to humans when the server is configured to ignore bots.
	st.ActivePlayers = st.PlayerCount
	return st
}
