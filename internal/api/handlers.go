package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/jstnmthw/hlstatsnext-sub008/internal/auth"
	"github.com/jstnmthw/hlstatsnext-sub008/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// requireAuth wraps a handler with JWT bearer validation.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		header := req.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if _, err := r.auth.ValidateToken(token); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next(w, req)
	}
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	hash, err := r.store.GetUserPasswordHash(req.Context(), body.Username)
	if err != nil || !auth.CheckPassword(body.Password, hash) {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	token, err := r.auth.GenerateToken(body.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generating token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// serverView hides credentials; only the token prefix is ever exposed.
type serverView struct {
	ID          int64  `json:"id"`
	Address     string `json:"address"`
	Port        int    `json:"port"`
	Game        string `json:"game"`
	Engine      string `json:"engine"`
	Name        string `json:"name"`
	ActiveMap   string `json:"active_map"`
	MapRounds   int    `json:"map_rounds"`
	MapCTWins   int    `json:"map_ct_wins"`
	MapTWins    int    `json:"map_t_wins"`
	Players     int    `json:"players"`
	MaxPlayers  int    `json:"max_players"`
	TokenPrefix string `json:"token_prefix,omitempty"`
}

func toServerView(s domain.Server) serverView {
	return serverView{
		ID:          s.ID,
		Address:     s.Address,
		Port:        s.Port,
		Game:        s.Game,
		Engine:      string(s.Engine),
		Name:        s.Name,
		ActiveMap:   s.ActiveMap,
		MapRounds:   s.MapRounds,
		MapCTWins:   s.MapCTWins,
		MapTWins:    s.MapTWins,
		Players:     s.Players,
		MaxPlayers:  s.MaxPlayers,
		TokenPrefix: s.TokenPrefix,
	}
}

func (r *Router) handleListServers(w http.ResponseWriter, req *http.Request) {
	servers, err := r.store.ListServers(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing servers")
		return
	}
	views := make([]serverView, 0, len(servers))
	for _, s := range servers {
		views = append(views, toServerView(s))
	}
	writeJSON(w, http.StatusOK, views)
}

func (r *Router) handleGetServer(w http.ResponseWriter, req *http.Request) {
	id, err := strconv.ParseInt(req.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid server id")
		return
	}
	srv, err := r.store.GetServer(req.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "server not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading server")
		return
	}
	writeJSON(w, http.StatusOK, toServerView(*srv))
}

func (r *Router) handleRconCommand(w http.ResponseWriter, req *http.Request) {
	id, err := strconv.ParseInt(req.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid server id")
		return
	}

	var body struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Command == "" {
		writeError(w, http.StatusBadRequest, "missing command")
		return
	}

	output, err := r.rcon.Execute(req.Context(), id, body.Command)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"output": output})
}

func (r *Router) handleTopPlayers(w http.ResponseWriter, req *http.Request) {
	game := req.URL.Query().Get("game")
	if game == "" {
		game = "cstrike"
	}
	limit := 50
	if v := req.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	players, err := r.store.TopPlayers(req.Context(), game, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing players")
		return
	}
	writeJSON(w, http.StatusOK, players)
}

func (r *Router) handleGetPlayer(w http.ResponseWriter, req *http.Request) {
	id, err := strconv.ParseInt(req.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid player id")
		return
	}
	player, err := r.store.GetPlayer(req.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "player not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading player")
		return
	}

	rank, err := r.store.GetPlayerRank(req.Context(), player.Game, player.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ranking player")
		return
	}
	total, err := r.store.CountPlayers(req.Context(), player.Game)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "counting players")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"player": player,
		"rank":   rank,
		"total":  total,
	})
}

func (r *Router) handleGetPlayerHistory(w http.ResponseWriter, req *http.Request) {
	id, err := strconv.ParseInt(req.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid player id")
		return
	}
	history, err := r.store.GetPlayerHistory(req.Context(), id, 90)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading history")
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
