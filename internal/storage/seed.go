package storage

import (
	"context"

	"github.com/jstnmthw/hlstatsnext-sub008/internal/domain"
)

// Default catalogue entries installed by `init`. Weapon modifiers follow the
// usual Counter-Strike weighting: hard weapons pay more.
var defaultWeapons = []domain.Weapon{
	{Game: "cstrike", Code: "ak47", Name: "AK-47", Modifier: 1.0},
	{Game: "cstrike", Code: "m4a1", Name: "M4A1", Modifier: 1.0},
	{Game: "cstrike", Code: "awp", Name: "AWP", Modifier: 1.0},
	{Game: "cstrike", Code: "deagle", Name: "Desert Eagle", Modifier: 1.2},
	{Game: "cstrike", Code: "usp", Name: "USP", Modifier: 1.4},
	{Game: "cstrike", Code: "glock", Name: "Glock 18", Modifier: 1.4},
	{Game: "cstrike", Code: "scout", Name: "Scout", Modifier: 1.5},
	{Game: "cstrike", Code: "knife", Name: "Knife", Modifier: 2.0},
	{Game: "cstrike", Code: "grenade", Name: "HE Grenade", Modifier: 1.8},
	{Game: "cstrike", Code: "hegrenade", Name: "HE Grenade", Modifier: 1.8},
	{Game: "cstrike", Code: "mp5navy", Name: "MP5 Navy", Modifier: 1.1},
	{Game: "cstrike", Code: "p90", Name: "P90", Modifier: 1.1},
	{Game: "cstrike", Code: "aug", Name: "AUG", Modifier: 1.0},
	{Game: "cstrike", Code: "sg552", Name: "SG 552", Modifier: 1.0},
	{Game: "cstrike", Code: "m249", Name: "M249", Modifier: 1.0},
	{Game: "cstrike", Code: "xm1014", Name: "XM1014", Modifier: 1.2},
}

var defaultActions = []domain.Action{
	{Game: "cstrike", Code: "Planted_The_Bomb", Description: "Planted the bomb", RewardPlayer: 10, ForPlayerActions: true},
	{Game: "cstrike", Code: "Defused_The_Bomb", Description: "Defused the bomb", RewardPlayer: 10, ForPlayerActions: true},
	{Game: "cstrike", Code: "Begin_Bomb_Defuse_With_Kit", Description: "Began defusing with kit", RewardPlayer: 2, ForPlayerActions: true},
	{Game: "cstrike", Code: "Begin_Bomb_Defuse_Without_Kit", Description: "Began defusing without kit", RewardPlayer: 3, ForPlayerActions: true},
	{Game: "cstrike", Code: "Rescued_A_Hostage", Description: "Rescued a hostage", RewardPlayer: 8, ForPlayerActions: true},
	{Game: "cstrike", Code: "Touched_A_Hostage", Description: "Touched a hostage", RewardPlayer: 1, ForPlayerActions: true},
	{Game: "cstrike", Code: "Killed_A_Hostage", Description: "Killed a hostage", RewardPlayer: -10, ForPlayerActions: true},
	{Game: "cstrike", Code: "Assisted_Killing_Enemy", Description: "Kill assist", RewardPlayer: 2, ForPlayerPlayerActions: true},
	{Game: "cstrike", Code: "CTs_Win", Team: domain.TeamCT, Description: "CTs won the round", RewardTeam: 2, ForTeamActions: true},
	{Game: "cstrike", Code: "Terrorists_Win", Team: domain.TeamTerrorist, Description: "Terrorists won the round", RewardTeam: 2, ForTeamActions: true},
	{Game: "cstrike", Code: "Target_Bombed", Team: domain.TeamTerrorist, Description: "Target bombed", RewardTeam: 3, ForTeamActions: true},
	{Game: "cstrike", Code: "Bomb_Defused", Team: domain.TeamCT, Description: "Bomb defused", RewardTeam: 3, ForTeamActions: true},
	{Game: "cstrike", Code: "All_Hostages_Rescued", Team: domain.TeamCT, Description: "All hostages rescued", RewardTeam: 3, ForTeamActions: true},
	{Game: "cstrike", Code: "Round_Draw", Description: "Round draw", ForWorldActions: true},
	{Game: "cstrike", Code: "Game_Commencing", Description: "Game commencing", ForWorldActions: true},
}

// SeedDefaults installs the default weapon and action catalogues. Existing
// rows keep their accumulated counters.
func (s *Store) SeedDefaults(ctx context.Context) error {
	for i := range defaultWeapons {
		if err := s.UpsertWeapon(ctx, &defaultWeapons[i]); err != nil {
			return err
		}
	}
	for i := range defaultActions {
		if err := s.UpsertAction(ctx, &defaultActions[i]); err != nil {
			return err
		}
	}
	return nil
}
