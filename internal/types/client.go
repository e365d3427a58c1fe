package types

import (
	"strconv"
	"strings"
	"time"
)

// LobbyMember is the public view of one player in a lobby.
type LobbyMember struct {
	ID   uint16 `json:"id"`
	Name string `json:"name"`
}

// LobbySummary is what the status server publishes for each visible lobby.
type LobbySummary struct {
	Code    string        `json:"code"`
	Public  bool          `json:"public"`
	Port    int           `json:"port"`
	Members []LobbyMember `json:"members"`
	Max     int           `json:"max"`
}

// MatchResult is recorded when a lobby's simulation ends.
type MatchResult struct {
	ID             string    `json:"id" bson:"_id"`
	Lobby          string    `json:"lobby" bson:"lobby"`
	Score          uint16    `json:"score" bson:"score"`
	BossSpawned    bool      `json:"boss_spawned" bson:"boss_spawned"`
	BossDefeated   bool      `json:"boss_defeated" bson:"boss_defeated"`
	PeakPlayers    int       `json:"peak_players" bson:"peak_players"`
	MonstersKilled int       `json:"monsters_killed" bson:"monsters_killed"`
	StartedAt      time.Time `json:"started_at" bson:"started_at"`
	EndedAt        time.Time `json:"ended_at" bson:"ended_at"`
}

// Control channel tokens exchanged between the control plane and simulation workers.
const (
	CtrlReady     = "READY"
	CtrlBoss      = "BOSS"
	CtrlBossDead  = "BOSS_DEAD"
	CtrlNoPlayers = "NO_PLAYERS"
	CtrlDead      = "DEAD"
)

// ControlMessage is a parsed "KIND[:arg]" control channel message.
type ControlMessage struct {
	Kind string
	Arg  string
}

func ParseControl(msg string) ControlMessage {
	kind, arg, _ := strings.Cut(strings.TrimSpace(msg), ":")
	return ControlMessage{Kind: kind, Arg: arg}
}

func (m ControlMessage) String() string {
	if m.Arg == "" {
		return m.Kind
	}
	return m.Kind + ":" + m.Arg
}

// PlayerID returns the numeric argument of a DEAD message.
func (m ControlMessage) PlayerID() (uint16, bool) {
	n, err := strconv.ParseUint(m.Arg, 10, 16)
	if err != nil {
		return 0, false
	}
	return uint16(n), true
}

func BossMessage(lobby string) string      { return CtrlBoss + ":" + lobby }
func BossDeadMessage(lobby string) string  { return CtrlBossDead + ":" + lobby }
func NoPlayersMessage(lobby string) string { return CtrlNoPlayers + ":" + lobby }
func DeadMessage(id uint16) string         { return CtrlDead + ":" + strconv.Itoa(int(id)) }
