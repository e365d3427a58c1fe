package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"arcade/server/internal/config"
	"arcade/server/internal/types"

	_ "github.com/go-sql-driver/mysql"
)

const createMatchResults = `CREATE TABLE IF NOT EXISTS match_results (
	id VARCHAR(36) PRIMARY KEY,
	lobby VARCHAR(16) NOT NULL,
	score INT NOT NULL,
	boss_spawned BOOLEAN NOT NULL,
	boss_defeated BOOLEAN NOT NULL,
	peak_players INT NOT NULL,
	monsters_killed INT NOT NULL,
	started_at DATETIME NOT NULL,
	ended_at DATETIME NOT NULL
)`

// MySQLDSN builds the driver DSN from configuration.
func MySQLDSN(cfg *config.ConfigStruct) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.MySQLUser,
		cfg.MySQLPassword,
		cfg.MySQLHost,
		cfg.MySQLPort,
		cfg.MySQLDatabase,
	)
}

type MySQLRecorder struct {
	DB *sql.DB
}

// OpenMySQL connects, pings and makes sure the match_results table exists.
func OpenMySQL(ctx context.Context, cfg *config.ConfigStruct) (*MySQLRecorder, error) {
	conn, err := sql.Open("mysql", MySQLDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("mysql open: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("mysql ping: %w", err)
	}
	if _, err := conn.ExecContext(ctx, createMatchResults); err != nil {
		conn.Close()
		return nil, fmt.Errorf("mysql schema: %w", err)
	}
	return &MySQLRecorder{DB: conn}, nil
}

func (r *MySQLRecorder) Record(ctx context.Context, m types.MatchResult) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO match_results (id, lobby, score, boss_spawned, boss_defeated, peak_players, monsters_killed, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Lobby, m.Score, m.BossSpawned, m.BossDefeated, m.PeakPlayers, m.MonstersKilled, m.StartedAt, m.EndedAt)
	if err != nil {
		return fmt.Errorf("mysql insert match %s: %w", m.ID, err)
	}
	return nil
}

func (r *MySQLRecorder) Recent(ctx context.Context, limit int) ([]types.MatchResult, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, lobby, score, boss_spawned, boss_defeated, peak_players, monsters_killed, started_at, ended_at
		 FROM match_results ORDER BY ended_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.MatchResult
	for rows.Next() {
		var m types.MatchResult
		if err := rows.Scan(&m.ID, &m.Lobby, &m.Score, &m.BossSpawned, &m.BossDefeated,
			&m.PeakPlayers, &m.MonstersKilled, &m.StartedAt, &m.EndedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *MySQLRecorder) Close() error {
	return r.DB.Close()
}
