// Package profiledb persists bot profiles in SQLite. Writes flow through a
// buffered channel into one writer goroutine so the sim thread never blocks
// on the disk; reads run synchronously against the same single connection.
package profiledb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"playerbots/internal/sim/clock"
	"playerbots/internal/sim/host"
	"playerbots/internal/sim/monitor"
)

// Profile is the persisted identity of one bot.
type Profile struct {
	Bot     host.BotID
	Name    string
	Race    uint8
	Class   uint8
	Level   int
	Gold    int64
	Enabled bool
}

// ProfessionRow is one persisted skill line.
type ProfessionRow struct {
	Bot       host.BotID
	Skill     uint32
	Current   int
	Max       int
	Gathering bool
}

// QuestRow is one persisted quest-tracking state.
type QuestRow struct {
	Bot           host.BotID
	QuestID       uint32
	Strategy      int
	CompletionPct float64
}

type Store struct {
	db  *sql.DB
	clk clock.Clock
	mon *monitor.Monitor

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqProfile reqKind = iota + 1
	reqProfession
	reqQuest
	reqDelete
	reqFlush
)

type req struct {
	kind reqKind

	profile    Profile
	profession ProfessionRow
	quest      QuestRow
	deleteBot  host.BotID
	flush      chan struct{}
}

func Open(path string, clk clock.Clock, mon *monitor.Monitor) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:  db,
		clk: clk,
		mon: mon,
		// Buffered so save bursts at spawn/despawn waves never stall ticks.
		ch: make(chan req, 8192),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS profiles (
			bot_id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			race INTEGER NOT NULL,
			class INTEGER NOT NULL,
			level INTEGER NOT NULL,
			gold INTEGER NOT NULL,
			enabled INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS professions (
			bot_id INTEGER NOT NULL,
			skill INTEGER NOT NULL,
			current INTEGER NOT NULL,
			max INTEGER NOT NULL,
			gathering INTEGER NOT NULL,
			PRIMARY KEY (bot_id, skill)
		);`,
		`CREATE TABLE IF NOT EXISTS quests (
			bot_id INTEGER NOT NULL,
			quest_id INTEGER NOT NULL,
			strategy INTEGER NOT NULL,
			completion_pct REAL NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (bot_id, quest_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_quests_bot ON quests(bot_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveProfile stages an upsert; it never blocks the caller unless the
// buffer is full.
func (s *Store) SaveProfile(p Profile) {
	s.submit(req{kind: reqProfile, profile: p})
}

func (s *Store) SaveProfession(r ProfessionRow) {
	s.submit(req{kind: reqProfession, profession: r})
}

func (s *Store) SaveQuest(r QuestRow) {
	s.submit(req{kind: reqQuest, quest: r})
}

// DeleteBot removes a bot's rows across all tables.
func (s *Store) DeleteBot(bot host.BotID) {
	s.submit(req{kind: reqDelete, deleteBot: bot})
}

func (s *Store) submit(r req) {
	if s.closed.Load() {
		return
	}
	s.ch <- r
}

func (s *Store) loop() {
	for r := range s.ch {
		if r.kind == reqFlush {
			close(r.flush)
			continue
		}
		start := time.Now()
		var err error
		switch r.kind {
		case reqProfile:
			err = s.writeProfile(r.profile)
		case reqProfession:
			err = s.writeProfession(r.profession)
		case reqQuest:
			err = s.writeQuest(r.quest)
		case reqDelete:
			err = s.deleteBot(r.deleteBot)
		}
		s.mon.Increment(monitor.CounterDBQueries)
		s.mon.Sample(monitor.WindowDBQueryMs, float64(time.Since(start).Microseconds())/1000)
		if err != nil {
			s.mon.Increment(monitor.CounterErrors)
		}
	}
}

func (s *Store) writeProfile(p Profile) error {
	_, err := s.db.Exec(`INSERT INTO profiles (bot_id, name, race, class, level, gold, enabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bot_id) DO UPDATE SET
			name=excluded.name, race=excluded.race, class=excluded.class,
			level=excluded.level, gold=excluded.gold, enabled=excluded.enabled,
			updated_at=excluded.updated_at`,
		int64(p.Bot), p.Name, p.Race, p.Class, p.Level, p.Gold, boolInt(p.Enabled),
		time.Now().UTC().Format(time.RFC3339))
	return err
}

func (s *Store) writeProfession(r ProfessionRow) error {
	_, err := s.db.Exec(`INSERT INTO professions (bot_id, skill, current, max, gathering)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(bot_id, skill) DO UPDATE SET
			current=excluded.current, max=excluded.max, gathering=excluded.gathering`,
		int64(r.Bot), r.Skill, r.Current, r.Max, boolInt(r.Gathering))
	return err
}

func (s *Store) writeQuest(r QuestRow) error {
	_, err := s.db.Exec(`INSERT INTO quests (bot_id, quest_id, strategy, completion_pct, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(bot_id, quest_id) DO UPDATE SET
			strategy=excluded.strategy, completion_pct=excluded.completion_pct,
			updated_at=excluded.updated_at`,
		int64(r.Bot), r.QuestID, r.Strategy, r.CompletionPct,
		time.Now().UTC().Format(time.RFC3339))
	return err
}

func (s *Store) deleteBot(bot host.BotID) error {
	for _, stmt := range []string{
		"DELETE FROM profiles WHERE bot_id = ?",
		"DELETE FROM professions WHERE bot_id = ?",
		"DELETE FROM quests WHERE bot_id = ?",
	} {
		if _, err := s.db.Exec(stmt, int64(bot)); err != nil {
			return err
		}
	}
	return nil
}

// LoadProfile reads one profile synchronously.
func (s *Store) LoadProfile(bot host.BotID) (Profile, bool, error) {
	var p Profile
	var id int64
	var enabled int
	err := s.db.QueryRow(`SELECT bot_id, name, race, class, level, gold, enabled
		FROM profiles WHERE bot_id = ?`, int64(bot)).
		Scan(&id, &p.Name, &p.Race, &p.Class, &p.Level, &p.Gold, &enabled)
	if err == sql.ErrNoRows {
		return Profile{}, false, nil
	}
	if err != nil {
		return Profile{}, false, err
	}
	p.Bot = host.BotID(id)
	p.Enabled = enabled != 0
	return p, true, nil
}

// ListProfiles returns every stored profile, bot id ascending.
func (s *Store) ListProfiles() ([]Profile, error) {
	rows, err := s.db.Query(`SELECT bot_id, name, race, class, level, gold, enabled
		FROM profiles ORDER BY bot_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Profile
	for rows.Next() {
		var p Profile
		var id int64
		var enabled int
		if err := rows.Scan(&id, &p.Name, &p.Race, &p.Class, &p.Level, &p.Gold, &enabled); err != nil {
			return nil, err
		}
		p.Bot = host.BotID(id)
		p.Enabled = enabled != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// LoadProfessions returns a bot's skill lines.
func (s *Store) LoadProfessions(bot host.BotID) ([]ProfessionRow, error) {
	rows, err := s.db.Query(`SELECT skill, current, max, gathering
		FROM professions WHERE bot_id = ? ORDER BY skill`, int64(bot))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ProfessionRow
	for rows.Next() {
		r := ProfessionRow{Bot: bot}
		var gathering int
		if err := rows.Scan(&r.Skill, &r.Current, &r.Max, &gathering); err != nil {
			return nil, err
		}
		r.Gathering = gathering != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadQuests returns a bot's tracked quest states.
func (s *Store) LoadQuests(bot host.BotID) ([]QuestRow, error) {
	rows, err := s.db.Query(`SELECT quest_id, strategy, completion_pct
		FROM quests WHERE bot_id = ?`, int64(bot))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []QuestRow
	for rows.Next() {
		r := QuestRow{Bot: bot}
		if err := rows.Scan(&r.QuestID, &r.Strategy, &r.CompletionPct); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Flush blocks until every staged write before the call has committed.
func (s *Store) Flush() {
	if s.closed.Load() {
		return
	}
	done := make(chan struct{})
	s.ch <- req{kind: reqFlush, flush: done}
	<-done
}

// Close drains staged writes and closes the database.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
