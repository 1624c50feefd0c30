// Package world persists per-world runtime state: story flags, challenge
// and event availability, inventories, relationships, stats, scenes, and
// the committed region stagings. It backs the effect executor's ports and
// builds the snapshots trigger evaluation runs against.
package world

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/worldsmith/engine/internal/game"
)

const (
	toggleChallenge = "challenge"
	toggleEvent     = "event"
)

// Store is the SQLite-backed world state repository.
type Store struct {
	db    *sql.DB
	clock game.Clock
}

func NewStore(db *sql.DB, clock game.Clock) *Store {
	return &Store{db: db, clock: clock}
}

func (s *Store) SetFlag(ctx context.Context, worldID, name string, value bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO world_flags (world_id, name, value) VALUES (?, ?, ?)
		 ON CONFLICT (world_id, name) DO UPDATE SET value = excluded.value`,
		worldID, name, boolInt(value))
	if err != nil {
		return fmt.Errorf("setting flag %s: %w", name, err)
	}
	return nil
}

func (s *Store) SetChallengeEnabled(ctx context.Context, worldID, challengeID string, enabled bool) error {
	return s.setToggle(ctx, worldID, toggleChallenge, challengeID, enabled)
}

func (s *Store) SetEventEnabled(ctx context.Context, worldID, eventID string, enabled bool) error {
	return s.setToggle(ctx, worldID, toggleEvent, eventID, enabled)
}

func (s *Store) setToggle(ctx context.Context, worldID, kind, targetID string, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO world_toggles (world_id, kind, target_id, enabled) VALUES (?, ?, ?, ?)
		 ON CONFLICT (world_id, kind, target_id) DO UPDATE SET enabled = excluded.enabled`,
		worldID, kind, targetID, boolInt(enabled))
	if err != nil {
		return fmt.Errorf("toggling %s %s: %w", kind, targetID, err)
	}
	return nil
}

// MarkChallengeCompleted records a challenge as done. Completion is sticky
// and independent of the enabled toggle.
func (s *Store) MarkChallengeCompleted(ctx context.Context, worldID, challengeID string) error {
	return s.markCompleted(ctx, worldID, toggleChallenge, challengeID)
}

// MarkEventCompleted records a narrative event as done, which keeps its
// trigger from ever firing again.
func (s *Store) MarkEventCompleted(ctx context.Context, worldID, eventID string) error {
	return s.markCompleted(ctx, worldID, toggleEvent, eventID)
}

func (s *Store) markCompleted(ctx context.Context, worldID, kind, targetID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO world_toggles (world_id, kind, target_id, enabled, completed) VALUES (?, ?, ?, 1, 1)
		 ON CONFLICT (world_id, kind, target_id) DO UPDATE SET completed = 1`,
		worldID, kind, targetID)
	if err != nil {
		return fmt.Errorf("completing %s %s: %w", kind, targetID, err)
	}
	return nil
}

func (s *Store) GiveItem(ctx context.Context, worldID, characterID, item string, quantity int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO world_items (world_id, character_id, item_name, quantity) VALUES (?, ?, ?, ?)
		 ON CONFLICT (world_id, character_id, item_name) DO UPDATE SET quantity = quantity + excluded.quantity`,
		worldID, characterID, item, quantity)
	if err != nil {
		return fmt.Errorf("giving %s to %s: %w", item, characterID, err)
	}
	return nil
}

func (s *Store) TakeItem(ctx context.Context, worldID, characterID, item string, quantity int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE world_items SET quantity = quantity - ?
		 WHERE world_id = ? AND character_id = ? AND item_name = ? AND quantity >= ?`,
		quantity, worldID, characterID, item, quantity)
	if err != nil {
		return fmt.Errorf("taking %s from %s: %w", item, characterID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s does not hold %dx %s", characterID, quantity, item)
	}

	// Drop emptied rows so inventories stay readable
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM world_items WHERE world_id = ? AND character_id = ? AND item_name = ? AND quantity <= 0`,
		worldID, characterID, item)
	if err != nil {
		return fmt.Errorf("pruning empty item row: %w", err)
	}
	return nil
}

// ItemQuantity returns how many of an item a character holds.
func (s *Store) ItemQuantity(ctx context.Context, worldID, characterID, item string) (int, error) {
	var qty int
	err := s.db.QueryRowContext(ctx,
		`SELECT quantity FROM world_items WHERE world_id = ? AND character_id = ? AND item_name = ?`,
		worldID, characterID, item).Scan(&qty)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading item quantity: %w", err)
	}
	return qty, nil
}

func (s *Store) AdjustRelationship(ctx context.Context, worldID, from, to string, delta int, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO world_relationships (world_id, from_character, to_character, sentiment) VALUES (?, ?, ?, ?)
		 ON CONFLICT (world_id, from_character, to_character) DO UPDATE SET sentiment = sentiment + excluded.sentiment`,
		worldID, from, to, delta)
	if err != nil {
		return fmt.Errorf("adjusting relationship %s->%s: %w", from, to, err)
	}
	return nil
}

// Sentiment returns the current sentiment from one character toward another.
func (s *Store) Sentiment(ctx context.Context, worldID, from, to string) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx,
		`SELECT sentiment FROM world_relationships WHERE world_id = ? AND from_character = ? AND to_character = ?`,
		worldID, from, to).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading sentiment: %w", err)
	}
	return v, nil
}

func (s *Store) AdjustStat(ctx context.Context, worldID, characterID, stat string, amount int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO world_stats (world_id, character_id, stat_name, value) VALUES (?, ?, ?, ?)
		 ON CONFLICT (world_id, character_id, stat_name) DO UPDATE SET value = value + excluded.value`,
		worldID, characterID, stat, amount)
	if err != nil {
		return fmt.Errorf("adjusting stat %s for %s: %w", stat, characterID, err)
	}
	return nil
}

func (s *Store) TriggerScene(ctx context.Context, worldID, sceneID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO world_scenes (world_id, current_scene) VALUES (?, ?)
		 ON CONFLICT (world_id) DO UPDATE SET current_scene = excluded.current_scene`,
		worldID, sceneID)
	if err != nil {
		return fmt.Errorf("triggering scene %s: %w", sceneID, err)
	}
	return nil
}

// SetLocation records the party's current location for trigger evaluation.
func (s *Store) SetLocation(ctx context.Context, worldID, locationID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO world_scenes (world_id, current_location) VALUES (?, ?)
		 ON CONFLICT (world_id) DO UPDATE SET current_location = excluded.current_location`,
		worldID, locationID)
	if err != nil {
		return fmt.Errorf("setting location %s: %w", locationID, err)
	}
	return nil
}

func (s *Store) StartCombat(ctx context.Context, worldID string, participants []string) error {
	// Combat is modeled as a scene; the participant roster rides along in
	// the scene id for clients to unpack.
	raw, err := json.Marshal(participants)
	if err != nil {
		return fmt.Errorf("encoding participants: %w", err)
	}
	return s.TriggerScene(ctx, worldID, "combat:"+string(raw))
}

// ApplyStaging commits an approved NPC staging for a region.
func (s *Store) ApplyStaging(ctx context.Context, worldID, regionID string, npcs []game.NPCProposal) error {
	raw, err := json.Marshal(npcs)
	if err != nil {
		return fmt.Errorf("encoding staging: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO world_staging (world_id, region_id, npcs, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (world_id, region_id) DO UPDATE SET npcs = excluded.npcs, updated_at = excluded.updated_at`,
		worldID, regionID, string(raw), s.clock.NowMillis())
	if err != nil {
		return fmt.Errorf("saving staging for %s/%s: %w", worldID, regionID, err)
	}
	return nil
}

// CurrentStaging returns the committed NPC staging for a region, nil when
// the region has never been staged.
func (s *Store) CurrentStaging(ctx context.Context, worldID, regionID string) ([]game.NPCProposal, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT npcs FROM world_staging WHERE world_id = ? AND region_id = ?`,
		worldID, regionID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading staging for %s/%s: %w", worldID, regionID, err)
	}

	var npcs []game.NPCProposal
	if err := json.Unmarshal([]byte(raw), &npcs); err != nil {
		return nil, fmt.Errorf("decoding staging for %s/%s: %w", worldID, regionID, err)
	}
	return npcs, nil
}

// Snapshot builds the read-only view trigger evaluation runs against.
func (s *Store) Snapshot(ctx context.Context, worldID string) (*game.StateSnapshot, error) {
	snap := &game.StateSnapshot{
		WorldID:        worldID,
		ActiveFlags:    map[string]bool{},
		CharacterStats: map[string]map[string]int{},
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value FROM world_flags WHERE world_id = ?`, worldID)
	if err != nil {
		return nil, fmt.Errorf("reading flags: %w", err)
	}
	for rows.Next() {
		var name string
		var value int
		if err := rows.Scan(&name, &value); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning flag: %w", err)
		}
		snap.ActiveFlags[name] = value != 0
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("reading flags: %w", err)
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT kind, target_id, enabled, completed FROM world_toggles WHERE world_id = ?`, worldID)
	if err != nil {
		return nil, fmt.Errorf("reading toggles: %w", err)
	}
	for rows.Next() {
		var kind, targetID string
		var enabled, completed int
		if err := rows.Scan(&kind, &targetID, &enabled, &completed); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning toggle: %w", err)
		}
		switch kind {
		case toggleChallenge:
			if completed == 1 {
				snap.CompletedChallenges = append(snap.CompletedChallenges, targetID)
			}
			if enabled == 0 {
				snap.DisabledChallenges = append(snap.DisabledChallenges, targetID)
			}
		case toggleEvent:
			if completed == 1 {
				snap.CompletedEvents = append(snap.CompletedEvents, targetID)
			}
			if enabled == 0 {
				snap.DisabledEvents = append(snap.DisabledEvents, targetID)
			}
		}
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("reading toggles: %w", err)
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT character_id, stat_name, value FROM world_stats WHERE world_id = ?`, worldID)
	if err != nil {
		return nil, fmt.Errorf("reading stats: %w", err)
	}
	for rows.Next() {
		var characterID, stat string
		var value int
		if err := rows.Scan(&characterID, &stat, &value); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning stat: %w", err)
		}
		if snap.CharacterStats[characterID] == nil {
			snap.CharacterStats[characterID] = map[string]int{}
		}
		snap.CharacterStats[characterID][stat] = value
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("reading stats: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT current_scene, current_location FROM world_scenes WHERE world_id = ?`,
		worldID).Scan(&snap.CurrentScene, &snap.CurrentLocation)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("reading scene: %w", err)
	}

	return snap, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
