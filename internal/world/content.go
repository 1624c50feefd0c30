package world

import (
	"github.com/worldsmith/engine/internal/game"
)

// TriggerStorer is the authored trigger content source. Satisfied by the
// file store.
type TriggerStorer interface {
	GetAll() map[string]*game.TriggerSet
}

// TriggerLibrary exposes authored trigger sets per world.
type TriggerLibrary struct {
	store TriggerStorer
}

func NewTriggerLibrary(store TriggerStorer) *TriggerLibrary {
	return &TriggerLibrary{store: store}
}

func (l *TriggerLibrary) TriggersForWorld(worldID string) []game.Trigger {
	var out []game.Trigger
	for _, set := range l.store.GetAll() {
		if set.WorldID == worldID {
			out = append(out, set.Triggers...)
		}
	}
	return out
}

// RegionStorer is the authored region content source. Satisfied by the
// file store.
type RegionStorer interface {
	Get(id string) *game.Region
}

// FallbackCast builds the rule-based staging proposer from authored region
// content: the region's default cast, or an empty region when the content
// has no entry.
func FallbackCast(regions RegionStorer) func(worldID, regionID string, pcs []game.WaitingPC) []game.NPCProposal {
	return func(worldID, regionID string, pcs []game.WaitingPC) []game.NPCProposal {
		r := regions.Get(regionID)
		if r == nil {
			return nil
		}
		return append([]game.NPCProposal(nil), r.DefaultCast...)
	}
}
