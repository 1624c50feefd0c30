package approval

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pixil98/go-testutil"

	"github.com/worldsmith/engine/internal/effect"
	"github.com/worldsmith/engine/internal/game"
)

type fakeEffectRunner struct {
	mu      sync.Mutex
	batches [][]game.Effect
}

func (f *fakeEffectRunner) ExecuteEffects(ctx context.Context, worldID string, effects []game.Effect, source effect.Source) effect.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, effects)
	return effect.Result{Executed: len(effects)}
}

func (f *fakeEffectRunner) lastBatch() []game.Effect {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		return nil
	}
	return f.batches[len(f.batches)-1]
}

func proposal() OutcomeProposal {
	return OutcomeProposal{
		ResolutionID:  "res-1",
		WorldID:       "w1",
		PCID:          "pc-1",
		PCName:        "Kestrel",
		ChallengeID:   "ch-climb",
		ChallengeName: "Scale the wall",
		Roll:          14,
		Modifier:      3,
		Total:         17,
		OutcomeKind:   "success",
		Narration:     "Kestrel finds purchase on the slick stones and hauls herself up.",
		Tools: []game.ProposedTool{
			{ID: "t1", Name: "set_flag", Arguments: map[string]string{"flag_name": "wall_scaled", "value": "true"}},
			{ID: "t2", Name: "modify_stat", Arguments: map[string]string{"character_id": "pc-1", "stat_name": "renown", "amount": "1"}},
		},
	}
}

func newOutcome(t *testing.T) (*OutcomeCoordinator, *fakeEffectRunner, *fakeRequester, *fakeBroadcaster) {
	t.Helper()
	runner := &fakeEffectRunner{}
	req := &fakeRequester{}
	cast := &fakeBroadcaster{}
	clock := &game.FrozenClock{Instant: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewOutcomeCoordinator(runner, req, cast, nil, clock, 3), runner, req, cast
}

func TestOutcome_QueueNotifiesDM(t *testing.T) {
	ctx := context.Background()
	c, _, _, cast := newOutcome(t)

	p := c.QueueForApproval(ctx, proposal())
	testutil.AssertEqual(t, "attempts", p.Attempts, 0)

	cast.mu.Lock()
	defer cast.mu.Unlock()
	testutil.AssertEqual(t, "dm notices", len(cast.dmMessages), 1)
	if !strings.Contains(cast.dmMessages[0], "res-1") {
		t.Errorf("notice missing resolution id: %s", cast.dmMessages[0])
	}
}

func TestOutcome_AcceptExecutesAllToolsAndBroadcasts(t *testing.T) {
	ctx := context.Background()
	c, runner, _, cast := newOutcome(t)

	c.QueueForApproval(ctx, proposal())

	res, err := c.ProcessDecision(ctx, "res-1", game.Decision{Kind: game.DecisionAccept})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	testutil.AssertEqual(t, "result kind", res.Kind, ResultBroadcast)
	testutil.AssertEqual(t, "executed", res.Effects.Executed, 2)
	testutil.AssertEqual(t, "tools ran", len(runner.lastBatch()), 2)
	testutil.AssertEqual(t, "broadcasts", cast.broadcastCount(), 1)

	// Consumed: a duplicate decision is stale
	if _, err := c.ProcessDecision(ctx, "res-1", game.Decision{Kind: game.DecisionAccept}); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestOutcome_AcceptWithModification(t *testing.T) {
	ctx := context.Background()
	c, runner, _, cast := newOutcome(t)

	c.QueueForApproval(ctx, proposal())

	res, err := c.ProcessDecision(ctx, "res-1", game.Decision{
		Kind:            game.DecisionAcceptWithModification,
		ModifiedContent: "Kestrel scrambles up, barely.",
		RejectedTools:   []string{"t2"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	testutil.AssertEqual(t, "narration", res.Narration, "Kestrel scrambles up, barely.")
	batch := runner.lastBatch()
	testutil.AssertEqual(t, "surviving tools", len(batch), 1)
	testutil.AssertEqual(t, "surviving kind", batch[0].Kind, game.EffectSetFlag)

	cast.mu.Lock()
	defer cast.mu.Unlock()
	if !strings.Contains(cast.broadcasts[0], "barely") {
		t.Errorf("broadcast missing edited narration: %s", cast.broadcasts[0])
	}
}

func TestOutcome_ApprovedListWins(t *testing.T) {
	ctx := context.Background()
	c, runner, _, _ := newOutcome(t)

	c.QueueForApproval(ctx, proposal())

	_, err := c.ProcessDecision(ctx, "res-1", game.Decision{
		Kind:          game.DecisionAcceptWithModification,
		ApprovedTools: []string{"t2"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	batch := runner.lastBatch()
	testutil.AssertEqual(t, "surviving tools", len(batch), 1)
	testutil.AssertEqual(t, "surviving kind", batch[0].Kind, game.EffectModifyStat)
}

func TestOutcome_TakeOverSkipsTools(t *testing.T) {
	ctx := context.Background()
	c, runner, _, cast := newOutcome(t)

	c.QueueForApproval(ctx, proposal())

	res, err := c.ProcessDecision(ctx, "res-1", game.Decision{
		Kind:        game.DecisionTakeOver,
		Replacement: "The DM describes the climb in their own words.",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	testutil.AssertEqual(t, "result kind", res.Kind, ResultBroadcast)
	testutil.AssertEqual(t, "narration", res.Narration, "The DM describes the climb in their own words.")
	testutil.AssertEqual(t, "no tools ran", len(runner.lastBatch()), 0)
	testutil.AssertEqual(t, "broadcasts", cast.broadcastCount(), 1)
}

func TestOutcome_RejectRegenerates(t *testing.T) {
	ctx := context.Background()
	c, _, req, _ := newOutcome(t)

	c.QueueForApproval(ctx, proposal())

	res, err := c.ProcessDecision(ctx, "res-1", game.Decision{
		Kind:     game.DecisionReject,
		Feedback: "too heroic, this character is terrified of heights",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	testutil.AssertEqual(t, "result kind", res.Kind, ResultRegenerating)

	reqs := req.all()
	testutil.AssertEqual(t, "model requests", len(reqs), 1)
	testutil.AssertEqual(t, "guidance", reqs[0].Guidance, "too heroic, this character is terrified of heights")
	testutil.AssertEqual(t, "callback", reqs[0].CallbackID, "res-1")

	// Still pending, waiting for the regenerated version
	got, err := c.GetByID("res-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "generating", got.Generating, true)
	testutil.AssertEqual(t, "attempts", got.Attempts, 1)
}

func TestOutcome_RegeneratedProposalKeepsAttempts(t *testing.T) {
	ctx := context.Background()
	c, _, _, _ := newOutcome(t)

	c.QueueForApproval(ctx, proposal())
	if _, err := c.ProcessDecision(ctx, "res-1", game.Decision{Kind: game.DecisionReject}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The regenerated proposal comes back under the same resolution id
	p := proposal()
	p.Narration = "Kestrel freezes halfway up, knuckles white."
	got := c.QueueForApproval(ctx, p)

	testutil.AssertEqual(t, "attempts preserved", got.Attempts, 1)
	testutil.AssertEqual(t, "generating cleared", got.Generating, false)
	testutil.AssertEqual(t, "narration replaced", got.Narration, p.Narration)
}

func TestOutcome_RetriesExhausted(t *testing.T) {
	ctx := context.Background()
	c, _, _, _ := newOutcome(t)

	c.QueueForApproval(ctx, proposal())

	reject := game.Decision{Kind: game.DecisionReject, Feedback: "no"}
	for i := 0; i < 2; i++ {
		res, err := c.ProcessDecision(ctx, "res-1", reject)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		testutil.AssertEqual(t, "result kind", res.Kind, ResultRegenerating)
	}

	res, err := c.ProcessDecision(ctx, "res-1", reject)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "result kind", res.Kind, ResultRetriesExhausted)

	if _, err := c.GetByID("res-1"); err != ErrNotFound {
		t.Errorf("expected dropped outcome, got %v", err)
	}
}

func TestOutcome_UnknownResolution(t *testing.T) {
	ctx := context.Background()
	c, _, _, _ := newOutcome(t)

	if _, err := c.ProcessDecision(ctx, "missing", game.Decision{Kind: game.DecisionAccept}); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestOutcome_Branches(t *testing.T) {
	ctx := context.Background()
	c, _, req, _ := newOutcome(t)

	c.QueueForApproval(ctx, proposal())

	if err := c.RequestBranches(ctx, "res-1", "darker tone"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reqs := req.all()
	testutil.AssertEqual(t, "request kind", reqs[0].Kind, game.ModelRequestOutcomeBranches)

	branches := []string{
		"She makes it look easy.",
		"She slips twice before cresting the wall.",
		"A guard hears the scrape of her boots.",
	}
	if err := c.SetBranches(ctx, "res-1", branches); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := c.SelectBranch(ctx, "res-1", 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := c.GetByID("res-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "narration", got.Narration, branches[2])

	if err := c.SelectBranch(ctx, "res-1", 7); err == nil {
		t.Error("expected out of range error")
	}
}

func TestOutcome_BadToolSkippedOthersRun(t *testing.T) {
	ctx := context.Background()
	c, runner, _, _ := newOutcome(t)

	p := proposal()
	p.Tools = []game.ProposedTool{
		{ID: "t1", Name: "summon_dragon", Arguments: map[string]string{}},
		{ID: "t2", Name: "give_item", Arguments: map[string]string{"character_id": "pc-1", "item_name": "rope", "quantity": "2"}},
		{ID: "t3", Name: "modify_stat", Arguments: map[string]string{"character_id": "pc-1", "stat_name": "renown", "amount": "not-a-number"}},
	}
	c.QueueForApproval(ctx, p)

	res, err := c.ProcessDecision(ctx, "res-1", game.Decision{Kind: game.DecisionAccept})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	testutil.AssertEqual(t, "result kind", res.Kind, ResultBroadcast)
	batch := runner.lastBatch()
	testutil.AssertEqual(t, "surviving tools", len(batch), 1)
	testutil.AssertEqual(t, "surviving kind", batch[0].Kind, game.EffectGiveItem)
	testutil.AssertEqual(t, "quantity", batch[0].Quantity, 2)
}
