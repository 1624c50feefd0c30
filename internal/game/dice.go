package game

// CheckResult is one resolved d20 check.
type CheckResult struct {
	Roll     int    `json:"roll"`
	Modifier int    `json:"modifier"`
	Total    int    `json:"total"`
	Outcome  string `json:"outcome"`
	// RolledAt is the roll time in unix seconds, for session logs.
	RolledAt int64 `json:"rolled_at"`
}

// Check outcomes. A natural 20 or 1 overrides the total comparison.
const (
	CheckSuccess         = "success"
	CheckFailure         = "failure"
	CheckCriticalSuccess = "critical_success"
	CheckCriticalFailure = "critical_failure"
)

const defaultDifficulty = 10

// ResolveCheck rolls a d20 with a modifier against a difficulty.
// Difficulty 0 means the challenge did not specify one and falls back
// to 10.
func ResolveCheck(r Random, clock Clock, modifier, difficulty int) CheckResult {
	if difficulty <= 0 {
		difficulty = defaultDifficulty
	}

	roll := r.IntRange(1, 20)
	total := roll + modifier

	outcome := CheckFailure
	switch {
	case roll == 20:
		outcome = CheckCriticalSuccess
	case roll == 1:
		outcome = CheckCriticalFailure
	case total >= difficulty:
		outcome = CheckSuccess
	}

	return CheckResult{
		Roll:     roll,
		Modifier: modifier,
		Total:    total,
		Outcome:  outcome,
		RolledAt: clock.NowUnix(),
	}
}
