package app

import "strings"

const LabelVaultAttack = "vault_attack"

// RuleInput is what a classification rule sees of a candidate position.
type RuleInput struct {
	Coin        string
	NotionalUSD float64
	Distance    float64
}

// RuleOutcome widens the tracked distance and tags the position.
type RuleOutcome struct {
	MaxDistance float64 // 0 leaves the default in place
	Labels      []string
	Escalate    bool // alert even below the configured minimum level
}

// ClassificationRule is a heuristic layered on top of the distance math.
// Rules never tighten thresholds, only relax and label.
type ClassificationRule interface {
	Name() string
	Apply(in RuleInput) (RuleOutcome, bool)
}

// VaultAttackRule flags large bets on illiquid coins, which can be aimed at
// draining the protocol liquidity vault rather than at directional profit.
type VaultAttackRule struct {
	majors             map[string]struct{}
	minNotional        float64
	relaxedMaxDistance float64
}

func NewVaultAttackRule(majorCoins []string, minNotional, relaxedMaxDistance float64) *VaultAttackRule {
	majors := make(map[string]struct{}, len(majorCoins))
	for _, c := range majorCoins {
		majors[strings.ToUpper(c)] = struct{}{}
	}
	return &VaultAttackRule{
		majors:             majors,
		minNotional:        minNotional,
		relaxedMaxDistance: relaxedMaxDistance,
	}
}

func (r *VaultAttackRule) Name() string {
	return LabelVaultAttack
}

func (r *VaultAttackRule) Apply(in RuleInput) (RuleOutcome, bool) {
	if _, major := r.majors[strings.ToUpper(in.Coin)]; major {
		return RuleOutcome{}, false
	}
	if in.NotionalUSD < r.minNotional {
		return RuleOutcome{}, false
	}
	return RuleOutcome{
		MaxDistance: r.relaxedMaxDistance,
		Labels:      []string{LabelVaultAttack},
		Escalate:    true,
	}, true
}
