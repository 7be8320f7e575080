package config

import "github.com/opencodetree/codetree/pkg/selector"

// SelectorConfig holds every tunable of the UCT-style scoring formula used
// by the scheduler's select step. Field names and defaults
// mirror selector.Weights / selector.DefaultWeights directly.
type SelectorConfig struct {
	ExploitationWeight float64 `yaml:"exploitation_weight"`
	UseAverageReward   bool    `yaml:"use_average_reward"`
	ExplorationWeight  float64 `yaml:"exploration_weight"`
	DepthWeight        float64 `yaml:"depth_weight"`
	DepthBonusFactor   float64 `yaml:"depth_bonus_factor"`
	SoftDepthLimit     float64 `yaml:"soft_depth_limit"`

	HighValueThreshold     float64 `yaml:"high_value_threshold"`
	LowValueThreshold      float64 `yaml:"low_value_threshold"`
	VeryHighValueThreshold float64 `yaml:"very_high_value_threshold"`

	HighValueLeafBonusConstant        float64 `yaml:"high_value_leaf_bonus_constant"`
	HighValueBadChildrenBonusConstant float64 `yaml:"high_value_bad_children_bonus_constant"`
	HighValueChildPenaltyConstant     float64 `yaml:"high_value_child_penalty_constant"`
	HighValueParentBonusConstant      float64 `yaml:"high_value_parent_bonus_constant"`

	FinishedTrajectoryPenalty float64 `yaml:"finished_trajectory_penalty"`
	ExpectCorrectionBonus     float64 `yaml:"expect_correction_bonus"`

	CheckForBadChildActions []string `yaml:"check_for_bad_child_actions,omitempty"`

	DiversityWeight                float64 `yaml:"diversity_weight"`
	DuplicateChildPenaltyConstant  float64 `yaml:"duplicate_child_penalty_constant"`
	DuplicateActionPenaltyConstant float64 `yaml:"duplicate_action_penalty_constant"`
}

// DefaultSelectorConfig returns the stock constants,
// translated 1:1 from selector.DefaultWeights.
func DefaultSelectorConfig() *SelectorConfig {
	w := selector.DefaultWeights()
	return weightsToConfig(w)
}

func weightsToConfig(w selector.Weights) *SelectorConfig {
	return &SelectorConfig{
		ExploitationWeight:                w.ExploitationWeight,
		UseAverageReward:                  w.UseAverageReward,
		ExplorationWeight:                 w.ExplorationWeight,
		DepthWeight:                       w.DepthWeight,
		DepthBonusFactor:                  w.DepthBonusFactor,
		SoftDepthLimit:                    w.SoftDepthLimit,
		HighValueThreshold:                w.HighValueThreshold,
		LowValueThreshold:                 w.LowValueThreshold,
		VeryHighValueThreshold:            w.VeryHighValueThreshold,
		HighValueLeafBonusConstant:        w.HighValueLeafBonusConstant,
		HighValueBadChildrenBonusConstant: w.HighValueBadChildrenBonusConstant,
		HighValueChildPenaltyConstant:     w.HighValueChildPenaltyConstant,
		HighValueParentBonusConstant:      w.HighValueParentBonusConstant,
		FinishedTrajectoryPenalty:         w.FinishedTrajectoryPenalty,
		ExpectCorrectionBonus:             w.ExpectCorrectionBonus,
		CheckForBadChildActions:           w.CheckForBadChildActions,
		DiversityWeight:                   w.DiversityWeight,
		DuplicateChildPenaltyConstant:     w.DuplicateChildPenaltyConstant,
		DuplicateActionPenaltyConstant:    w.DuplicateActionPenaltyConstant,
	}
}

// ToWeights converts the loaded configuration into the selector.Weights the
// scheduler's Selector is constructed with.
func (c *SelectorConfig) ToWeights() selector.Weights {
	return selector.Weights{
		ExploitationWeight:                c.ExploitationWeight,
		UseAverageReward:                  c.UseAverageReward,
		ExplorationWeight:                 c.ExplorationWeight,
		DepthWeight:                       c.DepthWeight,
		DepthBonusFactor:                  c.DepthBonusFactor,
		SoftDepthLimit:                    c.SoftDepthLimit,
		HighValueThreshold:                c.HighValueThreshold,
		LowValueThreshold:                 c.LowValueThreshold,
		VeryHighValueThreshold:            c.VeryHighValueThreshold,
		HighValueLeafBonusConstant:        c.HighValueLeafBonusConstant,
		HighValueBadChildrenBonusConstant: c.HighValueBadChildrenBonusConstant,
		HighValueChildPenaltyConstant:     c.HighValueChildPenaltyConstant,
		HighValueParentBonusConstant:      c.HighValueParentBonusConstant,
		FinishedTrajectoryPenalty:         c.FinishedTrajectoryPenalty,
		ExpectCorrectionBonus:             c.ExpectCorrectionBonus,
		CheckForBadChildActions:           c.CheckForBadChildActions,
		DiversityWeight:                   c.DiversityWeight,
		DuplicateChildPenaltyConstant:     c.DuplicateChildPenaltyConstant,
		DuplicateActionPenaltyConstant:    c.DuplicateActionPenaltyConstant,
	}
}
