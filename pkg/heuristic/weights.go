package heuristic

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// weightsFile is the on-disk shape of a weight-override file:
//
//	checks:
//	  Tautology: 60
//	  CommentMarker: 10
//	keyword_cluster_bonus: 20
//
// Only the listed labels are reweighted; everything else keeps its built-in
// weight. The pattern set itself is fixed (no dynamic rule loading).
type weightsFile struct {
	Checks              map[string]int `yaml:"checks"`
	KeywordClusterBonus *int           `yaml:"keyword_cluster_bonus"`
}

func (s *Scorer) applyWeightOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read heuristic weights: %w", err)
	}

	var wf weightsFile
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return fmt.Errorf("parse heuristic weights: %w", err)
	}

	for label, weight := range wf.Checks {
		if weight < 0 || weight > MaxScore {
			return fmt.Errorf("weight for %q out of range: %d", label, weight)
		}
		found := false
		for i := range s.checks {
			if s.checks[i].Label == label {
				s.checks[i].Weight = weight
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown check label %q in weights file", label)
		}
	}

	if wf.KeywordClusterBonus != nil {
		if *wf.KeywordClusterBonus < 0 || *wf.KeywordClusterBonus > MaxScore {
			return fmt.Errorf("keyword_cluster_bonus out of range: %d", *wf.KeywordClusterBonus)
		}
		s.bonus = *wf.KeywordClusterBonus
	}
	return nil
}
