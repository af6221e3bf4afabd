// ABOUTME: Risk classification with hard lab and red-flag rules over reasoning
// ABOUTME: A deterministic rule hit always wins; the reasoner is a fallback only

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/medforce/intake-gateway/internal/diary"
)

// highLabRules trigger an immediate high classification. Each rule is
// a threshold on one lab value.
var highLabRules = []labRule{
	{"bilirubin", above, 5},
	{"alt", above, 500},
	{"ast", above, 500},
	{"platelets", below, 50},
	{"inr", above, 2},
}

// mediumLabRules trigger at least medium when no high rule fired.
var mediumLabRules = []labRule{
	{"bilirubin", above, 2},
	{"alt", above, 200},
	{"ast", above, 200},
	{"platelets", below, 100},
	{"inr", above, 1.5},
}

// redFlags are symptom keywords that force a high classification
// regardless of lab values.
var redFlags = []string{"jaundice", "confusion", "encephalopathy", "ascites"}

type direction int

const (
	above direction = iota
	below
)

type labRule struct {
	lab       string
	dir       direction
	threshold float64
}

func (r labRule) fires(v float64) bool {
	if r.dir == above {
		return v > r.threshold
	}
	return v < r.threshold
}

func (r labRule) String() string {
	op := ">"
	if r.dir == below {
		op = "<"
	}
	return fmt.Sprintf("%s %s %g", r.lab, op, r.threshold)
}

// RiskScorer classifies a patient's clinical risk. The reasoner is
// optional; without it, rule misses fall back to a conservative
// default.
type RiskScorer struct {
	reasoner Reasoner
	logger   *slog.Logger
}

// NewRiskScorer creates a scorer. reasoner may be nil.
func NewRiskScorer(reasoner Reasoner, logger *slog.Logger) *RiskScorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &RiskScorer{reasoner: reasoner, logger: logger.With("component", "riskscore")}
}

// Score classifies the diary's clinical picture. The rationale names
// the rule that fired, or the reasoning source.
func (s *RiskScorer) Score(ctx context.Context, d *diary.Diary) (diary.RiskLevel, string) {
	labs := d.Clinical.LabResults
	for _, r := range highLabRules {
		if v, ok := labs[r.lab]; ok && r.fires(v) {
			return diary.RiskHigh, fmt.Sprintf("lab rule %s (value %g)", r, v)
		}
	}
	narrative := s.narrative(d)
	for _, flag := range redFlags {
		if strings.Contains(narrative, flag) {
			return diary.RiskHigh, fmt.Sprintf("red flag symptom %q", flag)
		}
	}
	for _, r := range mediumLabRules {
		if v, ok := labs[r.lab]; ok && r.fires(v) {
			return diary.RiskMedium, fmt.Sprintf("lab rule %s (value %g)", r, v)
		}
	}

	if len(labs) == 0 && narrative == "" {
		return diary.RiskMedium, "no clinical data, conservative default"
	}

	if s.reasoner != nil {
		level, err := s.consultReasoner(ctx, d, narrative)
		if err == nil {
			return level, "reasoning assessment, no deterministic rule fired"
		}
		s.logger.Warn("reasoner unavailable, using conservative default", "patient_id", d.PatientID, "error", err)
		return diary.RiskMedium, "reasoner unavailable, conservative default"
	}
	// Labs on file that fired no rule still warrant a clinician's
	// look when there is nothing to reason with.
	if len(labs) > 0 {
		return diary.RiskMedium, "labs present, no rule fired, conservative default"
	}
	return diary.RiskLow, "unremarkable narrative, no rule fired"
}

func (s *RiskScorer) consultReasoner(ctx context.Context, d *diary.Diary, narrative string) (diary.RiskLevel, error) {
	prompt := fmt.Sprintf(
		"Classify hepatology referral risk as low, medium or high.\nReferral: %s\nAnswers: %s\nRespond with one word.",
		d.Clinical.ReferralSummary, narrative)
	out, err := s.reasoner.Complete(ctx, prompt)
	if err != nil {
		return diary.RiskMedium, err
	}
	switch strings.ToLower(strings.TrimSpace(out)) {
	case "low":
		return diary.RiskLow, nil
	case "high":
		return diary.RiskHigh, nil
	default:
		return diary.RiskMedium, nil
	}
}

// narrative flattens the referral summary and question answers for
// keyword matching.
func (s *RiskScorer) narrative(d *diary.Diary) string {
	var parts []string
	if d.Clinical.ReferralSummary != "" {
		parts = append(parts, d.Clinical.ReferralSummary)
	}
	for _, q := range d.Clinical.Questions {
		if q.Answer != "" {
			parts = append(parts, q.Answer)
		}
	}
	return strings.ToLower(strings.Join(parts, " "))
}
