// Package scoring turns chain step results into a weighted suitability score.
package scoring

import (
	"strings"
	"time"

	"github.com/spigell/hh-analyzer/internal/identity"
	"github.com/spigell/hh-analyzer/internal/models"
	"github.com/spigell/hh-analyzer/internal/utils"
)

// AlgorithmVersion is stored with every score.
const AlgorithmVersion = "chain-v1"

// StepData holds decoded step objects by step id.
type StepData map[string]map[string]any

// Result is the score of one posting.
type Result struct {
	PostingID        string   `json:"posting_id"`
	Total            int      `json:"total_score"`
	Rating           Rating   `json:"rating"`
	PositiveFactors  []string `json:"positive_factors"`
	NegativeFactors  []string `json:"negative_factors"`
	AlgorithmVersion string   `json:"algorithm_version"`
	// Invalid lists steps whose data could not be read and were left out.
	Invalid []string `json:"invalid_steps,omitempty"`
}

type rule struct {
	delta int
	label string
}

func (r *Result) apply(ru rule) {
	r.Total += ru.delta
	if ru.label == "" {
		return
	}
	switch {
	case ru.delta > 0:
		r.PositiveFactors = append(r.PositiveFactors, ru.label)
	case ru.delta < 0:
		r.NegativeFactors = append(r.NegativeFactors, ru.label)
	}
}

var (
	workModeRules = map[string]rule{
		"remote":          {50, "Remote work"},
		"flexible":        {40, "Flexible schedule"},
		"hybrid_flexible": {20, "Flexible hybrid"},
		"hybrid":          {0, ""},
		"hybrid_2_3":      {0, ""},
		"hybrid_3_2":      {-20, "Mostly office hybrid"},
		"hybrid_4_1":      {-50, "Almost office"},
		"office":          {-100, "Office only"},
	}

	aiPresenceRules = map[string]rule{
		"allowed_for_dev":      {30, "AI allowed in development"},
		"llm_project_optional": {40, "Optional LLM project"},
		"llm_project_required": {-50, "LLM work required"},
	}

	salaryRules = map[string]rule{
		"high_400plus":   {100, "Salary 400k+"},
		"upper_350_400":  {50, "Salary 350-400k"},
		"middle_300_350": {0, ""},
		"lower_250_300":  {-100, "Salary 250-300k"},
		"below_250":      {-200, "Salary below 250k"},
	}

	salaryWithBonusRules = map[string]rule{
		"upper_350_400":  {60, "Salary 350-400k with bonus"},
		"middle_300_350": {20, "Salary 300-350k with bonus"},
	}

	companyCategoryRules = map[string]rule{
		"positive":    {80, "Useful company"},
		"problematic": {-50, "Problematic company"},
		"toxic":       {-150, "Toxic company"},
	}

	projectCategoryRules = map[string]rule{
		"positive":    {60, "Useful project"},
		"problematic": {-60, "Problematic project"},
		"toxic":       {-100, "Toxic project"},
	}

	directionRules = map[string]rule{
		"healthcare":      {40, "Healthcare domain"},
		"education":       {40, "Education domain"},
		"ecology":         {40, "Ecology domain"},
		"microcredit":     {-50, "Harmful industry"},
		"tobacco_alcohol": {-50, "Harmful industry"},
		"weapons":         {-50, "Harmful industry"},
		"dating":          {-50, "Harmful industry"},
	}

	workFormatRules = map[string]rule{
		"remote_global": {100, "Remote from any country"},
		"office_only":   {-100, "Office only"},
	}

	relocationRules = map[string]rule{
		"assisted":           {-100, "Relocation with assistance"},
		"required_no_help":   {-100, "Relocation required"},
		"mandatory_specific": {-100, "Relocation required"},
	}
)

// Score evaluates the rule table over the step data. It is pure: the same
// input always gives the same result.
func Score(postingID string, data StepData) Result {
	res := Result{
		PostingID:        postingID,
		PositiveFactors:  []string{},
		NegativeFactors:  []string{},
		AlgorithmVersion: AlgorithmVersion,
	}

	jmixAwarded := false

	var primary primaryView
	if res.read(data, "primary", &primary) {
		if primary.Java {
			res.apply(rule{100, "Java"})
		}
		if primary.Jmix {
			res.apply(rule{150, "Jmix"})
			jmixAwarded = true
		}
	}

	var social socialView
	if res.read(data, "social", &social) {
		res.applyKey(workModeRules, social.WorkMode)
		if social.SociallySignificant {
			res.apply(rule{40, "Socially significant project"})
		}
	}

	var technical technicalView
	if res.read(data, "technical", &technical) {
		if norm(technical.RoleType) == "other" {
			res.apply(rule{-100, "Non-development role"})
		}
		if norm(technical.PositionLevel) == "junior" {
			res.apply(rule{-20, ""})
		}
		for _, token := range tokens(technical.Stack) {
			if token == "frontend" {
				res.apply(rule{30, ""})
			}
		}
		for _, token := range tokens(technical.AIPresence) {
			res.applyKey(aiPresenceRules, token)
		}
		if technical.Jmix && !jmixAwarded {
			res.apply(rule{150, "Jmix"})
		}
	}

	var compensation compensationView
	if res.read(data, "compensation", &compensation) && compensation.SalarySpecified {
		salaryRange := norm(compensation.SalaryRange)
		if r, ok := salaryWithBonusRules[salaryRange]; ok && compensation.BonusesAvailable {
			res.apply(r)
		} else {
			res.applyKey(salaryRules, salaryRange)
		}
		if !compensation.SalaryWhite {
			res.apply(rule{-200, "Gray salary"})
		}
		if compensation.EquityOffered {
			res.apply(rule{100, "Equity"})
		}
	}

	var benefits benefitsView
	if res.read(data, "benefits", &benefits) {
		for _, b := range []struct {
			on bool
			r  rule
		}{
			{benefits.HealthInsurance, rule{30, "Health insurance"}},
			{benefits.ExtendedVacation, rule{40, "Extended vacation"}},
			{benefits.WellnessCompensation, rule{25, "Wellness compensation"}},
			{benefits.EducationCompensation, rule{30, "Education compensation"}},
			{benefits.ConferencesBudget, rule{10, "Conference budget"}},
			{benefits.InternalTraining, rule{20, "Internal training"}},
			{benefits.PaidSickLeave, rule{25, "Paid sick leave"}},
		} {
			if b.on {
				res.apply(b.r)
			}
		}
	}

	var equipment equipmentView
	if res.read(data, "equipment", &equipment) {
		switch norm(equipment.EquipmentType) {
		case "macbook_pro":
			res.apply(rule{40, "MacBook provided"})
		case "byod":
			switch norm(equipment.BYODCompensation) {
			case "full":
				res.apply(rule{40, "Full equipment compensation"})
			case "partial":
				res.apply(rule{40, "Partial equipment compensation"})
			}
		}
		for _, token := range tokens(equipment.AdditionalEquipment) {
			switch token {
			case "monitors":
				res.apply(rule{10, "Monitors provided"})
			case "peripherals":
				res.apply(rule{5, "Peripherals provided"})
			}
		}
	}

	var industry industryView
	if res.read(data, "industry", &industry) {
		company := norm(industry.CompanyCategory)
		res.applyKey(companyCategoryRules, company)
		if project := norm(industry.ProjectCategory); project != "" && project != company {
			res.applyKey(projectCategoryRules, project)
		}

		seen := make(map[string]struct{})
		for _, token := range append(tokens(industry.CompanyDirection), tokens(industry.ProjectDirection)...) {
			if _, dup := seen[token]; dup {
				continue
			}
			seen[token] = struct{}{}
			res.applyKey(directionRules, token)
		}
	}

	var conditions workConditionsView
	if res.read(data, "work_conditions", &conditions) {
		res.applyKey(workFormatRules, conditions.WorkFormat)
		res.applyKey(relocationRules, conditions.RelocationRequired)
	}

	var stops stopFactorsView
	if res.read(data, "stop_factors", &stops) {
		if stops.ToxicCulture {
			res.apply(rule{-300, "Toxic culture"})
		}
		if stops.BannedDomain {
			res.apply(rule{-500, "Banned domain"})
		}
	}

	res.Rating = RatingFor(res.Total)
	return res
}

func (r *Result) read(data StepData, step string, out any) bool {
	ok, err := decode(data[step], out)
	if err != nil {
		r.Invalid = append(r.Invalid, step)
		return false
	}
	return ok
}

func (r *Result) applyKey(rules map[string]rule, key string) {
	if ru, ok := rules[norm(key)]; ok {
		r.apply(ru)
	}
}

// Record converts the result into its stored form.
func (r Result) Record(now time.Time) models.PostingScore {
	return models.PostingScore{
		ID:               identity.Score(r.PostingID),
		PostingID:        r.PostingID,
		TotalScore:       r.Total,
		Rating:           string(r.Rating),
		PositiveFactors:  r.PositiveFactors,
		NegativeFactors:  r.NegativeFactors,
		AlgorithmVersion: r.AlgorithmVersion,
		CalculatedAt:     now,
	}
}

func norm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func tokens(s string) []string {
	parts := utils.SplitPipe(s)
	for i := range parts {
		parts[i] = norm(parts[i])
	}
	return parts
}
