package chain

import (
	"embed"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Step ids.
const (
	StepPrimary        = "primary"
	StepStopFactors    = "stop_factors"
	StepSocial         = "social"
	StepTechnical      = "technical"
	StepCompensation   = "compensation"
	StepBenefits       = "benefits"
	StepEquipment      = "equipment"
	StepIndustry       = "industry"
	StepWorkConditions = "work_conditions"
)

//go:embed prompts/*.md
var promptFS embed.FS

const defaultMaxLogLength = 200

var stopFlags = []struct {
	name, alias, label string
}{
	{"gray_salary", "graySalary", "gray salary"},
	{"office_only", "officeOnly", "office only"},
	{"toxic_culture", "toxicCulture", "toxic culture"},
	{"banned_domain", "bannedDomain", "banned domain"},
}

func definitions() []*llmStep {
	stopFields := make([]field, 0, len(stopFlags)+1)
	for _, f := range stopFlags {
		stopFields = append(stopFields, flag(f.name, f.alias))
	}
	stopFields = append(stopFields, flag("stop_factor_found", "stopFactorFound"))

	return []*llmStep{
		{
			id:             StepPrimary,
			description:    "Java development position check",
			maxDescription: 2000,
			fields:         []field{flag("java"), flag("jmix"), flag("ai")},
			stop: func(data map[string]any) string {
				if !boolOf(data, "java") {
					return "not a Java development position"
				}
				return ""
			},
		},
		{
			id:             StepStopFactors,
			description:    "Deal breakers: gray salary, office only, toxic culture, banned domain",
			maxDescription: 2500,
			maxTokens:      300,
			fields:         stopFields,
			finish: func(data map[string]any) {
				for _, f := range stopFlags {
					if boolOf(data, f.name) {
						data["stop_factor_found"] = true
					}
				}
			},
			stop: func(data map[string]any) string {
				var found []string
				for _, f := range stopFlags {
					if boolOf(data, f.name) {
						found = append(found, f.label)
					}
				}
				if len(found) == 0 {
					if boolOf(data, "stop_factor_found") {
						return "stop factors found"
					}
					return ""
				}
				return "stop factors found: " + strings.Join(found, ", ")
			},
		},
		{
			id:             StepSocial,
			description:    "Work mode and social significance",
			maxDescription: 2000,
			fields: []field{
				enum("work_mode", "unknown", "workMode"),
				pipe("domains", "unknown"),
				flag("socially_significant", "sociallySignificant"),
			},
			stop: func(data map[string]any) string {
				if stringOf(data, "work_mode") == "office" && !boolOf(data, "socially_significant") {
					return "office only work on a commercial project"
				}
				return ""
			},
		},
		{
			id:             StepTechnical,
			description:    "Role type, level, stack and AI usage",
			maxDescription: 2000,
			maxTokens:      200,
			fields: []field{
				enum("role_type", "unknown", "roleType"),
				enum("position_level", "unknown", "positionLevel"),
				pipe("stack", ""),
				flag("jmix"),
				enum("ai_presence", "none", "aiPresence"),
			},
			stop: func(data map[string]any) string {
				if stringOf(data, "role_type") == "other" {
					return "not a development role"
				}
				return ""
			},
		},
		{
			id:             StepCompensation,
			description:    "Salary range, transparency, bonuses and equity",
			maxDescription: 2500,
			maxTokens:      250,
			fields: []field{
				flag("salary_specified", "salarySpecified"),
				enum("salary_range", "not_specified", "salaryRange"),
				flag("salary_white", "salaryWhite"),
				flag("bonuses_available", "bonusesAvailable"),
				flag("equity_offered", "equityOffered"),
			},
		},
		{
			id:             StepBenefits,
			description:    "Insurance, vacation, education and other benefits",
			maxDescription: 2500,
			maxTokens:      250,
			fields: []field{
				flag("health_insurance", "healthInsurance"),
				flag("extended_vacation", "extendedVacation"),
				flag("wellness_compensation", "wellnessCompensation"),
				flag("coworking_compensation", "coworkingCompensation"),
				flag("education_compensation", "educationCompensation"),
				flag("conferences_budget", "conferencesBudget"),
				flag("internal_training", "internalTraining"),
				flag("paid_sick_leave", "paidSickLeave"),
			},
		},
		{
			id:             StepEquipment,
			description:    "Work equipment",
			maxDescription: 2500,
			maxTokens:      250,
			fields: []field{
				enum("equipment_type", "not_specified", "equipmentType"),
				flag("equipment_provided", "equipmentProvided"),
				enum("byod_compensation", "not_applicable", "byodCompensation"),
				pipe("additional_equipment", "none", "additionalEquipment"),
			},
		},
		{
			id:             StepIndustry,
			description:    "Company and project categories and directions",
			maxDescription: 2500,
			maxTokens:      300,
			fields: []field{
				enum("company_category", "neutral", "companyCategory"),
				enum("project_category", "neutral", "projectCategory"),
				pipe("company_direction", "", "companyDirection"),
				pipe("project_direction", "", "projectDirection"),
			},
		},
		{
			id:             StepWorkConditions,
			description:    "Work format, relocation and geography",
			maxDescription: 2500,
			maxTokens:      250,
			fields: []field{
				enum("work_format", "unknown", "workFormat"),
				enum("relocation_required", "none", "relocationRequired"),
				enum("geo_restrictions", "none", "geoRestrictions"),
			},
		},
	}
}

// Steps is the set of step executors known to the orchestrator.
type Steps struct {
	byID map[string]Step
}

// NewSteps builds every chain step on top of the model client.
func NewSteps(caller Caller, logger *zap.Logger) (*Steps, error) {
	if caller == nil {
		return nil, fmt.Errorf("chain steps need a model client")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	set := &Steps{byID: make(map[string]Step)}
	for _, s := range definitions() {
		tmpl, err := promptFS.ReadFile("prompts/" + s.id + ".md")
		if err != nil {
			return nil, fmt.Errorf("load prompt of step %s: %w", s.id, err)
		}
		s.template = string(tmpl)
		s.caller = caller
		s.logger = logger
		s.maxLogLen = defaultMaxLogLength
		set.byID[s.id] = s
	}
	return set, nil
}

// Add registers an extra step, replacing a built-in one with the same id.
func (s *Steps) Add(step Step) {
	s.byID[step.ID()] = step
}

// Lookup returns the step with the id.
func (s *Steps) Lookup(id string) (Step, error) {
	step, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStep, id)
	}
	return step, nil
}

// IDs returns the known step ids sorted.
func (s *Steps) IDs() []string {
	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
