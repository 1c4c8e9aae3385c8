package scoring

import (
	"github.com/mitchellh/mapstructure"
)

type primaryView struct {
	Java bool `mapstructure:"java"`
	Jmix bool `mapstructure:"jmix"`
	AI   bool `mapstructure:"ai"`
}

type socialView struct {
	WorkMode            string `mapstructure:"work_mode"`
	Domains             string `mapstructure:"domains"`
	SociallySignificant bool   `mapstructure:"socially_significant"`
}

type technicalView struct {
	RoleType      string `mapstructure:"role_type"`
	PositionLevel string `mapstructure:"position_level"`
	Stack         string `mapstructure:"stack"`
	Jmix          bool   `mapstructure:"jmix"`
	AIPresence    string `mapstructure:"ai_presence"`
}

type compensationView struct {
	SalarySpecified  bool   `mapstructure:"salary_specified"`
	SalaryRange      string `mapstructure:"salary_range"`
	SalaryWhite      bool   `mapstructure:"salary_white"`
	BonusesAvailable bool   `mapstructure:"bonuses_available"`
	EquityOffered    bool   `mapstructure:"equity_offered"`
}

type benefitsView struct {
	HealthInsurance       bool `mapstructure:"health_insurance"`
	ExtendedVacation      bool `mapstructure:"extended_vacation"`
	WellnessCompensation  bool `mapstructure:"wellness_compensation"`
	CoworkingCompensation bool `mapstructure:"coworking_compensation"`
	EducationCompensation bool `mapstructure:"education_compensation"`
	ConferencesBudget     bool `mapstructure:"conferences_budget"`
	InternalTraining      bool `mapstructure:"internal_training"`
	PaidSickLeave         bool `mapstructure:"paid_sick_leave"`
}

type equipmentView struct {
	EquipmentType       string `mapstructure:"equipment_type"`
	EquipmentProvided   bool   `mapstructure:"equipment_provided"`
	BYODCompensation    string `mapstructure:"byod_compensation"`
	AdditionalEquipment string `mapstructure:"additional_equipment"`
}

type industryView struct {
	CompanyCategory  string `mapstructure:"company_category"`
	ProjectCategory  string `mapstructure:"project_category"`
	CompanyDirection string `mapstructure:"company_direction"`
	ProjectDirection string `mapstructure:"project_direction"`
}

type workConditionsView struct {
	WorkFormat         string `mapstructure:"work_format"`
	RelocationRequired string `mapstructure:"relocation_required"`
	GeoRestrictions    string `mapstructure:"geo_restrictions"`
}

type stopFactorsView struct {
	GraySalary      bool `mapstructure:"gray_salary"`
	OfficeOnly      bool `mapstructure:"office_only"`
	ToxicCulture    bool `mapstructure:"toxic_culture"`
	BannedDomain    bool `mapstructure:"banned_domain"`
	StopFactorFound bool `mapstructure:"stop_factor_found"`
}

// decode fills out from a step object. Strings such as "true" are accepted
// for booleans. It reports false when the step has no data.
func decode(raw map[string]any, out any) (bool, error) {
	if len(raw) == 0 {
		return false, nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return false, err
	}
	if err := dec.Decode(raw); err != nil {
		return false, err
	}
	return true, nil
}
