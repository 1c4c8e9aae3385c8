package headhunter

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/spigell/hh-analyzer/internal/models"
)

const (
	VacancyIDField         = "ID"
	VacancyEmployerIDField = "EmployerID"
)

type Vacancies struct {
	Items []*Vacancy
}

type Named struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type Vacancy struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Area struct {
		ID   string `json:"id,omitempty"`
		Name string `json:"name,omitempty"`
		URL  string `json:"url,omitempty"`
	} `json:"area,omitempty"`
	HasTest bool `json:"has_test,omitempty"`
	Salary  struct {
		From     int    `json:"from,omitempty"`
		To       int    `json:"to,omitempty"`
		Currency string `json:"currency,omitempty"`
		Gross    bool   `json:"gross,omitempty"`
	} `json:"salary,omitempty"`
	Experience Named `json:"experience,omitempty"`
	Schedule   Named `json:"schedule,omitempty"`
	Employer   struct {
		ID           string `json:"id,omitempty"`
		Name         string `json:"name,omitempty"`
		URL          string `json:"url,omitempty"`
		AlternateURL string `json:"alternate_url,omitempty"`
		Trusted      bool   `json:"trusted,omitempty"`
	} `json:"employer,omitempty"`
	CreatedAt    string  `json:"created_at,omitempty"`
	AlternateURL string  `json:"alternate_url,omitempty"`
	Employment   Named   `json:"employment,omitempty"`
	Description  string  `json:"description,omitempty"`
	KeySkills    []Named `json:"key_skills,omitempty"`
	Archived     bool    `json:"archived,omitempty"`
	Snippet      struct {
		Requirement    string `json:"requirement,omitempty"`
		Responsibility string `json:"responsibility,omitempty"`
	} `json:"snippet,omitempty"`
	ProfessionalRoles []Named `json:"professional_roles,omitempty"`
	PublishedAt       string  `json:"published_at,omitempty"`

	// Raw is the document as returned by the API.
	Raw json.RawMessage `json:"-" mapstructure:"-"`
}

// Skills returns the key skill names joined with "|".
func (va *Vacancy) Skills() string {
	names := make([]string, 0, len(va.KeySkills))
	for _, s := range va.KeySkills {
		if name := strings.TrimSpace(s.Name); name != "" {
			names = append(names, name)
		}
	}
	return strings.Join(names, "|")
}

// Posting converts the vacancy into its stored form. Search results carry
// only a snippet, so the description falls back to it.
func (va *Vacancy) Posting(now time.Time) *models.Posting {
	description := va.Description
	if description == "" {
		description = strings.TrimSpace(va.Snippet.Requirement + "\n" + va.Snippet.Responsibility)
	}

	p := &models.Posting{
		ID:           va.ID,
		Name:         va.Name,
		EmployerID:   va.Employer.ID,
		EmployerName: va.Employer.Name,
		Area:         va.Area.Name,
		Description:  description,
		KeySkills:    va.Skills(),
		SalaryFrom:   va.Salary.From,
		SalaryTo:     va.Salary.To,
		Currency:     va.Salary.Currency,
		Schedule:     va.Schedule.ID,
		Experience:   va.Experience.ID,
		AlternateURL: va.AlternateURL,
		Archived:     va.Archived,
		PublishedAt:  va.PublishedAt,
		SyncedAt:     now,
	}
	if len(va.Raw) > 0 {
		p.Raw = datatypes.JSON(va.Raw)
	}
	if va.Archived {
		at := now
		p.ArchivedAt = &at
	}
	return p
}

func (va *Vacancy) GetStringField(name string) string {
	switch name {
	case VacancyIDField:
		return va.ID
	case VacancyEmployerIDField:
		return va.Employer.ID

	default:
		return ""
	}
}

func (v *Vacancies) Len() int {
	return len(v.Items)
}

func (v *Vacancies) IDs() []string {
	ids := make([]string, 0, len(v.Items))
	for _, vacancy := range v.Items {
		ids = append(ids, vacancy.ID)
	}
	return ids
}

func (v *Vacancies) FindByID(id string) *Vacancy {
	for _, vacancy := range v.Items {
		if vacancy.ID == id {
			return vacancy
		}
	}
	return nil
}

// ExcludeWithTest drops vacancies that require a test task.
func (v *Vacancies) ExcludeWithTest() []string {
	return v.ExcludeFunc(func(vacancy *Vacancy) bool { return vacancy.HasTest })
}

// Exclude drops vacancies whose field equals one of targets.
func (v *Vacancies) Exclude(name string, targets []string) []string {
	set := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		set[t] = struct{}{}
	}
	return v.ExcludeFunc(func(vacancy *Vacancy) bool {
		_, ok := set[vacancy.GetStringField(name)]
		return ok
	})
}

// ExcludeFunc drops the vacancies matching drop, keeping the order of the
// rest, and returns the dropped ids.
func (v *Vacancies) ExcludeFunc(drop func(*Vacancy) bool) []string {
	var excluded []string
	kept := v.Items[:0]
	for _, vacancy := range v.Items {
		if drop(vacancy) {
			excluded = append(excluded, vacancy.ID)
			continue
		}
		kept = append(kept, vacancy)
	}
	for i := len(kept); i < len(v.Items); i++ {
		v.Items[i] = nil
	}
	v.Items = kept
	return excluded
}

type ExcludedVacancies struct {
	Items []*ExcludedVacancy
}

type ExcludedVacancy struct {
	ID           string
	URL          string
	EmployerName string
	ExcludedAt   time.Time
}

func GetExludedVacanciesFromFile(path string) (*ExcludedVacancies, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}

	if stat.Size() == 0 {
		return &ExcludedVacancies{}, nil
	}

	var excluded ExcludedVacancies
	if err := json.NewDecoder(file).Decode(&excluded); err != nil {
		return nil, err
	}
	return &excluded, nil
}

func (v *ExcludedVacancies) VacanciesIDs() []string {
	ids := make([]string, 0)
	for _, vacancy := range v.Items {
		ids = append(ids, vacancy.ID)
	}
	return ids
}
