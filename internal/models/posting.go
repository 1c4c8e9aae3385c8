package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Posting is a job listing fetched from the listings API.
type Posting struct {
	ID           string         `gorm:"column:id;primaryKey;size:64" json:"id"`
	Name         string         `gorm:"column:name;size:512" json:"name"`
	EmployerID   string         `gorm:"column:employer_id;size:64;index" json:"employer_id"`
	EmployerName string         `gorm:"column:employer_name;size:512" json:"employer_name"`
	Area         string         `gorm:"column:area;size:255" json:"area"`
	Description  string         `gorm:"column:description;type:text" json:"description"`
	KeySkills    string         `gorm:"column:key_skills;type:text" json:"key_skills"`
	SalaryFrom   int            `gorm:"column:salary_from" json:"salary_from,omitempty"`
	SalaryTo     int            `gorm:"column:salary_to" json:"salary_to,omitempty"`
	Currency     string         `gorm:"column:currency;size:10" json:"currency,omitempty"`
	Schedule     string         `gorm:"column:schedule;size:64" json:"schedule,omitempty"`
	Experience   string         `gorm:"column:experience;size:64" json:"experience,omitempty"`
	AlternateURL string         `gorm:"column:alternate_url;size:512" json:"alternate_url,omitempty"`
	Archived     bool           `gorm:"column:archived;not null;default:false;index" json:"archived"`
	ArchivedAt   *time.Time     `gorm:"column:archived_at" json:"archived_at,omitempty"`
	PublishedAt  string         `gorm:"column:published_at;size:64" json:"published_at,omitempty"`
	Raw          datatypes.JSON `gorm:"column:raw" json:"raw,omitempty"`
	SyncedAt     time.Time      `gorm:"column:synced_at" json:"synced_at"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Posting) TableName() string {
	return "postings"
}

// Skills returns the key skills as a comma separated list for prompts.
func (p *Posting) Skills() string {
	if p.KeySkills == "" {
		return ""
	}
	return strings.Join(strings.Split(p.KeySkills, "|"), ", ")
}
