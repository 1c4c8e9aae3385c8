package models

import "time"

// QueueItem is a unit of asynchronous work about one subject (a posting).
type QueueItem struct {
	ID           uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	SubjectID    string    `gorm:"column:subject_id;size:64;not null;index:idx_queue_items_subject_kind,priority:1" json:"subject_id"`
	Kind         string    `gorm:"column:kind;size:64;not null;index:idx_queue_items_subject_kind,priority:2;index:idx_queue_items_kind_status,priority:1" json:"kind"`
	Status       string    `gorm:"column:status;size:20;not null;index:idx_queue_items_kind_status,priority:2" json:"status"`
	Priority     int       `gorm:"column:priority;not null;default:0" json:"priority"`
	ErrorMessage string    `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (QueueItem) TableName() string {
	return "queue_items"
}
