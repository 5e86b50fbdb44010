package projects

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Role string

const (
	RoleInput  Role = "input"
	RoleOutput Role = "output"
)

type Project struct {
	ID        string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	Name      *string   `gorm:"column:name;size:200" json:"name"`
	Status    Status    `gorm:"column:status;not null;size:16;index:idx_project_status_created,priority:1" json:"status"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_project_status_created,priority:2" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (Project) TableName() string { return "project" }

// Prediction records one call to the inference endpoint. Output holds the raw
// response ("{}" until the inference step lands).
type Prediction struct {
	ID         string         `gorm:"column:id;primaryKey;size:64" json:"id"`
	ProjectID  *string        `gorm:"column:project_id;size:64;index" json:"project_id,omitempty"`
	EndpointID string         `gorm:"column:endpoint_id;not null;size:128" json:"endpoint_id"`
	Input      datatypes.JSON `gorm:"column:input;not null" json:"input"`
	Output     datatypes.JSON `gorm:"column:output;not null" json:"output"`
	Status     Status         `gorm:"column:status;not null;size:16;index" json:"status"`
	CreatedAt  time.Time      `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (Prediction) TableName() string { return "prediction" }

type Blob struct {
	ID          string    `gorm:"column:id;primaryKey;size:128" json:"id"`
	ContentType string    `gorm:"column:content_type;not null;size:64" json:"content_type"`
	FileName    string    `gorm:"column:file_name;not null;size:255" json:"file_name"`
	FileSize    int64     `gorm:"column:file_size;not null" json:"file_size"`
	Width       int       `gorm:"column:width;not null" json:"width"`
	Height      int       `gorm:"column:height;not null" json:"height"`
	CreatedAt   time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (Blob) TableName() string { return "blob" }

type PredictionBlob struct {
	PredictionID string    `gorm:"column:prediction_id;primaryKey;size:64;uniqueIndex:idx_prediction_blob_slot,priority:1" json:"prediction_id"`
	BlobID       string    `gorm:"column:blob_id;primaryKey;size:128;index" json:"blob_id"`
	Role         Role      `gorm:"column:role;not null;size:16;uniqueIndex:idx_prediction_blob_slot,priority:2" json:"role"`
	Position     int       `gorm:"column:position;not null;default:0;uniqueIndex:idx_prediction_blob_slot,priority:3" json:"position"`
	CreatedAt    time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (PredictionBlob) TableName() string { return "prediction_blob" }

// BlobWithLink is a Blob joined with its role and position on a prediction.
type BlobWithLink struct {
	Blob
	Role     Role `gorm:"column:role" json:"role"`
	Position int  `gorm:"column:position" json:"position"`
}
