package models

import (
	"time"

	"github.com/AngelCh415/adreports/internal/transform"
)

type SourceType string

const (
	SourceDirect  SourceType = "direct"
	SourceMetrika SourceType = "metrika"
)

// PeriodConfig is either a relative kind (last_7_days, ...) or "custom"
// with explicit inclusive dates.
type PeriodConfig struct {
	Type     string `json:"type"`
	DateFrom string `json:"date_from,omitempty"`
	DateTo   string `json:"date_to,omitempty"`
}

type SourceConfig struct {
	ID            string     `json:"id"`
	Type          SourceType `json:"type"`
	IntegrationID string     `json:"integration_id,omitempty"`

	// Direct
	CampaignIDs   []int64  `json:"campaign_ids,omitempty"`
	DirectFields  []string `json:"direct_fields,omitempty"`
	DirectGroupBy string   `json:"direct_group_by,omitempty"` // campaign | day

	// Metrika
	CounterID  int64    `json:"counter_id,omitempty"`
	Goals      []int64  `json:"goals,omitempty"`
	Metrics    []string `json:"metrics,omitempty"`
	Dimensions []string `json:"dimensions,omitempty"`

	Transformations transform.Steps `json:"source_transformations,omitempty"`
}

// Integration is the credential key for the source; one integration per
// source type unless configured otherwise.
func (s SourceConfig) Integration() string {
	if s.IntegrationID != "" {
		return s.IntegrationID
	}
	return string(s.Type)
}

type ExportConfig struct {
	Type          string `json:"type,omitempty"` // csv, webhook, google_sheets
	SpreadsheetID string `json:"spreadsheet_id,omitempty"`
	SheetName     string `json:"sheet_name,omitempty"`
	CreateNew     bool   `json:"create_new,omitempty"`
}

type ReportConfig struct {
	Sources         []SourceConfig  `json:"sources"`
	Period          PeriodConfig    `json:"period"`
	Transformations transform.Steps `json:"transformations,omitempty"`
	Export          ExportConfig    `json:"export"`
}

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

type ReportRun struct {
	ID           string     `json:"id"`
	ReportName   string     `json:"report_name"`
	Status       RunStatus  `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ErrorStage   string     `json:"error_stage,omitempty"`
	ResultURL    string     `json:"result_url,omitempty"`
	RowCount     int        `json:"row_count"`
}
