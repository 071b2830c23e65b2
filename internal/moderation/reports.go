package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Report statuses. A report starts pending and moves to reviewed or
// resolved at a moderator's hand.
const (
	ReportStatusPending  = "pending"
	ReportStatusReviewed = "reviewed"
	ReportStatusResolved = "resolved"
)

var (
	// ErrInvalidReport rejects a report missing its participants or
	// naming the reporter as the target.
	ErrInvalidReport = errors.New("moderation: invalid report")
	// ErrInvalidReportStatus rejects a status outside the known set.
	ErrInvalidReportStatus = errors.New("moderation: invalid report status")
	// ErrReportNotFound signals a lookup miss on a report id.
	ErrReportNotFound = errors.New("moderation: report not found")
)

const defaultReportListLimit = 100

// ReportEntry is one message captured in a report's conversation log.
type ReportEntry struct {
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Body       string `json:"body"`
	SentAtMs   int64  `json:"sentAtMs"`
}

// ReportRecord is a persisted user report with the conversation
// snapshot taken at filing time. The log is frozen evidence; later
// edits or deletions of the underlying messages do not touch it.
type ReportRecord struct {
	ID              string    `gorm:"column:id;primaryKey;size:190;not null"`
	ReporterID      string    `gorm:"column:reporter_id;size:190;not null;index"`
	ReporterName    string    `gorm:"column:reporter_name;size:190;not null;default:''"`
	ReportedID      string    `gorm:"column:reported_id;size:190;not null;index"`
	ReportedName    string    `gorm:"column:reported_name;size:190;not null;default:''"`
	Channel         string    `gorm:"column:channel;size:32;not null"`
	ConversationLog string    `gorm:"column:conversation_log;type:text;not null;default:''"`
	Status          string    `gorm:"column:status;size:16;not null;index"`
	AdminNotes      string    `gorm:"column:admin_notes;size:1000;not null;default:''"`
	CreatedAtMs     int64     `gorm:"column:created_at_ms;not null"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName binds reports to their table.
func (ReportRecord) TableName() string {
	return "chat_reports"
}

// Entries decodes the conversation snapshot.
func (r ReportRecord) Entries() ([]ReportEntry, error) {
	if r.ConversationLog == "" {
		return nil, nil
	}
	var entries []ReportEntry
	if err := json.Unmarshal([]byte(r.ConversationLog), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Report is the input to FileReport.
type Report struct {
	ReporterID   string
	ReporterName string
	ReportedID   string
	ReportedName string
	Channel      string
	Log          []ReportEntry
}

// FileReport stores a user report with its conversation snapshot.
func (s *Service) FileReport(ctx context.Context, report Report) (ReportRecord, error) {
	reporterID := strings.TrimSpace(report.ReporterID)
	reportedID := strings.TrimSpace(report.ReportedID)
	if reporterID == "" || reportedID == "" || reporterID == reportedID {
		return ReportRecord{}, ErrInvalidReport
	}
	if report.Channel != "global" && report.Channel != "dm" {
		return ReportRecord{}, ErrInvalidReport
	}

	id, err := s.newID()
	if err != nil {
		return ReportRecord{}, err
	}
	log, err := json.Marshal(report.Log)
	if err != nil {
		return ReportRecord{}, err
	}
	record := ReportRecord{
		ID:              id,
		ReporterID:      reporterID,
		ReporterName:    strings.TrimSpace(report.ReporterName),
		ReportedID:      reportedID,
		ReportedName:    strings.TrimSpace(report.ReportedName),
		Channel:         report.Channel,
		ConversationLog: string(log),
		Status:          ReportStatusPending,
		CreatedAtMs:     s.clock().UnixMilli(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return ReportRecord{}, err
	}
	return record, nil
}

// ListReports returns reports newest first, optionally narrowed by
// status. An empty status lists every report up to the limit.
func (s *Service) ListReports(ctx context.Context, status string, limit int) ([]ReportRecord, error) {
	if status != "" && !validReportStatus(status) {
		return nil, ErrInvalidReportStatus
	}
	if limit < 1 || limit > defaultReportListLimit {
		limit = defaultReportListLimit
	}
	query := s.db.WithContext(ctx).Model(&ReportRecord{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var records []ReportRecord
	err := query.
		Order("created_at_ms DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// UpdateReport moves a report to a new status, optionally attaching
// moderator notes. Notes accumulate by replacement, not append.
func (s *Service) UpdateReport(ctx context.Context, reportID, status, adminNotes string) (ReportRecord, error) {
	if !validReportStatus(status) {
		return ReportRecord{}, ErrInvalidReportStatus
	}
	var record ReportRecord
	err := s.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(reportID)).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ReportRecord{}, ErrReportNotFound
	}
	if err != nil {
		return ReportRecord{}, err
	}

	updates := map[string]any{"status": status}
	if strings.TrimSpace(adminNotes) != "" {
		updates["admin_notes"] = strings.TrimSpace(adminNotes)
	}
	if err := s.db.WithContext(ctx).Model(&ReportRecord{}).
		Where("id = ?", record.ID).
		Updates(updates).Error; err != nil {
		return ReportRecord{}, err
	}
	record.Status = status
	if notes, ok := updates["admin_notes"]; ok {
		record.AdminNotes = notes.(string)
	}
	return record, nil
}

func validReportStatus(status string) bool {
	switch status {
	case ReportStatusPending, ReportStatusReviewed, ReportStatusResolved:
		return true
	}
	return false
}
