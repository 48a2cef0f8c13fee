// Package archive persists durable copies of engine events. The engine
// writes through the alerting.Sink interface and treats failures as
// best effort, so archival never blocks alert delivery.
package archive

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Aidin1998/sentinel/internal/alerting"
)

// RuleRecord is the persisted form of an alert rule definition.
type RuleRecord struct {
	Name      string `gorm:"primaryKey;size:128"`
	Metric    string `gorm:"size:128;not null"`
	Operator  string `gorm:"size:8;not null"`
	Threshold float64
	Severity  string `gorm:"size:16;index"`
	Channels  string `gorm:"size:256"`
	Duration  int
	Cooldown  int
	UpdatedAt time.Time
}

// AlertRecord is one alert firing and its eventual resolution.
type AlertRecord struct {
	ID              string `gorm:"primaryKey;size:36"`
	RuleName        string `gorm:"size:128;index:idx_alerts_rule"`
	Metric          string `gorm:"size:128"`
	Severity        string `gorm:"size:16;index"`
	CurrentValue    float64
	Threshold       float64
	Message         string `gorm:"size:512"`
	FiredAt         time.Time
	Resolved        bool `gorm:"index"`
	ResolvedAt      *time.Time
	EscalationLevel int
	Notifications   int
	IncidentID      string `gorm:"size:36;index"`
}

// IncidentRecord is the persisted form of an incident.
type IncidentRecord struct {
	ID         string `gorm:"primaryKey;size:36"`
	Title      string `gorm:"size:256"`
	Severity   string `gorm:"size:16;index"`
	Status     string `gorm:"size:24;index"`
	Priority   string `gorm:"size:4"`
	Source     string `gorm:"size:32"`
	AlertIDs   string `gorm:"size:2048"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ResolvedAt *time.Time
}

// OpenSQLite opens (or creates) the sqlite archive at path. Use
// ":memory:" for an ephemeral archive.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open sqlite archive at %s", path)
	}
	return db, nil
}

// GormSink archives engine events into a relational store.
type GormSink struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ alerting.Sink = (*GormSink)(nil)

// NewGormSink migrates the archive schema and returns the sink.
func NewGormSink(db *gorm.DB, logger *zap.Logger) (*GormSink, error) {
	if err := db.AutoMigrate(&RuleRecord{}, &AlertRecord{}, &IncidentRecord{}); err != nil {
		return nil, errors.Wrap(err, "failed to migrate archive schema")
	}
	return &GormSink{db: db, logger: logger}, nil
}

// RuleRegistered implements alerting.Sink.
func (s *GormSink) RuleRegistered(ctx context.Context, rule alerting.AlertRule) error {
	channels := make([]string, 0, len(rule.Channels))
	for _, ch := range rule.Channels {
		channels = append(channels, string(ch))
	}
	rec := RuleRecord{
		Name:      rule.Name,
		Metric:    rule.Metric,
		Operator:  string(rule.Operator),
		Threshold: rule.Threshold,
		Severity:  string(rule.Severity),
		Channels:  strings.Join(channels, ","),
		Duration:  rule.Duration,
		Cooldown:  rule.Cooldown,
		UpdatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return errors.Wrapf(err, "failed to archive rule %s", rule.Name)
	}
	return nil
}

// AlertFired implements alerting.Sink.
func (s *GormSink) AlertFired(ctx context.Context, alert alerting.Alert) error {
	rec := alertRecord(alert)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return errors.Wrapf(err, "failed to archive alert %s", alert.ID)
	}
	return nil
}

// AlertResolved implements alerting.Sink.
func (s *GormSink) AlertResolved(ctx context.Context, alert alerting.Alert) error {
	updates := map[string]interface{}{
		"resolved":         true,
		"resolved_at":      alert.ResolvedAt,
		"escalation_level": alert.EscalationLevel,
		"notifications":    alert.NotificationCount,
	}
	result := s.db.WithContext(ctx).Model(&AlertRecord{}).Where("id = ?", alert.ID.String()).Updates(updates)
	if result.Error != nil {
		return errors.Wrapf(result.Error, "failed to archive alert resolution %s", alert.ID)
	}
	if result.RowsAffected == 0 {
		// The firing predates the archive; store what we know.
		rec := alertRecord(alert)
		if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
			return errors.Wrapf(err, "failed to archive resolved alert %s", alert.ID)
		}
	}
	return nil
}

// IncidentOpened implements alerting.Sink.
func (s *GormSink) IncidentOpened(ctx context.Context, incident alerting.Incident) error {
	rec := incidentRecord(incident)
	if err := s.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return errors.Wrapf(err, "failed to archive incident %s", incident.ID)
	}
	return nil
}

// IncidentResolved implements alerting.Sink.
func (s *GormSink) IncidentResolved(ctx context.Context, incident alerting.Incident) error {
	rec := incidentRecord(incident)
	if err := s.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return errors.Wrapf(err, "failed to archive incident resolution %s", incident.ID)
	}
	return nil
}

// RecentAlerts returns up to limit archived alerts, newest firing
// first.
func (s *GormSink) RecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []AlertRecord
	err := s.db.WithContext(ctx).Order("fired_at DESC").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to query archived alerts")
	}
	return records, nil
}

// OpenIncidents returns archived incidents that have not resolved.
func (s *GormSink) OpenIncidents(ctx context.Context) ([]IncidentRecord, error) {
	var records []IncidentRecord
	err := s.db.WithContext(ctx).
		Where("status NOT IN ?", []string{string(alerting.IncidentResolved), string(alerting.IncidentClosed)}).
		Order("created_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to query archived incidents")
	}
	return records, nil
}

func alertRecord(alert alerting.Alert) AlertRecord {
	rec := AlertRecord{
		ID:              alert.ID.String(),
		RuleName:        alert.RuleName,
		Metric:          alert.Metric,
		Severity:        string(alert.Severity),
		CurrentValue:    alert.CurrentValue,
		Threshold:       alert.Threshold,
		Message:         alert.Message,
		FiredAt:         alert.Timestamp,
		Resolved:        alert.Resolved,
		ResolvedAt:      alert.ResolvedAt,
		EscalationLevel: alert.EscalationLevel,
		Notifications:   alert.NotificationCount,
	}
	if alert.IncidentID != uuid.Nil {
		rec.IncidentID = alert.IncidentID.String()
	}
	return rec
}

func incidentRecord(incident alerting.Incident) IncidentRecord {
	ids := make([]string, 0, len(incident.RelatedAlerts))
	for _, id := range incident.RelatedAlerts {
		ids = append(ids, id.String())
	}
	return IncidentRecord{
		ID:         incident.ID.String(),
		Title:      incident.Title,
		Severity:   string(incident.Severity),
		Status:     string(incident.Status),
		Priority:   string(incident.Priority),
		Source:     incident.Source,
		AlertIDs:   strings.Join(ids, ","),
		CreatedAt:  incident.CreatedAt,
		UpdatedAt:  incident.UpdatedAt,
		ResolvedAt: incident.ResolvedAt,
	}
}
