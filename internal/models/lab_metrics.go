package models

import "time"

// LabMetrics is a daily snapshot of lab percentages, one row per (lab, day).
type LabMetrics struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	LabID       uint      `gorm:"not null;index;uniqueIndex:uq_lab_metrics_daily" json:"lab_id"`
	AsOf        time.Time `gorm:"column:asof;type:date;not null;index;uniqueIndex:uq_lab_metrics_daily" json:"asof"`
	Utilization int       `gorm:"not null;check:ck_util_pct,utilization >= 0 AND utilization <= 100" json:"utilization"`
	Condition   int       `gorm:"not null;check:ck_cond_pct,condition >= 0 AND condition <= 100" json:"condition"`
	Activity    int       `gorm:"not null;check:ck_act_pct,activity >= 0 AND activity <= 100" json:"activity"`
}

func (LabMetrics) TableName() string {
	return "lab_metrics"
}
