// Package model defines the database schema for recorded runs.
package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DatabaseModels lists every struct representing a table in the schema,
// in migration order.
var DatabaseModels = []interface{}{
	&Run{},
	&PathSample{},
	&RunEvent{},
}

// Run is one script execution session.
type Run struct {
	gorm.Model
	ScriptName string     `json:"scriptName" gorm:"size:255"`
	StartedAt  time.Time  `json:"startedAt" gorm:"index:idx_run_started_at"`
	EndedAt    *time.Time `json:"endedAt"`
	// FinalState is the run state the session ended in (stopped or error).
	FinalState     string `json:"finalState" gorm:"size:32"`
	ExecutionError string `json:"executionError" gorm:"size:1024"`
	TotalDistance  float64
	FinalBattery   float64
}

func (*Run) TableName() string {
	return "runs"
}

// PathSample is one point of the dashboard trace, recorded when a motion
// command completes.
type PathSample struct {
	ID    uint      `gorm:"primarykey"`
	RunID uint      `json:"runId" gorm:"index:idx_pathsample_run_id"`
	Run   Run       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	Time  time.Time `json:"time" gorm:"index:idx_pathsample_time"`
	X     float64   `json:"x"`
	Z     float64   `json:"z"`
}

func (*PathSample) TableName() string {
	return "path_samples"
}

// RunEvent is a completed command with the vehicle state at completion.
// Params holds the command parameters as JSON.
type RunEvent struct {
	ID      uint           `gorm:"primarykey"`
	RunID   uint           `json:"runId" gorm:"index:idx_runevent_run_id"`
	Run     Run            `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	Time    time.Time      `json:"time" gorm:"index:idx_runevent_time"`
	Kind    string         `json:"kind" gorm:"size:32"`
	Params  datatypes.JSON `json:"params"`
	X       float64        `json:"x"`
	Z       float64        `json:"z"`
	Heading float64        `json:"heading"`
	Battery float64        `json:"battery"`
}

func (*RunEvent) TableName() string {
	return "run_events"
}
