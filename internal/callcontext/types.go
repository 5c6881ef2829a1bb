// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_callcontext

import (
	"strings"
	"time"
)

// Ticket status constants.
const (
	StatusOpen        = "open"        // created, nobody has acted on it yet
	StatusResolved    = "resolved"    // caller confirmed the fix worked
	StatusTransferred = "transferred" // handed to a human technician
	StatusFailed      = "failed"      // call dropped before a diagnosis
)

// Ticket severity constants, stored uppercase.
const (
	SeverityLow    = "LOW"
	SeverityMedium = "MEDIUM"
	SeverityHigh   = "HIGH"
)

// ClientProfile is a CRM row resolved from the caller's number. The bot
// greets recognized clients by name and skips identity collection.
type ClientProfile struct {
	ID          uint64 `json:"id" gorm:"column:id;type:bigint;primaryKey"`
	PhoneNumber string `json:"phoneNumber" gorm:"column:phone_number;type:varchar(50);not null;index"`
	FirstName   string `json:"firstName" gorm:"column:first_name;type:varchar(100);not null;default:''"`
	LastName    string `json:"lastName" gorm:"column:last_name;type:varchar(100);not null;default:''"`
	Email       string `json:"email" gorm:"column:email;type:varchar(200);not null;default:''"`
	BoxModel    string `json:"boxModel" gorm:"column:box_model;type:varchar(100);not null;default:''"`
}

func (ClientProfile) TableName() string {
	return "clients"
}

// FullName joins the non-empty name parts.
func (c *ClientProfile) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
}

// Ticket is the record written at the end of every call, resolved or not.
// Rows are append-only: later calls reference them as history but never
// mutate them.
type Ticket struct {
	ID              uint64    `json:"id" gorm:"column:id;type:bigint;primaryKey;autoIncrement"`
	CallID          string    `json:"callId" gorm:"column:call_id;type:varchar(64);not null;index"`
	CallerNumber    string    `json:"callerNumber" gorm:"column:caller_number;type:varchar(50);not null;index"`
	ClientName      string    `json:"clientName" gorm:"column:client_name;type:varchar(200);not null;default:''"`
	ClientEmail     string    `json:"clientEmail" gorm:"column:client_email;type:varchar(200);not null;default:''"`
	ProblemType     string    `json:"problemType" gorm:"column:problem_type;type:varchar(50);not null;default:''"`
	Status          string    `json:"status" gorm:"column:status;type:varchar(20);not null;default:open"`
	Sentiment       string    `json:"sentiment" gorm:"column:sentiment;type:varchar(20);not null;default:''"`
	Summary         string    `json:"summary" gorm:"column:summary;type:text;not null;default:''"`
	DurationSeconds int       `json:"durationSeconds" gorm:"column:duration_seconds;type:int;not null;default:0"`
	Tag             string    `json:"tag" gorm:"column:tag;type:varchar(50);not null;default:''"`
	Severity        string    `json:"severity" gorm:"column:severity;type:varchar(20);not null;default:MEDIUM"`
	CreatedAt       time.Time `json:"createdAt" gorm:"column:created_at;type:timestamp;not null;default:NOW();<-:create"`
}

func (Ticket) TableName() string {
	return "tickets"
}

// IsPending reports whether the ticket still needs attention.
func (t *Ticket) IsPending() bool {
	return t.Status != StatusResolved
}

// TodayStats aggregates ticket activity since local midnight, surfaced on
// the operations endpoint.
type TodayStats struct {
	Total       int `json:"total"`
	Resolved    int `json:"resolved"`
	Transferred int `json:"transferred"`
	Open        int `json:"open"`
}
