// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package internal_callcontext resolves who is calling and records what
// happened. Two separate Postgres databases back it: the CRM (clients)
// and the support system (tickets).
package internal_callcontext

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rapidaai/sav-voicebot/pkg/commons"
	"github.com/rapidaai/sav-voicebot/pkg/utils"
)

const (
	pendingTicketLimit = 5
	historyLimit       = 10
)

// Open connects to a Postgres database with a modest pool. Both databases
// go through here.
func Open(dsn string, logger commons.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("callcontext: connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("callcontext: pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(time.Hour)
	logger.Infof("connected to postgres")
	return db, nil
}

// ClientStore reads the CRM database.
type ClientStore interface {
	// LookupCaller resolves a caller number to a client profile. An
	// unknown number is not an error: (nil, nil) means the bot collects
	// identity over the phone instead.
	LookupCaller(ctx context.Context, phone string) (*ClientProfile, error)
}

// TicketStore reads and writes the support database.
type TicketStore interface {
	// History returns the caller's most recent tickets, newest first.
	History(ctx context.Context, phone string) ([]Ticket, error)

	// Pending returns up to five unresolved tickets for the caller,
	// newest first. The bot offers to follow up on these before opening
	// a new case.
	Pending(ctx context.Context, phone string) ([]Ticket, error)

	// Create inserts the end-of-call ticket. Text fields are sanitized
	// before they reach the database.
	Create(ctx context.Context, t *Ticket) error

	// TechnicianAvailable reports whether a transfer may proceed, based
	// on how many transfers happened inside the recent window. It fails
	// open: when the database cannot answer, callers are transferred
	// rather than turned away.
	TechnicianAvailable(ctx context.Context, window time.Duration, maxActive int) bool

	// TodayStats aggregates ticket counts since local midnight.
	TodayStats(ctx context.Context) (TodayStats, error)
}

type clientStore struct {
	db     *gorm.DB
	logger commons.Logger
}

// NewClientStore wraps the CRM database connection.
func NewClientStore(db *gorm.DB, logger commons.Logger) ClientStore {
	return &clientStore{db: db, logger: logger}
}

func (s *clientStore) LookupCaller(ctx context.Context, phone string) (*ClientProfile, error) {
	var profile ClientProfile
	err := s.db.WithContext(ctx).Where("phone_number = ?", phone).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Infof("caller %s not found in CRM", phone)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("callcontext: lookup caller %s: %w", phone, err)
	}

	profile.FirstName = utils.SanitizeString(profile.FirstName)
	profile.LastName = utils.SanitizeString(profile.LastName)
	profile.Email = utils.SanitizeString(profile.Email)
	profile.BoxModel = utils.SanitizeString(profile.BoxModel)

	s.logger.Debugf("resolved caller %s: client=%d", phone, profile.ID)
	return &profile, nil
}

type ticketStore struct {
	db     *gorm.DB
	logger commons.Logger
	clock  func() time.Time
}

// TicketStoreOption customizes the store.
type TicketStoreOption func(*ticketStore)

// WithClock substitutes the time source, for tests.
func WithClock(clock func() time.Time) TicketStoreOption {
	return func(s *ticketStore) { s.clock = clock }
}

// NewTicketStore wraps the support database connection.
func NewTicketStore(db *gorm.DB, logger commons.Logger, opts ...TicketStoreOption) TicketStore {
	s := &ticketStore{db: db, logger: logger, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ticketStore) History(ctx context.Context, phone string) ([]Ticket, error) {
	var tickets []Ticket
	err := s.db.WithContext(ctx).
		Where("caller_number = ?", phone).
		Order("created_at DESC").
		Limit(historyLimit).
		Find(&tickets).Error
	if err != nil {
		return nil, fmt.Errorf("callcontext: ticket history for %s: %w", phone, err)
	}
	return tickets, nil
}

func (s *ticketStore) Pending(ctx context.Context, phone string) ([]Ticket, error) {
	var tickets []Ticket
	err := s.db.WithContext(ctx).
		Where("caller_number = ? AND status <> ?", phone, StatusResolved).
		Order("created_at DESC").
		Limit(pendingTicketLimit).
		Find(&tickets).Error
	if err != nil {
		return nil, fmt.Errorf("callcontext: pending tickets for %s: %w", phone, err)
	}
	return tickets, nil
}

func (s *ticketStore) Create(ctx context.Context, t *Ticket) error {
	t.ClientName = utils.SanitizeString(t.ClientName)
	t.ClientEmail = utils.SanitizeString(t.ClientEmail)
	t.Summary = utils.SanitizeString(t.Summary)
	if t.Status == "" {
		t.Status = StatusOpen
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.clock()
	}

	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("callcontext: create ticket for call %s: %w", t.CallID, err)
	}
	s.logger.Infof("ticket created: call=%s status=%s severity=%s", t.CallID, t.Status, t.Severity)
	return nil
}

func (s *ticketStore) TechnicianAvailable(ctx context.Context, window time.Duration, maxActive int) bool {
	since := s.clock().Add(-window)
	var active int64
	err := s.db.WithContext(ctx).
		Model(&Ticket{}).
		Where("status = ? AND created_at >= ?", StatusTransferred, since).
		Count(&active).Error
	if err != nil {
		s.logger.Warnf("technician load check failed, allowing transfer: %v", err)
		return true
	}
	return active < int64(maxActive)
}

func (s *ticketStore) TodayStats(ctx context.Context) (TodayStats, error) {
	now := s.clock()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var rows []struct {
		Status string
		Count  int
	}
	err := s.db.WithContext(ctx).
		Model(&Ticket{}).
		Select("status, count(*) as count").
		Where("created_at >= ?", midnight).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return TodayStats{}, fmt.Errorf("callcontext: today stats: %w", err)
	}

	stats := TodayStats{}
	for _, row := range rows {
		stats.Total += row.Count
		switch row.Status {
		case StatusResolved:
			stats.Resolved = row.Count
		case StatusTransferred:
			stats.Transferred = row.Count
		case StatusOpen:
			stats.Open = row.Count
		}
	}
	return stats, nil
}
