package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/capitalize-ai/operator-relay/internal/model"
)

const snapshotKey = "relay"

// snapshotRecord is one stored relay document.
type snapshotRecord struct {
	Key       string `gorm:"primaryKey;size:64"`
	Document  string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

// TableName sets the table name.
func (snapshotRecord) TableName() string {
	return "relay_snapshots"
}

// SQLitePersister stores the snapshot in a SQLite database through gorm.
type SQLitePersister struct {
	db *gorm.DB
}

// NewSQLitePersister opens (and migrates) the database at path.
func NewSQLitePersister(path string) (*SQLitePersister, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect sqlite: %w", err)
	}

	// SQLite allows a single writer.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sqlite database object: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return NewSQLitePersisterFromDB(db)
}

// NewSQLitePersisterFromDB wraps an existing gorm handle.
func NewSQLitePersisterFromDB(db *gorm.DB) (*SQLitePersister, error) {
	if err := db.AutoMigrate(&snapshotRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate relay_snapshots: %w", err)
	}
	return &SQLitePersister{db: db}, nil
}

// Name returns the driver name.
func (p *SQLitePersister) Name() string {
	return "sqlite"
}

// Load reads the stored document.
func (p *SQLitePersister) Load(ctx context.Context) (*model.Snapshot, error) {
	var rec snapshotRecord
	err := p.db.WithContext(ctx).First(&rec, "key = ?", snapshotKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.NewSnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return model.DecodeSnapshot([]byte(rec.Document))
}

// Save upserts the document in a single statement.
func (p *SQLitePersister) Save(ctx context.Context, snap *model.Snapshot) error {
	data, err := snap.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	rec := snapshotRecord{
		Key:       snapshotKey,
		Document:  string(data),
		UpdatedAt: time.Now().UTC(),
	}
	return p.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
}

// Close closes the underlying connection pool.
func (p *SQLitePersister) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
