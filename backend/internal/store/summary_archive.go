package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// InitMySQL opens the archive database and migrates its tables.
func InitMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(gormmysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&ResponseSummaryRow{}, &InitialImportRow{}); err != nil {
		return nil, err
	}
	return db, nil
}

// ResponseSummaryRow keeps the latest published summary per entity, for
// audit and for rebuilding downstream state without replaying redis.
type ResponseSummaryRow struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	MessageID string `gorm:"size:64;uniqueIndex:idx_entity"`
	NodeID    string `gorm:"size:64;uniqueIndex:idx_entity"`
	PartID    string `gorm:"size:64"`
	Summary   string `gorm:"type:json"`
	UpdatedAt time.Time
}

func (ResponseSummaryRow) TableName() string { return "response_summaries" }

// InitialImportRow records each bulk-import anchor once.
type InitialImportRow struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	MessageID string `gorm:"size:64;uniqueIndex:idx_import"`
	NodeID    string `gorm:"size:64;uniqueIndex:idx_import"`
	PartID    string `gorm:"size:64"`
	CreatedAt time.Time
}

func (InitialImportRow) TableName() string { return "initial_imports" }

type SummaryArchive struct{ db *sql.DB }

func NewSummaryArchive(db *sql.DB) *SummaryArchive {
	return &SummaryArchive{db: db}
}

// SaveSummary upserts the latest summary for the entity. Publishing the
// same entity again replaces the row rather than duplicating it.
func (s *SummaryArchive) SaveSummary(ctx context.Context, key EntityKey, partID string, summary []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO response_summaries (message_id, node_id, part_id, summary, updated_at)
		VALUES (?, ?, ?, ?, NOW())
		ON DUPLICATE KEY UPDATE part_id = VALUES(part_id), summary = VALUES(summary), updated_at = NOW()`,
		key.MessageID,
		key.NodeOrRoot(),
		partID,
		string(summary),
	)
	return err
}

// RecordImport inserts the bulk-import anchor; a redelivered import hits
// the unique key and is ignored.
func (s *SummaryArchive) RecordImport(ctx context.Context, key EntityKey, partID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO initial_imports (message_id, node_id, part_id, created_at)
		VALUES (?, ?, ?, NOW())`,
		key.MessageID,
		key.NodeOrRoot(),
		partID,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return nil
		}
		return err
	}
	return nil
}
