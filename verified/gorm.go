package verified

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// verifiedPlayer maps the verified_player table.
type verifiedPlayer struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	IPAddress string    `gorm:"column:ip_address;size:45;not null;index"`
	Identity  string    `gorm:"column:identity;size:36;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index"`
}

func (verifiedPlayer) TableName() string { return "verified_player" }

// GormStore persists entries through gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open gorm handle.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("verified: nil gorm db")
	}
	return &GormStore{db: db}, nil
}

// OpenGorm opens a database for the given driver ("sqlite" or "mysql").
func OpenGorm(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "":
		if strings.TrimSpace(dsn) == "" {
			dsn = "gofallback.sqlite"
		}
		dialector = sqlite.Open(dsn)
	case "mysql":
		if strings.TrimSpace(dsn) == "" {
			return nil, errors.New("verified: mysql requires a dsn")
		}
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("verified: unsupported sql driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if dialector.Name() == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// SQLite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}
	return db, nil
}

func (s *GormStore) CreateTableIfMissing(ctx context.Context) error {
	m := s.db.WithContext(ctx).Migrator()
	if m.HasTable(&verifiedPlayer{}) {
		return nil
	}
	return m.CreateTable(&verifiedPlayer{})
}

func (s *GormStore) Insert(ctx context.Context, e Entry) error {
	row := verifiedPlayer{
		IPAddress: e.Address,
		Identity:  e.Identity.String(),
		CreatedAt: e.CreatedAt.UTC(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *GormStore) DeleteWhere(ctx context.Context, p Predicate) (int64, error) {
	if p.empty() {
		return 0, ErrEmptyPredicate
	}
	q := s.db.WithContext(ctx)
	if p.Address != "" {
		q = q.Where("ip_address = ?", p.Address)
	}
	if !p.OlderThan.IsZero() {
		q = q.Where("created_at < ?", p.OlderThan.UTC())
	}
	res := q.Delete(&verifiedPlayer{})
	return res.RowsAffected, res.Error
}

// QueryAll skips rows whose identity column does not parse.
func (s *GormStore) QueryAll(ctx context.Context) ([]Entry, error) {
	var rows []verifiedPlayer
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		id, err := uuid.Parse(r.Identity)
		if err != nil || r.IPAddress == "" {
			continue
		}
		out = append(out, Entry{Address: r.IPAddress, Identity: id, CreatedAt: r.CreatedAt})
	}
	return out, nil
}

func (s *GormStore) DeleteAll(ctx context.Context) error {
	return s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&verifiedPlayer{}).Error
}
