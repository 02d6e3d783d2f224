package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"exitwatch/internal/position"
	"exitwatch/internal/storage"
	"exitwatch/internal/storage/models"
)

// gormLogger adapts zap to gorm's logger.Interface.
type gormLogger struct {
	zapLogger *zap.Logger
	logLevel  logger.LogLevel
}

func newGormLogger(zapLogger *zap.Logger) logger.Interface {
	return &gormLogger{zapLogger: zapLogger, logLevel: logger.Warn}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	cloned := *l
	cloned.logLevel = level
	return &cloned
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Info {
		l.zapLogger.Sugar().Infof(msg, data...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Warn {
		l.zapLogger.Sugar().Warnf(msg, data...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Error {
		l.zapLogger.Sugar().Errorf(msg, data...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}

	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		l.zapLogger.Error("query failed", append(fields, zap.Error(err))...)
		return
	}
	if l.logLevel >= logger.Info {
		l.zapLogger.Debug("query", fields...)
	}
}

// postgresStore implements storage.Store on top of gorm/postgres.
type postgresStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore connects to postgres and returns a Store.
func NewStore(dsn string, zapLogger *zap.Logger) (storage.Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: newGormLogger(zapLogger.Named("gorm")),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &postgresStore{db: db, logger: zapLogger.Named("storage")}, nil
}

// RunMigrations creates or updates the positions table under an advisory lock
// so concurrent daemon instances do not race on schema changes.
func RunMigrations(s storage.Store) error {
	ps, ok := s.(*postgresStore)
	if !ok {
		return fmt.Errorf("migrations require a postgres store")
	}

	var lockObtained bool
	if err := ps.db.Raw("SELECT pg_try_advisory_lock(217)").Scan(&lockObtained).Error; err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !lockObtained {
		return fmt.Errorf("another migration is in progress")
	}
	defer ps.db.Exec("SELECT pg_advisory_unlock(217)")

	if err := ps.db.AutoMigrate(&models.PositionRecord{}); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (p *postgresStore) ListOpenPositions(ctx context.Context, userID string) ([]position.Position, error) {
	var records []models.PositionRecord
	err := p.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, string(position.StatusOpen)).
		Order("opened_at asc").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list open positions: %w", err)
	}

	positions := make([]position.Position, 0, len(records))
	for i := range records {
		positions = append(positions, records[i].ToDomain())
	}
	return positions, nil
}

func (p *postgresStore) GetPosition(ctx context.Context, id string) (*position.Position, error) {
	var record models.PositionRecord
	err := p.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrPositionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position %s: %w", id, err)
	}

	pos := record.ToDomain()
	return &pos, nil
}

func (p *postgresStore) UpdatePosition(ctx context.Context, id string, patch position.ExitPatch) error {
	result := p.db.WithContext(ctx).Model(&models.PositionRecord{}).
		Where("id = ? AND status = ?", id, string(position.StatusOpen)).
		Updates(map[string]interface{}{
			"status":              string(patch.Status),
			"exit_reason":         string(patch.ExitReason),
			"exit_price":          patch.ExitPrice,
			"exit_tx_signature":   patch.ExitTxSignature,
			"closed_at":           patch.ClosedAt,
			"profit_loss_percent": patch.ProfitLossPercent,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update position %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrPositionNotFound
	}
	return nil
}

func (p *postgresStore) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
