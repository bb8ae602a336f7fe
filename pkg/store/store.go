package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/opensensing/luxcap/pkg/config"
)

// Store provides append-only persistence for experiments and their
// readings. The capture process is the only writer; the chart and export
// consumers are readers sharing the same database file.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	StartExperiment(ctx context.Context, name string) (uint, error)
	StopExperiment(ctx context.Context, id uint) error
	WriteReading(ctx context.Context, id uint, value float64) error

	LatestReadings(ctx context.Context, id uint, since *time.Time) ([]Point, error)
	RunningExperiment(ctx context.Context) (*Experiment, error)
	ListExperiments(ctx context.Context) ([]Experiment, error)
	GetExperiment(ctx context.Context, id uint) (*Experiment, error)

	DeleteExperiment(ctx context.Context, id uint) error
	MarkExported(ctx context.Context, id uint) (bool, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
	now func() time.Time
}

// NewStore creates a new reading Store backed by the configured database
// driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
		now: time.Now,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening reading database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Experiment{},
		&Reading{},
	); err != nil {
		return fmt.Errorf("running reading migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).
		Info("Reading database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// StartExperiment creates a new experiment row with start = now and
// returns its assigned id. The single-active invariant is enforced
// against the durable state: if any experiment still has a NULL end,
// ErrAlreadyRunning is returned.
func (s *store) StartExperiment(
	ctx context.Context, name string,
) (uint, error) {
	exp := Experiment{Name: name, Start: s.now()}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active int64
		if err := tx.Model(&Experiment{}).
			Where(`"end" IS NULL`).
			Count(&active).Error; err != nil {
			return fmt.Errorf("checking for active experiment: %w", err)
		}

		if active > 0 {
			return ErrAlreadyRunning
		}

		if err := tx.Create(&exp).Error; err != nil {
			return fmt.Errorf("creating experiment: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return exp.ID, nil
}

// StopExperiment stamps end = now on the given experiment. ErrNotRunning
// is returned if the experiment does not exist or has already ended.
func (s *store) StopExperiment(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).
		Model(&Experiment{}).
		Where(`id = ? AND "end" IS NULL`, id).
		Update("end", s.now())
	if result.Error != nil {
		return fmt.Errorf("stopping experiment: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return ErrNotRunning
	}

	return nil
}

// WriteReading appends one reading for the given experiment with
// ts = now. The experiment id is explicit on every call; the store keeps
// no notion of a "current" experiment.
func (s *store) WriteReading(
	ctx context.Context, id uint, value float64,
) error {
	if err := s.requireExperiment(ctx, id); err != nil {
		return err
	}

	reading := Reading{ExperimentID: id, Value: value, TS: s.now()}
	if err := s.db.WithContext(ctx).Create(&reading).Error; err != nil {
		return fmt.Errorf("writing reading: %w", err)
	}

	return nil
}

// LatestReadings returns the experiment's readings ordered by timestamp,
// optionally restricted to ts > since, with timestamps converted to
// seconds relative to the experiment start. A missing experiment yields
// ErrNotFound; an existing experiment with no matching rows yields an
// empty slice, so callers can tell "no such experiment" apart from "no
// new data yet".
func (s *store) LatestReadings(
	ctx context.Context, id uint, since *time.Time,
) ([]Point, error) {
	exp, err := s.GetExperiment(ctx, id)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).
		Model(&Reading{}).
		Where("experiment_id = ?", id)

	if since != nil {
		query = query.Where("ts > ?", *since)
	}

	var readings []Reading
	if err := query.Order("ts ASC").Find(&readings).Error; err != nil {
		return nil, fmt.Errorf("listing readings: %w", err)
	}

	points := make([]Point, 0, len(readings))
	for _, r := range readings {
		points = append(points, Point{
			TS:    r.TS.Sub(exp.Start).Seconds(),
			Value: r.Value,
		})
	}

	return points, nil
}

// RunningExperiment returns the experiment with a NULL end, or
// ErrNotFound when nothing is being captured.
func (s *store) RunningExperiment(ctx context.Context) (*Experiment, error) {
	var exp Experiment

	err := s.db.WithContext(ctx).
		Where(`"end" IS NULL`).
		Order("id DESC").
		First(&exp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("finding running experiment: %w", err)
	}

	return &exp, nil
}

// ListExperiments returns all experiments in insertion order.
func (s *store) ListExperiments(ctx context.Context) ([]Experiment, error) {
	var experiments []Experiment
	if err := s.db.WithContext(ctx).
		Order("id ASC").
		Find(&experiments).Error; err != nil {
		return nil, fmt.Errorf("listing experiments: %w", err)
	}

	return experiments, nil
}

// GetExperiment returns one experiment by id, or ErrNotFound.
func (s *store) GetExperiment(
	ctx context.Context, id uint,
) (*Experiment, error) {
	var exp Experiment

	err := s.db.WithContext(ctx).First(&exp, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("getting experiment: %w", err)
	}

	return &exp, nil
}

// DeleteExperiment removes the experiment and all its readings in one
// transaction. ErrNotFound is returned if the id is absent.
func (s *store) DeleteExperiment(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("experiment_id = ?", id).
			Delete(&Reading{}).Error; err != nil {
			return fmt.Errorf("deleting readings: %w", err)
		}

		result := tx.Delete(&Experiment{}, id)
		if result.Error != nil {
			return fmt.Errorf("deleting experiment: %w", result.Error)
		}

		if result.RowsAffected == 0 {
			return ErrNotFound
		}

		return nil
	})
}

// MarkExported flips the exported flag. A missing id reports false
// rather than an error so export-completion reporting stays non-fatal.
func (s *store) MarkExported(ctx context.Context, id uint) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&Experiment{}).
		Where("id = ?", id).
		Update("exported", true)
	if result.Error != nil {
		return false, fmt.Errorf("marking experiment exported: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}

// requireExperiment checks existence without loading the full row.
func (s *store) requireExperiment(ctx context.Context, id uint) error {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&Experiment{}).
		Where("id = ?", id).
		Count(&count).Error; err != nil {
		return fmt.Errorf("checking experiment: %w", err)
	}

	if count == 0 {
		return ErrNotFound
	}

	return nil
}
