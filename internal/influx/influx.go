// Package influx mirrors per-tick vehicle telemetry into InfluxDB. When the
// server is unreachable, points go to a gzipped line-protocol backup file.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"

	"github.com/ai4ce/vpr-collector/internal/config"
	"github.com/ai4ce/vpr-collector/pkg/core"
)

// MeasurementVehicleState is the measurement written once per tick.
const MeasurementVehicleState = "vehicle_state"

// ErrDisabled is returned by Connect when the sink is switched off.
var ErrDisabled = errors.New("influx sink is disabled")

// Manager handles InfluxDB connections and writes.
type Manager struct {
	cfg    config.InfluxConfig
	logger zerolog.Logger

	Client     influxdb2.Client
	Writer     influxdb2_api.WriteAPI
	IsValid    bool
	BackupPath string

	mu           sync.Mutex
	backupFile   *os.File
	BackupWriter *gzip.Writer
	role         string
}

// NewManager creates a new InfluxDB manager. role tags every point.
func NewManager(cfg config.InfluxConfig, log zerolog.Logger, backupPath, role string) *Manager {
	return &Manager{
		cfg:        cfg,
		logger:     log,
		BackupPath: backupPath,
		role:       role,
	}
}

// Connect establishes a connection to InfluxDB, falling back to the backup
// file if the server does not answer.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.cfg.Enabled {
		return ErrDisabled
	}

	m.Client = influxdb2.NewClientWithOptions(
		fmt.Sprintf("%s://%s:%s", m.cfg.Protocol, m.cfg.Host, m.cfg.Port),
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)

	// validate client connection health
	running, err := m.Client.Ping(ctx)
	m.IsValid = err == nil && running

	if !m.IsValid {
		m.logger.Warn().Str("backupPath", m.BackupPath).
			Msg("InfluxDB unreachable, writing to backup file")
		return m.openBackup()
	}

	if err := m.setupOrganizationAndBucket(ctx); err != nil {
		return err
	}
	m.createWriter()
	m.logger.Info().Str("bucket", m.cfg.Bucket).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) openBackup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BackupWriter != nil {
		return nil
	}
	file, err := os.OpenFile(m.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	m.backupFile = file
	m.BackupWriter = gzip.NewWriter(file)
	return nil
}

func (m *Manager) setupOrganizationAndBucket(ctx context.Context) error {
	orgs := m.Client.OrganizationsAPI()

	// ensure org exists
	org, err := orgs.FindOrganizationByName(ctx, m.cfg.Org)
	if err != nil {
		m.logger.Info().Str("org", m.cfg.Org).Msg("Organization not found, creating")
		org, err = orgs.CreateOrganizationWithName(ctx, m.cfg.Org)
		if err != nil {
			m.logger.Error().Err(err).Str("org", m.cfg.Org).Msg("Error creating organization")
			return err
		}
	}

	// ensure bucket exists with 90 day retention
	if _, err := m.Client.BucketsAPI().FindBucketByName(ctx, m.cfg.Bucket); err != nil {
		m.logger.Info().Str("bucket", m.cfg.Bucket).Msg("Bucket not found, creating")

		rule := domain.RetentionRuleTypeExpire
		_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, org, m.cfg.Bucket, domain.RetentionRule{
			Type:         &rule,
			EverySeconds: 60 * 60 * 24 * 90,
		})
		if err != nil {
			m.logger.Error().Err(err).Str("bucket", m.cfg.Bucket).Msg("Error creating bucket")
			return err
		}
	}
	return nil
}

func (m *Manager) createWriter() {
	m.Writer = m.Client.WriteAPI(m.cfg.Org, m.cfg.Bucket)

	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			m.logger.Error().Err(writeErr).Str("bucket", m.cfg.Bucket).
				Msg("Error sending data to InfluxDB")
		}
	}(m.Writer.Errors())
}

// RecordVehicleState writes one telemetry point.
func (m *Manager) RecordVehicleState(s *core.VehicleState) error {
	return m.WritePoint(VehicleStatePoint(s, m.role))
}

// WritePoint writes a point to InfluxDB or the backup file.
func (m *Manager) WritePoint(point *influxdb2_write.Point) error {
	if m.IsValid {
		m.Writer.WritePoint(point)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BackupWriter == nil {
		return fmt.Errorf("influxDB client not initialized and backup writer not available")
	}

	lineProtocol := strings.TrimSuffix(influxdb2_write.PointToLineProtocol(point, time.Nanosecond), "\n")
	if _, err := m.BackupWriter.Write([]byte(lineProtocol + "\n")); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// Close flushes pending points and releases the client and backup file.
func (m *Manager) Close() error {
	if m.Writer != nil {
		m.Writer.Flush()
	}
	if m.Client != nil {
		m.Client.Close()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BackupWriter == nil {
		return nil
	}
	err := errors.Join(m.BackupWriter.Close(), m.backupFile.Close())
	m.BackupWriter, m.backupFile = nil, nil
	return err
}

// VehicleStatePoint builds the line-protocol point for one tick.
func VehicleStatePoint(s *core.VehicleState, role string) *influxdb2_write.Point {
	ts := s.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return influxdb2.NewPoint(
		MeasurementVehicleState,
		map[string]string{
			"session": s.SessionID,
			"role":    role,
		},
		map[string]any{
			"tick":      int64(s.Tick),
			"x":         s.Pose.X,
			"y":         s.Pose.Y,
			"yaw":       s.Pose.Yaw,
			"speed":     s.Speed,
			"throttle":  s.Command.Throttle,
			"brake":     s.Command.Brake,
			"steer":     s.Command.Steer,
			"gear":      int64(s.Command.Gear),
			"handbrake": s.Command.HandBrake,
			"lights":    int64(s.Lights),
			"autopilot": s.Autopilot,
		},
		ts,
	)
}
