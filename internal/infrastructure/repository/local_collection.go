package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/forecast"
)

// Loader fetches the full record set
type Loader interface {
	LoadAll(ctx context.Context) ([]forecast.Record, error)
}

// LocalCollection is the locally held copy of the data set that the
// client-side evaluator runs over when the remote path is unavailable.
type LocalCollection struct {
	mu      sync.RWMutex
	records []forecast.Record
	logger  *zap.Logger
}

// NewLocalCollection creates a collection seeded with records
func NewLocalCollection(records []forecast.Record, logger *zap.Logger) *LocalCollection {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalCollection{
		records: copyRecords(records),
		logger:  logger,
	}
}

// Records returns a copy of the collection
func (c *LocalCollection) Records() []forecast.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyRecords(c.records)
}

// Len returns the collection size
func (c *LocalCollection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Replace swaps the collection contents
func (c *LocalCollection) Replace(records []forecast.Record) {
	c.mu.Lock()
	c.records = copyRecords(records)
	c.mu.Unlock()
}

// Refresh reloads the collection from loader. On error the previous
// contents are kept.
func (c *LocalCollection) Refresh(ctx context.Context, loader Loader) error {
	records, err := loader.LoadAll(ctx)
	if err != nil {
		c.logger.Warn("failed to refresh local collection", zap.Error(err))
		return fmt.Errorf("failed to refresh local collection: %w", err)
	}
	c.Replace(records)
	c.logger.Info("local collection refreshed", zap.Int("records", len(records)))
	return nil
}

// LoadSeedFile reads a JSON array of records
func LoadSeedFile(path string) ([]forecast.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var records []forecast.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	for i, r := range records {
		if r.ID <= 0 {
			return nil, fmt.Errorf("seed record %d: id must be positive", i)
		}
		if r.Month < 1 || r.Month > 12 {
			return nil, fmt.Errorf("seed record %d: month %d out of range", i, r.Month)
		}
		if !r.Status.IsValid() {
			return nil, fmt.Errorf("seed record %d: unknown status %q", i, r.Status)
		}
	}
	return records, nil
}
