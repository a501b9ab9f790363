package vectorstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hyperjump/kotae/internal/models"
)

// ledgerFile is the on-disk shape of the metadata ledger. Version guards the
// index/ledger pair as co-versioned artifacts.
type ledgerFile struct {
	Version int                  `json:"version"`
	Records []models.ChunkRecord `json:"records"`
}

const ledgerVersion = 1

// saveLedger writes records to path as JSON, creating the directory if needed.
func saveLedger(path string, records []models.ChunkRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	data, err := json.Marshal(ledgerFile{Version: ledgerVersion, Records: records})
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}

// loadLedger reads records from path. Returns (nil, false, nil) when the file
// does not exist.
func loadLedger(path string) ([]models.ChunkRecord, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read ledger: %w", err)
	}
	var lf ledgerFile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, true, fmt.Errorf("parse ledger: %w", err)
	}
	if lf.Version != ledgerVersion {
		return nil, true, fmt.Errorf("unsupported ledger version %d", lf.Version)
	}
	if lf.Records == nil {
		lf.Records = []models.ChunkRecord{}
	}
	return lf.Records, true, nil
}

// countTombstones returns how many records are logically deleted.
func countTombstones(records []models.ChunkRecord) int {
	n := 0
	for i := range records {
		if records[i].Deleted {
			n++
		}
	}
	return n
}
