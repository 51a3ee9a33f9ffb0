// Package persistence implements the Batch Engine's two storages (spec
// §4.G): an append-only JSON transcript plus funding/price/tree files on
// disk (Main Storage), and a queue of pending remote-DB writes the backend
// could not accept synchronously (Backup Storage).
//
// Grounded on the teacher's internal/storage.RedisLedger for the
// queue-draining shape, generalized to use spf13/afero instead of a bare
// os.* file layer so the transcript and snapshot files are testable
// in-memory.
package persistence

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/cmatc13/stathera/internal/statetree"
	domainerrors "github.com/cmatc13/stathera/pkg/errors"
)

// Record is one line of the append-only transcript (spec §6 transaction
// transcript schema).
type Record struct {
	TransactionType string          `json:"transaction_type"`
	Payload         json.RawMessage `json:"payload"`
}

// FundingInfoFile is the persisted funding snapshot (spec §4.E FundingInfo).
type FundingInfoFile struct {
	FundingRates   map[uint64][]float64 `json:"funding_rates"`
	FundingPrices  map[uint64][]uint64  `json:"funding_prices"`
	MinFundingIdxs map[uint64]uint64    `json:"min_funding_idxs"`
}

// PriceInfoFile is the persisted price snapshot (spec §3 Price State).
type PriceInfoFile struct {
	Latest map[uint64]uint64 `json:"latest"`
	Min    map[uint64]uint64 `json:"min"`
	Max    map[uint64]uint64 `json:"max"`
}

// DefaultBundleOutputPath is the fixed location finalize_batch writes the
// prover-input bundle to unless overridden (spec §6 External Interfaces).
const DefaultBundleOutputPath = "../cairo_contracts/transaction_batch/tx_batch_input.json"

// MainStorage owns the on-disk transcript, funding/price files, and the two
// state-tree snapshot files, all addressed under a root directory, plus the
// fixed external path the finalize_batch bundle is written to.
type MainStorage struct {
	mu         sync.Mutex
	fs         afero.Fs
	root       string
	bundlePath string
}

// NewMainStorage creates a MainStorage rooted at root using fs. Pass
// afero.NewOsFs() in production and afero.NewMemMapFs() in tests.
func NewMainStorage(fs afero.Fs, root string) *MainStorage {
	return &MainStorage{fs: fs, root: root, bundlePath: DefaultBundleOutputPath}
}

// SetBundlePath overrides the path the finalize_batch bundle is written to,
// for deployments that relocate the cairo_contracts checkout.
func (m *MainStorage) SetBundlePath(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bundlePath = path
}

func (m *MainStorage) path(name string) string {
	return filepath.Join(m.root, name)
}

const (
	transcriptFile = "transcript.jsonl"
	fundingFile    = "funding_info.json"
	priceFile      = "price_info.json"
	spotTreeFile   = "merkle_trees/state_tree.json"
	perpTreeFile   = "merkle_trees/perp_state_tree.json"
)

// AppendRecord appends one transcript record (spec §4.G Main Storage
// append_record).
func (m *MainStorage) AppendRecord(r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fs.MkdirAll(m.root, 0o755); err != nil {
		return domainerrors.NewBatchError(domainerrors.BatchErrFileIO, "failed to create storage root", err)
	}

	f, err := m.fs.OpenFile(m.path(transcriptFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return domainerrors.NewBatchError(domainerrors.BatchErrFileIO, "failed to open transcript", err)
	}
	defer f.Close()

	line, err := json.Marshal(r)
	if err != nil {
		return domainerrors.NewBatchError(domainerrors.BatchErrFileIO, "failed to marshal transcript record", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return domainerrors.NewBatchError(domainerrors.BatchErrFileIO, "failed to write transcript record", err)
	}
	return nil
}

// ReadAll reads every pending transcript record (spec §4.G read_all), used
// both by restore_state on cold start and by finalize_batch to fold the
// persisted transcript into the final bundle.
func (m *MainStorage) ReadAll() ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.fs.Open(m.path(transcriptFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, domainerrors.NewBatchError(domainerrors.BatchErrFileIO, "failed to open transcript", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, domainerrors.NewBatchError(domainerrors.BatchErrFileIO, "failed to parse transcript record", err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, domainerrors.NewBatchError(domainerrors.BatchErrFileIO, "failed to scan transcript", err)
	}
	return records, nil
}

// ClearTranscript truncates the transcript file after a successful finalize
// (spec §4.G clear_transcript).
func (m *MainStorage) ClearTranscript() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fs.Remove(m.path(transcriptFile)); err != nil && !os.IsNotExist(err) {
		return domainerrors.NewBatchError(domainerrors.BatchErrFileIO, "failed to clear transcript", err)
	}
	return nil
}

func (m *MainStorage) writeJSON(name string, v interface{}) error {
	if err := m.fs.MkdirAll(filepath.Dir(m.path(name)), 0o755); err != nil {
		return domainerrors.NewBatchError(domainerrors.BatchErrFileIO, "failed to create directory", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return domainerrors.NewBatchError(domainerrors.BatchErrFileIO, "failed to marshal", err)
	}
	tmp := m.path(name) + ".tmp"
	if err := afero.WriteFile(m.fs, tmp, data, 0o644); err != nil {
		return domainerrors.NewBatchError(domainerrors.BatchErrFileIO, "failed to write temp file", err)
	}
	if err := m.fs.Rename(tmp, m.path(name)); err != nil {
		return domainerrors.NewBatchError(domainerrors.BatchErrFileIO, "failed to rename into place", err)
	}
	return nil
}

func (m *MainStorage) readJSON(name string, v interface{}) error {
	data, err := afero.ReadFile(m.fs, m.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return domainerrors.NewBatchError(domainerrors.BatchErrFileIO, fmt.Sprintf("failed to read %s", name), err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return domainerrors.NewBatchError(domainerrors.BatchErrFileIO, fmt.Sprintf("failed to parse %s", name), err)
	}
	return nil
}

// StoreFunding persists the latest funding info (spec §4.G store_funding).
// Writes go through a temp file plus rename for crash-safe atomicity (spec
// §9 open question on atomic output).
func (m *MainStorage) StoreFunding(info FundingInfoFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeJSON(fundingFile, info)
}

// ReadFunding loads the persisted funding info (spec §4.G read_funding).
func (m *MainStorage) ReadFunding() (FundingInfoFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var info FundingInfoFile
	err := m.readJSON(fundingFile, &info)
	return info, err
}

// StorePrice persists the latest price info (spec §4.G store_price).
func (m *MainStorage) StorePrice(info PriceInfoFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeJSON(priceFile, info)
}

// ReadPrice loads the persisted price info (spec §4.G read_price).
func (m *MainStorage) ReadPrice() (PriceInfoFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var info PriceInfoFile
	err := m.readJSON(priceFile, &info)
	return info, err
}

// StoreSpotTree persists the spot state tree snapshot (spec §6: path
// storage/merkle_trees/state_tree).
func (m *MainStorage) StoreSpotTree(snap statetree.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeJSON(spotTreeFile, snap)
}

// LoadSpotTree loads the spot state tree snapshot.
func (m *MainStorage) LoadSpotTree() (statetree.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var snap statetree.Snapshot
	err := m.readJSON(spotTreeFile, &snap)
	return snap, err
}

// StorePerpTree persists the perpetual state tree snapshot (spec §6: path
// storage/merkle_trees/perp_state_tree).
func (m *MainStorage) StorePerpTree(snap statetree.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeJSON(perpTreeFile, snap)
}

// LoadPerpTree loads the perpetual state tree snapshot.
func (m *MainStorage) LoadPerpTree() (statetree.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var snap statetree.Snapshot
	err := m.readJSON(perpTreeFile, &snap)
	return snap, err
}

// WriteBatchBundle writes the finalize_batch prover-input bundle to the
// fixed external output path (spec §4.E step 6, §6 External Interfaces),
// outside the storage root and through the same temp-file-plus-rename
// atomicity as the rest of Main Storage.
func (m *MainStorage) WriteBatchBundle(bundle interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := filepath.Dir(m.bundlePath)
	if dir != "." && dir != "/" {
		if err := m.fs.MkdirAll(dir, 0o755); err != nil {
			return domainerrors.NewBatchError(domainerrors.BatchErrFileIO, "failed to create bundle output directory", err)
		}
	}
	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return domainerrors.NewBatchError(domainerrors.BatchErrFileIO, "failed to marshal batch bundle", err)
	}
	tmp := m.bundlePath + ".tmp"
	if err := afero.WriteFile(m.fs, tmp, data, 0o644); err != nil {
		return domainerrors.NewBatchError(domainerrors.BatchErrFileIO, "failed to write batch bundle", err)
	}
	if err := m.fs.Rename(tmp, m.bundlePath); err != nil {
		return domainerrors.NewBatchError(domainerrors.BatchErrFileIO, "failed to rename batch bundle into place", err)
	}
	return nil
}
