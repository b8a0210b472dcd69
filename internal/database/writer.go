package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/JakeFAU/vm-pricedb/internal/pricedb"
)

// Config controls how the database artifact is written.
type Config struct {
	Path        string
	ContentType string
	Indent      bool
}

// Writer serializes a finished database once and stores it.
type Writer struct {
	cfg     Config
	blobs   pricedb.BlobStore
	hasher  pricedb.Hasher
	records pricedb.RecordStore
	logger  *zap.Logger
}

// NewWriter builds a Writer. records may be nil when no relational mirror is configured.
func NewWriter(cfg Config, blobs pricedb.BlobStore, hasher pricedb.Hasher, records pricedb.RecordStore, logger *zap.Logger) (*Writer, error) {
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if hasher == nil {
		return nil, errors.New("hasher is required")
	}
	if cfg.Path == "" {
		return nil, errors.New("output path is required")
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		cfg:     cfg,
		blobs:   blobs,
		hasher:  hasher,
		records: records,
		logger:  logger.Named("writer"),
	}, nil
}

// Encode renders the database as a JSON array. An empty database encodes as [].
func Encode(db pricedb.Database, indent bool) ([]byte, error) {
	if db == nil {
		db = pricedb.Database{}
	}
	var (
		data []byte
		err  error
	)
	if indent {
		data, err = json.MarshalIndent(db, "", "  ")
	} else {
		data, err = json.Marshal(db)
	}
	if err != nil {
		return nil, fmt.Errorf("encode database: %w", err)
	}
	return data, nil
}

// Decode parses a database previously written by Encode.
func Decode(data []byte) (pricedb.Database, error) {
	var db pricedb.Database
	if err := json.Unmarshal(data, &db); err != nil {
		return nil, fmt.Errorf("decode database: %w", err)
	}
	return db, nil
}

// Write encodes the whole database, stores it, and mirrors the rows when a
// record store is configured. A mirror failure is logged, not returned.
func (w *Writer) Write(ctx context.Context, run pricedb.Run, db pricedb.Database) (pricedb.Artifact, error) {
	data, err := Encode(db, w.cfg.Indent)
	if err != nil {
		return pricedb.Artifact{}, err
	}
	digest, err := w.hasher.Digest(db)
	if err != nil {
		return pricedb.Artifact{}, fmt.Errorf("digest database: %w", err)
	}
	uri, err := w.blobs.PutObject(ctx, w.cfg.Path, w.cfg.ContentType, bytes.NewReader(data))
	if err != nil {
		return pricedb.Artifact{}, fmt.Errorf("store database: %w", err)
	}
	artifact := pricedb.Artifact{
		URI:     uri,
		Records: len(db),
		Bytes:   len(data),
		Digest:  digest,
	}
	w.logger.Info("database written",
		zap.String("run_id", run.ID),
		zap.String("uri", uri),
		zap.Int("records", artifact.Records),
		zap.Int("bytes", artifact.Bytes),
		zap.String("digest", digest),
	)

	if w.records != nil {
		run.Digest = digest
		run.ArtifactURI = uri
		run.Records = len(db)
		if err := w.records.WriteDatabase(ctx, run, db); err != nil {
			w.logger.Warn("database mirror failed", zap.String("run_id", run.ID), zap.Error(err))
		}
	}
	return artifact, nil
}
