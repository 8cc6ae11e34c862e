package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/kart-io/ragcore/internal/model"
	"github.com/kart-io/ragcore/pkg/component/database"
	"github.com/kart-io/ragcore/pkg/utils/json"
)

// ErrNotFound is returned when a document or version does not exist.
var ErrNotFound = errors.New("record not found")

// Ledger persists documents and their append-only version history.
type Ledger struct {
	db *gorm.DB
}

// NewLedger creates a Ledger backed by the given database client and
// migrates the document tables.
func NewLedger(client *database.Client) (*Ledger, error) {
	db := client.DB()
	if err := db.AutoMigrate(&model.Document{}, &model.DocumentVersion{}); err != nil {
		return nil, fmt.Errorf("failed to migrate ledger tables: %w", err)
	}
	return &Ledger{db: db}, nil
}

// CreateDocument inserts a new document record.
func (l *Ledger) CreateDocument(ctx context.Context, doc *model.Document) error {
	encodeDocMeta(doc)
	if err := l.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// GetDocument fetches a document by ID.
func (l *Ledger) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	err := l.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	decodeDocMeta(&doc)
	return &doc, nil
}

// UpdateDocument saves modified document fields.
func (l *Ledger) UpdateDocument(ctx context.Context, doc *model.Document) error {
	encodeDocMeta(doc)
	if err := l.db.WithContext(ctx).Save(doc).Error; err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	return nil
}

// DeleteDocument removes a document record. Version history is retained.
func (l *Ledger) DeleteDocument(ctx context.Context, id string) error {
	if err := l.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Document{}).Error; err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// SetStatus updates the indexing status and chunk count of a document.
func (l *Ledger) SetStatus(ctx context.Context, id, status string, chunkNum int) error {
	err := l.db.WithContext(ctx).Model(&model.Document{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "chunk_num": chunkNum}).Error
	if err != nil {
		return fmt.Errorf("failed to set document status: %w", err)
	}
	return nil
}

// Snapshot appends a new immutable version for the document and returns
// its label. Labels are sequential: v1, v2, ...
func (l *Ledger) Snapshot(ctx context.Context, documentID string) (string, error) {
	doc, err := l.GetDocument(ctx, documentID)
	if err != nil {
		return "", err
	}

	var count int64
	if err := l.db.WithContext(ctx).Model(&model.DocumentVersion{}).
		Where("document_id = ?", documentID).Count(&count).Error; err != nil {
		return "", fmt.Errorf("failed to count versions: %w", err)
	}

	label := fmt.Sprintf("v%d", count+1)
	version := &model.DocumentVersion{
		DocumentID:   documentID,
		VersionLabel: label,
		SnapshotMeta: doc.MetadataJS,
		ContentHash:  doc.Hash,
	}
	if err := l.db.WithContext(ctx).Create(version).Error; err != nil {
		return "", fmt.Errorf("failed to create version snapshot: %w", err)
	}
	return label, nil
}

// GetVersion fetches a specific document version.
func (l *Ledger) GetVersion(ctx context.Context, documentID, label string) (*model.DocumentVersion, error) {
	var version model.DocumentVersion
	err := l.db.WithContext(ctx).
		Where("document_id = ? AND version_label = ?", documentID, label).
		First(&version).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document version: %w", err)
	}
	return &version, nil
}

// ListVersions returns all versions of a document, oldest first.
func (l *Ledger) ListVersions(ctx context.Context, documentID string) ([]*model.DocumentVersion, error) {
	var versions []*model.DocumentVersion
	err := l.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("id ASC").
		Find(&versions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	return versions, nil
}

// CountDocuments returns the number of documents for a tenant.
// An empty tenant counts all documents.
func (l *Ledger) CountDocuments(ctx context.Context, tenantID string) (int64, error) {
	var count int64
	q := l.db.WithContext(ctx).Model(&model.Document{})
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	if err := q.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}

func encodeDocMeta(doc *model.Document) {
	if len(doc.Metadata) == 0 {
		return
	}
	if data, err := json.Marshal(doc.Metadata); err == nil {
		doc.MetadataJS = string(data)
	}
}

func decodeDocMeta(doc *model.Document) {
	if doc.MetadataJS == "" {
		return
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(doc.MetadataJS), &meta); err == nil {
		doc.Metadata = meta
	}
}
