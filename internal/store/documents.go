package store

import (
	"context"
	"errors"

	"github.com/nebari-dev/labgate/internal/models"
)

// GetDocument looks up a document by id.
func (s *Store) GetDocument(ctx context.Context, id uint) (*models.Document, error) {
	var d models.Document
	if err := s.with(ctx).First(&d, id).Error; err != nil {
		return nil, translate(err)
	}
	return &d, nil
}

// ListDocuments returns every document, most recently uploaded first.
func (s *Store) ListDocuments(ctx context.Context) ([]models.Document, error) {
	var rows []models.Document
	if err := s.with(ctx).Order("uploaded_at DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListMandatoryDocuments returns the mandatory documents of a lab.
func (s *Store) ListMandatoryDocuments(ctx context.Context, labID uint) ([]models.Document, error) {
	return s.ListMandatoryDocumentsForLabs(ctx, []uint{labID})
}

// ListMandatoryDocumentsForLabs returns the mandatory documents of several labs ordered by lab and title.
func (s *Store) ListMandatoryDocumentsForLabs(ctx context.Context, labIDs []uint) ([]models.Document, error) {
	if len(labIDs) == 0 {
		return nil, nil
	}
	var rows []models.Document
	err := s.with(ctx).
		Where("lab_id IN ? AND mandatory = ?", labIDs, true).
		Order("lab_id ASC").
		Order("title ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// FindAck returns the acknowledgment of one document version by an engineer.
func (s *Store) FindAck(ctx context.Context, engineerID, documentID uint, version int) (*models.DocumentAck, error) {
	var a models.DocumentAck
	err := s.with(ctx).
		Where("engineer_id = ? AND document_id = ? AND version = ?", engineerID, documentID, version).
		First(&a).Error
	if err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

// HasAck reports whether the engineer acknowledged exactly this document version.
func (s *Store) HasAck(ctx context.Context, engineerID, documentID uint, version int) (bool, error) {
	_, err := s.FindAck(ctx, engineerID, documentID, version)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListAcks returns acknowledgments, newest first. A non-zero engineerID filters to one engineer.
func (s *Store) ListAcks(ctx context.Context, engineerID uint) ([]models.DocumentAck, error) {
	q := s.with(ctx).Order("acked_at DESC").Order("id DESC")
	if engineerID != 0 {
		q = q.Where("engineer_id = ?", engineerID)
	}
	var rows []models.DocumentAck
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// MaxDocumentVersion returns the highest version stored for a title in a lab, or 0 if none.
func (s *Store) MaxDocumentVersion(ctx context.Context, labID uint, title string) (int, error) {
	var max int
	err := s.with(ctx).Model(&models.Document{}).
		Where("lab_id = ? AND title = ?", labID, title).
		Select("COALESCE(MAX(version), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	return max, nil
}
