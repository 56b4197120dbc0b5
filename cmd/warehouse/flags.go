package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/warehouse/pkg/types"
)

// parseDate accepts a bare YYYY-MM-DD or a full RFC3339 timestamp,
// always resolving to UTC.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("date is required")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(s)
}

// parseBatch builds a Batch from an id/date flag pair. Either both are
// empty (the unspecified batch, pending FIFO resolution) or both must
// be set.
func parseBatch(idFlag, dateFlag string) (types.Batch, error) {
	if idFlag == "" && dateFlag == "" {
		return types.Batch{}, nil
	}
	if idFlag == "" || dateFlag == "" {
		return types.Batch{}, fmt.Errorf("batch id and batch date must be given together")
	}
	id, err := uuid.Parse(idFlag)
	if err != nil {
		return types.Batch{}, fmt.Errorf("parse batch id: %w", err)
	}
	date, err := parseDate(dateFlag)
	if err != nil {
		return types.Batch{}, fmt.Errorf("parse batch date: %w", err)
	}
	return types.Batch{ID: id, Date: date}, nil
}
