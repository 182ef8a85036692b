package direct

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"path"

	"github.com/cockroachdb/errors"

	"translator-backend/internal/document"
	"translator-backend/internal/shared/storage/object"
)

// Scratch keeps translated units of a running direct job in the object
// store, so an interrupted job resumes without translating them again.
type Scratch struct {
	store object.ObjectStore
}

// NewScratch stores scratch units in store.
func NewScratch(store object.ObjectStore) *Scratch {
	return &Scratch{store: store}
}

func scratchKey(jobID, unitID string) string {
	return path.Join("scratch", url.PathEscape(jobID), url.PathEscape(unitID)+".json")
}

// Load returns the saved translation of a unit, if any. Unreadable entries
// are treated as missing.
func (s *Scratch) Load(ctx context.Context, jobID, unitID string) (document.TranslatedUnit, bool) {
	if s == nil || s.store == nil {
		return document.TranslatedUnit{}, false
	}
	raw, err := object.ReadAll(ctx, s.store, scratchKey(jobID, unitID))
	if err != nil {
		return document.TranslatedUnit{}, false
	}
	var unit document.TranslatedUnit
	if err := json.Unmarshal(raw, &unit); err != nil || unit.ID != unitID {
		return document.TranslatedUnit{}, false
	}
	return unit, true
}

// Save records a translated unit.
func (s *Scratch) Save(ctx context.Context, jobID string, unit document.TranslatedUnit) error {
	if s == nil || s.store == nil {
		return nil
	}
	raw, err := json.Marshal(unit)
	if err != nil {
		return errors.Wrap(err, "encode scratch unit")
	}
	_, err = s.store.SaveWithKey(ctx, scratchKey(jobID, unit.ID), "application/json", bytes.NewReader(raw))
	return err
}
