// Package audit keeps the per-patient trail of record reads and amendments.
package audit

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medaccess-api/internal/model"
	"github.com/jwalitptl/medaccess-api/internal/repository"
	"github.com/jwalitptl/medaccess-api/pkg/auth"
)

type Service struct {
	store repository.Store
	now   func() time.Time
}

func NewService(store repository.Store) *Service {
	return &Service{store: store, now: time.Now}
}

type LogOptions struct {
	Changes map[string]interface{}
}

func (s *Service) entry(actor *auth.Principal, patientID, action, resource string, opts *LogOptions) *model.AuditLog {
	log := &model.AuditLog{
		ID:        uuid.NewString(),
		ActorID:   actor.UID,
		ActorRole: actor.Role,
		PatientID: patientID,
		Action:    action,
		Resource:  resource,
		CreatedAt: s.now().UTC(),
	}
	if opts != nil {
		log.Changes = opts.Changes
	}
	return log
}

// Log writes an entry on its own.
func (s *Service) Log(ctx context.Context, actor *auth.Principal, patientID, action, resource string, opts *LogOptions) error {
	return s.LogTx(ctx, s.store, actor, patientID, action, resource, opts)
}

// LogTx writes an entry through w, typically the transaction making the
// audited change so both commit together.
func (s *Service) LogTx(ctx context.Context, w repository.Writer, actor *auth.Principal, patientID, action, resource string, opts *LogOptions) error {
	log := s.entry(actor, patientID, action, resource, opts)
	return w.Set(ctx, model.AuditLogsPath(patientID), log.ID, log)
}

// List returns patientID's trail, oldest first.
func (s *Service) List(ctx context.Context, patientID string) ([]*model.AuditLog, error) {
	docs, err := s.store.Query(ctx, model.AuditLogsPath(patientID))
	if err != nil {
		return nil, err
	}

	logs := make([]*model.AuditLog, 0, len(docs))
	for _, doc := range docs {
		var l model.AuditLog
		if err := doc.Decode(&l); err != nil {
			return nil, err
		}
		logs = append(logs, &l)
	}
	sort.SliceStable(logs, func(i, j int) bool { return logs[i].CreatedAt.Before(logs[j].CreatedAt) })
	return logs, nil
}
