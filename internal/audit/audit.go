// Package audit records certificate state transitions and verification
// attempts.
//
// Transition records are written inside the caller's transaction, so a
// transition and its audit row commit together. Verification log rows are
// appended on their own and a failure to write one never fails the
// verification. Committed transition records can additionally be fanned out
// to a Sink (Kafka in production) by a background worker.
package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-cert-backend/internal/domain"
	"github.com/tbourn/go-cert-backend/internal/repo"
)

// Sink receives committed audit records.
type Sink interface {
	Publish(ctx context.Context, rec domain.AuditRecord) error
	Close() error
}

const queueSize = 256

// Logger is the AuditLogger used by the services.
type Logger struct {
	db    *gorm.DB
	sink  Sink
	queue chan domain.AuditRecord
}

// New returns a logger writing to db. sink may be nil.
func New(db *gorm.DB, sink Sink) *Logger {
	l := &Logger{db: db, sink: sink}
	if sink != nil {
		l.queue = make(chan domain.AuditRecord, queueSize)
	}
	return l
}

// RecordTransition appends rec using tx, the transaction that performs the
// transition.
func (l *Logger) RecordTransition(ctx context.Context, tx *gorm.DB, rec *domain.AuditRecord) error {
	return repo.CreateAuditRecord(ctx, tx, rec)
}

// Published hands committed records to the sink worker. It never blocks; when
// the queue is full the record is dropped from the fan-out (it is already
// persisted).
func (l *Logger) Published(recs ...domain.AuditRecord) {
	if l.queue == nil {
		return
	}
	for _, rec := range recs {
		select {
		case l.queue <- rec:
		default:
			log.Warn().Str("action", rec.Action).Str("entity_id", rec.EntityID).
				Msg("audit: sink queue full, record not forwarded")
		}
	}
}

// RecordVerification appends one verification attempt. Errors are logged
// and swallowed.
func (l *Logger) RecordVerification(ctx context.Context, e *domain.VerificationLog) {
	if err := repo.CreateVerificationLog(ctx, l.db, e); err != nil {
		log.Error().Err(err).Str("certificate_id", e.CertificateID).Msg("audit: verification log write failed")
	}
}

// Run forwards queued records to the sink until ctx is done, then drains
// what is left with a short grace period and closes the sink.
func (l *Logger) Run(ctx context.Context) error {
	if l.queue == nil {
		return nil
	}
	for {
		select {
		case rec := <-l.queue:
			l.forward(ctx, rec)
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for {
				select {
				case rec := <-l.queue:
					l.forward(drainCtx, rec)
				default:
					return l.sink.Close()
				}
			}
		}
	}
}

func (l *Logger) forward(ctx context.Context, rec domain.AuditRecord) {
	if err := l.sink.Publish(ctx, rec); err != nil {
		log.Error().Err(err).Str("action", rec.Action).Str("entity_id", rec.EntityID).
			Msg("audit: sink publish failed")
	}
}
