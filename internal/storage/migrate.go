package storage

import (
	"context"

	"github.com/tshla-medical/phicore/internal/domain"
	"go.uber.org/zap"
)

// MigrationReport summarizes one legacy sweep.
type MigrationReport struct {
	Moved   []string
	Failed  []string
	Skipped int
}

// MigrateLegacyKeys is the one-time data-hygiene sweep: known-dangerous
// legacy keys plus any client-store value the classifier flags are moved to
// server-side storage and deleted locally. It encodes the invariant the rest
// of the system upholds going forward: PHI keys must never reappear in
// client storage. Values that fail the server write stay put rather than
// being destroyed.
func MigrateLegacyKeys(ctx context.Context, client *ClientStore, server *ServerStore, session *domain.Session, patientID string, log *zap.Logger) *MigrationReport {
	report := &MigrationReport{}

	for _, key := range client.Keys() {
		value, ok := client.Get(key)
		if !ok {
			continue
		}

		if !isLegacyPHIKey(key) && !client.classify(value) {
			report.Skipped++
			continue
		}

		if err := server.StorePatientData(ctx, session, key, string(value), patientID); err != nil {
			log.Error("legacy PHI key could not be relocated",
				zap.String("key", key),
				zap.Error(err),
			)
			report.Failed = append(report.Failed, key)
			continue
		}

		client.Delete(key)
		report.Moved = append(report.Moved, key)
	}

	if len(report.Moved) > 0 || len(report.Failed) > 0 {
		log.Info("legacy client storage sweep complete",
			zap.Int("moved", len(report.Moved)),
			zap.Int("failed", len(report.Failed)),
			zap.Int("skipped", report.Skipped),
		)
	}

	return report
}
