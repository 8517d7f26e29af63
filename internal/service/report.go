package service

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/familyrx/medtrack/internal/domain/family"
	"github.com/familyrx/medtrack/pkg/workerpool"
)

// MemberCompliance is one row of the household compliance report.
type MemberCompliance struct {
	Member     *family.Member
	Compliance *Compliance
}

// ComplianceReport computes ComplianceStats for every family member in
// parallel on up to workers goroutines. Rows are ordered by member name.
func (s *MedicationLogService) ComplianceReport(ctx context.Context, days, workers int) ([]MemberCompliance, error) {
	ctx, span := startSpan(ctx, "medication_log.compliance_report")
	defer span.End()

	members, err := s.store.FamilyMembers().List(ctx, family.Filter{})
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return []MemberCompliance{}, nil
	}

	pool := workerpool.New(workerpool.Config{Workers: workers}, s.logger.Named("report"))
	rows, stats, err := workerpool.Map(ctx, pool, members, func(ctx context.Context, m *family.Member) (MemberCompliance, error) {
		c, err := s.ComplianceStats(ctx, &m.ID, days)
		if err != nil {
			return MemberCompliance{}, fmt.Errorf("compliance for %s: %w", m.ID, err)
		}
		return MemberCompliance{Member: m, Compliance: c}, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("compliance report computed",
		zap.Int("members", stats.Items),
		zap.Int("workers", stats.Workers),
		zap.Duration("elapsed", stats.Elapsed))

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Member.Name != rows[j].Member.Name {
			return rows[i].Member.Name < rows[j].Member.Name
		}
		return rows[i].Member.ID.String() < rows[j].Member.ID.String()
	})
	return rows, nil
}
