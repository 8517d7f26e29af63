package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/familyrx/medtrack/internal/domain"
	"github.com/familyrx/medtrack/internal/domain/medlog"
	"github.com/familyrx/medtrack/internal/service"
)

type dueOut struct {
	PrescriptionID string `json:"prescriptionId" yaml:"prescriptionId"`
	Medication     string `json:"medication" yaml:"medication"`
	Dosage         string `json:"dosage" yaml:"dosage"`
	Frequency      string `json:"frequency" yaml:"frequency"`
	StartDate      string `json:"startDate" yaml:"startDate"`
	EndDate        string `json:"endDate,omitempty" yaml:"endDate,omitempty"`
}

type memberScheduleOut struct {
	FamilyMemberID string   `json:"familyMemberId" yaml:"familyMemberId"`
	FamilyMember   string   `json:"familyMember" yaml:"familyMember"`
	Prescriptions  []dueOut `json:"prescriptions" yaml:"prescriptions"`
}

type scheduleOut struct {
	Date     string              `json:"date" yaml:"date"`
	Schedule []memberScheduleOut `json:"schedule" yaml:"schedule"`
}

type complianceOut struct {
	FamilyMemberID  string  `json:"familyMemberId,omitempty" yaml:"familyMemberId,omitempty"`
	FamilyMember    string  `json:"familyMember,omitempty" yaml:"familyMember,omitempty"`
	Period          string  `json:"period" yaml:"period"`
	TotalLogs       int     `json:"totalLogs" yaml:"totalLogs"`
	TakenCount      int     `json:"takenCount" yaml:"takenCount"`
	MissedCount     int     `json:"missedCount" yaml:"missedCount"`
	SkippedCount    int     `json:"skippedCount" yaml:"skippedCount"`
	ComplianceRate  float64 `json:"complianceRate" yaml:"complianceRate"`
	ComplianceGrade string  `json:"complianceGrade" yaml:"complianceGrade"`
}

func toComplianceOut(c *service.Compliance) complianceOut {
	return complianceOut{
		Period:          medlog.Period(c.Days),
		TotalLogs:       c.TotalLogs,
		TakenCount:      c.TakenCount,
		MissedCount:     c.MissedCount,
		SkippedCount:    c.SkippedCount,
		ComplianceRate:  c.ComplianceRate,
		ComplianceGrade: c.Grade,
	}
}

func parseMember(s string) (*uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid --member %q: %w", s, err)
	}
	return &id, nil
}

func newScheduleCmd(a *app) *cobra.Command {
	var member string

	cmd := &cobra.Command{
		Use:   "schedule [YYYY-MM-DD]",
		Short: "Print the prescriptions due on a date, today by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			memberID, err := parseMember(member)
			if err != nil {
				return err
			}
			loc, err := a.rt.Config.Location()
			if err != nil {
				return err
			}
			svc, err := a.services(cmd.Context())
			if err != nil {
				return err
			}

			var date domain.Date
			if len(args) == 1 {
				if date, err = domain.ParseDate(args[0], loc); err != nil {
					return err
				}
			} else {
				date, _, err = svc.Schedule.Today(cmd.Context(), nil)
				if err != nil {
					return err
				}
			}

			groups, err := svc.Schedule.For(cmd.Context(), date, memberID)
			if err != nil {
				return err
			}
			out := scheduleOut{Date: date.String(), Schedule: make([]memberScheduleOut, 0, len(groups))}
			for _, g := range groups {
				ms := memberScheduleOut{
					FamilyMemberID: g.Member.ID.String(),
					FamilyMember:   g.Member.Name,
					Prescriptions:  make([]dueOut, 0, len(g.Entries)),
				}
				for _, e := range g.Entries {
					d := dueOut{
						PrescriptionID: e.Prescription.ID.String(),
						Medication:     e.Medication.Name,
						Dosage:         e.Medication.Dosage,
						Frequency:      e.Medication.Frequency,
						StartDate:      e.Prescription.StartDate.String(),
					}
					if e.Prescription.EndDate != nil {
						d.EndDate = e.Prescription.EndDate.String()
					}
					ms.Prescriptions = append(ms.Prescriptions, d)
				}
				out.Schedule = append(out.Schedule, ms)
			}
			return a.print(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&member, "member", "", "limit to one family member id")
	return cmd
}

func newComplianceCmd(a *app) *cobra.Command {
	var (
		member string
		days   int
	)

	cmd := &cobra.Command{
		Use:   "compliance",
		Short: "Print compliance statistics over the last N days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			memberID, err := parseMember(member)
			if err != nil {
				return err
			}
			svc, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			c, err := svc.MedicationLogs.ComplianceStats(cmd.Context(), memberID, days)
			if err != nil {
				return err
			}
			out := toComplianceOut(c)
			if memberID != nil {
				out.FamilyMemberID = memberID.String()
			}
			return a.print(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&member, "member", "", "limit to one family member id")
	cmd.Flags().IntVar(&days, "days", medlog.DefaultWindowDays, "window length in days")

	var workers int
	report := &cobra.Command{
		Use:   "report",
		Short: "Print compliance for every family member",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			rows, err := svc.MedicationLogs.ComplianceReport(cmd.Context(), days, workers)
			if err != nil {
				return err
			}
			out := make([]complianceOut, len(rows))
			for i, row := range rows {
				out[i] = toComplianceOut(row.Compliance)
				out[i].FamilyMemberID = row.Member.ID.String()
				out[i].FamilyMember = row.Member.Name
			}
			return a.print(cmd.OutOrStdout(), out)
		},
	}
	report.Flags().IntVar(&days, "days", medlog.DefaultWindowDays, "window length in days")
	report.Flags().IntVar(&workers, "workers", 4, "members computed in parallel")
	cmd.AddCommand(report)
	return cmd
}
