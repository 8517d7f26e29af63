package main

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/familyrx/medtrack/internal/domain"
	"github.com/familyrx/medtrack/internal/domain/family"
	"github.com/familyrx/medtrack/internal/service"
)

type seedOut struct {
	FamilyMembers []string `json:"familyMembers" yaml:"familyMembers"`
	Medications   []string `json:"medications" yaml:"medications"`
	Prescriptions []string `json:"prescriptions" yaml:"prescriptions"`
}

type seedMember struct {
	in    service.CreateFamilyMember
	takes []string
}

func demoHousehold() ([]seedMember, []service.CreateMedication) {
	dob := domain.MustParseDate("1985-03-14")
	return []seedMember{
			{
				in:    service.CreateFamilyMember{Name: "Alex", Type: family.TypeHuman, DateOfBirth: &dob, Gender: family.GenderOther},
				takes: []string{"Lisinopril", "Vitamin D3"},
			},
			{
				in:    service.CreateFamilyMember{Name: "Biscuit", Type: family.TypePet, Species: family.SpeciesDog},
				takes: []string{"Carprofen"},
			},
		}, []service.CreateMedication{
			{Name: "Lisinopril", Dosage: "10mg", Frequency: "once daily", Instructions: "Take in the morning"},
			{Name: "Vitamin D3", Dosage: "1000 IU", Frequency: "once daily", Instructions: "Take with food"},
			{Name: "Carprofen", Dosage: "25mg", Frequency: "twice daily", Instructions: "Give with a meal"},
		}
}

func newSeedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create a demo household with prescriptions starting today",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := a.services(ctx)
			if err != nil {
				return err
			}
			today, _, err := svc.Schedule.Today(ctx, nil)
			if err != nil {
				return err
			}

			members, meds := demoHousehold()
			var out seedOut

			medIDs := make(map[string]uuid.UUID, len(meds))
			for _, in := range meds {
				m, err := svc.Medications.Create(ctx, in)
				if err != nil {
					return err
				}
				medIDs[in.Name] = m.Medication.ID
				out.Medications = append(out.Medications, m.Medication.ID.String())
			}

			for _, sm := range members {
				m, err := svc.FamilyMembers.Create(ctx, sm.in)
				if err != nil {
					return err
				}
				out.FamilyMembers = append(out.FamilyMembers, m.Member.ID.String())

				for _, name := range sm.takes {
					p, err := svc.Prescriptions.Create(ctx, service.CreatePrescription{
						FamilyMemberID: m.Member.ID,
						MedicationID:   medIDs[name],
						StartDate:      today,
					})
					if err != nil {
						return err
					}
					out.Prescriptions = append(out.Prescriptions, p.Prescription.ID.String())
				}
			}
			a.logger().Sugar().Infof("seeded %d family members, %d medications, %d prescriptions",
				len(out.FamilyMembers), len(out.Medications), len(out.Prescriptions))
			return a.print(cmd.OutOrStdout(), out)
		},
	}
}
