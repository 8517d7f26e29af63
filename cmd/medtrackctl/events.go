package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/familyrx/medtrack/internal/infrastructure/redpanda"
)

type topicsOut struct {
	Topics []string `json:"topics" yaml:"topics"`
}

func newEventsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Manage the schedule change topics",
	}

	admin := func() (*redpanda.Admin, error) {
		brokers := a.rt.Config.Events.Brokers
		if len(brokers) == 0 {
			return nil, fmt.Errorf("REDPANDA_BROKERS is not set")
		}
		return redpanda.NewAdmin(brokers, a.logger().Named("admin"))
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "ensure",
			Short: "Create the change topic and its dead letter topic",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				adm, err := admin()
				if err != nil {
					return err
				}
				defer adm.Close()
				if err := adm.EnsureTopics(cmd.Context(), a.rt.Config.Events.Topic); err != nil {
					return err
				}
				topics, err := adm.ListTopics(cmd.Context())
				if err != nil {
					return err
				}
				return a.print(cmd.OutOrStdout(), topicsOut{Topics: topics})
			},
		},
		&cobra.Command{
			Use:   "lag [group]",
			Short: "Print consumer group lag, the API group by default",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				group := a.rt.Config.Events.ConsumerGroup
				if len(args) == 1 {
					group = args[0]
				}
				adm, err := admin()
				if err != nil {
					return err
				}
				defer adm.Close()
				lag, err := adm.Lag(cmd.Context(), group)
				if err != nil {
					return err
				}
				return a.print(cmd.OutOrStdout(), lag)
			},
		},
	)
	return cmd
}
