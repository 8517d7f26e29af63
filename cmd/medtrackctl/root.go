package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/familyrx/medtrack/internal/bootstrap"
	"github.com/familyrx/medtrack/internal/service"
	"github.com/familyrx/medtrack/internal/store"
)

// app is the state shared by every subcommand of one invocation.
type app struct {
	rt     *bootstrap.Runtime
	output string

	st  store.Store
	svc *service.Services
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "medtrackctl",
		Short:         "Operate a medtrack deployment",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.output != "json" && a.output != "yaml" {
				return fmt.Errorf("unsupported output %q, want json or yaml", a.output)
			}
			rt, err := bootstrap.Init(cmd.Context(), "medtrackctl", version)
			if err != nil {
				return err
			}
			a.rt = rt
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&a.output, "output", "o", "json", "output format: json or yaml")

	root.AddCommand(
		newMigrateCmd(a),
		newScheduleCmd(a),
		newComplianceCmd(a),
		newSeedCmd(a),
		newEventsCmd(a),
	)
	return root
}

func (a *app) logger() *zap.Logger { return a.rt.Logger }

// services opens the configured store on first use.
func (a *app) services(ctx context.Context) (*service.Services, error) {
	if a.svc != nil {
		return a.svc, nil
	}
	cfg := a.rt.Config
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	st, err := bootstrap.OpenStore(ctx, cfg, a.logger())
	if err != nil {
		return nil, err
	}
	a.st = st
	a.svc = service.New(st, service.Options{
		Logger:   a.logger().Named("service"),
		Policy:   cfg.PrescriptionPolicy(),
		Location: loc,
	})
	return a.svc, nil
}

func (a *app) close(ctx context.Context) {
	if a.st != nil {
		if err := a.st.Close(); err != nil {
			a.logger().Warn("failed to close store", zap.Error(err))
		}
	}
	if a.rt != nil {
		if ctx == nil {
			ctx = context.Background()
		}
		a.rt.Shutdown(ctx)
	}
}

// print writes v to w in the selected output format.
func (a *app) print(w io.Writer, v interface{}) error {
	if a.output == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
