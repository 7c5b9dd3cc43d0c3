package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rmanoop25/Facility360-sub001/internal/config"
	"github.com/rmanoop25/Facility360-sub001/internal/domain/scheduling"
	"github.com/rmanoop25/Facility360-sub001/internal/platform/db"
	"github.com/rmanoop25/Facility360-sub001/internal/platform/report"
	engine "github.com/rmanoop25/Facility360-sub001/internal/platform/scheduling"
)

// withFacility runs fn against a facility-scoped connection with a service
// built without the capacity cache.
func withFacility(ctx context.Context, facility string, fn func(ctx context.Context, svc *scheduling.Service) error) error {
	return withPool(ctx, func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		if facility == "" {
			facility = cfg.DefaultFacility
		}
		fctx, release, err := db.AcquireFacility(ctx, pool, facility)
		if err != nil {
			return err
		}
		defer release()
		logger := newLogger(cfg.Env).Level(zerolog.WarnLevel)
		return fn(fctx, newService(cfg, pool, logger, nil))
	})
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func slotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Manage provider availability",
	}

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import weekly slots from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			facility, _ := cmd.Flags().GetString("facility")
			if path == "" {
				return fmt.Errorf("--file is required")
			}

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			file, err := scheduling.ParseSlotFile(f)
			if err != nil {
				return fmt.Errorf("parse %s: %w", path, err)
			}

			return withFacility(cmd.Context(), facility, func(ctx context.Context, svc *scheduling.Service) error {
				var res *scheduling.ImportResult
				err := db.RunInTx(ctx, func(ctx context.Context) error {
					var err error
					res, err = svc.ImportSlots(ctx, file)
					return err
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created=%d reactivated=%d unchanged=%d deactivated=%d\n",
					res.Created, res.Reactivated, res.Unchanged, res.Deactivated)
				return nil
			})
		},
	}
	importCmd.Flags().String("file", "", "YAML file with weekly slots per provider")
	importCmd.Flags().String("facility", "", "Facility identifier (defaults to DEFAULT_FACILITY)")

	cmd.AddCommand(importCmd)
	return cmd
}

// allocationArgs reads and validates the allocate command's flags.
func allocationArgs(cmd *cobra.Command) (uuid.UUID, scheduling.AllocationRequest, error) {
	var req scheduling.AllocationRequest
	providerStr, _ := cmd.Flags().GetString("provider")
	providerID, err := uuid.Parse(providerStr)
	if err != nil {
		return uuid.Nil, req, fmt.Errorf("--provider must be a UUID: %w", err)
	}
	startStr, _ := cmd.Flags().GetString("start")
	if req.StartDate, err = engine.ParseDate(startStr); err != nil {
		return uuid.Nil, req, fmt.Errorf("--start: %w", err)
	}
	req.Minutes, _ = cmd.Flags().GetInt("minutes")
	req.MaxDays, _ = cmd.Flags().GetInt("max-days")
	if req.Minutes <= 0 {
		return uuid.Nil, req, fmt.Errorf("--minutes must be positive")
	}
	return providerID, req, nil
}

func allocateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "Preview a multi-day allocation plan without booking it",
		RunE: func(cmd *cobra.Command, args []string) error {
			providerID, req, err := allocationArgs(cmd)
			if err != nil {
				return err
			}
			facility, _ := cmd.Flags().GetString("facility")

			return withFacility(cmd.Context(), facility, func(ctx context.Context, svc *scheduling.Service) error {
				plan, err := svc.Allocate(ctx, providerID, req)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), plan)
			})
		},
	}
	cmd.Flags().String("provider", "", "Provider UUID")
	cmd.Flags().String("start", "", "First date to consider (YYYY-MM-DD)")
	cmd.Flags().Int("minutes", 0, "Required working minutes")
	cmd.Flags().Int("max-days", 0, "Days to scan (defaults to ALLOCATION_MAX_DAYS)")
	cmd.Flags().String("facility", "", "Facility identifier (defaults to DEFAULT_FACILITY)")
	return cmd
}

// reportFilter reads the overtime report's flags.
func reportFilter(cmd *cobra.Command) (scheduling.AssignmentFilter, error) {
	var f scheduling.AssignmentFilter
	if s, _ := cmd.Flags().GetString("provider"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return f, fmt.Errorf("--provider must be a UUID: %w", err)
		}
		f.ProviderID = &id
	}
	for flag, dst := range map[string]*engine.Date{"from": &f.From, "to": &f.To} {
		s, _ := cmd.Flags().GetString(flag)
		if s == "" {
			continue
		}
		d, err := engine.ParseDate(s)
		if err != nil {
			return f, fmt.Errorf("--%s: %w", flag, err)
		}
		*dst = d
	}
	return f, nil
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export scheduling reports",
	}

	overtimeCmd := &cobra.Command{
		Use:   "overtime",
		Short: "Write the overtime report as an xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := reportFilter(cmd)
			if err != nil {
				return err
			}
			out, _ := cmd.Flags().GetString("out")
			facility, _ := cmd.Flags().GetString("facility")

			return withFacility(cmd.Context(), facility, func(ctx context.Context, svc *scheduling.Service) error {
				rows, err := svc.OvertimeReport(ctx, filter)
				if err != nil {
					return err
				}
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				if err := report.WriteOvertime(f, rows); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d assignment(s) to %s\n", len(rows), out)
				return nil
			})
		},
	}
	overtimeCmd.Flags().String("provider", "", "Limit to one provider UUID")
	overtimeCmd.Flags().String("from", "", "First scheduled date (YYYY-MM-DD)")
	overtimeCmd.Flags().String("to", "", "Last scheduled date (YYYY-MM-DD)")
	overtimeCmd.Flags().String("out", "overtime.xlsx", "Output file")
	overtimeCmd.Flags().String("facility", "", "Facility identifier (defaults to DEFAULT_FACILITY)")

	cmd.AddCommand(overtimeCmd)
	return cmd
}
