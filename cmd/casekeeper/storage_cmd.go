package main

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"casekeeper/internal/config"
	"casekeeper/internal/models"
	"casekeeper/internal/storage"
	"casekeeper/internal/store"
)

type storageReport struct {
	DataDir       string                  `json:"data_dir"`
	Backends      storage.Status          `json:"backends"`
	Primary       store.Usage             `json:"primary"`
	PrimarySchema int                     `json:"primary_schema_version"`
	SecondaryUsed int64                   `json:"secondary_used_bytes,omitempty"`
	Records       map[models.Category]int `json:"records"`
	Counter       int64                   `json:"counter"`
	Operations    map[string]float64      `json:"operations,omitempty"`
}

func newStorageCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Inspect the storage backends",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show backend availability, usage and operation counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cfg, func(a *app) error {
				report, err := buildStorageReport(cmd.Context(), cfg, a)
				if err != nil {
					return err
				}
				if out.structured() {
					return writeJSON(report)
				}
				return writeStorageReport(report)
			})
		},
	})
	return cmd
}

func buildStorageReport(ctx context.Context, cfg *config.Config, a *app) (storageReport, error) {
	report := storageReport{
		DataDir:  cfg.DataDir,
		Backends: a.kv.Status(),
		Records:  a.repo.Counts(),
		Counter:  a.repo.Counter(),
	}

	usage, err := a.primary.Usage(ctx)
	if err != nil {
		return report, err
	}
	report.Primary = usage
	if report.PrimarySchema, err = a.primary.SchemaVersion(); err != nil {
		return report, err
	}

	if a.secondary != nil {
		used, err := a.secondary.UsedBytes(ctx)
		if err != nil {
			return report, err
		}
		report.SecondaryUsed = used
	}

	families, err := a.kv.Metrics().Gatherer().Gather()
	if err != nil {
		return report, err
	}
	report.Operations = map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			report.Operations[mf.GetName()+"{"+strings.Join(labels, ",")+"}"] = m.GetCounter().GetValue()
		}
	}
	return report, nil
}

func writeStorageReport(r storageReport) error {
	secondary := "disabled"
	switch {
	case r.Backends.SecondaryActive:
		secondary = "active, " + formatBytes(r.SecondaryUsed) + " used"
	case r.Backends.SecondaryConfigured:
		secondary = "unavailable: " + r.Backends.SecondaryError
	}
	lines := []string{
		"data_dir: " + r.DataDir,
		"primary: " + formatBytes(r.Primary.UsedBytes) + " of " + formatBytes(r.Primary.CapacityBytes) + " in " + formatCount(r.Primary.Keys, "key") + ", schema v" + strconv.Itoa(r.PrimarySchema),
		"secondary: " + secondary,
	}
	for _, c := range models.Categories() {
		lines = append(lines, string(c)+": "+formatCount(r.Records[c], "record"))
	}
	for _, line := range lines {
		if err := writePlain("%s\n", line); err != nil {
			return err
		}
	}
	if err := writePlain("counter: %d\n", r.Counter); err != nil {
		return err
	}

	names := make([]string, 0, len(r.Operations))
	for name := range r.Operations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writePlain("%s %g\n", name, r.Operations[name]); err != nil {
			return err
		}
	}
	return nil
}
