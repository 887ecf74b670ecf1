package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jobrunner/geopack/internal/app"
	"github.com/jobrunner/geopack/internal/application"
	"github.com/jobrunner/geopack/internal/domain"
	"github.com/jobrunner/geopack/internal/ports/output"
	"github.com/jobrunner/geopack/internal/tilegen"
)

var indexCmd = &cobra.Command{
	Use:   "index <package.gpkg>",
	Short: "Build the spatial index of feature tables",
	Args:  cobra.ExactArgs(1),
	RunE:  runIndex,
}

var tilesCmd = &cobra.Command{
	Use:   "tiles",
	Short: "Tile pyramid tools",
}

var tilesGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a tile pyramid from a job file",
	Args:  cobra.NoArgs,
	RunE:  runTilesGenerate,
}

var coverageCmd = &cobra.Command{
	Use:   "coverage",
	Short: "Gridded coverage tools",
}

var coverageValueCmd = &cobra.Command{
	Use:   "value <package.gpkg> <table>",
	Short: "Sample a gridded coverage at a position",
	Args:  cobra.ExactArgs(2),
	RunE:  runCoverageValue,
}

var infoCmd = &cobra.Command{
	Use:   "info <package.gpkg>",
	Short: "Describe the tables of a GeoPackage",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func init() {
	indexCmd.Flags().StringSlice("table", nil, "feature tables to index (default: all)")
	indexCmd.Flags().Bool("force", false, "rebuild fresh indexes too")

	tilesGenerateCmd.Flags().String("job", "", "tile job file (YAML)")
	_ = tilesGenerateCmd.MarkFlagRequired("job")
	tilesCmd.AddCommand(tilesGenerateCmd)

	f := coverageValueCmd.Flags()
	f.Float64("x", 0, "x coordinate or longitude")
	f.Float64("y", 0, "y coordinate or latitude")
	f.Int("srid", domain.SRIDWGS84, "SRID of the position")
	f.String("interpolation", "nearest", "nearest or bilinear")
	_ = coverageValueCmd.MarkFlagRequired("x")
	_ = coverageValueCmd.MarkFlagRequired("y")
	coverageCmd.AddCommand(coverageValueCmd)
}

// openPackage opens path and closes it again after fn.
func openPackage(ctx context.Context, core *app.Core, path string, fn func(pkg *domain.GeoPackage) error) error {
	pkg, err := core.Repository.Open(ctx, path)
	if err != nil {
		return err
	}
	defer func() { _ = core.Repository.Close(ctx, pkg.ID) }()
	return fn(pkg)
}

func runIndex(cmd *cobra.Command, args []string) error {
	tables, _ := cmd.Flags().GetStringSlice("table")
	force, _ := cmd.Flags().GetBool("force")

	return withCore(cmd, func(ctx context.Context, core *app.Core) error {
		return openPackage(ctx, core, args[0], func(pkg *domain.GeoPackage) error {
			if len(tables) == 0 {
				for _, t := range pkg.TablesOfType(domain.DataTypeFeatures) {
					tables = append(tables, t.Name)
				}
			}
			for _, table := range tables {
				report, err := core.Repository.IndexTable(ctx, pkg.ID, table, force)
				if err != nil {
					return fmt.Errorf("indexing %s: %w", table, err)
				}
				core.Logger.Info("table indexed",
					"table", table,
					"rebuilt", report.Rebuilt,
					"count", report.Count,
					"skipped", report.Skipped,
					"duration", report.Duration,
				)
				if report.Cancelled {
					return ctx.Err()
				}
			}
			return nil
		})
	})
}

func runTilesGenerate(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("job")
	job, err := tilegen.LoadJob(path)
	if err != nil {
		return err
	}

	return withCore(cmd, func(ctx context.Context, core *app.Core) error {
		core.ApplyTileDefaults(job)
		metrics := &output.NoOpMetrics{}
		registry := application.NewPackageRegistry(core.Repository, core.Storage, metrics, core.Logger, application.RegistryConfig{})
		tiles := application.NewTileService(core.Repository, registry, metrics, core.Logger)

		var last time.Time
		progress := func(processed, total int64) {
			if now := time.Now(); now.Sub(last) >= 5*time.Second || processed == total {
				last = now
				core.Logger.Info("tile progress", "processed", processed, "total", total)
			}
		}

		result, err := tiles.GenerateTiles(ctx, job, progress)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stored %d, skipped %d, failed %d tiles in %s\n",
			result.Count, result.Skipped, result.Failed, result.Duration.Round(time.Millisecond))
		if result.Cancelled {
			return ctx.Err()
		}
		return nil
	})
}

func runCoverageValue(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	x, _ := f.GetFloat64("x")
	y, _ := f.GetFloat64("y")
	srid, _ := f.GetInt("srid")
	interpolation, _ := f.GetString("interpolation")

	return withCore(cmd, func(ctx context.Context, core *app.Core) error {
		return openPackage(ctx, core, args[0], func(pkg *domain.GeoPackage) error {
			v, err := core.Repository.CoverageValue(ctx, pkg.ID, args[1], domain.Coordinate{X: x, Y: y, SRID: srid}, interpolation)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if v.NoData {
				fmt.Fprintln(out, "nodata")
				return nil
			}
			fmt.Fprintf(out, "%g %s\n", v.Value, v.UOM)
			return nil
		})
	})
}

type tableInfo struct {
	Name         string    `yaml:"name"`
	DataType     string    `yaml:"data_type"`
	SRID         int       `yaml:"srid"`
	Description  string    `yaml:"description,omitempty"`
	Extent       []float64 `yaml:"extent,omitempty,flow"`
	GeometryType string    `yaml:"geometry_type,omitempty"`
	Features     int64     `yaml:"features,omitempty"`
	Index        string    `yaml:"index,omitempty"`
	Zoom         []int     `yaml:"zoom,omitempty,flow"`
}

type packageInfo struct {
	ID          string      `yaml:"id"`
	Path        string      `yaml:"path"`
	Size        int64       `yaml:"size"`
	Description string      `yaml:"description,omitempty"`
	Indexed     bool        `yaml:"indexed"`
	Tables      []tableInfo `yaml:"tables"`
}

func describe(pkg *domain.GeoPackage) packageInfo {
	info := packageInfo{
		ID:          pkg.ID,
		Path:        pkg.Path,
		Size:        pkg.Size,
		Description: pkg.Description,
		Indexed:     pkg.Indexed,
	}
	for _, t := range pkg.Tables {
		ti := tableInfo{
			Name:        t.Name,
			DataType:    string(t.DataType),
			SRID:        t.SRID,
			Description: t.Description,
		}
		if t.Extent != nil {
			ti.Extent = []float64{t.Extent.MinX, t.Extent.MinY, t.Extent.MaxX, t.Extent.MaxY}
		}
		if t.DataType == domain.DataTypeFeatures {
			ti.GeometryType = t.GeometryType
			ti.Features = t.FeatureCount
			ti.Index = string(t.IndexState)
		} else {
			ti.Zoom = []int{t.MinZoom, t.MaxZoom}
		}
		info.Tables = append(info.Tables, ti)
	}
	return info
}

func runInfo(cmd *cobra.Command, args []string) error {
	return withCore(cmd, func(ctx context.Context, core *app.Core) error {
		return openPackage(ctx, core, args[0], func(pkg *domain.GeoPackage) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(describe(pkg)); err != nil {
				return err
			}
			return enc.Close()
		})
	})
}
