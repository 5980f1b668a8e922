package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/spatial/r3"

	"llpaccept/adapters/samples"
	"llpaccept/adapters/sqlite"
	"llpaccept/app"
	"llpaccept/domain/core"
	"llpaccept/domain/particle"
	"llpaccept/internal/config"
	"llpaccept/internal/metrics"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "llpscan",
		Short:         "Displaced-vertex acceptance and coupling scans for long-lived particles",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("metrics-file", "", "Write Prometheus metrics in text format to this file on exit")

	rootCmd.AddCommand(
		newGeometryCmd(),
		newTraceCmd(),
		newScanCmd(),
		newOverlapCmd(),
		newResultsCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if path, _ := rootCmd.PersistentFlags().GetString("metrics-file"); path != "" {
		if werr := prometheus.WriteToTextfile(path, metrics.Registry); werr != nil {
			fmt.Fprintln(os.Stderr, "write metrics:", werr)
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// geometryFlags are shared by every command that builds the mesh
type geometryFlags struct {
	model     string
	radius    float64
	thickness float64
	floor     bool
}

func (g *geometryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&g.model, "geometry", "", "Detector model: tube or profile")
	cmd.Flags().Float64Var(&g.radius, "radius-m", 0, "Tube radius or profile half-width in metres")
	cmd.Flags().Float64Var(&g.thickness, "thickness-m", 0, "Profile detector thickness in metres")
	cmd.Flags().BoolVar(&g.floor, "inset-floor", false, "Inset the profile floor by the detector thickness")
}

func (g *geometryFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("geometry") {
		cfg.Geometry.Model = strings.ToLower(g.model)
	}
	if cmd.Flags().Changed("radius-m") {
		cfg.Geometry.TubeRadiusM = g.radius
	}
	if cmd.Flags().Changed("thickness-m") {
		cfg.Geometry.DetectorThicknessM = g.thickness
	}
	if cmd.Flags().Changed("inset-floor") {
		cfg.Geometry.InsetFloor = g.floor
	}
}

func loadEnv(cmd *cobra.Command, geo *geometryFlags, override func(*config.Config)) (*runtimeEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if geo != nil {
		geo.apply(cmd, cfg)
	}
	if override != nil {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newRuntimeEnv(cfg)
}

func newGeometryCmd() *cobra.Command {
	var geo geometryFlags

	cmd := &cobra.Command{
		Use:   "geometry",
		Short: "Build the detector mesh and print its tag and volume",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv(cmd, &geo, nil)
			if err != nil {
				return err
			}
			defer env.close()

			lo, hi := env.mesh.Bounds()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "model\t%s\n", env.cfg.GeometryModel().Model)
			fmt.Fprintf(w, "tag\t%s\n", env.mesh.Tag)
			fmt.Fprintf(w, "vertices\t%d\n", len(env.mesh.Vertices))
			fmt.Fprintf(w, "faces\t%d\n", len(env.mesh.Faces))
			fmt.Fprintf(w, "volume_m3\t%.3f\n", env.mesh.Volume())
			fmt.Fprintf(w, "watertight\t%t\n", env.mesh.IsWatertight())
			fmt.Fprintf(w, "bounds_min\t%.3f %.3f %.3f\n", lo.X, lo.Y, lo.Z)
			fmt.Fprintf(w, "bounds_max\t%.3f %.3f %.3f\n", hi.X, hi.Y, hi.Z)
			return w.Flush()
		},
	}
	geo.register(cmd)
	return cmd
}

func newTraceCmd() *cobra.Command {
	var geo geometryFlags
	var noCache bool

	cmd := &cobra.Command{
		Use:   "trace <sample.csv>...",
		Short: "Trace production samples through the detector and summarize hits",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv(cmd, &geo, nil)
			if err != nil {
				return err
			}
			defer env.close()
			ctx := cmd.Context()

			traceCache, err := env.traceCache()
			if err != nil {
				return err
			}
			reader := env.reader()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "sample\trows\thits\tdegenerate\todd\tfailed\tmean_path_m\tcached")
			for _, path := range args {
				sample, err := reader.Read(ctx, particle.SampleInfo{Path: path})
				if err != nil {
					return err
				}
				st, err := os.Stat(path)
				if err != nil {
					return err
				}
				key := core.ComputeCacheKey(filepath.Clean(path), st.Size(), env.tracer.Tag())

				var traces []particle.Trace
				found := false
				if !noCache {
					traces, found, err = traceCache.Load(ctx, key, path, len(sample.Records))
					if err != nil {
						return err
					}
				}
				if !found {
					dirs := make([]r3.Vec, len(sample.Records))
					for i, rec := range sample.Records {
						if d, ok := rec.Direction(); ok {
							dirs[i] = d
						}
					}
					traces, err = env.tracer.Trace(ctx, r3.Vec{}, dirs)
					if err != nil {
						return err
					}
					if !noCache {
						if err := traceCache.Store(ctx, key, traces); err != nil {
							env.logger.Warn("Trace cache store failed: %v", err)
						}
					}
				}

				counts := make(map[particle.TraceStatus]int)
				pathSum := 0.0
				for _, tr := range traces {
					counts[tr.Status]++
					if tr.HitsVolume {
						pathSum += tr.PathLength
					}
				}
				mean := 0.0
				if n := counts[particle.TraceHit]; n > 0 {
					mean = pathSum / float64(n)
				}
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%.3f\t%t\n", filepath.Base(path), len(traces),
					counts[particle.TraceHit], counts[particle.TraceDegenerate], counts[particle.TraceOddCrossings],
					counts[particle.TraceFailed], mean, found)
			}
			return w.Flush()
		},
	}
	geo.register(cmd)
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Ignore and do not write the trace cache")
	return cmd
}

func newScanCmd() *cobra.Command {
	var geo geometryFlags
	var (
		flavour    string
		masses     []float64
		maxMass    float64
		decayMode  string
		separation float64
		lumi       float64
		static     bool
		strict     bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the coupling for every mass point of a flavour and store the results",
		Long: `Scan the coupling for every mass point of a flavour and store the results.

Example: llpscan scan --flavour muon --mass 1.0 --mass 2.6 --decay-mode brvis-kappa`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fl, err := parseFlavourArg(flavour)
			if err != nil {
				return err
			}
			env, err := loadEnv(cmd, &geo, func(cfg *config.Config) {
				if cmd.Flags().Changed("decay-mode") {
					cfg.Selection.DecayMode = decayMode
				}
				if cmd.Flags().Changed("separation-mm") {
					cfg.Selection.SeparationMM = separation
				}
				if cmd.Flags().Changed("lumi-fb") {
					cfg.Scan.LumiFb = lumi
				}
				if cmd.Flags().Changed("static-separation") {
					cfg.Selection.StaticSeparation = static
				}
				if cmd.Flags().Changed("strict") {
					cfg.Overlap.Strict = strict
				}
			})
			if err != nil {
				return err
			}
			defer env.close()
			ctx := cmd.Context()

			sel, err := env.cfg.ScanSelection()
			if err != nil {
				return err
			}
			svc, err := env.scanService(ctx, sel)
			if err != nil {
				return err
			}
			report, err := svc.Run(ctx, app.ScanRequest{
				Flavour:   fl,
				Selection: sel,
				Grid:      env.cfg.Grid(),
				LumiFb:    env.cfg.Scan.LumiFb,
				Threshold: env.cfg.Threshold(),
				Overlap: app.OverlapOptions{
					MinEventsPerMass: env.cfg.Overlap.MinEventsPerMass,
					Strict:           env.cfg.Overlap.Strict,
				},
				AllowVariantDrop: env.cfg.Overlap.AllowVariantDrop,
				Masses:           masses,
				MaxMassGeV:       maxMass,
				Workers:          env.cfg.Runtime.Workers,
			})
			if err != nil {
				return err
			}
			return printReport(cmd, report)
		},
	}
	geo.register(cmd)
	cmd.Flags().StringVar(&flavour, "flavour", "muon", "Lepton flavour or benchmark (electron, muon, tau, 100, 010, 001)")
	cmd.Flags().Float64SliceVar(&masses, "mass", nil, "Mass points in GeV (repeatable); default all")
	cmd.Flags().Float64Var(&maxMass, "max-mass", 0, "Skip mass points above this value in GeV")
	cmd.Flags().StringVar(&decayMode, "decay-mode", "", "Decay acceptance: library or brvis-kappa")
	cmd.Flags().Float64Var(&separation, "separation-mm", 0, "Minimum daughter separation in mm")
	cmd.Flags().Float64Var(&lumi, "lumi-fb", 0, "Integrated luminosity in fb^-1")
	cmd.Flags().BoolVar(&static, "static-separation", false, "Evaluate the separation cut at the segment midpoint")
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail mass points below the owned-event floor")
	return cmd
}

func printReport(cmd *cobra.Command, report *app.RunReport) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s (%s, geometry %s)\n", report.Manifest.RunID, report.Manifest.Flavour, report.Manifest.GeometryTag)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "mass_gev\trows\thits\tpeak_events\teps2_min\teps2_max\twarnings")
	for _, r := range report.Results {
		lo, hi := "-", "-"
		if r.Exclusion != nil {
			lo = fmt.Sprintf("%.3e", r.Exclusion.Eps2Min)
			hi = fmt.Sprintf("%.3e", r.Exclusion.Eps2Max)
		}
		fmt.Fprintf(w, "%.3f\t%d\t%d\t%.3g\t%s\t%s\t%d\n", r.MassGeV, r.NRows, r.NHits, r.Peak, lo, hi, len(r.Warnings))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	for _, r := range report.Results {
		for _, warn := range r.Warnings {
			fmt.Fprintf(out, "m=%.3f %s\n", r.MassGeV, warn.String())
		}
	}
	return nil
}

func newOverlapCmd() *cobra.Command {
	var flavour string

	cmd := &cobra.Command{
		Use:   "overlap <sample.csv>...",
		Short: "Resolve normalization-key ownership across samples and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fl, err := parseFlavourArg(flavour)
			if err != nil {
				return err
			}
			env, err := loadEnv(cmd, nil, nil)
			if err != nil {
				return err
			}
			defer env.close()

			var infos []particle.SampleInfo
			for _, path := range args {
				info, ok := samples.ParseSampleName(fl, filepath.Base(path))
				if !ok {
					return fmt.Errorf("%s does not follow the HNL_<mass>GeV_%s_<regime>.csv naming", path, fl)
				}
				info.Path = path
				infos = append(infos, info)
			}

			svc := app.NewOverlapService(env.reader(), env.logger)
			groups := particle.GroupByMass(infos)
			out := cmd.OutOrStdout()
			for _, mass := range particle.SortedMasses(groups) {
				sel, err := svc.Resolve(cmd.Context(), fl, mass, groups[mass], env.cfg.Overlap.AllowVariantDrop, app.OverlapOptions{
					MinEventsPerMass: env.cfg.Overlap.MinEventsPerMass,
					Strict:           env.cfg.Overlap.Strict,
				})
				if err != nil {
					return fmt.Errorf("m=%.2f: %w", mass, err)
				}
				fmt.Fprintf(out, "m=%.2f GeV: %d owned events\n", mass, sel.Resolution.TotalOwnedEvents)
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "  sample\towned\ttotal\tkeys")
				for _, r := range sel.Resolution.Samples {
					keys := make([]string, len(r.OwnedKeys))
					for i, k := range r.OwnedKeys {
						keys[i] = k.String()
					}
					sort.Strings(keys)
					fmt.Fprintf(w, "  %s\t%d\t%d\t%s\n", filepath.Base(r.Info.Path), r.OwnedEvents, r.TotalEvents, strings.Join(keys, ","))
				}
				if err := w.Flush(); err != nil {
					return err
				}
				for _, warn := range sel.Warnings {
					fmt.Fprintf(out, "  %s\n", warn.String())
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flavour, "flavour", "muon", "Lepton flavour or benchmark (electron, muon, tau, 100, 010, 001)")
	return cmd
}

func parseFlavourArg(s string) (particle.Flavour, error) {
	if f, err := particle.ParseFlavour(s); err == nil {
		return f, nil
	}
	return particle.FlavourFromBenchmark(s)
}


func newResultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results <run-id>",
		Short: "Print a stored run manifest and its per-mass results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv(cmd, nil, nil)
			if err != nil {
				return err
			}
			defer env.close()
			ctx := cmd.Context()

			db, err := env.openDB(ctx)
			if err != nil {
				return err
			}
			store := sqlite.NewResultStore(db)
			manifest, err := store.GetRun(ctx, core.RunID(args[0]))
			if err != nil {
				return err
			}
			results, err := store.ListMassResults(ctx, manifest.RunID)
			if err != nil {
				return err
			}
			return printReport(cmd, &app.RunReport{Manifest: *manifest, Results: results})
		},
	}
	return cmd
}
