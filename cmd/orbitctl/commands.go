package main

import (
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/constellation"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/groundtrack"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/link"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/optimize"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/orbit"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/overlay"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/resonance"
)

var propagateCmd = &cobra.Command{
	Use:   "propagate",
	Short: "Propagate one orbit and print samples and ground track",
	Long: `
Propagate a single satellite over three orbits (or --orbits), or over the
orbit count of a repeat-ground-track resonance given as --resonance j:k
(j Earth rotations for k orbits).

Examples:
  orbitctl propagate --a 6878 --inc 97.4 --samples 120
  orbitctl propagate --inc 97.4 --resonance 1:15 --epoch 2025-03-01T00:00:00Z
`,
	RunE: runPropagate,
}

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Compute the optical link series and visibility windows for a ground station",
	RunE:  runLink,
}

var resonancesCmd = &cobra.Command{
	Use:   "resonances",
	Short: "List j:k repeat-ground-track resonances near a semi-major axis",
	RunE:  runResonances,
}

var walkerCmd = &cobra.Command{
	Use:   "walker",
	Short: "Generate a Walker-Delta constellation T/P/F",
	RunE:  runWalker,
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Optimize a Walker constellation for revisit time over targets",
	Long: `
Start from a Walker-Delta design and perturb RAAN and mean anomaly with a
step size that shrinks linearly over the rounds, keeping only strict
improvements in worst-case revisit gap (mean gap breaks ties).

Example:
  orbitctl optimize --total 12 --planes 3 --targets "48.1,11.6;40.4,-3.7" --rounds 30 --seed 7
`,
	RunE: runOptimize,
}

var overlayCmd = &cobra.Command{
	Use:   "overlay [tle-file]",
	Short: "Propagate real satellites from TLE text with SGP4",
	Long:  `Read 3-line TLE sets from a file (or stdin when the argument is "-" or missing) and print ground tracks.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runOverlay,
}

// Flag values.
var (
	elements        orbit.Elements
	resonanceArg    string
	samplesPerOrbit float64
	orbitCount      int

	stationName      string
	stationLat       float64
	stationLon       float64
	stationAperture  float64
	wavelengthNm     float64
	txApertureM      float64
	minElevationDeg  float64
	includeLinkTrace bool

	query resonance.Query

	walkerParams constellation.WalkerParams

	targetsArg  string
	hours       float64
	stepSec     float64
	thresholdKm float64
	rounds      int
	seed        uint64
	workers     int

	overlayHours   float64
	overlayStepSec float64
)

func init() {
	rootCmd.AddCommand(propagateCmd, linkCmd, resonancesCmd, walkerCmd, optimizeCmd, overlayCmd)

	for _, cmd := range []*cobra.Command{propagateCmd, linkCmd} {
		cmd.Flags().Float64Var(&elements.SemiMajorKm, "a", 7000, "Semi-major axis in km")
		cmd.Flags().Float64Var(&elements.Eccentricity, "e", 0, "Eccentricity")
		cmd.Flags().Float64Var(&elements.InclinationDeg, "inc", 53, "Inclination in degrees")
		cmd.Flags().Float64Var(&elements.RAANDeg, "raan", 0, "Right ascension of the ascending node in degrees")
		cmd.Flags().Float64Var(&elements.ArgPerigeeDeg, "argp", 0, "Argument of perigee in degrees")
		cmd.Flags().Float64Var(&elements.MeanAnomalyDeg, "ma", 0, "Mean anomaly at epoch in degrees")
		cmd.Flags().StringVar(&resonanceArg, "resonance", "", "Repeat ground track as rotations:orbits, e.g. 1:15")
		cmd.Flags().Float64Var(&samplesPerOrbit, "samples", 180, "Samples per orbit")
		cmd.Flags().IntVar(&orbitCount, "orbits", 0, "Orbits to sample (default 3; ignored with --resonance)")
	}

	linkCmd.Flags().StringVar(&stationName, "name", "station", "Ground station name")
	linkCmd.Flags().Float64Var(&stationLat, "lat", 0, "Ground station latitude in degrees")
	linkCmd.Flags().Float64Var(&stationLon, "lon", 0, "Ground station longitude in degrees")
	linkCmd.Flags().Float64Var(&stationAperture, "aperture", link.DefaultApertureM, "Receiver aperture in m")
	linkCmd.Flags().Float64Var(&wavelengthNm, "wavelength", link.DefaultWavelengthNm, "Wavelength in nm")
	linkCmd.Flags().Float64Var(&txApertureM, "tx-aperture", link.DefaultTxApertureM, "Transmitter aperture in m")
	linkCmd.Flags().Float64Var(&minElevationDeg, "min-elevation", 10, "Minimum elevation for visibility windows in degrees")
	linkCmd.Flags().BoolVar(&includeLinkTrace, "trace", false, "Include every link sample, not only the windows")

	resonancesCmd.Flags().Float64Var(&query.TargetSemiMajorKm, "target", 7000, "Target semi-major axis in km")
	resonancesCmd.Flags().Float64Var(&query.ToleranceKm, "tolerance", 50, "Allowed |a - target| in km")
	resonancesCmd.Flags().IntVar(&query.MinRotations, "min-rotations", 1, "Smallest j")
	resonancesCmd.Flags().IntVar(&query.MaxRotations, "max-rotations", 5, "Largest j")
	resonancesCmd.Flags().IntVar(&query.MinOrbits, "min-orbits", 1, "Smallest k")
	resonancesCmd.Flags().IntVar(&query.MaxOrbits, "max-orbits", 60, "Largest k")

	for _, cmd := range []*cobra.Command{walkerCmd, optimizeCmd} {
		cmd.Flags().IntVar(&walkerParams.Total, "total", 24, "Total satellites T")
		cmd.Flags().IntVar(&walkerParams.Planes, "planes", 6, "Orbital planes P")
		cmd.Flags().IntVar(&walkerParams.Phasing, "phasing", 1, "Phasing factor F")
		cmd.Flags().Float64Var(&walkerParams.SemiMajorKm, "a", 7000, "Semi-major axis in km")
		cmd.Flags().Float64Var(&walkerParams.Eccentricity, "e", 0, "Eccentricity")
		cmd.Flags().Float64Var(&walkerParams.InclinationDeg, "inc", 53, "Inclination in degrees")
		cmd.Flags().Float64Var(&walkerParams.ArgPerigeeDeg, "argp", 0, "Argument of perigee in degrees")
		cmd.Flags().Float64Var(&walkerParams.RAANOffsetDeg, "raan-offset", 0, "RAAN of the first plane in degrees")
	}

	optimizeCmd.Flags().StringVar(&targetsArg, "targets", "", `Targets as "lat,lon;lat,lon" (required)`)
	optimizeCmd.Flags().Float64Var(&hours, "hours", 24, "Evaluation horizon in hours")
	optimizeCmd.Flags().Float64Var(&stepSec, "step", 60, "Evaluation step in seconds")
	optimizeCmd.Flags().Float64Var(&thresholdKm, "threshold", optimize.DefaultThresholdKm, "Visibility radius in km")
	optimizeCmd.Flags().IntVar(&rounds, "rounds", optimize.DefaultRounds, "Search rounds")
	optimizeCmd.Flags().Uint64Var(&seed, "seed", 0, "Random seed (default: random)")
	optimizeCmd.Flags().IntVar(&workers, "workers", runtime.NumCPU(), "Propagation workers")
	optimizeCmd.MarkFlagRequired("targets")

	overlayCmd.Flags().Float64Var(&overlayHours, "hours", 1.5, "Horizon in hours")
	overlayCmd.Flags().Float64Var(&overlayStepSec, "step", 30, "Step in seconds")
	overlayCmd.Flags().IntVar(&workers, "workers", runtime.NumCPU(), "Concurrent satellites")
}

func orbitConfig() (orbit.Config, error) {
	ep, err := epoch()
	if err != nil {
		return orbit.Config{}, err
	}
	cfg := orbit.Config{
		Elements:        elements,
		SamplesPerOrbit: samplesPerOrbit,
		OrbitCount:      orbitCount,
		Epoch:           ep,
	}
	if resonanceArg != "" {
		var j, k int
		if _, err := fmt.Sscanf(resonanceArg, "%d:%d", &j, &k); err != nil || j < 1 || k < 1 {
			return cfg, fmt.Errorf("invalid --resonance %q, want rotations:orbits", resonanceArg)
		}
		cfg.Resonance = orbit.ResonanceSpec{Enabled: true, Rotations: j, Orbits: k}
	}
	return cfg, nil
}

func runPropagate(cmd *cobra.Command, args []string) error {
	cfg, err := orbitConfig()
	if err != nil {
		return err
	}
	res := orbit.Propagate(cfg)
	for _, w := range res.Warnings {
		logger.Warn("propagation warning", "code", w.Code, "message", w.Message)
	}
	return printJSON(cmd, struct {
		orbit.Result
		Segments []groundtrack.Segment `json:"segments"`
	}{res, res.Segments()})
}

func runLink(cmd *cobra.Command, args []string) error {
	station := link.GroundStation{
		Name:      stationName,
		LatDeg:    stationLat,
		LonDeg:    stationLon,
		ApertureM: stationAperture,
	}.WithDefaults()
	if err := station.Validate(); err != nil {
		return err
	}
	cfg, err := orbitConfig()
	if err != nil {
		return err
	}

	res := orbit.Propagate(cfg)
	series := link.Compute(station, res.Samples, link.Params{WavelengthNm: wavelengthNm, TxApertureM: txApertureM})
	out := struct {
		Station link.GroundStation `json:"station"`
		Windows []link.Window      `json:"windows"`
		Samples link.Series        `json:"samples,omitempty"`
	}{
		Station: station,
		Windows: link.Windows(series, minElevationDeg),
	}
	if includeLinkTrace {
		out.Samples = series
	}
	return printJSON(cmd, out)
}

func runResonances(cmd *cobra.Command, args []string) error {
	candidates, err := resonance.Search(cmd.Context(), query)
	if err != nil {
		return fmt.Errorf("resonance search: %w", err)
	}
	logger.Debug("resonance search finished", "pairs", query.Normalized().Pairs(), "candidates", len(candidates))
	if candidates == nil {
		candidates = []resonance.Candidate{}
	}
	return printJSON(cmd, candidates)
}

func runWalker(cmd *cobra.Command, args []string) error {
	if walkerParams.Planes < 1 || walkerParams.Total < 1 {
		return fmt.Errorf("--total and --planes must be positive")
	}
	return printJSON(cmd, constellation.Walker(walkerParams))
}

func runOptimize(cmd *cobra.Command, args []string) error {
	targets, err := groundtrack.ParsePoints(targetsArg)
	if err != nil {
		return fmt.Errorf("invalid --targets: %w", err)
	}
	if !(hours > 0) || !(stepSec > 0) {
		return fmt.Errorf("--hours and --step must be positive")
	}
	ep, err := epoch()
	if err != nil {
		return err
	}
	if seed == 0 {
		seed = rand.Uint64()
	}

	factory := optimize.NewPoolFactory(workers, ep, logger)
	opt := optimize.New(factory, rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), logger)
	opt.OnRound = func(r optimize.Round) {
		logger.Info("round finished",
			"round", r.Index+1,
			"of", r.Total,
			"sigma_deg", r.SigmaDeg,
			"best_worst_sec", r.Best.Worst,
			"accepted", r.Accepted,
		)
	}

	horizon := hours * 3600
	result, err := opt.Run(cmd.Context(), constellation.Walker(walkerParams), optimize.Problem{
		Targets:     targets,
		Timeline:    optimize.Timeline(horizon, int(horizon/stepSec)+1),
		ThresholdKm: thresholdKm,
		Rounds:      rounds,
	})
	if err != nil {
		// Interrupted: the incumbent is still the best design found so far.
		logger.Warn("optimization interrupted", "error", err, "rounds", result.Rounds)
	}
	logger.Info("optimization finished", "seed", seed, "worst_sec", result.Score.Worst, "accepted", result.Accepted)
	return printJSON(cmd, result)
}

func runOverlay(cmd *cobra.Command, args []string) error {
	var r io.Reader = cmd.InOrStdin()
	name := "stdin"
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		r, name = f, args[0]
	}

	entries, err := overlay.Parse(r, logger)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("%w: no entries in %s", overlay.ErrInvalidTLE, name)
	}
	if !(overlayHours > 0) || !(overlayStepSec > 0) {
		return fmt.Errorf("--hours and --step must be positive")
	}
	ep, err := epoch()
	if err != nil {
		return err
	}

	horizon := overlayHours * 3600
	tracks := overlay.NewSGP4Provider(workers, logger).
		GroundTracks(cmd.Context(), entries, ep, optimize.Timeline(horizon, int(horizon/overlayStepSec)+1))
	var failed []string
	for _, t := range tracks {
		if t.Error != "" {
			failed = append(failed, fmt.Sprintf("%d", t.NORADID))
		}
	}
	if len(failed) > 0 {
		logger.Warn("some satellites failed to propagate", "norad_ids", strings.Join(failed, ","))
	}
	return printJSON(cmd, tracks)
}
