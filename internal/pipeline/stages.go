package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/twlin/formosa/internal/archive"
	"github.com/twlin/formosa/internal/backtest"
	"github.com/twlin/formosa/internal/fetch"
	"github.com/twlin/formosa/internal/marketdata"
	"github.com/twlin/formosa/internal/pipecfg"
	"github.com/twlin/formosa/internal/prepare"
	"github.com/twlin/formosa/internal/quality"
	"github.com/twlin/formosa/internal/report"
	"github.com/twlin/formosa/internal/strategy"
	"github.com/twlin/formosa/pkg/logger"
)

// Stage names, in execution order.
const (
	StageFetch   = "FETCH"
	StagePrepare = "PREPARE"
	StageQuality = "QUALITY"
	StageSelect  = "SELECT"
	StageArchive = "ARCHIVE"
	StageReport  = "AGGREGATE_REPORT"
)

// Daily wires the domain components into the standard daily stage sequence.
type Daily struct {
	cfg   *pipecfg.Config
	twse  *fetch.TWSE
	tpex  *fetch.TPEX
	store *backtest.Store
	log   *logger.Logger

	quality quality.Report
}

func NewDaily(cfg *pipecfg.Config, twse *fetch.TWSE, tpex *fetch.TPEX, store *backtest.Store, log *logger.Logger) *Daily {
	if log == nil {
		log = logger.NewNop()
	}
	return &Daily{cfg: cfg, twse: twse, tpex: tpex, store: store, log: log}
}

// Stages returns the ordered stage list with retry policies from the
// pipeline configuration.
func (d *Daily) Stages() []Stage {
	p := d.cfg.Stages
	return []Stage{
		{Name: StageFetch, MaxAttempts: p.Fetch.MaxAttempts, Backoff: p.Fetch.Backoff.Std(), Run: d.runFetch},
		{Name: StagePrepare, MaxAttempts: p.Prepare.MaxAttempts, Backoff: p.Prepare.Backoff.Std(), Run: d.runPrepare},
		{Name: StageQuality, MaxAttempts: p.Quality.MaxAttempts, Backoff: p.Quality.Backoff.Std(), Run: d.runQuality},
		{Name: StageSelect, MaxAttempts: p.Select.MaxAttempts, Backoff: p.Select.Backoff.Std(), Run: d.runSelect},
		{Name: StageArchive, MaxAttempts: p.Archive.MaxAttempts, Backoff: p.Archive.Backoff.Std(), Run: d.runArchive},
		{Name: StageReport, MaxAttempts: p.Report.MaxAttempts, Backoff: p.Report.Backoff.Std(), Run: d.runReport},
	}
}

// QualityResult reports the gate verdict of the current run, for the run
// history record. Empty until the QUALITY stage has executed.
func (d *Daily) QualityResult() string {
	return string(d.quality.Result)
}

func (d *Daily) runFetch(ctx context.Context, rc *RunContext) error {
	dir := rc.Workspace.InboundDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create inbound dir: %w", err)
	}
	if _, err := d.twse.FetchToDir(ctx, dir); err != nil {
		return fmt.Errorf("fetch twse: %w", err)
	}
	if _, err := d.tpex.FetchToDir(ctx, dir); err != nil {
		return fmt.Errorf("fetch tpex: %w", err)
	}
	return nil
}

func (d *Daily) runPrepare(ctx context.Context, rc *RunContext) error {
	inbound := rc.Workspace.InboundDir()
	if _, err := os.Stat(inbound); err != nil {
		return fmt.Errorf("%w: inbound dir missing: %s", ErrPrecondition, inbound)
	}
	if err := os.MkdirAll(rc.Workspace.PreparedDir(), 0o755); err != nil {
		return fmt.Errorf("create prepared dir: %w", err)
	}
	p := prepare.New(prepare.DefaultOptions(), d.log)
	_, err := p.Run(inbound, rc.Workspace.PreparedInput())
	return err
}

func (d *Daily) runQuality(ctx context.Context, rc *RunContext) error {
	if _, err := os.Stat(rc.Workspace.PreparedInput()); err != nil {
		return fmt.Errorf("%w: prepared input missing: %s", ErrPrecondition, rc.Workspace.PreparedInput())
	}
	gate := quality.NewGate(quality.Thresholds{
		Mode:                d.cfg.Quality.Mode,
		MaxBadClosePct:      d.cfg.Quality.MaxBadClosePct,
		MaxBadTradeValuePct: d.cfg.Quality.MaxBadTradeValuePct,
		MinRows:             d.cfg.Quality.MinRows,
	}, d.log)
	rep, err := gate.Run(rc.Workspace.PreparedInput(), rc.Workspace.Root)
	d.quality = rep
	return err
}

func (d *Daily) runSelect(ctx context.Context, rc *RunContext) error {
	rows, err := marketdata.ReadInputCSV(rc.Workspace.PreparedInput())
	if err != nil {
		return fmt.Errorf("%w: read prepared input: %v", ErrPrecondition, err)
	}
	scored := strategy.Score(rows, lightsConfig(d.cfg.Strategy))

	if err := strategy.WriteDailyOut(rc.Workspace.DailyOut(), scored); err != nil {
		return fmt.Errorf("write daily out: %w", err)
	}
	if _, err := strategy.ExportTop20(rc.Workspace.DailyTop20(), scored); err != nil {
		return fmt.Errorf("export top20: %w", err)
	}

	// Hard guard: both outputs must exist and be non-empty before the run
	// is allowed to be archived.
	if err := requireNonEmpty(rc.Workspace.DailyOut()); err != nil {
		return err
	}
	return requireNonEmpty(rc.Workspace.DailyTop20())
}

func (d *Daily) runArchive(ctx context.Context, rc *RunContext) error {
	date, err := snapshotDate(rc)
	if err != nil {
		return err
	}
	copied, err := archive.New(d.store, d.log).Archive(rc.Workspace.Root, date)
	if err != nil {
		return err
	}
	if !copied {
		d.log.WithField("date", date).Info("snapshot already archived, keeping first")
	}
	return nil
}

func (d *Daily) runReport(ctx context.Context, rc *RunContext) error {
	params := backtestParams(d.cfg.Backtest)
	res, err := backtest.NewEngine(d.store, params, d.log).Run()
	if err != nil {
		return err
	}
	if err := backtest.WriteArtifacts(rc.Workspace.Root, rc.RunID, params, d.store.Root(), res); err != nil {
		return err
	}
	_, err = report.New(d.log).Render(rc.RunID, rc.Workspace.Root)
	return err
}

// snapshotDate is the calendar date of the fetched snapshot, taken from the
// inbound file name. Exchange holidays make it lag the invocation date.
func snapshotDate(rc *RunContext) (string, error) {
	path, err := prepare.FindLatestInbound(rc.Workspace.InboundDir(), "twse_MI_INDEX")
	if err != nil {
		return "", fmt.Errorf("%w: no inbound snapshot: %v", ErrPrecondition, err)
	}
	name := filepath.Base(path)
	date := strings.TrimSuffix(strings.TrimPrefix(name, "twse_MI_INDEX_"), ".json")
	if len(date) != 8 {
		return "", fmt.Errorf("unexpected inbound file name %q", name)
	}
	return date, nil
}

func requireNonEmpty(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("output not created: %s", path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("output is empty: %s", path)
	}
	return nil
}

func lightsConfig(s pipecfg.Strategy) strategy.Config {
	return strategy.Config{
		TurnoverHi:     s.TurnoverHi,
		TurnoverMid:    s.TurnoverMid,
		TVPctHi:        s.TVPctHi,
		TVPctMid:       s.TVPctMid,
		ShortUsedHi:    s.ShortUsedHi,
		ShortUsedMid:   s.ShortUsedMid,
		MarginUsedHi:   s.MarginUsedHi,
		MarginUsedMid:  s.MarginUsedMid,
		TopNEachMarket: s.TopNEachMarket,
	}
}

func backtestParams(b pipecfg.Backtest) backtest.Params {
	return backtest.Params{
		TopN:              b.TopN,
		RiskOn:            b.RiskOn,
		RiskMid:           b.RiskMid,
		MidExposure:       b.MidExposure,
		AnnualizationDays: b.AnnualizationDays,
		Costs: backtest.Costs{
			Commission: b.Costs.Commission,
			SellTax:    b.Costs.SellTax,
			Slippage:   b.Costs.Slippage,
		},
	}
}
