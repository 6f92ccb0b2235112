package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"time"

	"github.com/google/uuid"

	"parabatch/internal/batch"
	"parabatch/internal/diag"
	"parabatch/internal/health"
	"parabatch/internal/mode"
	"parabatch/internal/plan"
	"parabatch/internal/rate"
	"parabatch/internal/telemetry"
	"parabatch/pkg/contract"
)

// - 单线程控制：文档逐个处理，文档内批请求逐个发出；并发只存在于遥测 Appender。
// - 致命错误：任一请求恢复失败即终止当前文档，不写输出；首错返回。
// - 摘要：每个文档无论成败都提交一份 RunSummary。

// Components 聚合运行所需的组件。
type Components struct {
	Reader    contract.Reader
	Splitter  contract.Splitter
	Remote    contract.RemoteClient
	Health    contract.HealthSource // 为 nil 时尝试从 Remote 获取
	Assembler contract.Assembler
	Writer    contract.Writer
	Telemetry *telemetry.Appender // 可为 nil
}

// Settings 运行期配置。
type Settings struct {
	Inputs     []string
	Profile    mode.Profile
	Limits     batch.Limits
	Hysteresis float64
	MaxDepth   int
	Gate       rate.Gate
	DryRun     bool
	// APIURL 仅用于终端提示。
	APIURL string
}

// Run 执行完整流水线：Reader → Splitter → Engine.Process → Assembler → Writer。
// 返回每个已处理文档的摘要（与提交给遥测的内容一致）。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) ([]contract.RunSummary, error) {
	if err := sanity(comp, set); err != nil {
		return nil, fmt.Errorf("sanity: %w", err)
	}
	src := comp.Health
	if src == nil {
		src, _ = comp.Remote.(contract.HealthSource)
	}
	base := Engine{
		Remote:   comp.Remote,
		Health:   health.NewTracker(src, logger),
		Profile:  set.Profile,
		Limits:   set.Limits,
		Selector: plan.Selector{Hysteresis: set.Hysteresis},
		Gate:     set.Gate,
		MaxDepth: set.MaxDepth,
		DryRun:   set.DryRun,
		Logger:   logger,
	}

	runStart := time.Now()
	diag.GetTerminal().RunStart(string(set.Profile.Name), set.APIURL)
	var out []contract.RunSummary
	rtimer := logger.Start("reader", "iterate")
	err := comp.Reader.Iterate(ctx, set.Inputs, func(fid contract.FileID, rc io.ReadCloser) error {
		eng := base
		eng.FileID = fid
		sum, ferr := runFile(ctx, comp, &eng, fid, rc, logger)
		out = append(out, sum)
		comp.Telemetry.Submit(sum)
		if ferr != nil {
			return fmt.Errorf("perFile: %w", ferr)
		}
		return nil
	})
	diag.GetTerminal().RunFinish(err == nil, time.Since(runStart))
	if err != nil {
		var fe *fileError
		if !errors.As(err, &fe) {
			logFailure(logger, "reader", "iterate failed", rtimer, "", "", err)
		}
		return out, fmt.Errorf("reader iterate: %w", err)
	}
	rtimer.Finish("iterate", int64(len(out)))
	diag.IncOp("reader", "finish", "success")
	return out, nil
}

// fileError 标记已在文档内记录过日志的失败。
type fileError struct {
	stage string
	err   error
}

func (e *fileError) Error() string { return e.err.Error() }
func (e *fileError) Unwrap() error { return e.err }

// runFile 处理单个文档并构造摘要。
func runFile(ctx context.Context, comp Components, eng *Engine, fid contract.FileID, rc io.ReadCloser, logger *diag.Logger) (sum contract.RunSummary, err error) {
	diag.ResetCounters()
	start := time.Now()
	sum = newSummary(fid, eng.Profile.Name, logger, start)
	ok := false
	defer func() {
		sum.DurationSeconds = time.Since(start).Seconds()
		sum.Counters = diag.SnapshotCounters()
		var fe *fileError
		if errors.As(err, &fe) {
			sum.Status = contract.RunFailure
			sum.ErrorStage = fe.stage
			sum.ErrorCode = string(diag.Classify(fe.err))
			sum.ErrorMessage = fe.err.Error()
		}
		diag.GetTerminal().FileFinish(ok, time.Since(start))
	}()
	stage := func(name string, f func(t *diag.Timer) error) error {
		t0 := time.Now()
		t := logger.StartWith(stageComp(name), name, string(fid), "")
		e := f(t)
		sum.StageSeconds[name] = time.Since(t0).Seconds()
		if e != nil {
			logFailure(logger, stageComp(name), name+" failed", t, string(fid), "", e)
			return &fileError{stage: name, err: e}
		}
		return nil
	}

	var doc contract.Document
	if err = stage("split", func(t *diag.Timer) error {
		defer rc.Close()
		d, e := comp.Splitter.Split(ctx, fid, rc)
		if e != nil {
			return fmt.Errorf("splitter split: %w", e)
		}
		if len(d.Items) == 0 {
			return fmt.Errorf("splitter split: %s: %w", fid, contract.ErrNoEligible)
		}
		doc = d
		t.Finish("split", int64(len(d.Items)))
		diag.IncOp("splitter", "finish", "success")
		return nil
	}); err != nil {
		return sum, err
	}
	sum.Items = len(doc.Items)
	sum.TotalWords = doc.Words()
	diag.GetTerminal().FileStart(string(fid), sum.Items, sum.TotalWords)

	if err = stage("paraphrase", func(t *diag.Timer) error {
		rep, e := eng.Process(ctx, doc.Items)
		sum.Requests = rep.Requests
		sum.InitialFailures = rep.InitialFailures
		sum.RecoveryCalls = rep.RecoveryCalls
		if e != nil {
			return e
		}
		t.Finish("paraphrase", int64(len(rep.Requests)))
		return nil
	}); err != nil {
		return sum, err
	}
	if eng.DryRun {
		sum.Status = contract.RunDryRun
		ok = true
		return sum, nil
	}

	var r io.Reader
	if err = stage("assemble", func(t *diag.Timer) error {
		var e error
		r, e = comp.Assembler.Assemble(ctx, doc)
		if e != nil {
			return fmt.Errorf("assembler assemble: %w", e)
		}
		t.Finish("assemble", int64(len(doc.Items)))
		diag.IncOp("assembler", "finish", "success")
		return nil
	}); err != nil {
		return sum, err
	}
	if err = stage("write", func(t *diag.Timer) error {
		if e := comp.Writer.Write(ctx, contract.ArtifactID(fid), r); e != nil {
			return fmt.Errorf("writer write: %w", e)
		}
		t.Finish("write", 0)
		diag.IncOp("writer", "finish", "success")
		return nil
	}); err != nil {
		return sum, err
	}
	if tw, isT := comp.Writer.(interface {
		Target(contract.ArtifactID) (string, error)
	}); isT {
		sum.Output, _ = tw.Target(contract.ArtifactID(fid))
	}
	ok = true
	return sum, nil
}

// stageComp 将阶段名映射为日志组件名。
func stageComp(stage string) string {
	switch stage {
	case "split":
		return "splitter"
	case "assemble":
		return "assembler"
	case "write":
		return "writer"
	default:
		return "pipeline"
	}
}

func newSummary(fid contract.FileID, m contract.Mode, logger *diag.Logger, start time.Time) contract.RunSummary {
	return contract.RunSummary{
		RunID:        uuid.NewString(),
		CorrID:       logger.CorrID(),
		Status:       contract.RunSuccess,
		Mode:         m,
		Input:        string(fid),
		Host:         hostname(),
		User:         username(),
		StartedAt:    start,
		StageSeconds: make(map[string]float64, 4),
	}
}

func hostname() string {
	h, _ := os.Hostname()
	return h
}

func username() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if v := os.Getenv("USER"); v != "" {
		return v
	}
	return os.Getenv("USERNAME")
}

func sanity(c Components, s Settings) error {
	if c.Reader == nil || c.Splitter == nil || c.Assembler == nil || c.Writer == nil {
		return errors.New("pipeline: missing components")
	}
	if c.Remote == nil && !s.DryRun {
		return errors.New("pipeline: missing remote client")
	}
	if len(s.Inputs) == 0 {
		return errors.New("pipeline: empty inputs")
	}
	if s.Profile.Name == "" {
		return fmt.Errorf("pipeline: empty mode profile: %w", contract.ErrModeUnknown)
	}
	return s.Limits.Validate()
}
