package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"sigworker/internal/analysis"
	"sigworker/internal/broker"
	"sigworker/internal/config"
	"sigworker/internal/md"
	"sigworker/internal/metrics"
	"sigworker/internal/risk"
	"sigworker/internal/signal"
)

// Gateway supplies market data. Implementations should honour ctx, but the worker does not rely on it.
type Gateway interface {
	FetchSnapshot(ctx context.Context, symbol string, lookback int) (*md.Snapshot, error)
}

type Executor interface {
	Submit(ctx context.Context, order risk.AdmittedOrder) (broker.OrderAck, error)
	Cancel(ctx context.Context, orderID string) error
}

type verifier interface {
	Verify(ctx context.Context) error
}

type State string

const (
	StateIdle        State = "idle"
	StateDispatching State = "dispatching"
	StateCollecting  State = "collecting"
)

const cancelTimeout = 5 * time.Second

// Error kinds of timed_out outcomes.
const (
	kindSymbolDeadline = "symbol_deadline"
	kindCycleDeadline  = "cycle_deadline"
)

type Worker struct {
	cfg       config.Config
	gateway   Gateway
	analyzer  analysis.Analyzer
	builder   signal.Builder
	gate      *risk.Gate
	executor  Executor
	decisions *DecisionLogger
	log       zerolog.Logger

	runID       string
	orderSeqNum uint64

	cycleMu sync.Mutex
	stateMu sync.Mutex
	state   State
}

// New validates cfg and wires the worker. With auto-trading on, an executor that can verify its
// credentials is asked to do so here, so bad credentials fail at construction rather than mid-cycle.
// A nil analyzer selects the analyzer named by cfg; decisions may be nil.
func New(ctx context.Context, cfg config.Config, gateway Gateway, analyzer analysis.Analyzer, executor Executor, decisions *DecisionLogger, log zerolog.Logger) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if gateway == nil {
		return nil, errors.New("market data gateway is required")
	}
	if cfg.Worker.AutoTrading && executor == nil {
		return nil, errors.New("auto_trading requires an execution client")
	}
	if analyzer == nil {
		a := cfg.Analysis
		var err error
		if analyzer, err = analysis.ByName(a.Analyzer, a.FastWindow, a.SlowWindow, a.MomentumWindow, a.ATRWindow); err != nil {
			return nil, err
		}
	}
	gate, err := risk.NewGate(risk.Limits{
		RiskPerTrade:  cfg.Risk.RiskPerTrade,
		MaxPositions:  cfg.Risk.MaxPositions,
		AccountBudget: cfg.Risk.AccountBudget,
		MaxNotional:   cfg.Risk.MaxNotional,
	}, log)
	if err != nil {
		return nil, err
	}
	if v, ok := executor.(verifier); ok && cfg.Worker.AutoTrading {
		if err := v.Verify(ctx); err != nil {
			return nil, fmt.Errorf("verify broker credentials: %w", err)
		}
	}

	runID := uuid.NewString()[:8]
	if decisions != nil {
		runID = decisions.RunID()
	}
	return &Worker{
		cfg:       cfg,
		gateway:   gateway,
		analyzer:  analyzer,
		builder:   signal.NewBuilder(cfg.Analysis.MinConfidence, cfg.Analysis.RewardRatio, cfg.Analysis.StopATRMultiple),
		gate:      gate,
		executor:  executor,
		decisions: decisions,
		log:       log.With().Str("component", "worker").Str("run_id", runID).Logger(),
		runID:     runID,
		state:     StateIdle,
	}, nil
}

func (w *Worker) State() State {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.stateMu.Lock()
	w.state = s
	w.stateMu.Unlock()
}

// RunOnce drives every configured symbol through one cycle and returns when each has a terminal
// outcome. Concurrent calls are serialised.
func (w *Worker) RunOnce(ctx context.Context) CycleResult {
	w.cycleMu.Lock()
	defer w.cycleMu.Unlock()

	result := CycleResult{CycleID: uuid.NewString(), StartedAt: time.Now().UTC()}
	ctx, cancel := context.WithTimeout(ctx, w.cfg.Worker.CycleTimeout)
	defer cancel()

	symbols := w.cfg.Worker.Symbols
	outcomes := make([]Outcome, len(symbols))

	w.setState(StateDispatching)
	var g errgroup.Group
	g.SetLimit(w.cfg.Worker.MaxWorkers)
	for i, symbol := range symbols {
		g.Go(func() error {
			outcomes[i] = w.runSymbol(ctx, symbol)
			return nil
		})
	}
	w.setState(StateCollecting)
	_ = g.Wait()
	w.setState(StateIdle)

	result.FinishedAt = time.Now().UTC()
	result.Outcomes = outcomes
	w.record(result)
	return result
}

// RunForever runs a cycle immediately and then every interval until ctx is done.
func (w *Worker) RunForever(ctx context.Context, interval time.Duration, handle func(CycleResult)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		result := w.RunOnce(ctx)
		if handle != nil {
			handle(result)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Release frees a reservation once its position has closed.
func (w *Worker) Release(reservationID string) bool {
	ok := w.gate.Release(reservationID)
	metrics.OpenPositions.Set(float64(w.gate.Open()))
	return ok
}

func (w *Worker) OpenPositions() int { return w.gate.Open() }

func (w *Worker) Reservations() []risk.Reservation { return w.gate.Reservations() }

func (w *Worker) RiskStats() risk.Stats { return w.gate.Stats() }

// runSymbol bounds one symbol's task by the symbol timeout. The pool slot is given back at the
// deadline even if the task itself is still blocked on a collaborator.
func (w *Worker) runSymbol(ctx context.Context, symbol string) Outcome {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		out := Outcome{Symbol: symbol}
		return out.fail(StatusTimedOut, kindCycleDeadline, err)
	}

	tctx, cancel := context.WithTimeout(ctx, w.cfg.Worker.SymbolTimeout)
	defer cancel()

	t := &task{}
	done := make(chan Outcome, 1)
	go func() { done <- w.process(tctx, t, symbol) }()

	var out Outcome
	select {
	case out = <-done:
	case <-tctx.Done():
		select {
		case out = <-done:
		default:
			out = w.abandon(t, done, symbol, tctx.Err())
		}
	}
	// tctx inherits the cycle deadline; blame the cycle when that is what ended the task.
	if out.Status == StatusTimedOut && out.ErrorKind == kindSymbolDeadline && ctx.Err() != nil {
		out.ErrorKind = kindCycleDeadline
	}
	out.Duration = time.Since(start)
	return out
}

// abandon gives up on a task past its deadline. If the task already finished it waits for its outcome.
func (w *Worker) abandon(t *task, done <-chan Outcome, symbol string, cause error) Outcome {
	res, abandoned := t.abandon()
	if !abandoned {
		return <-done
	}
	if res != nil {
		w.gate.Release(res.ID)
	}
	out := Outcome{Symbol: symbol}
	out.fail(StatusTimedOut, kindSymbolDeadline, cause)
	w.log.Warn().Str("symbol", symbol).Dur("timeout", w.cfg.Worker.SymbolTimeout).Bool("released", res != nil).Msg("symbol timed out")
	return out
}

// process runs fetch -> analyze -> build -> admit -> submit for one symbol.
func (w *Worker) process(ctx context.Context, t *task, symbol string) Outcome {
	out := Outcome{Symbol: symbol}

	snapshot, err := w.gateway.FetchSnapshot(ctx, symbol, w.cfg.Worker.Lookback)
	if err != nil {
		if ctx.Err() != nil {
			return out.fail(StatusTimedOut, kindSymbolDeadline, err)
		}
		code := md.Code(err)
		if code == "" {
			code = "unavailable"
		}
		w.log.Warn().Err(err).Str("symbol", symbol).Str("code", code).Msg("market data unavailable, skipping")
		return out.fail(StatusSkipped, code, err)
	}

	verdict, err := w.analyzer.Analyze(symbol, snapshot)
	if err != nil {
		w.log.Error().Err(err).Str("symbol", symbol).Msg("analysis failed")
		return out.fail(StatusError, "pipeline", err)
	}
	out.Verdict = &verdict

	sig, ok := w.builder.Build(verdict)
	if !ok {
		out.Status = StatusNoSignal
		w.log.Debug().Str("symbol", symbol).Str("direction", string(verdict.Direction)).
			Float64("confidence", verdict.Confidence).Str("reason", verdict.Reason).Msg("no signal")
		return out
	}
	out.Signal = &sig

	if err := ctx.Err(); err != nil {
		return out.fail(StatusTimedOut, kindSymbolDeadline, err)
	}
	order, err := w.gate.Admit(sig)
	if err != nil {
		reason, _ := risk.VetoReason(err)
		out.VetoReason = reason
		out.Status = StatusVetoed
		return out
	}
	if !t.hold(order.Reservation) {
		w.gate.Release(order.Reservation.ID)
		return out.fail(StatusTimedOut, kindSymbolDeadline, context.DeadlineExceeded)
	}
	admitted := order.Signal
	reservation := order.Reservation
	out.Signal = &admitted
	out.Reservation = &reservation

	if !w.cfg.Worker.AutoTrading {
		if !t.finish() {
			return out.fail(StatusTimedOut, kindSymbolDeadline, context.DeadlineExceeded)
		}
		out.Status = StatusDryRun
		w.log.Info().Str("symbol", symbol).Str("direction", string(sig.Direction)).
			Float64("size", admitted.Size).Msg("dry_run")
		return out
	}

	order.ClientOrderID = w.nextClientOrderID()
	out.ClientOrderID = order.ClientOrderID
	ack, err := w.executor.Submit(ctx, order)
	if err != nil {
		t.release(w.gate)
		out.Reservation = nil
		kind, ok := broker.Kind(err)
		if !ok {
			kind = broker.KindTransient
		}
		out.Retryable = kind == broker.KindTransient
		w.log.Warn().Err(err).Str("symbol", symbol).Str("kind", string(kind)).Bool("retryable", out.Retryable).Msg("order_failed")
		return out.fail(StatusExecutionFailed, string(kind), err)
	}
	out.OrderID = ack.ID

	if !t.finish() {
		// The collector already released the reservation and recorded a timeout.
		cctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
		defer cancel()
		if err := w.executor.Cancel(cctx, ack.ID); err != nil {
			w.log.Error().Err(err).Str("symbol", symbol).Str("order_id", ack.ID).Msg("cancel of abandoned order failed")
		}
		return out.fail(StatusTimedOut, kindSymbolDeadline, context.DeadlineExceeded)
	}
	out.Status = StatusSubmitted
	w.log.Info().Str("symbol", symbol).Str("side", string(sig.Direction)).Float64("size", admitted.Size).
		Str("order_id", ack.ID).Str("client_order_id", order.ClientOrderID).Msg("order_submitted")
	return out
}

func (w *Worker) record(result CycleResult) {
	for _, o := range result.Outcomes {
		metrics.OutcomesTotal.WithLabelValues(string(o.Status)).Inc()
		if o.Status == StatusVetoed {
			metrics.VetoesTotal.WithLabelValues(string(o.VetoReason)).Inc()
		}
		if w.decisions != nil {
			w.decisions.Append(newDecision(w.runID, result.CycleID, o))
		}
	}
	elapsed := result.FinishedAt.Sub(result.StartedAt)
	metrics.CyclesTotal.Inc()
	metrics.CycleDuration.Observe(elapsed.Seconds())
	metrics.OpenPositions.Set(float64(w.gate.Open()))

	ev := w.log.Info().Str("cycle_id", result.CycleID).Dur("elapsed", elapsed).Int("symbols", len(result.Outcomes)).Int("open_positions", w.gate.Open())
	for status, n := range result.Counts() {
		ev = ev.Int(string(status), n)
	}
	ev.Msg("cycle complete")
}

func (w *Worker) nextClientOrderID() string {
	seq := atomic.AddUint64(&w.orderSeqNum, 1)
	return fmt.Sprintf("%s-%d", w.runID, seq)
}

// task is the handoff between a symbol's goroutine and the pool slot waiting on it. Whichever side
// reaches the lock first decides who owns the reservation.
type task struct {
	mu        sync.Mutex
	abandoned bool
	finished  bool
	held      *risk.Reservation
}

func (t *task) hold(res risk.Reservation) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.abandoned {
		return false
	}
	t.held = &res
	return true
}

func (t *task) release(gate *risk.Gate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.held != nil {
		gate.Release(t.held.ID)
		t.held = nil
	}
}

func (t *task) finish() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.abandoned {
		return false
	}
	t.finished = true
	return true
}

// abandon reports false if the task already finished; otherwise it hands back any held reservation.
func (t *task) abandon() (*risk.Reservation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return nil, false
	}
	t.abandoned = true
	res := t.held
	t.held = nil
	return res, true
}
