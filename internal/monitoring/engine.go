// internal/monitoring/engine.go
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"sensorqa/internal/config"
	"sensorqa/internal/database"
	"sensorqa/internal/failover"
	"sensorqa/internal/fleet"
	"sensorqa/internal/inventory"
	"sensorqa/internal/metrics"
	"sensorqa/internal/model"
	"sensorqa/internal/probe"
	"sensorqa/internal/remote"
	"sensorqa/internal/report"
)

var ErrRunInProgress = errors.New("a run is already in progress")

// RunListener is told when runs start and finish.
type RunListener interface {
	RunStarted(id string, sensors int)
	RunFinished(run *database.RunRecord)
}

// ExecutorFactory builds the executor for one run from the sensors loaded
// for that run.
type ExecutorFactory func(sensors []model.SensorEndpoint) (remote.Executor, error)

// Engine owns everything a run needs and serializes runs.
type Engine struct {
	config      *config.Config
	store       database.Store
	metrics     *metrics.Collector
	exec        remote.Executor
	newExecutor ExecutorFactory
	prober      probe.Prober
	scheduler *Scheduler
	observers []fleet.Observer
	listeners []RunListener

	mu      sync.RWMutex
	running bool
	active  string
	done    chan struct{}
	last    *database.RunRecord
}

// NewEngine wires an engine. store and collector may be nil. exec serves
// every run unless an executor factory is set.
func NewEngine(cfg *config.Config, store database.Store, collector *metrics.Collector, exec remote.Executor, prober probe.Prober) *Engine {
	engine := &Engine{
		config:  cfg,
		store:   store,
		metrics: collector,
		exec:    exec,
		prober:  prober,
	}
	engine.scheduler = NewScheduler(engine, cfg.Runner.Interval)
	return engine
}

// NewExecutor resolves the credentials the sensors reference and builds the
// SSH executor.
func NewExecutor(cfg *config.Config, sensors []model.SensorEndpoint) (*remote.SSHExecutor, error) {
	refs := make([]string, 0, len(sensors))
	for _, s := range sensors {
		refs = append(refs, s.CredentialRef)
	}
	secrets, err := config.ResolveCredentials(cfg.Credentials, refs)
	if err != nil {
		return nil, err
	}
	return remote.NewSSHExecutor(remote.SSHConfig{
		ConnectTimeout: cfg.SSH.ConnectTimeout,
		CommandTimeout: cfg.SSH.CommandTimeout,
		DialRate:       cfg.SSH.DialRate,
		DialBurst:      cfg.SSH.DialBurst,
		KnownHostsFile: cfg.SSH.KnownHosts,
		KeyFile:        cfg.SSH.KeyFile,
	}, remote.NewStaticCredentials(secrets, cfg.Credentials.DefaultRef))
}

// SSHExecutors resolves credentials and builds a fresh SSH executor per run,
// so registry edits between runs are checked like a first load.
func SSHExecutors(cfg *config.Config) ExecutorFactory {
	return func(sensors []model.SensorEndpoint) (remote.Executor, error) {
		exec, err := NewExecutor(cfg, sensors)
		if err != nil {
			return nil, err
		}
		return exec, nil
	}
}

func NewProber(cfg *config.Config) (probe.Prober, error) {
	return probe.New(cfg.Probe.Method, cfg.Probe.Timeout, cfg.Probe.TCPPort)
}

// NewPolicy builds a failover policy that appends to log.
func NewPolicy(cfg *config.Config, prober probe.Prober, log *failover.Log) *failover.Policy {
	opts := []failover.Option{failover.WithLog(log)}
	if len(cfg.Failover.Prefixes) == 2 {
		opts = append(opts, failover.WithPrefixes(cfg.Failover.Prefixes[0], cfg.Failover.Prefixes[1]))
	}
	if !cfg.FailoverEnabled() {
		opts = append(opts, failover.Disabled())
	}
	return failover.NewPolicy(prober, opts...)
}

// LoadInventory reads the sensor registry and test catalog. Any error is a
// configuration error and no sensor has been contacted.
func LoadInventory(cfg *config.Config) ([]model.SensorEndpoint, *model.Catalog, error) {
	sensors, err := inventory.LoadRegistry(cfg.Inputs.SensorsFile, cfg.Inputs.SensorsInclude.Directory, cfg.Inputs.SensorsInclude.Pattern)
	if err != nil {
		return nil, nil, err
	}
	for i := range sensors {
		if sensors[i].Port == 0 {
			sensors[i].Port = cfg.SSH.Port
		}
	}
	catalog, err := inventory.LoadCatalog(cfg.Inputs.TestsFile)
	if err != nil {
		return nil, nil, err
	}
	return sensors, catalog, nil
}

func (e *Engine) Config() *config.Config {
	return e.config
}

func (e *Engine) Store() database.Store {
	return e.store
}

func (e *Engine) Prober() probe.Prober {
	return e.prober
}

func (e *Engine) SetExecutorFactory(f ExecutorFactory) {
	e.mu.Lock()
	e.newExecutor = f
	e.mu.Unlock()
}

// Prepare loads the inventory and builds the executor a run would use. Any
// error is a configuration error and no sensor has been contacted.
func (e *Engine) Prepare() ([]model.SensorEndpoint, *model.Catalog, remote.Executor, error) {
	sensors, catalog, err := LoadInventory(e.config)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load inventory: %w", err)
	}
	e.mu.RLock()
	factory := e.newExecutor
	e.mu.RUnlock()
	if factory == nil {
		return sensors, catalog, e.exec, nil
	}
	exec, err := factory(sensors)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to prepare executor: %w", err)
	}
	return sensors, catalog, exec, nil
}

// AddObserver registers a per-test event sink for future runs.
func (e *Engine) AddObserver(o fleet.Observer) {
	e.mu.Lock()
	e.observers = append(e.observers, o)
	e.mu.Unlock()
}

func (e *Engine) AddRunListener(l RunListener) {
	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()
}

// ActiveRun returns the ID of the run in progress, if any.
func (e *Engine) ActiveRun() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active
}

func (e *Engine) LastRun() *database.RunRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

// Wait blocks until the run in progress, if any, has been stored and
// reported, or until ctx ends.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.RLock()
	done := e.done
	e.mu.RUnlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start begins history purging and, when an interval is configured,
// periodic runs. It returns immediately.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.mu.Unlock()

	logrus.Info("Starting sensor QA engine")

	if e.store != nil && e.config.Database.HistoryRetention > 0 {
		SchedulePeriodicPurge(ctx, e.store, e.config.Database.HistoryRetention, e.config.Database.CleanupInterval)
	}
	if e.config.Runner.Interval > 0 {
		return e.scheduler.Start(ctx)
	}
	return nil
}

func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	logrus.Info("Stopping sensor QA engine")
	// The scheduler may be inside RunOnce, which takes e.mu.
	e.scheduler.Stop()
}

// RunOnce executes the whole catalog against the whole registry, writes the
// report file and stores the run. Only configuration errors and a run
// already in progress are returned as errors; sensor failures are data in
// the returned record.
func (e *Engine) RunOnce(ctx context.Context, trigger string) (*database.RunRecord, error) {
	id, err := e.reserve()
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, id, trigger)
}

// RunAsync reserves a run and executes it in the background. The returned
// ID is the one the stored run will carry.
func (e *Engine) RunAsync(ctx context.Context, trigger string) (string, error) {
	id, err := e.reserve()
	if err != nil {
		return "", err
	}
	go func() {
		if _, err := e.execute(ctx, id, trigger); err != nil {
			logrus.WithFields(logrus.Fields{
				"run_id":  id,
				"trigger": trigger,
			}).WithError(err).Error("Run failed")
		}
	}()
	return id, nil
}

func (e *Engine) reserve() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != "" {
		return "", ErrRunInProgress
	}
	e.active = uuid.New().String()
	e.done = make(chan struct{})
	return e.active, nil
}

func (e *Engine) execute(ctx context.Context, id, trigger string) (*database.RunRecord, error) {
	e.mu.RLock()
	observers := append([]fleet.Observer(nil), e.observers...)
	listeners := append([]RunListener(nil), e.listeners...)
	e.mu.RUnlock()

	defer func() {
		e.mu.Lock()
		e.active = ""
		close(e.done)
		e.done = nil
		e.mu.Unlock()
	}()

	sensors, catalog, exec, err := e.Prepare()
	if err != nil {
		return nil, err
	}

	log := failover.NewLog()
	opts := []fleet.Option{
		fleet.WithWorkers(e.config.Runner.Workers),
		fleet.WithTimeout(e.config.Runner.Timeout),
	}
	if e.metrics != nil {
		opts = append(opts, fleet.WithObserver(e.metrics))
	}
	for _, o := range observers {
		opts = append(opts, fleet.WithObserver(o))
	}
	runner := fleet.NewRunner(exec, NewPolicy(e.config, e.prober, log), opts...)

	fields := logrus.Fields{
		"run_id":  id,
		"trigger": trigger,
	}
	logrus.WithFields(fields).Info("Run started")
	for _, l := range listeners {
		l.RunStarted(id, len(sensors))
	}

	started := time.Now()
	results := runner.Run(ctx, sensors, catalog)
	finished := time.Now()

	rep := report.New(id, e.config.Inputs.ReportTitle, started, finished, results, log.Records())
	run := &database.RunRecord{
		ID:        id,
		Trigger:   trigger,
		CreatedAt: finished,
		Report:    *rep,
	}

	if e.config.Inputs.ReportsDir != "" {
		path, err := rep.Write(e.config.Inputs.ReportsDir, e.config.Inputs.ReportFormat)
		if err != nil {
			logrus.WithFields(fields).WithError(err).Error("Failed to write report file")
		}
		run.ReportPath = path
	}

	if e.store != nil {
		err := e.store.SaveRun(context.Background(), run)
		if e.metrics != nil {
			e.metrics.RecordDatabaseOperation("save_run", err)
		}
		if err != nil {
			logrus.WithFields(fields).WithError(err).Error("Failed to store run")
		}
	}
	if e.metrics != nil {
		e.metrics.RecordRun(trigger, rep.Summary, finished)
	}

	logrus.WithFields(fields).WithFields(logrus.Fields{
		"sensors":    rep.Summary.Sensors,
		"passed":     rep.Summary.Passed,
		"failed":     rep.Summary.Failed,
		"incomplete": rep.Summary.Incomplete,
		"failovers":  rep.Summary.FailoverEvents,
		"duration":   finished.Sub(started).Round(time.Millisecond),
	}).Info("Run finished")

	e.mu.Lock()
	e.last = run
	e.mu.Unlock()
	for _, l := range listeners {
		l.RunFinished(run)
	}
	return run, nil
}
