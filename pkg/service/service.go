package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/core-tools/hsu-memcached/pkg/command"
	"github.com/core-tools/hsu-memcached/pkg/config"
	"github.com/core-tools/hsu-memcached/pkg/daemon"
	"github.com/core-tools/hsu-memcached/pkg/errors"
	"github.com/core-tools/hsu-memcached/pkg/logging"
	"github.com/core-tools/hsu-memcached/pkg/probe"
)

// Options selects the start policy and its timing
type Options struct {
	Policy StartPolicy

	// Retry is handed to the caller by a deferred start
	Retry Retry

	// SyncTrials and SyncBackoffUnit drive a sync start: before trial n the
	// service sleeps n*SyncBackoffUnit
	SyncTrials      int
	SyncBackoffUnit time.Duration
}

func setDefaults(opts *Options) {
	if opts.Policy == "" {
		opts.Policy = PolicyDeferred
	}
	if opts.Retry.Step <= 0 {
		opts.Retry.Step = DefaultRetry.Step
	}
	if opts.Retry.Trials <= 0 {
		opts.Retry.Trials = DefaultRetry.Trials
	}
	if opts.SyncTrials <= 0 {
		opts.SyncTrials = DefaultSyncTrials
	}
	if opts.SyncBackoffUnit <= 0 {
		opts.SyncBackoffUnit = DefaultSyncBackoffUnit
	}
}

// Service supervises one memcached instance described by a ServiceConfig.
// Calls are expected to be serialized by a single supervisor; the mutex only
// keeps accidental concurrent use from corrupting the state.
type Service struct {
	config     *config.ServiceConfig
	controller Controller
	prober     probe.Prober
	options    Options
	logger     logging.Logger

	mutex sync.Mutex
	state State
}

func NewService(cfg *config.ServiceConfig, controller Controller, prober probe.Prober, opts Options, logger logging.Logger) *Service {
	setDefaults(&opts)
	return &Service{
		config:     cfg,
		controller: controller,
		prober:     prober,
		options:    opts,
		logger:     logger,
		state:      StateStopped,
	}
}

// Start launches memcached unless it is already running. With the deferred
// policy it returns ResultStarting right after launch; with the sync policy
// it returns ResultStarted once the probe succeeds, or a start timeout error
// after stopping the unresponsive process.
func (s *Service) Start(ctx context.Context) (StartOutcome, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	startedAt := time.Now()

	if s.controller.IsAlive(s.config.PIDFile()) {
		s.logger.Infof("Already running, port: %d, pid_file: %s", s.config.Port(), s.config.PIDFile())
		if s.state != StateStarting {
			s.state = StateRunning
		}
		return StartOutcome{Result: ResultAlreadyRunning}, nil
	}

	if !canStartFromState(s.state) {
		return StartOutcome{}, errors.NewValidationError(
			fmt.Sprintf("cannot start in state '%s'", s.state), nil,
		).WithContext("port", s.config.Port()).WithContext("current_state", string(s.state))
	}

	s.state = StateStarting

	opts := daemon.LaunchOptions{
		Argv:          command.Argv(s.config),
		PIDFile:       s.config.PIDFile(),
		Stdout:        s.config.LogFile(),
		Stderr:        s.config.LogFile(),
		Limits:        s.config.Ulimit(),
		SupervisorLog: s.config.SupervisorLog(),
	}

	s.logger.Infof("Starting memcached, port: %d, policy: %s, argv: %v", s.config.Port(), s.options.Policy, opts.Argv)

	if err := s.controller.Launch(ctx, opts); err != nil {
		s.state = StateStartFailed
		s.logger.Errorf("Failed to launch memcached, port: %d, error: %v", s.config.Port(), err)
		return StartOutcome{}, err
	}

	if s.options.Policy == PolicySync {
		return s.confirmStarted(ctx, startedAt)
	}

	return StartOutcome{
		Result:  ResultStarting,
		Elapsed: time.Since(startedAt),
		Retry:   s.options.Retry,
	}, nil
}

// confirmStarted polls the probe with linear backoff. On exhaustion the
// process is stopped so no unresponsive instance is left behind.
func (s *Service) confirmStarted(ctx context.Context, startedAt time.Time) (StartOutcome, error) {
	for trial := 1; trial <= s.options.SyncTrials; trial++ {
		select {
		case <-ctx.Done():
			s.abortStart(ctx)
			return StartOutcome{}, errors.NewCancelledError("start cancelled", ctx.Err()).
				WithContext("elapsed", time.Since(startedAt))
		case <-time.After(time.Duration(trial) * s.options.SyncBackoffUnit):
		}

		if !s.controller.IsAlive(s.config.PIDFile()) {
			s.state = StateStartFailed
			return StartOutcome{}, errors.NewLaunchError("memcached exited during startup", nil).
				WithContext("port", s.config.Port()).WithContext("elapsed", time.Since(startedAt))
		}

		if s.prober.Probe(ctx, s.config.Host(), s.config.Port()) {
			s.state = StateRunning
			elapsed := time.Since(startedAt)
			s.logger.Infof("Memcached started, port: %d, trial: %d, elapsed: %v", s.config.Port(), trial, elapsed)
			return StartOutcome{Result: ResultStarted, Elapsed: elapsed}, nil
		}

		s.logger.Debugf("Memcached not answering yet, port: %d, trial: %d", s.config.Port(), trial)
	}

	elapsed := time.Since(startedAt)
	s.logger.Errorf("Memcached did not become healthy, port: %d, elapsed: %v", s.config.Port(), elapsed)
	s.abortStart(ctx)

	return StartOutcome{}, errors.NewStartTimeoutError(
		fmt.Sprintf("memcached did not answer within %d trials", s.options.SyncTrials), nil,
	).WithContext("port", s.config.Port()).WithContext("elapsed", elapsed)
}

func (s *Service) abortStart(ctx context.Context) {
	s.state = StateStartFailed
	// Use a fresh context: ctx may be the reason we are aborting
	if err := s.controller.Terminate(context.WithoutCancel(ctx), s.config.PIDFile()); err != nil {
		s.logger.Errorf("Failed to stop half-started memcached, port: %d, error: %v", s.config.Port(), err)
	}
}

// Stop terminates memcached. Stopping a stopped service succeeds.
func (s *Service) Stop(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.logger.Infof("Stopping memcached, port: %d, state: %s", s.config.Port(), s.state)

	previous := s.state
	s.state = StateStopping

	if err := s.controller.Terminate(ctx, s.config.PIDFile()); err != nil {
		s.state = previous
		s.logger.Errorf("Failed to stop memcached, port: %d, error: %v", s.config.Port(), err)
		return err
	}

	s.state = StateStopped
	return nil
}

// Status recomputes the health of the instance: the probe only runs when a
// live process owns the pid file.
func (s *Service) Status(ctx context.Context) HealthStatus {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.statusLocked(ctx)
}

func (s *Service) statusLocked(ctx context.Context) HealthStatus {
	if !s.controller.IsAlive(s.config.PIDFile()) {
		if s.state != StateStartFailed {
			s.state = StateStopped
		}
		return StatusNotRunning
	}

	if !s.prober.Probe(ctx, s.config.Host(), s.config.Port()) {
		s.logger.Warnf("Memcached process alive but not answering, port: %d", s.config.Port())
		return StatusBroken
	}

	s.state = StateRunning
	return StatusRunning
}

// WaitRunning polls Status every retry.Step for up to retry.Trials attempts,
// the way a supervisor follows up on a deferred start. It returns the last
// observed status; only StatusRunning is a success.
func (s *Service) WaitRunning(ctx context.Context, retry Retry) (HealthStatus, error) {
	if retry.Step <= 0 || retry.Trials <= 0 {
		retry = s.options.Retry
	}

	startedAt := time.Now()
	status := StatusNotRunning
	for trial := 1; trial <= retry.Trials; trial++ {
		status = s.Status(ctx)
		if status == StatusRunning {
			return status, nil
		}
		if trial == retry.Trials {
			break
		}

		select {
		case <-ctx.Done():
			return status, errors.NewCancelledError("wait cancelled", ctx.Err())
		case <-time.After(retry.Step):
		}
	}

	return status, errors.NewStartTimeoutError(
		fmt.Sprintf("memcached not running after %d checks", retry.Trials), nil,
	).WithContext("port", s.config.Port()).WithContext("status", status.String()).
		WithContext("elapsed", time.Since(startedAt))
}

// canStartFromState validates whether a launch may be attempted
func canStartFromState(currentState State) bool {
	switch currentState {
	case StateStopped, StateStartFailed:
		return true
	case StateStarting, StateRunning:
		// The process is gone (checked by the caller); the state is stale
		return true
	case StateStopping:
		return false
	default:
		return false
	}
}

func (s *Service) State() State {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state
}

func (s *Service) Port() int {
	return s.config.Port()
}

func (s *Service) User() string {
	return s.config.User()
}

// Group falls back to the platform default group when none is configured
func (s *Service) Group() string {
	return s.config.Group()
}

func (s *Service) Config() *config.ServiceConfig {
	return s.config
}
