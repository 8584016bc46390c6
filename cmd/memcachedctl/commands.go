//go:build unix

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/core-tools/hsu-memcached/pkg/config"
	"github.com/core-tools/hsu-memcached/pkg/control"
	"github.com/core-tools/hsu-memcached/pkg/daemon"
	"github.com/core-tools/hsu-memcached/pkg/domain"
	"github.com/core-tools/hsu-memcached/pkg/errors"
	"github.com/core-tools/hsu-memcached/pkg/master"
	"github.com/core-tools/hsu-memcached/pkg/probe"
	"github.com/core-tools/hsu-memcached/pkg/processfile"
	"github.com/core-tools/hsu-memcached/pkg/resourcelimits"
	"github.com/core-tools/hsu-memcached/pkg/service"

	corecontrol "github.com/core-tools/hsu-core/pkg/control"
	coredomain "github.com/core-tools/hsu-core/pkg/domain"
)

const remoteTimeout = 5 * time.Second

// LSB init script status codes
const (
	exitRunning    exitCode = 0
	exitBroken     exitCode = 1
	exitNotRunning exitCode = 3
)

func statusExitCode(status service.HealthStatus) exitCode {
	switch status {
	case service.StatusRunning:
		return exitRunning
	case service.StatusBroken:
		return exitBroken
	default:
		return exitNotRunning
	}
}

func pidDirectory() string {
	if opts.PIDDir != "" {
		return opts.PIDDir
	}
	if opts.UserService {
		return processfile.DefaultBaseDirectory(processfile.UserService)
	}
	return processfile.DefaultBaseDirectory(processfile.SystemService)
}

func loadService(serviceOptions service.Options) (*service.Service, error) {
	if opts.Config == "" {
		return nil, errors.NewValidationError("--config is required", nil)
	}

	cfg, err := config.LoadFromFile(opts.Config, config.Options{
		PIDDir:        pidDirectory(),
		DefaultBinary: config.DefaultBinary,
	})
	if err != nil {
		return nil, err
	}

	controller := daemon.NewController(daemon.Config{}, newLogger("daemon"))
	prober := probe.NewMemcacheProber(probe.DefaultTimeout, newLogger("probe"))
	return service.NewService(cfg, controller, prober, serviceOptions, newLogger("service")), nil
}

// signalContext is cancelled on SIGINT/SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

type startCommand struct {
	Policy string `long:"policy" default:"deferred" choice:"deferred" choice:"sync" description:"how start confirms health"`
	Wait   bool   `long:"wait" description:"with the deferred policy, poll status until running"`
}

func (c *startCommand) Execute(args []string) error {
	svc, err := loadService(service.Options{Policy: service.StartPolicy(c.Policy)})
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	outcome, err := svc.Start(ctx)
	if err != nil {
		return err
	}

	if outcome.Result == service.ResultStarting && c.Wait {
		status, err := svc.WaitRunning(ctx, outcome.Retry)
		fmt.Println(status)
		if err != nil {
			return err
		}
		return nil
	}

	fmt.Println(outcome.Result)
	return nil
}

type stopCommand struct{}

func (c *stopCommand) Execute(args []string) error {
	svc, err := loadService(service.Options{})
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := svc.Stop(ctx); err != nil {
		return err
	}
	fmt.Println("stopped")
	return nil
}

type statusCommand struct {
	AttachPort int `long:"attach-port" description:"ask the serve surface on 127.0.0.1:<port> instead of checking locally"`
}

func (c *statusCommand) Execute(args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	var status service.HealthStatus
	if c.AttachPort > 0 {
		remote, err := remoteStatus(ctx, c.AttachPort)
		if err != nil {
			return err
		}
		status = remote
	} else {
		svc, err := loadService(service.Options{})
		if err != nil {
			return err
		}
		status = svc.Status(ctx)
	}

	fmt.Println(status)
	if code := statusExitCode(status); code != exitRunning {
		return code
	}
	return nil
}

// remoteStatus pings a running serve surface and asks it for the status
func remoteStatus(ctx context.Context, port int) (service.HealthStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()

	coreLogger := newCoreLogger()
	connection, err := corecontrol.NewConnection(corecontrol.ConnectionOptions{AttachPort: port}, coreLogger)
	if err != nil {
		return service.StatusNotRunning, errors.NewIOError("failed to connect to serve surface", err).WithContext("port", port)
	}
	defer connection.Shutdown()

	retryPingOptions := coredomain.RetryPingOptions{
		RetryAttempts: 3,
		RetryInterval: 100 * time.Millisecond,
	}
	coreClientGateway := corecontrol.NewGRPCClientGateway(connection.GRPC(), coreLogger)
	if err := coredomain.RetryPing(ctx, coreClientGateway, retryPingOptions, coreLogger); err != nil {
		return service.StatusNotRunning, errors.NewIOError("serve surface not reachable", err).WithContext("port", port)
	}

	value, err := control.NewGRPCClientGateway(connection.GRPC(), newLogger("control")).Status(ctx)
	if err != nil {
		return service.StatusNotRunning, errors.NewIOError("failed to get status", err).WithContext("port", port)
	}

	status, ok := service.ParseHealthStatus(value)
	if !ok {
		return service.StatusNotRunning, errors.NewInternalError("unexpected status: "+value, nil).WithContext("port", port)
	}
	return status, nil
}

type serveCommand struct {
	Port                 int           `long:"port" required:"true" description:"port the gRPC health surface listens on"`
	WatchInterval        time.Duration `long:"watch-interval" description:"log status transitions at this interval, 0 disables"`
	ForceShutdownTimeout time.Duration `long:"force-shutdown-timeout" default:"30s" description:"bound on graceful gRPC shutdown"`
}

func (c *serveCommand) Execute(args []string) error {
	svc, err := loadService(service.Options{})
	if err != nil {
		return err
	}

	logger := newLogger("master")
	handler := domain.NewServiceHandler(svc, logger)

	return master.Run(context.Background(), master.MasterOptions{
		Port:                 c.Port,
		ForceShutdownTimeout: c.ForceShutdownTimeout,
		WatchInterval:        c.WatchInterval,
	}, handler, newCoreLogger(), logger)
}

type execLimitedCommand struct {
	Ulimit []string `long:"ulimit" description:"resource limit as name=value, repeatable"`
}

// Execute only returns on failure; on success the process image is replaced.
func (c *execLimitedCommand) Execute(args []string) error {
	status := os.NewFile(uintptr(resourcelimits.StatusFD), "status")

	limits, err := resourcelimits.ParseArgs(c.Ulimit)
	if err != nil {
		fmt.Fprintf(status, "%s\t%s\n", errors.ErrorTypeResourceLimit, err)
		return err
	}

	return resourcelimits.RunTrampoline(resourcelimits.NewResourceEnforcer(newLogger("trampoline")), limits, args, status)
}
