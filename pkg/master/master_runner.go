package master

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/core-tools/hsu-memcached/pkg/domain"
	"github.com/core-tools/hsu-memcached/pkg/logging"

	corelogging "github.com/core-tools/hsu-core/pkg/logging"
	sddaemon "github.com/coreos/go-systemd/v22/daemon"
)

// Run serves the status surface until a SIGINT/SIGTERM arrives or ctx is done
func Run(ctx context.Context, options MasterOptions, handler domain.Contract, coreLogger corelogging.Logger, logger logging.Logger) error {
	logger.Infof("Master runner starting, port: %d", options.Port)

	master, err := NewMaster(options, handler, coreLogger, logger)
	if err != nil {
		return err
	}

	if err := master.Start(ctx); err != nil {
		return err
	}

	notifySystemd(sddaemon.SdNotifyReady, logger)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case receivedSignal := <-sig:
		logger.Infof("Master runner received signal: %v", receivedSignal)
	case <-ctx.Done():
		logger.Infof("Master runner context done")
	}

	notifySystemd(sddaemon.SdNotifyStopping, logger)

	// Reset context to background to enable graceful shutdown
	master.Stop(context.Background())

	logger.Infof("Master runner stopped")
	return nil
}

// notifySystemd is a no-op unless running as a Type=notify unit
func notifySystemd(state string, logger logging.Logger) {
	sent, err := sddaemon.SdNotify(false, state)
	if err != nil {
		logger.Warnf("Failed to notify systemd, state: %s, error: %v", state, err)
		return
	}
	if sent {
		logger.Debugf("Notified systemd, state: %s", state)
	}
}
