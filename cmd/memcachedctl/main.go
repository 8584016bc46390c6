//go:build unix

package main

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/core-tools/hsu-memcached/pkg/logging"

	corelogging "github.com/core-tools/hsu-core/pkg/logging"
	flags "github.com/jessevdk/go-flags"
)

type globalOptions struct {
	Config      string `long:"config" short:"c" description:"path to the service YAML config"`
	PIDDir      string `long:"pid-dir" description:"directory pid files are derived under"`
	UserService bool   `long:"user-service" description:"use the per-user runtime directory for pid files"`
	LogLevel    string `long:"log-level" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"console log level"`

	Start       startCommand       `command:"start" description:"start memcached"`
	Stop        stopCommand        `command:"stop" description:"stop memcached"`
	Status      statusCommand      `command:"status" description:"print running, broken or not running"`
	Serve       serveCommand       `command:"serve" description:"serve the gRPC health surface"`
	ExecLimited execLimitedCommand `command:"exec-limited" description:"apply resource limits and exec a command" hidden:"true"`
}

var opts globalOptions

// exitCode carries a process exit status out of a command
type exitCode int

func (c exitCode) Error() string {
	return fmt.Sprintf("exit status %d", int(c))
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s , ", module)
}

var backend logging.Logger = logging.NewNopLogger()

func newLogger(module string) logging.Logger {
	return logging.FromBackend(logPrefix(module), backend)
}

func newCoreLogger() corelogging.Logger {
	return corelogging.NewLogger(
		logPrefix("hsu-core"), corelogging.LogFuncs{
			Debugf: backend.Debugf,
			Infof:  backend.Infof,
			Warnf:  backend.Warnf,
			Errorf: backend.Errorf,
		})
}

// newParser leaves everything after "--" to the command, so the trampoline
// receives memcached's own flags untouched
func newParser(options *globalOptions) *flags.Parser {
	return flags.NewParser(options, flags.HelpFlag|flags.PassDoubleDash)
}

func main() {
	parser := newParser(&opts)
	parser.CommandHandler = func(command flags.Commander, args []string) error {
		if command == nil {
			return nil
		}

		config := logging.DefaultConsoleConfig()
		config.Level = opts.LogLevel
		zapLogger, err := logging.NewZapLogger(config)
		if err != nil {
			return err
		}
		defer zapLogger.Close()
		backend = zapLogger

		return command.Execute(args)
	}

	_, err := parser.Parse()
	os.Exit(exitStatus(err))
}

func exitStatus(err error) int {
	if err == nil {
		return 0
	}

	var code exitCode
	if stderrors.As(err, &code) {
		return int(code)
	}

	var flagsErr *flags.Error
	if stderrors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
		fmt.Println(flagsErr.Message)
		return 0
	}

	fmt.Fprintf(os.Stderr, "memcachedctl: %v\n", err)
	return 1
}
