package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/Fe0mathar/KeyMaker/apikeys"
	"github.com/Fe0mathar/KeyMaker/build"
	"github.com/Fe0mathar/KeyMaker/console"
	"github.com/Fe0mathar/KeyMaker/nodeshell"
	"github.com/Fe0mathar/KeyMaker/signal"
	"github.com/Fe0mathar/KeyMaker/vault"
	"github.com/Fe0mathar/KeyMaker/vaultstats"
	"github.com/Fe0mathar/KeyMaker/wallet"
	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// Loggers per subsystem.  A single backend logger is created and all subsystem
// loggers created from it will write to the backend.  When adding new
// subsystems, add the subsystem logger variable here and to the
// subsystemLoggers map.
//
// Loggers can not be used before the log rotator has been initialized with a
// log file.  This must be performed early during application startup by
// calling initLogRotator.
var (
	logWriter = &build.LogWriter{}

	// backendLog is the logging backend used to create all subsystem
	// loggers.  The backend must not be used before the log rotator has
	// been initialized, or data races and/or nil pointer dereferences will
	// occur.
	backendLog = btclog.NewBackend(logWriter)

	// logRotator is one of the logging outputs.  It should be closed on
	// application shutdown.
	logRotator *rotator.Rotator

	keymLog = build.NewSubLogger("KEYM", backendLog.Logger)

	// The vault subsystem logs through a shutdown wrapped logger, so a
	// critical storage failure requests a graceful shutdown instead of
	// letting the console limp on against a broken vault.
	valtLog = build.NewShutdownLogger(
		build.NewSubLogger("VALT", backendLog.Logger),
		signal.RequestShutdown,
	)

	wlltLog = build.NewSubLogger("WLLT", backendLog.Logger)
	apikLog = build.NewSubLogger("APIK", backendLog.Logger)
	statLog = build.NewSubLogger("STAT", backendLog.Logger)
	nodeLog = build.NewSubLogger("NODE", backendLog.Logger)
	cnslLog = build.NewSubLogger("CNSL", backendLog.Logger)
)

// Initialize package-global logger variables.
func init() {
	vault.UseLogger(valtLog)
	wallet.UseLogger(wlltLog)
	apikeys.UseLogger(apikLog)
	vaultstats.UseLogger(statLog)
	nodeshell.UseLogger(nodeLog)
	console.UseLogger(cnslLog)
	signal.UseLogger(keymLog)
}

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]btclog.Logger{
	"KEYM": keymLog,
	"VALT": valtLog,
	"WLLT": wlltLog,
	"APIK": apikLog,
	"STAT": statLog,
	"NODE": nodeLog,
	"CNSL": cnslLog,
}

// initLogRotator initializes the logging rotator to write logs to logFile and
// create roll files in the same directory.  It must be called before the
// package-global log rotator variables are used.
func initLogRotator(logFile string, MaxLogFileSize int, MaxLogFiles int) {
	logDir, _ := filepath.Split(logFile)
	err := os.MkdirAll(logDir, 0700)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		os.Exit(1)
	}
	r, err := rotator.New(logFile, int64(MaxLogFileSize*1024), false, MaxLogFiles)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file rotator: %v\n", err)
		os.Exit(1)
	}

	pr, pw := io.Pipe()
	go r.Run(pr)

	logWriter.RotatorPipe = pw
	logRotator = r
}

// setLogLevel sets the logging level for provided subsystem.  Invalid
// subsystems are ignored.  Uninitialized subsystems are dynamically created as
// needed.
func setLogLevel(subsystemID string, logLevel string) {
	// Ignore invalid subsystems.
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}

	// Defaults to info if the log level is invalid.
	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// setLogLevels sets the log level for all subsystem loggers to the passed
// level. It also dynamically creates the subsystem loggers as needed, so it
// can be used to initialize the logging system.
func setLogLevels(logLevel string) {
	// Configure all sub-systems with the new logging level.  Dynamically
	// create loggers as needed.
	for subsystemID := range subsystemLoggers {
		setLogLevel(subsystemID, logLevel)
	}
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	sort.Strings(subsystems)
	return subsystems
}

// mainSubLogger exposes the root subsystem logger map through the interface
// build.ParseAndSetDebugLevels expects.
type mainSubLogger struct{}

// SubLoggers returns the map of all registered subsystem loggers.
func (m *mainSubLogger) SubLoggers() build.SubLoggers {
	return build.SubLoggers(subsystemLoggers)
}

// SupportedSubsystems returns a sorted slice of the registered subsystem
// names.
func (m *mainSubLogger) SupportedSubsystems() []string {
	return supportedSubsystems()
}

// SetLogLevel assigns an individual subsystem logger a new log level.
func (m *mainSubLogger) SetLogLevel(subsystemID string, logLevel string) {
	setLogLevel(subsystemID, logLevel)
}

// SetLogLevels assigns all subsystem loggers the same new log level.
func (m *mainSubLogger) SetLogLevels(logLevel string) {
	setLogLevels(logLevel)
}

// logClosure is used to provide a closure over expensive logging operations so
// don't have to be performed when the logging level doesn't warrant it.
type logClosure func() string

// String invokes the underlying function and returns the result.
func (c logClosure) String() string {
	return c()
}

// newLogClosure returns a new closure over a function that returns a string
// which itself provides a Stringer interface so that it can be used with the
// logging system.
func newLogClosure(c func() string) logClosure {
	return logClosure(c)
}
