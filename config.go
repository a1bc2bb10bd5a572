package main

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/Fe0mathar/KeyMaker/build"
	"github.com/Fe0mathar/KeyMaker/console"
	"github.com/Fe0mathar/KeyMaker/nodeshell"
	"github.com/Fe0mathar/KeyMaker/vault"
	"github.com/Fe0mathar/KeyMaker/wallet"
	"github.com/btcsuite/btcd/btcutil"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "keymaker.conf"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "keymaker.log"
	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10

	defaultExportFilename = "addresses.txt"

	defaultNodeCommand = "neo-cli"
)

var (
	// DefaultKeymDir is the default directory where keymaker keeps its
	// vault, ledger, logs and configuration file. This is a directory in
	// the user's application data, for example:
	//   C:\Users\<username>\AppData\Local\Keymaker on Windows
	//   ~/.keymaker on Linux
	//   ~/Library/Application Support/Keymaker on MacOS
	DefaultKeymDir = btcutil.AppDataDir("keymaker", false)

	// DefaultConfigFile is the default full path of keymaker's
	// configuration file.
	DefaultConfigFile = filepath.Join(DefaultKeymDir, defaultConfigFilename)

	defaultVaultPath  = filepath.Join(DefaultKeymDir, vault.DefaultVaultFileName)
	defaultLedgerPath = filepath.Join(DefaultKeymDir, wallet.DefaultLedgerFileName)
	defaultExportPath = filepath.Join(DefaultKeymDir, defaultExportFilename)
	defaultLogDir     = filepath.Join(DefaultKeymDir, defaultLogDirname)
)

// Config defines the configuration options for keymaker.
//
// See loadConfig for further details regarding the configuration
// loading+parsing process.
type Config struct {
	ShowVersion bool `short:"V" long:"version" description:"Display version information and exit"`

	KeymDir    string `long:"keymdir" description:"The base directory that contains keymaker's vault, ledger, logs and configuration file"`
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`

	VaultPath  string `long:"vaultpath" description:"Path to the encrypted vault file"`
	LedgerPath string `long:"ledgerpath" description:"Path to the plaintext passphrase ledger appended to on every wallet creation"`
	ExportPath string `long:"exportpath" description:"Default output path for exported addresses"`

	LogDir         string `long:"logdir" description:"Directory to log output."`
	MaxLogFiles    int    `long:"maxlogfiles" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int    `long:"maxlogfilesize" description:"Maximum logfile size in MB"`

	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	ScryptN int `long:"scryptn" description:"Scrypt cost parameter N used for the vault key and new wallet keys"`
	ScryptR int `long:"scryptr" description:"Scrypt parameter r"`
	ScryptP int `long:"scryptp" description:"Scrypt parameter p"`

	NodeCommand string        `long:"nodecommand" description:"Command used to launch the blockchain node console"`
	NodeTimeout time.Duration `long:"nodetimeout" description:"Timeout for a single node console command"`

	ChatModel string `long:"chatmodel" description:"Chat completion model used for free-form console input"`
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	scrypt := vault.DefaultScryptParams()
	return Config{
		KeymDir:        DefaultKeymDir,
		ConfigFile:     DefaultConfigFile,
		VaultPath:      defaultVaultPath,
		LedgerPath:     defaultLedgerPath,
		ExportPath:     defaultExportPath,
		LogDir:         defaultLogDir,
		MaxLogFiles:    defaultMaxLogFiles,
		MaxLogFileSize: defaultMaxLogFileSize,
		DebugLevel:     defaultLogLevel,
		ScryptN:        int(scrypt.N),
		ScryptR:        int(scrypt.R),
		ScryptP:        int(scrypt.P),
		NodeCommand:    defaultNodeCommand,
		NodeTimeout:    nodeshell.DefaultResponseTimeout,
		ChatModel:      console.DefaultChatModel,
	}
}

// loadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func loadConfig() (*Config, error) {
	// Pre-parse the command line options to pick up an alternative config
	// file.
	preCfg := DefaultConfig()
	if _, err := flags.Parse(&preCfg); err != nil {
		return nil, err
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", build.Version())
		os.Exit(0)
	}

	// If the config file path has not been modified by the user, then
	// we'll use the default config file path. However, if the user has
	// modified their keymdir, then we should assume they intend to use the
	// config file within it.
	configFileDir := CleanAndExpandPath(preCfg.KeymDir)
	configFilePath := CleanAndExpandPath(preCfg.ConfigFile)
	if configFileDir != DefaultKeymDir {
		if configFilePath == DefaultConfigFile {
			configFilePath = filepath.Join(
				configFileDir, defaultConfigFilename,
			)
		}
	}

	// Next, load any additional configuration options from the file.
	var configFileError error
	cfg := preCfg
	if err := flags.IniParse(configFilePath, &cfg); err != nil {
		// If it's a parsing related error, then we'll return
		// immediately, otherwise we can proceed as possibly the config
		// file doesn't exist which is OK.
		if _, ok := err.(*flags.IniError); ok {
			return nil, err
		}

		configFileError = err
	}

	// Finally, parse the remaining command line options again to ensure
	// they take precedence.
	if _, err := flags.Parse(&cfg); err != nil {
		return nil, err
	}

	// Make sure everything we just loaded makes sense.
	cleanCfg, err := validateConfig(cfg, usageMessage)
	if err != nil {
		return nil, err
	}

	// Warn about missing config file only after all other configuration is
	// done.  This prevents the warning on help messages and invalid
	// options.  Note this should go directly before the return.
	if configFileError != nil {
		keymLog.Warnf("%v", configFileError)
	}

	return cleanCfg, nil
}

// validateConfig checks the given configuration to be sane. This makes sure
// no illegal values or combination of values are set. All file system paths
// are normalized. The cleaned up config is returned on success.
func validateConfig(cfg Config, usageMessage string) (*Config, error) {
	// If the provided keymaker directory is not the default, we'll modify
	// the path to all of the files and directories that will live within
	// it.
	keymDir := CleanAndExpandPath(cfg.KeymDir)
	if keymDir != DefaultKeymDir {
		cfg.VaultPath = filepath.Join(
			keymDir, vault.DefaultVaultFileName,
		)
		cfg.LedgerPath = filepath.Join(
			keymDir, wallet.DefaultLedgerFileName,
		)
		cfg.ExportPath = filepath.Join(keymDir, defaultExportFilename)
		cfg.LogDir = filepath.Join(keymDir, defaultLogDirname)
	}

	funcName := "loadConfig"

	// Create the keymaker directory if it doesn't already exist.
	if err := os.MkdirAll(keymDir, 0700); err != nil {
		str := "%s: Failed to create keymaker directory: %v"
		err := fmt.Errorf(str, funcName, err)
		fmt.Fprintln(os.Stderr, err)
		return nil, err
	}

	// As soon as we're done validating the configuration options, ensure
	// all paths to directories and files are cleaned and expanded before
	// attempting to use them later on.
	cfg.VaultPath = CleanAndExpandPath(cfg.VaultPath)
	cfg.LedgerPath = CleanAndExpandPath(cfg.LedgerPath)
	cfg.ExportPath = CleanAndExpandPath(cfg.ExportPath)
	cfg.LogDir = CleanAndExpandPath(cfg.LogDir)

	// The scrypt cost parameters feed both the vault KDF and new wallet
	// documents, so reject values scrypt itself would refuse.
	if cfg.ScryptN < 2 || cfg.ScryptN&(cfg.ScryptN-1) != 0 {
		str := "%s: scryptn must be a power of two greater than 1"
		err := fmt.Errorf(str, funcName)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, err
	}
	// The vault header stores r and p as single bytes.
	if cfg.ScryptR < 1 || cfg.ScryptR > 255 ||
		cfg.ScryptP < 1 || cfg.ScryptP > 255 {

		str := "%s: scryptr and scryptp must be between 1 and 255"
		err := fmt.Errorf(str, funcName)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, err
	}

	if cfg.NodeTimeout <= 0 {
		str := "%s: nodetimeout must be positive"
		err := fmt.Errorf(str, funcName)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, err
	}

	// Initialize log rotation.  After log rotation has been initialized,
	// the logger variables may be used.
	initLogRotator(
		filepath.Join(cfg.LogDir, defaultLogFilename),
		cfg.MaxLogFileSize, cfg.MaxLogFiles,
	)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Parse, validate, and set debug log level(s).
	err := build.ParseAndSetDebugLevels(cfg.DebugLevel, &mainSubLogger{})
	if err != nil {
		err = fmt.Errorf("%s: %v", funcName, err.Error())
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, err
	}

	return &cfg, nil
}

// CleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
// This function is taken from https://github.com/btcsuite/btcd
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
