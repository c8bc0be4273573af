package main

import (
	"fmt"
	"os"

	"github.com/core-tools/hsu-devsession/pkg/logging"
	"github.com/core-tools/hsu-devsession/pkg/session"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	ConfigFile string `long:"config" short:"c" description:"path to the session configuration file"`
	Verbose    bool   `long:"verbose" short:"v" description:"pass the services' output through and log at debug level"`
	Validate   bool   `long:"validate" description:"validate the configuration file and exit"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s , ", module)
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	if opts.ConfigFile == "" {
		fmt.Println("Configuration file is required")
		os.Exit(1)
	}

	if opts.Validate {
		if err := session.ValidateConfigFile(opts.ConfigFile); err != nil {
			fmt.Fprintf(os.Stderr, "Configuration is invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Configuration is valid")
		return
	}

	// Peek at the configured log level, Run reloads and reports
	// configuration errors itself
	logLevel := "info"
	if config, err := session.LoadConfigFromFile(opts.ConfigFile); err == nil {
		logLevel = config.Session.LogLevel
	}
	if opts.Verbose {
		logLevel = "debug"
	}

	zapConfig := logging.DefaultZapConfig()
	zapConfig.Level = logLevel
	zapLogger, err := logging.NewZapLogger(zapConfig)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	sessionLogger := logging.NewLogger(
		logPrefix("hsu-devsession"), logging.LogFuncs{
			Debugf: zapLogger.Debugf,
			Infof:  zapLogger.Infof,
			Warnf:  zapLogger.Warnf,
			Errorf: zapLogger.Errorf,
		})

	if err := session.Run(opts.ConfigFile, opts.Verbose, sessionLogger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: development session failed: %v\n", err)
		os.Exit(1)
	}
}
