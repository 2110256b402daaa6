// Command webserv runs a single-threaded, readiness-driven HTTP/1.1
// origin server off an nginx-like configuration file.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/yourusername/webserv/internal/config"
	"github.com/yourusername/webserv/internal/eventloop"
	"github.com/yourusername/webserv/internal/logging"
	"github.com/yourusername/webserv/internal/signals"
)

const (
	exitOK            = 0
	exitCLIError      = 2
	exitConfigSyntax  = 3
	exitConfigInvalid = 4
)

const defaultConfigPath = "webserv.conf"

func main() {
	os.Exit(run())
}

func run() int {
	var errorLog, accessLog string
	flag.StringVar(&errorLog, "error-log", "", "path to the error log (default stderr)")
	flag.StringVar(&accessLog, "access-log", "", "path to the access log (default stdout)")
	flag.Usage = usage
	flag.Parse()

	configPath := defaultConfigPath
	if flag.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "webserv: too many arguments")
		usage()
		return exitCLIError
	}
	if flag.NArg() == 1 {
		configPath = flag.Arg(0)
	}

	cfg, err := config.ParseFile(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "webserv: %v\n", err)
		return exitCodeForConfigError(err)
	}

	log := logging.New(errorLog, accessLog)

	notifier, err := signals.Install()
	if err != nil {
		fmt.Fprintf(os.Stderr, "webserv: installing signal handling: %v\n", err)
		return exitCLIError
	}
	defer notifier.Close()

	loop, err := eventloop.New(cfg, notifier, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "webserv: %v\n", err)
		return exitCLIError
	}

	log.Error.Info("webserv starting")
	if err := loop.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "webserv: %v\n", err)
		return exitCLIError
	}
	log.Error.Info("webserv stopped")
	return exitOK
}

func exitCodeForConfigError(err error) int {
	cfgErr, ok := err.(*config.Error)
	if !ok {
		return exitCLIError
	}
	switch cfgErr.Kind {
	case config.KindSyntax:
		return exitConfigSyntax
	case config.KindValidation:
		return exitConfigInvalid
	default:
		return exitCLIError
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: webserv [--help] [config_path]\n")
	flag.PrintDefaults()
}
