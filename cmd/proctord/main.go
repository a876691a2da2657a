// proctord - Exam integrity monitoring daemon
//
//	proctord run             Run the monitoring daemon
//	proctord check-config    Validate the configuration file
//	proctord version         Print the version
//
// The daemon watches camera, microphone, and browser signals during a
// remote exam, debounces raw detections into confirmed violations, and
// reports them to the exam service. Clients (proctorctl, the browser
// bridge) talk to it over a local control socket.
package main

import (
	"flag"
	"fmt"
	"os"

	"proctord/internal/config"
)

// Version is the daemon version, set at build time.
var Version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		cmdRun()
	case "check-config":
		cmdCheckConfig()
	case "version":
		fmt.Printf("proctord %s\n", Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`proctord - Exam Integrity Monitoring Daemon

USAGE:
    proctord <command> [options]

COMMANDS:
    run             Run the monitoring daemon
    check-config    Validate the configuration file
    version         Print the version
    help            Show this help message

RUN OPTIONS:
    -config <path>  Configuration file (default: auto-detected)
    -simulate       Use simulated camera and microphone devices

The daemon listens on a local control socket. Use proctorctl to start
an exam session, inspect status, and stream violations.

PRIVACY NOTE:
    Camera frames and audio buffers are analyzed in memory and
    discarded. Only detection outcomes (violation type, time,
    severity) are recorded or transmitted; no media ever leaves
    the machine.`)
}

func cmdCheckConfig() {
	fs := flag.NewFlagSet("check-config", flag.ExitOnError)
	configPath := fs.String("config", "", "Configuration file path")
	fs.Parse(os.Args[2:])

	path := *configPath
	if path == "" {
		path = config.FindConfigFile()
	}
	if path == "" {
		fmt.Println("No configuration file found; built-in defaults apply.")
		return
	}

	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuration valid: %s\n", path)
	fmt.Printf("  session duration:  %d minutes\n", cfg.Session.DurationMinutes)
	fmt.Printf("  camera enabled:    %v\n", cfg.Capture.CameraEnabled)
	fmt.Printf("  audio enabled:     %v\n", cfg.Capture.AudioEnabled)
	if cfg.Report.BaseURL != "" {
		fmt.Printf("  report endpoint:   %s\n", cfg.Report.BaseURL)
	} else {
		fmt.Println("  report endpoint:   (none; local journal only)")
	}
	if len(cfg.Debounce.Overrides) > 0 {
		fmt.Printf("  policy overrides:  %d\n", len(cfg.Debounce.Overrides))
	}
}
