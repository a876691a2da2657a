// proctorctl - Control CLI for the proctord daemon
//
//	proctorctl status                  Show daemon and session status
//	proctorctl start <quiz-id>         Start an exam session
//	proctorctl submit                  Submit the active session
//	proctorctl violations              List journaled violations
//	proctorctl watch                   Stream violations and warnings
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"proctord/internal/config"
	"proctord/internal/ipc"
)

// Version is the CLI version, set at build time.
var Version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	if cmd == "version" {
		fmt.Printf("proctorctl %s\n", Version)
		return
	}
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		usage()
		return
	}

	client := connect()
	defer client.Close()

	switch cmd {
	case "ping":
		cmdPing(client)
	case "status":
		cmdStatus(client)
	case "health":
		cmdHealth(client)
	case "start":
		cmdStart(client)
	case "submit":
		run(client.Submit, "submission triggered")
	case "retry":
		run(client.RetrySubmission, "submission retried")
	case "cancel":
		run(client.Cancel, "session cancelled")
	case "answer":
		cmdAnswer(client)
	case "question":
		cmdQuestion(client)
	case "violations":
		cmdViolations(client)
	case "notices":
		cmdNotices(client)
	case "watch":
		cmdWatch(client)
	case "shutdown":
		run(client.Shutdown, "daemon shutting down")
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`proctorctl - Control the proctord daemon

USAGE:
    proctorctl <command> [options]

COMMANDS:
    status                      Show daemon and session status
    health                      Show daemon health checks
    start <quiz-id> [-duration <min>]
                                Start an exam session
    answer <index> <text>       Record an answer
    question <index>            Record navigation to a question
    submit                      Submit the active session
    retry                       Retry a failed submission
    cancel                      Cancel the active session
    violations [-limit <n>]     List journaled violations
    notices                     List visible warnings
    watch                       Stream violations and warnings
    shutdown                    Stop the daemon
    ping                        Check daemon liveness
    version                     Print the version

Set PROCTORD_SOCKET_PATH to override the control socket location.`)
}

func connect() *ipc.Client {
	socketPath := config.DefaultConfig().IPC.SocketPath
	if env := os.Getenv("PROCTORD_SOCKET_PATH"); env != "" {
		socketPath = env
	}

	client := ipc.NewIPCClient(ipc.ClientConfig{
		SocketPath:    socketPath,
		ClientName:    "proctorctl",
		ClientVersion: Version,
	})
	if err := client.Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "Cannot reach proctord: %v\n", err)
		fmt.Fprintln(os.Stderr, "Is the daemon running? Start it with: proctord run")
		os.Exit(1)
	}
	return client
}

func run(op func() error, okMsg string) {
	if err := op(); err != nil {
		fail(err)
	}
	fmt.Println(okMsg)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func cmdPing(client *ipc.Client) {
	start := time.Now()
	if err := client.Ping(); err != nil {
		fail(err)
	}
	fmt.Printf("pong (%.1fms)\n", float64(time.Since(start).Microseconds())/1000)
}

func cmdStatus(client *ipc.Client) {
	status, err := client.Status()
	if err != nil {
		fail(err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "daemon version:\t%s\n", status.Version)
	fmt.Fprintf(w, "daemon uptime:\t%s\n", (time.Duration(status.UptimeSec) * time.Second).String())

	if !status.SessionActive {
		fmt.Fprintln(w, "session:\tnone")
		w.Flush()
		return
	}

	s := status.Session
	fmt.Fprintf(w, "session:\t%s\n", s.SessionID)
	fmt.Fprintf(w, "quiz:\t%s\n", s.Session.QuizID)
	fmt.Fprintf(w, "status:\t%s\n", s.Session.Status)
	fmt.Fprintf(w, "time remaining:\t%s\n", (time.Duration(s.Session.TimeRemaining) * time.Second).String())
	fmt.Fprintf(w, "violations:\t%d\n", s.Session.Tally.Total)
	fmt.Fprintf(w, "focus time:\t%s\n", (time.Duration(s.Session.FocusTime) * time.Second).String())
	fmt.Fprintf(w, "keystrokes:\t%d\n", s.Session.Keystrokes)
	fmt.Fprintf(w, "mouse clicks:\t%d\n", s.Session.MouseClicks)
	for modality, state := range s.Sources {
		fmt.Fprintf(w, "source %s:\t%s\n", modality, state)
	}
	w.Flush()
}

func cmdHealth(client *ipc.Client) {
	h, err := client.Health()
	if err != nil {
		fail(err)
	}

	fmt.Printf("overall: %s\n", h.Status)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for name, status := range h.Checks {
		fmt.Fprintf(w, "  %s:\t%s\n", name, status)
	}
	w.Flush()
}

func cmdStart(client *ipc.Client) {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	duration := fs.Int("duration", 0, "Session duration in minutes (0 = configured default)")
	fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: proctorctl start <quiz-id> [-duration <min>]")
		os.Exit(1)
	}

	id, err := client.StartSession(fs.Arg(0), *duration)
	if err != nil {
		fail(err)
	}
	fmt.Printf("session started: %s\n", id)
}

func cmdAnswer(client *ipc.Client) {
	if len(os.Args) < 4 {
		fmt.Fprintln(os.Stderr, "Usage: proctorctl answer <index> <text>")
		os.Exit(1)
	}
	index, err := strconv.Atoi(os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid question index: %s\n", os.Args[2])
		os.Exit(1)
	}
	if err := client.SetAnswer(index, os.Args[3]); err != nil {
		fail(err)
	}
	fmt.Printf("answer recorded for question %d\n", index)
}

func cmdQuestion(client *ipc.Client) {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: proctorctl question <index>")
		os.Exit(1)
	}
	index, err := strconv.Atoi(os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid question index: %s\n", os.Args[2])
		os.Exit(1)
	}
	if err := client.QuestionChanged(index); err != nil {
		fail(err)
	}
	fmt.Printf("now on question %d\n", index)
}

func cmdViolations(client *ipc.Client) {
	fs := flag.NewFlagSet("violations", flag.ExitOnError)
	limit := fs.Int("limit", 20, "Maximum records to list (0 = all)")
	jsonOut := fs.Bool("json", false, "Output JSON")
	fs.Parse(os.Args[2:])

	recs, err := client.Violations(*limit)
	if err != nil {
		fail(err)
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(recs, "", "  ")
		fmt.Println(string(data))
		return
	}

	if len(recs) == 0 {
		fmt.Println("no violations recorded")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tSEVERITY\tFLAG\tDESCRIPTION")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.OccurredAt.Format("15:04:05"),
			r.Type, r.Severity, r.FlagState, r.Description)
	}
	w.Flush()
}

func cmdNotices(client *ipc.Client) {
	notices, err := client.Notices()
	if err != nil {
		fail(err)
	}
	if len(notices) == 0 {
		fmt.Println("no active warnings")
		return
	}
	for _, n := range notices {
		fmt.Printf("[%s] %s\n", n.Kind, n.Message)
	}
}

func cmdWatch(client *ipc.Client) {
	client.OnEvent(func(ev *ipc.Event) {
		ts := ev.Timestamp.Format("15:04:05")
		switch {
		case ev.Violation != nil:
			fmt.Printf("%s violation %s (%s): %s\n",
				ts, ev.Violation.Type, ev.Violation.Severity, ev.Violation.Description)
		case ev.Notice != nil:
			fmt.Printf("%s notice [%s] %s\n", ts, ev.Notice.Kind, ev.Notice.Message)
		case ev.Type == ipc.EventSessionStarted:
			fmt.Printf("%s session started: %s\n", ts, ev.SessionID)
		case ev.Type == ipc.EventSessionEnded:
			fmt.Printf("%s session ended: %s\n", ts, ev.SessionID)
		case ev.Type == ipc.EventDaemonShutdown:
			fmt.Printf("%s daemon shutting down\n", ts)
		}
	})

	if err := client.Subscribe(); err != nil {
		fail(err)
	}
	fmt.Println("watching for events, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
