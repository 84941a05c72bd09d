package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sparedes88/projector/pkg/settings"
)

// LocalServer is the URL of a signal server on this machine
const LocalServer = "http://localhost:8080"

// DefaultScreenName is used when no screen code is given
const DefaultScreenName = "Main"

// Config holds runtime configuration
type Config struct {
	ServeMode  bool
	Port       int
	ServerURL  string
	Tenant     string
	Screen     string
	ScreenName string
	ControlKey string
	NoMic      bool
	SilentMic  bool
	LogLevel   string
	LogFile    string
	Help       bool

	// TURN server configuration
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
}

func parseFlags(args []string, saved settings.ConsoleSettings) (Config, error) {
	fs := flag.NewFlagSet("projector", flag.ContinueOnError)
	config := Config{}
	var localMode bool

	fs.BoolVar(&config.ServeMode, "serve", false, "Run an embedded server and control it in-process")
	fs.BoolVar(&config.ServeMode, "s", false, "Run an embedded server (shorthand)")

	fs.IntVar(&config.Port, "port", 8080, "Embedded server port")
	fs.IntVar(&config.Port, "p", 8080, "Embedded server port (shorthand)")

	fs.StringVar(&config.ServerURL, "server", saved.ServerURL, "Signal server URL")
	fs.BoolVar(&localMode, "local", false, "Use local signal server ("+LocalServer+")")

	fs.StringVar(&config.Tenant, "tenant", saved.Tenant, "Tenant (church) id")
	fs.StringVar(&config.Screen, "screen", saved.Screen, "Screen code, e.g. CALM-DOVE-07")
	fs.StringVar(&config.ScreenName, "name", DefaultScreenName, "Screen name to open or create when no code is given")
	fs.StringVar(&config.ControlKey, "key", os.Getenv("PROJECTOR_CONTROL_KEY"), "Tenant control key")
	fs.BoolVar(&config.NoMic, "no-mic", !saved.Mic, "Disable the microphone key")
	fs.BoolVar(&config.SilentMic, "silent-mic", false, "Send silence instead of capturing the microphone")

	fs.StringVar(&config.LogLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	fs.StringVar(&config.LogFile, "log-file", "projector-console.log", "Log file")

	// TURN server flags
	fs.StringVar(&config.TURNServer, "turn", "", "TURN server URL (e.g., turn:turn.example.com:3478)")
	fs.StringVar(&config.TURNUser, "turn-user", "", "TURN server username")
	fs.StringVar(&config.TURNPass, "turn-pass", "", "TURN server password")
	fs.BoolVar(&config.ForceRelay, "force-relay", false, "Force TURN relay for the microphone")

	fs.BoolVar(&config.Help, "help", false, "Show help")
	fs.BoolVar(&config.Help, "h", false, "Show help (shorthand)")

	if err := fs.Parse(args); err != nil {
		return config, err
	}

	if localMode {
		config.ServerURL = LocalServer
	}
	if config.Tenant == "" {
		return config, fmt.Errorf("--tenant is required")
	}

	return config, nil
}

func printHelp() {
	fmt.Println(`Projector - live lyrics and verses for your screens

Usage: projector [options]

Options:
  --server <url>         Signal server URL (default: last used, or ` + LocalServer + `)
  --local                Use local signal server (` + LocalServer + `)
  --serve, -s            Run an embedded server and drive it in-process
  --port, -p <port>      Embedded server port (default: 8080)
  --tenant <id>          Tenant id
  --screen <code>        Screen code (default: last used)
  --name <name>          Screen name to open or create (default: ` + DefaultScreenName + `)
  --key <key>            Tenant control key (or PROJECTOR_CONTROL_KEY)
  --no-mic               Disable the microphone key
  --silent-mic           Send silence instead of capturing the microphone
  --log-level <level>    debug, info, warn, error (default: info)
  --log-file <path>      Log file (default: projector-console.log)
  --help, -h             Show help

Network Options:
  --turn <url>           TURN server URL (e.g., turn:turn.example.com:3478)
  --turn-user <user>     TURN server username
  --turn-pass <pass>     TURN server password
  --force-relay          Force TURN relay for the microphone

Examples:
  projector --serve --tenant grace        # Local server, open or create "Main"
  projector --local --tenant grace        # Connect to a server on this machine
  projector --server https://proj.example.com --tenant grace --screen CALM-DOVE-07

Console Controls:
  ↑/↓ or k/j    Navigate songs
  Enter         Show selected song
  n / p         Next / previous verse
  c             Clear screen
  b             Cycle background (solid, gradient, image)
  + / -         Font size
  B / I / U     Bold / italic / uppercase
  a             Apply style draft
  d             Discard style draft
  m             Toggle microphone
  r             Refresh songs
  q             Quit`)
}

func main() {
	saved, err := settings.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not read settings: %v\n", err)
	}

	config, err := parseFlags(os.Args[1:], saved)
	if err != nil {
		if err != flag.ErrHelp {
			fmt.Fprintln(os.Stderr, err)
		}
		printHelp()
		os.Exit(2)
	}

	if config.Help {
		printHelp()
		return
	}

	if err := RunTUI(config, saved); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
