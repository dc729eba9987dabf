package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"rvos/kernel/config"
	"rvos/kernel/kfmt"
	"rvos/kernel/klog"
	"rvos/kernel/kmain"
	"rvos/kernel/loader"
	"rvos/kernel/timer"

	"github.com/mattn/go-tty"
	log "github.com/sirupsen/logrus"
)

var (
	configPath = flag.String("config", "", "path to a JSON machine configuration")
	ttyPath    = flag.String("tty", "", "terminal device for the console (defaults to the controlling terminal)")
	appDir     = flag.String("apps", "", "override the application directory")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

// run boots the machine from the configuration and hands the console to the
// monitor until the init process exits or the user quits. It returns the
// process exit status.
func run() int {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = loadConfig(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}
	if *appDir != "" {
		cfg.AppDir = *appDir
	}

	klog.Init(cfg.LogLevel, nil)

	term, err := openTTY(*ttyPath)
	if err != nil {
		log.WithError(err).Warn("boot: no terminal available; reading commands from stdin")
	} else {
		defer term.Close()
	}

	var out io.Writer = os.Stdout
	if term != nil {
		out = term.Output()
	}
	kfmt.SetOutputSink(out)

	console := &kfmt.PrefixWriter{
		Sink:   out,
		Prefix: func() string { return cfg.ConsolePrefix },
	}

	machine, kerr := kmain.Kmain(cfg, loader.NewDir(cfg.AppDir), timer.NewMonotonic(), console)
	if kerr != nil {
		log.WithError(kerr).Error("boot: unable to start the machine")
		return 1
	}

	mon := kmain.NewMonitor(machine, out)
	if term == nil {
		mon.Run(os.Stdin)
	} else {
		runTTY(mon, term)
	}

	if halted, code := machine.Manager.Halted(); halted {
		return code & 0xff
	}
	return 0
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	return cfg, nil
}

func openTTY(path string) (*tty.TTY, error) {
	if path != "" {
		return tty.OpenDevice(path)
	}
	return tty.Open()
}

// runTTY feeds the monitor with the lines typed on term. The terminal is
// switched to raw mode by go-tty so ReadString does its own echo.
func runTTY(mon *kmain.Monitor, term *tty.TTY) {
	for {
		mon.Prompt()
		line, err := term.ReadString()
		if err != nil {
			return
		}
		if !mon.Execute(strings.TrimSpace(line)) {
			return
		}
	}
}
