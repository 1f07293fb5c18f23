// Command rrsup is the supervisor entry point: it spawns a tracee under
// the debug attachment and serves the Debugger Protocol Front-End (spec
// §4.3) against it, the way google-gvisor's tools/tracereplay/main
// exposes its own save/replay subsystem as a small subcommand CLI over
// github.com/google/subcommands.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/cgjones/rr/internal/config"
	"github.com/cgjones/rr/internal/glue"
	"github.com/cgjones/rr/internal/rsp"
	"github.com/cgjones/rr/internal/task"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&recordCmd{}, "")
	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}

// recordCmd implements subcommands.Command for "record": spawn argv
// under the debug attachment and serve the non-stop GDB Remote Serial
// Protocol against it until the debugger detaches or the tracee exits.
type recordCmd struct {
	addr       string
	probePorts int
}

func (*recordCmd) Name() string     { return "record" }
func (*recordCmd) Synopsis() string { return "spawn a program and serve the debugger protocol" }
func (*recordCmd) Usage() string {
	return `record [flags] -- <program> [args...]
  Spawns <program> under the debug attachment and waits for a debugger
  to connect on the configured address.
`
}

func (c *recordCmd) SetFlags(f *flag.FlagSet) {
	d := config.Defaults()
	f.StringVar(&c.addr, "addr", d.DebuggerAddr, "address the debugger server binds")
	f.IntVar(&c.probePorts, "probe-ports", d.DebuggerProbePorts, "ports to probe if addr is taken")
}

func (c *recordCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "record: missing program to spawn")
		return subcommands.ExitUsageError
	}

	log := logrus.StandardLogger()
	glue.Log = log

	cfg := config.Defaults()
	cfg.DebuggerAddr = c.addr
	cfg.DebuggerProbePorts = c.probePorts

	session := newLocalSession()
	path := f.Args()[0]
	argv := f.Args()[1:]

	t, err := task.Spawn(session, cfg, log, task.ModeRecord, path, argv, os.Environ())
	if err != nil {
		fmt.Fprintf(os.Stderr, "record: spawn: %v\n", err)
		return subcommands.ExitFailure
	}
	session.track(t)
	log.WithFields(logrus.Fields{"path": path, "tid": t.RealTid()}).Info("spawned tracee")

	target := newTaskTarget(t)
	ctx := rsp.NewContext(target, cfg, log)
	ln, err := ctx.Listen()
	if err != nil {
		fmt.Fprintf(os.Stderr, "record: listen: %v\n", err)
		return subcommands.ExitFailure
	}
	defer ln.Close()

	if err := ctx.Serve(ln); err != nil {
		log.WithError(err).Warn("debugger server stopped")
	}
	return subcommands.ExitSuccess
}
