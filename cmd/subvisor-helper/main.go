// subvisor-helper is a throwaway executable driven by the process package
// tests. It performs a caller-chosen sequence of actions - exiting, sleeping,
// echoing stdin, printing, failing, panicking, or synchronizing with the
// supervising process - so the tests can provoke each child behavior the
// supervisor has to handle.
package main

import (
	"fmt"
	"os"

	docopt "github.com/docopt/docopt-go"

	"github.com/subvisor/subvisor/rendezvous"
)

const usage = `subvisor-helper

Usage: subvisor-helper [--rendezvous=<name>] [<action>...]

Actions run in the order given and take the form key or key=value:
  exit=<code>    terminate immediately with the given exit code
  sleep=<ms>     sleep for the given number of milliseconds
  echo=<n>       read n whitespace-delimited tokens from stdin, echo each on its own line
  stdout=<msg>   print msg and a newline to stdout
  stderr=<msg>   print msg and a newline to stderr
  fail=<msg>     report msg as a handled failure on stderr and exit 1
  panic=<msg>    panic with msg, unrecovered
  sync           notify the supervising process and wait for its reply

Options:
  --rendezvous=<name>  join the named rendezvous before running actions
  -h --help            show this help`

func main() {
	opts, err := docopt.ParseArgs(usage, nil, "subvisor-helper")
	if err != nil {
		fail(err)
	}

	env := &actionEnv{}
	if name, err := opts.String("--rendezvous"); err == nil && name != "" {
		pair, err := rendezvous.Join(name)
		if err != nil {
			fail(err)
		}
		env.sync = pair
	}

	raw, _ := opts["<action>"].([]string)
	actions, err := parseActions(raw)
	if err != nil {
		fail(err)
	}

	for _, action := range actions {
		if err := action.run(env); err != nil {
			fail(err)
		}
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "subvisor-helper: %v\n", err)
	os.Exit(1)
}
