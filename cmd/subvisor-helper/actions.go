package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/subvisor/subvisor/rendezvous"
)

const syncTimeout = time.Second

// actionEnv is the state shared by a run's actions: the optional rendezvous
// with the supervising process and a lazily-created word scanner over stdin.
type actionEnv struct {
	sync  *rendezvous.Pair
	words *bufio.Scanner
}

func (e *actionEnv) stdinWords() *bufio.Scanner {
	if e.words == nil {
		e.words = bufio.NewScanner(os.Stdin)
		e.words.Split(bufio.ScanWords)
	}
	return e.words
}

// action is one step of the helper's run. The set of implementations below
// is closed; parseActions is the only constructor.
type action interface {
	run(env *actionEnv) error
}

type exitAction struct{ code int }

func (a exitAction) run(env *actionEnv) error {
	if env.sync != nil {
		_ = env.sync.Close()
	}
	os.Exit(a.code)
	return nil
}

type sleepAction struct{ ms int }

func (a sleepAction) run(*actionEnv) error {
	time.Sleep(time.Duration(a.ms) * time.Millisecond)
	return nil
}

type echoAction struct{ count int }

func (a echoAction) run(env *actionEnv) error {
	words := env.stdinWords()
	for n := 0; n < a.count; n++ {
		if !words.Scan() {
			if err := words.Err(); err != nil {
				return errors.Wrap(err, "reading stdin")
			}
			return errors.New("stdin ended before all tokens were echoed")
		}
		fmt.Println(words.Text())
	}
	return nil
}

type stdoutAction struct{ msg string }

func (a stdoutAction) run(*actionEnv) error {
	fmt.Println(a.msg)
	return nil
}

type stderrAction struct{ msg string }

func (a stderrAction) run(*actionEnv) error {
	fmt.Fprintln(os.Stderr, a.msg)
	return nil
}

type failAction struct{ msg string }

func (a failAction) run(*actionEnv) error {
	return errors.New(a.msg)
}

type panicAction struct{ msg string }

func (a panicAction) run(*actionEnv) error {
	panic(a.msg)
}

type syncAction struct{}

func (a syncAction) run(env *actionEnv) error {
	if env.sync == nil {
		return errors.New("sync requires --rendezvous")
	}
	notified, err := env.sync.NotifyAndWait(syncTimeout)
	if err != nil {
		return err
	}
	if !notified {
		return errors.New("timed out waiting for the supervising process")
	}
	return nil
}

func parseActions(raw []string) ([]action, error) {
	actions := make([]action, 0, len(raw))
	for _, spec := range raw {
		key, value, hasValue := strings.Cut(spec, "=")
		intValue := func() (int, error) {
			if !hasValue {
				return 0, errors.Errorf("action %q requires a numeric value", key)
			}
			n, err := strconv.Atoi(value)
			if err != nil {
				return 0, errors.Wrapf(err, "action %q", key)
			}
			return n, nil
		}

		switch key {
		case "exit":
			code, err := intValue()
			if err != nil {
				return nil, err
			}
			actions = append(actions, exitAction{code})
		case "sleep":
			ms, err := intValue()
			if err != nil {
				return nil, err
			}
			actions = append(actions, sleepAction{ms})
		case "echo":
			count, err := intValue()
			if err != nil {
				return nil, err
			}
			actions = append(actions, echoAction{count})
		case "stdout":
			actions = append(actions, stdoutAction{value})
		case "stderr":
			actions = append(actions, stderrAction{value})
		case "fail":
			actions = append(actions, failAction{value})
		case "panic":
			actions = append(actions, panicAction{value})
		case "sync":
			if hasValue {
				return nil, errors.New("sync takes no value")
			}
			actions = append(actions, syncAction{})
		default:
			return nil, errors.Errorf("unknown action %q", spec)
		}
	}
	return actions, nil
}
