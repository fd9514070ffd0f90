package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"conduit/internal/config"
	"conduit/internal/env"
	"conduit/internal/step"
	"conduit/internal/value"
)

// Action is the state of one command invocation.
type Action struct {
	cmd    *cobra.Command
	logger log.Logger
	doc    *config.Document
	issues []config.Issue
	env    *env.Env
	start  time.Time
}

// newAction loads the document. Documents with errors are rejected unless
// lenient is set.
func newAction(cmd *cobra.Command, lenient bool) (*Action, error) {
	a := &Action{cmd: cmd, start: time.Now()}
	logger, err := newLogger(cmd.ErrOrStderr(), a.getString("log-level"))
	if err != nil {
		return nil, err
	}
	a.logger = logger

	path := a.getString("config")
	doc, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	a.doc = doc
	a.issues = config.Validate(doc)
	if !lenient {
		for _, iss := range a.issues {
			level.Warn(logger).Log("msg", "document issue", "issue", iss.Error())
		}
		if config.HasErrors(a.issues) {
			return nil, fmt.Errorf("document %s is invalid; run validate for details", path)
		}
	}
	return a, nil
}

func newLogger(w io.Writer, lvl string) (log.Logger, error) {
	var opt level.Option
	switch strings.ToLower(lvl) {
	case "debug":
		opt = level.AllowDebug()
	case "info", "":
		opt = level.AllowInfo()
	case "warn", "warning":
		opt = level.AllowWarn()
	case "error":
		opt = level.AllowError()
	default:
		return nil, fmt.Errorf("unknown log level %q", lvl)
	}
	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = level.NewFilter(logger, opt)
	return log.With(logger, "ts", log.DefaultTimestampUTC), nil
}

func (a *Action) getString(name string) string {
	v, err := a.cmd.Flags().GetString(name)
	if err != nil {
		panic(err)
	}
	return v
}

func (a *Action) getInt(name string) int {
	v, err := a.cmd.Flags().GetInt(name)
	if err != nil {
		panic(err)
	}
	return v
}

func (a *Action) getBool(name string) bool {
	v, err := a.cmd.Flags().GetBool(name)
	if err != nil {
		panic(err)
	}
	return v
}

// Env builds the runtime environment on first use.
func (a *Action) Env() (*env.Env, error) {
	if a.env != nil {
		return a.env, nil
	}
	mc := a.doc.Metrics
	if b := a.getString("metrics-backend"); b != "" {
		mc.Backend = b
	}
	m, err := env.NewMetrics(mc)
	if err != nil {
		return nil, err
	}
	e, err := env.New(a.cmd.Context(), a.doc, a.logger, m)
	if err != nil {
		return nil, err
	}
	a.env = e
	return e, nil
}

// Close releases the environment.
func (a *Action) Close() error {
	if a.env == nil {
		return nil
	}
	err := a.env.Close()
	level.Debug(a.logger).Log("msg", "done", "elapsed", time.Since(a.start).Truncate(time.Millisecond))
	return err
}

// Locale is the display locale of the document.
func (a *Action) Locale() value.Locale {
	if a.doc.Runtime.Locale != "" {
		if l, err := value.LocaleFor(a.doc.Runtime.Locale); err == nil {
			return l
		}
	}
	return value.DefaultLocale()
}

// Step looks up a chain and one of its steps; index counts from 1 and zero
// selects the last step.
func (a *Action) Step(chainID string, index int) (*step.Document, *step.Step, error) {
	sd, err := step.FromConfig(a.doc)
	if err != nil {
		return nil, nil, err
	}
	c, ok := sd.Chain(chainID)
	if !ok {
		return nil, nil, fmt.Errorf("unknown chain %q (have %s)", chainID, strings.Join(sd.IDs(), ", "))
	}
	if c.Len() == 0 {
		return nil, nil, fmt.Errorf("chain %q has no steps", chainID)
	}
	if index == 0 {
		return sd, c.Tail(), nil
	}
	if index < 0 || index > c.Len() {
		return nil, nil, fmt.Errorf("chain %q has %d steps, no step %d", chainID, c.Len(), index)
	}
	return sd, c.Steps()[index-1], nil
}

// Result combines the outcome of a command with the error of closing it.
func (a *Action) Result(err error) error {
	return errors.Join(err, a.Close())
}
