package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"conduit/internal/calculator"
	"conduit/internal/config"
	"conduit/internal/data"
	"conduit/internal/source"
)

func addCommands(root *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a document for errors",
		Args:  cobra.NoArgs,
		RunE:  validate,
	}
	root.AddCommand(cmd)

	cmd = &cobra.Command{
		Use:   "preview chain",
		Short: "Show example rows of a chain",
		Long: "Show example rows of a chain. Sources are read only as far as needed\n" +
			"to fill the preview within the document's time budget, unless --full is set.",
		Args: cobra.ExactArgs(1),
		RunE: preview,
	}
	cmd.Flags().Int("step", 0, "step to preview, counting from 1 (default last)")
	cmd.Flags().Int("rows", 0, "rows to show (default the document's desired example rows)")
	cmd.Flags().Bool("full", false, "calculate the complete result")
	root.AddCommand(cmd)

	cmd = &cobra.Command{
		Use:   "explain chain",
		Short: "Describe the steps of a chain and the SQL they push down",
		Args:  cobra.ExactArgs(1),
		RunE:  explain,
	}
	root.AddCommand(cmd)

	cmd = &cobra.Command{
		Use:   "run chain",
		Short: "Write the complete result of a chain",
		Args:  cobra.ExactArgs(1),
		RunE:  run,
	}
	cmd.Flags().String("to", "csv", "sink kind (csv, sqlite, mysql, postgres, mssql)")
	cmd.Flags().StringP("out", "o", "-", "csv output file, - for stdout")
	cmd.Flags().Bool("no-header", false, "omit the csv header")
	cmd.Flags().String("separator", "", "csv separator (default the locale's)")
	cmd.Flags().String("dsn", "", "database DSN of sql sinks")
	cmd.Flags().String("table", "", "target table of sql sinks")
	cmd.Flags().Bool("create", false, "create the target table")
	root.AddCommand(cmd)

	cmd = &cobra.Command{
		Use:   "kinds",
		Short: "List the registered source kinds",
		Args:  cobra.NoArgs,
		RunE:  kinds,
	}
	root.AddCommand(cmd)
}

func validate(cmd *cobra.Command, _ []string) error {
	a, err := newAction(cmd, true)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, iss := range a.issues {
		fmt.Fprintln(out, iss.Error())
	}
	if config.HasErrors(a.issues) {
		return fmt.Errorf("document %s is invalid", a.getString("config"))
	}
	fmt.Fprintf(out, "%s is valid (%d chains)\n", a.getString("config"), len(a.doc.Chains))
	return nil
}

func preview(cmd *cobra.Command, args []string) (err error) {
	a, err := newAction(cmd, false)
	if err != nil {
		return err
	}
	defer func() { err = a.Result(err) }()

	sd, s, err := a.Step(args[0], a.getInt("step"))
	if err != nil {
		return err
	}
	e, err := a.Env()
	if err != nil {
		return err
	}
	j := e.Job(cmd.Context())
	defer j.Cancel()

	c := e.Calculator(e.Resolver(sd))
	res := c.Calculate(j, s, !a.getBool("full"), nil).Wait(j)
	switch res.State {
	case calculator.StateSucceeded:
	case calculator.StateCancelled:
		return fmt.Errorf("preview of %q cancelled", args[0])
	default:
		return res.Err
	}

	rows := a.getInt("rows")
	if rows <= 0 {
		rows = c.Settings().DesiredExampleRows
	}
	out := cmd.OutOrStdout()
	if err := writeTable(out, res.Raster, rows, a.Locale()); err != nil {
		return err
	}
	if res.Example {
		fmt.Fprintf(out, "%s rows from %s input rows in %s\n",
			humanize.Comma(int64(res.Raster.RowCount())), humanize.Comma(int64(res.InputRows)),
			res.Duration.Truncate(time.Millisecond))
	} else {
		fmt.Fprintf(out, "%s rows in %s\n",
			humanize.Comma(int64(res.Raster.RowCount())), res.Duration.Truncate(time.Millisecond))
	}
	return nil
}

func explain(cmd *cobra.Command, args []string) (err error) {
	a, err := newAction(cmd, false)
	if err != nil {
		return err
	}
	defer func() { err = a.Result(err) }()

	sd, _, err := a.Step(args[0], 0)
	if err != nil {
		return err
	}
	c, _ := sd.Chain(args[0])
	out := cmd.OutOrStdout()
	for i, s := range c.Steps() {
		flag := ""
		if s.Cache {
			flag = " (cached)"
		}
		fmt.Fprintf(out, "%d. %s%s\n", i+1, s.Explain(), flag)
	}

	e, err := a.Env()
	if err != nil {
		return err
	}
	j := e.Job(cmd.Context())
	defer j.Cancel()
	d, err := e.Resolver(sd).FullData(j, c.Tail())
	if err != nil {
		return err
	}
	if x, ok := d.(data.Explainer); ok {
		if q := strings.TrimSpace(x.Explain()); q != "" {
			fmt.Fprintf(out, "\n%s\n", q)
		}
	}
	return nil
}

func run(cmd *cobra.Command, args []string) (err error) {
	a, err := newAction(cmd, false)
	if err != nil {
		return err
	}
	defer func() { err = a.Result(err) }()

	sd, s, err := a.Step(args[0], 0)
	if err != nil {
		return err
	}
	e, err := a.Env()
	if err != nil {
		return err
	}
	j := e.Job(cmd.Context())
	defer j.Cancel()

	snk, closeSink, err := openSink(a)
	if err != nil {
		return err
	}
	d, err := e.Resolver(sd).FullData(j, s)
	if err != nil {
		return closeAll(err, closeSink)
	}
	started := time.Now()
	n, err := snk.Write(j, d)
	if err != nil {
		return closeAll(fmt.Errorf("run %q: %w", args[0], err), closeSink)
	}
	if err := closeSink(); err != nil {
		return err
	}
	level.Info(a.logger).Log("msg", "chain written", "chain", args[0], "to", a.getString("to"),
		"rows", humanize.Comma(n), "elapsed", time.Since(started).Truncate(time.Millisecond))
	if a.getString("to") != "csv" {
		fmt.Fprintf(cmd.OutOrStdout(), "%s rows written\n", humanize.Comma(n))
	}
	return nil
}

func kinds(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	for _, k := range source.Kinds() {
		fmt.Fprintln(out, k)
	}
	return nil
}
