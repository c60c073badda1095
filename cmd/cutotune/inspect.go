package main

import (
	"context"
	"encoding"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/samcharles93/cutotune/internal/kernels"
	"github.com/samcharles93/cutotune/pkg/cutotune"
	"github.com/urfave/cli/v3"
)

type inspectKey struct {
	Key         string         `json:"key"`
	Trials      int            `json:"trials"`
	Best        map[string]any `json:"best"`
	TimeSeconds float64        `json:"time_seconds"`
}

type inspectOp struct {
	Identity string       `json:"identity"`
	Name     string       `json:"name"`
	Trials   int          `json:"trials"`
	Keys     []inspectKey `json:"keys"`
}

func inspectCmd() *cli.Command {
	var (
		asJSON bool
		opName string
	)

	return &cli.Command{
		Name:   "inspect",
		Usage:  "Show the best config per key stored in a tuning cache",
		Before: setupLogging,
		Flags: []cli.Flag{
			cacheFileFlag(),
			&cli.BoolFlag{Name: "json", Usage: "print JSON instead of a table", Destination: &asJSON},
			&cli.StringFlag{
				Name:        "op",
				Usage:       "only show operations with this name or identity",
				Destination: &opName,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			env := resolveEnv(cmd, LoadConfig())
			cache := cutotune.NewCache(env.CacheFile, cutotune.WithEnum(kernels.BackendParam, kernels.DecodeBackend))
			if err := cache.Load(); err != nil {
				return cli.Exit(fmt.Sprintf("inspect: %v", err), 1)
			}

			ops := collectInspect(cache, opName)
			if opName != "" && len(ops) == 0 {
				return cli.Exit(fmt.Sprintf("inspect: no operation %q in %s", opName, cache.Path()), 1)
			}
			if asJSON {
				return writeInspectJSON(os.Stdout, ops)
			}
			return writeInspectTable(os.Stdout, cache.Path(), ops)
		},
	}
}

func collectInspect(cache *cutotune.Cache, filter string) []inspectOp {
	var out []inspectOp
	for _, op := range cache.Operations() {
		if filter != "" && filter != op.Name && filter != op.Identity {
			continue
		}
		best := cache.BestConfigs(op.Identity)
		entry := inspectOp{Identity: op.Identity, Name: op.Name, Trials: op.Trials, Keys: []inspectKey{}}
		for _, key := range op.Keys {
			t, ok := best[key]
			if !ok {
				continue
			}
			entry.Keys = append(entry.Keys, inspectKey{
				Key:         string(key),
				Trials:      len(cache.Trials(op.Identity, key)),
				Best:        textValues(t.Config),
				TimeSeconds: t.Time.Seconds(),
			})
		}
		out = append(out, entry)
	}
	return out
}

func textValues(cfg cutotune.Config) map[string]any {
	out := cfg.Values()
	for name, v := range out {
		if m, ok := v.(encoding.TextMarshaler); ok {
			if b, err := m.MarshalText(); err == nil {
				out[name] = string(b)
			}
		}
	}
	return out
}

func writeInspectJSON(w io.Writer, ops []inspectOp) error {
	if ops == nil {
		ops = []inspectOp{}
	}
	b, err := json.MarshalIndent(ops, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}

func writeInspectTable(w io.Writer, path string, ops []inspectOp) error {
	trials := 0
	for _, op := range ops {
		trials += op.Trials
	}
	_, _ = fmt.Fprintf(w, "cache: %s (%s operations, %s trials)\n\n", path,
		humanize.Comma(int64(len(ops))), humanize.Comma(int64(trials)))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "OPERATION\tKEY\tBEST CONFIG\tTIME\tTRIALS")
	for _, op := range ops {
		for _, k := range op.Keys {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
				op.Name, k.Key, formatValues(k.Best), formatSeconds(k.TimeSeconds), k.Trials)
		}
	}
	return tw.Flush()
}

// formatValues prints a config as name=value pairs in name order.
func formatValues(values map[string]any) string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	slices.Sort(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%v", name, values[name])
	}
	return strings.Join(parts, " ")
}

// formatSeconds renders a duration with an SI prefix, e.g. "12.5 µs".
func formatSeconds(s float64) string {
	if s <= 0 {
		return "0 s"
	}
	if s >= float64(time.Minute/time.Second) {
		return time.Duration(s * float64(time.Second)).Round(time.Millisecond).String()
	}
	return humanize.SIWithDigits(s, 2, "s")
}
