package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"bridge-rpc/proxy"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <class> [args...]",
	Short: "Create an instance and print the host's description of it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withInvoker(cmd, func(ctx context.Context, inv *proxy.Invoker) error {
			obj, err := inv.Instantiate(ctx, args[0], parseArgs(args[1:])...)
			if err != nil {
				return err
			}
			desc, err := inv.Inspect(ctx, obj)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), desc)
			return nil
		})
	},
}

var invokeCmd = &cobra.Command{
	Use:   "invoke <class> <method> [args...]",
	Short: "Call a static method and print the result",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withInvoker(cmd, func(ctx context.Context, inv *proxy.Invoker) error {
			class, err := inv.ClassByName(ctx, args[0])
			if err != nil {
				return err
			}
			res, err := inv.InvokeMethod(ctx, class.Reference(), args[1], parseArgs(args[2:])...)
			if err != nil {
				return err
			}
			return printValue(ctx, cmd.OutOrStdout(), inv, res)
		})
	},
}

var classNameCmd = &cobra.Command{
	Use:   "classname <class> [args...]",
	Short: "Create an instance and print its fully qualified class name",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withInvoker(cmd, func(ctx context.Context, inv *proxy.Invoker) error {
			obj, err := inv.Instantiate(ctx, args[0], parseArgs(args[1:])...)
			if err != nil {
				return err
			}
			name, err := inv.ClassNameOf(ctx, obj)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), name)
			return nil
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the host version reported during the handshake",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withInvoker(cmd, func(ctx context.Context, inv *proxy.Invoker) error {
			reg, err := inv.Registry(ctx)
			if err != nil {
				return err
			}
			s := reg.Session()
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", s.HostVersion(), s.Addr())
			return nil
		})
	},
}

func withInvoker(cmd *cobra.Command, fn func(ctx context.Context, inv *proxy.Invoker) error) error {
	inv, logger, err := newInvoker(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer inv.Close()
	return fn(cmd.Context(), inv)
}

// parseArgs reads command line arguments as host values: integers, floats,
// true/false and null; anything else is a string. Quote with a leading '=' to
// force a string ("=42").
func parseArgs(raw []string) []any {
	out := make([]any, len(raw))
	for i, s := range raw {
		out[i] = parseArg(s)
	}
	return out
}

func parseArg(s string) any {
	if rest, ok := strings.CutPrefix(s, "="); ok {
		return rest
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// printValue writes scalars as they are, references through the host's
// string conversion and collections as JSON.
func printValue(ctx context.Context, w io.Writer, inv *proxy.Invoker, v any) error {
	switch t := v.(type) {
	case *proxy.RemoteReference:
		s, err := inv.Cast(ctx, t, "string")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s %s\n", t, s)
		return err
	case []any, map[string]any:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(jsonSafe(t))
	case nil:
		_, err := fmt.Fprintln(w, "null")
		return err
	default:
		_, err := fmt.Fprintln(w, t)
		return err
	}
}

// jsonSafe replaces references inside collections with their string form.
func jsonSafe(v any) any {
	switch t := v.(type) {
	case *proxy.RemoteReference:
		return t.String()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = jsonSafe(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = jsonSafe(item)
		}
		return out
	}
	return v
}
