package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/ipcgate/internal/config"
	"github.com/Sentinel-Gate/ipcgate/internal/domain/worker"
)

var callCmd = &cobra.Command{
	Use:   "call <method> [args...]",
	Short: "Launch the worker and make a single call",
	Long: `Launch the worker role, make one call on its root object, print the
result and stop the worker.

Methods:
  ping                 answers 42
  add <a> <b>          sums two integers
  mapsize [k=v ...]    counts the entries of a map
  append <item>        appends to the worker history
  history              prints the worker history
  version              prints the worker version

Example:
  ipc-gate call add 2 3`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCall,
}

func init() {
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := config.NewLogger(cfg.Log, cfg.DevMode, os.Stderr)

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.CallTimeout())
	defer cancel()

	sess, err := openSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sess.Close(context.Background())

	return invoke(ctx, sess.root, cmd.OutOrStdout(), args[0], args[1:])
}

// invoke runs one named method on root and prints its result to out.
func invoke(ctx context.Context, root worker.Init, out io.Writer, method string, args []string) error {
	switch strings.ToLower(method) {
	case "ping":
		if err := wantArgs(method, args, 0); err != nil {
			return err
		}
		v, err := root.Ping(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, v)
	case "add":
		if err := wantArgs(method, args, 2); err != nil {
			return err
		}
		a, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("add: %w", err)
		}
		b, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("add: %w", err)
		}
		v, err := root.Add(ctx, a, b)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, v)
	case "mapsize":
		m := make(map[string]string, len(args))
		for _, kv := range args {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("mapsize: %q is not key=value", kv)
			}
			m[k] = v
		}
		v, err := root.MapSize(ctx, m)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, v)
	case "append":
		if err := wantArgs(method, args, 1); err != nil {
			return err
		}
		if err := root.Append(ctx, args[0]); err != nil {
			return err
		}
	case "history":
		if err := wantArgs(method, args, 0); err != nil {
			return err
		}
		items, err := root.History(ctx)
		if err != nil {
			return err
		}
		for _, item := range items {
			fmt.Fprintln(out, item)
		}
	case "version":
		if err := wantArgs(method, args, 0); err != nil {
			return err
		}
		v, err := root.Version(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, v)
	default:
		return fmt.Errorf("unknown method %q (see ipc-gate call --help)", method)
	}
	return nil
}

func wantArgs(method string, args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s takes %d arguments, got %d", method, n, len(args))
	}
	return nil
}
