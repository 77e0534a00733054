package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/proto"

	"github.com/VladMinzatu/modulefinder/internal/exporter"
	"github.com/VladMinzatu/modulefinder/internal/pprof"
	"github.com/VladMinzatu/modulefinder/modulefinder"
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool
	rootCmd := &cobra.Command{
		Use:           "modulefinder",
		Short:         "List the ELF modules loaded into a Linux process",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")

	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newInspectCmd())
	return rootCmd
}

type listOptions struct {
	pid    int
	format string
	output string
	addr   string
}

func newListCmd() *cobra.Command {
	opts := listOptions{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the modules of a process",
		Long: `List the modules of a process in memory map order.

Without --pid the modules of modulefinder itself are listed. Reading another
process needs the same permissions as attaching to it with ptrace.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, opts)
		},
	}
	cmd.Flags().IntVarP(&opts.pid, "pid", "p", 0, "process to inspect (default: this process)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "output format: text, json, pprof or otlp")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write to this file instead of stdout")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "only print the module containing this address")
	return cmd
}

func runList(cmd *cobra.Command, opts listOptions) error {
	if err := checkFormat(opts.format); err != nil {
		return err
	}
	var addr uint64
	if opts.addr != "" {
		var err error
		if addr, err = strconv.ParseUint(opts.addr, 0, 64); err != nil {
			return fmt.Errorf("invalid address %q: %w", opts.addr, err)
		}
	}

	var snapshot *modulefinder.Snapshot
	if opts.pid == 0 || opts.pid == os.Getpid() {
		snapshot = modulefinder.GetModules()
	} else {
		snapshot = modulefinder.NewSnapshot(modulefinder.NewEnumerator(modulefinder.OptionsForPID(opts.pid)).Enumerate())
	}
	modules := snapshot.Modules()

	if opts.addr != "" {
		m, ok := snapshot.Find(addr)
		if !ok {
			return fmt.Errorf("no module contains address %#x", addr)
		}
		modules = []modulefinder.Module{m}
	}

	w := cmd.OutOrStdout()
	if opts.output != "" {
		f, err := os.Create(opts.output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	return writeModules(w, opts.format, modules, time.Now())
}

func newInspectCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "inspect <file>...",
		Short: "Print the identifiers of ELF files on disk",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			modules := make([]modulefinder.Module, 0, len(args))
			for _, path := range args {
				m, err := modulefinder.DescribeFile(path)
				if err != nil {
					return err
				}
				modules = append(modules, m)
			}
			return writeModules(cmd.OutOrStdout(), format, modules, time.Now())
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json, pprof or otlp")
	return cmd
}

func checkFormat(format string) error {
	switch format {
	case "text", "json", "pprof", "otlp":
		return nil
	}
	return fmt.Errorf("unknown format %q", format)
}

func writeModules(w io.Writer, format string, modules []modulefinder.Module, now time.Time) error {
	switch format {
	case "text":
		return exporter.WriteModuleTable(w, modules)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(modulefinder.NewSnapshot(modules))
	case "pprof":
		return pprof.WriteProfile(pprof.BuildModuleProfile(modules, now), w)
	case "otlp":
		data := exporter.BuildOltpProfile(modules, func() uint64 { return uint64(now.UnixNano()) })
		b, err := proto.Marshal(exporter.ExportRequest(data))
		if err != nil {
			return fmt.Errorf("failed to encode profiles: %w", err)
		}
		_, err = w.Write(b)
		return err
	}
	return fmt.Errorf("unknown format %q", format)
}
