package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mit-pdos/go-fsrepair/config"
	"github.com/mit-pdos/go-fsrepair/disk"
	"github.com/mit-pdos/go-fsrepair/mount"
	"github.com/mit-pdos/go-fsrepair/repair"
	"github.com/mit-pdos/go-fsrepair/util"
)

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "fsrepair [flags] <device>",
		Short: "Offline filesystem repair, log and root inode stage",
		Long: `fsrepair checks an unmounted filesystem image before structural repair.

It finds the head and tail of the write-ahead log and refuses to go on if the
log holds changes that were never replayed, unless -n (report only) or -L
(destroy the log) is given. It then scans the allocation group headers, makes
sure the root inode chunk and the reserved inodes are accounted for, and
applies requested feature upgrades.

Exit status is 0 on success or when a requested upgrade does not apply, 2 when
the log stops the run, and 1 for other fatal errors.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			if err := config.Setup(v, cmd.Flags(), configFile); err != nil {
				return err
			}
			opts, c, err := config.Load(v)
			if err != nil {
				return &repair.FatalError{Stage: repair.StageConfig, Code: repair.EXIT_FATAL, Err: err}
			}
			util.SetDebug(c.Debug)
			return runRepair(args[0], opts, repair.MkReporter(stdout, stderr))
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	f := rootCmd.Flags()
	f.BoolP("no-modify", "n", false, "report only; never write to the device")
	f.BoolP("zap-log", "L", false, "destroy the log even if it holds unreplayed changes")
	f.StringP("log-device", "l", "", "external log device")
	f.StringSliceP("upgrade", "c", nil, "feature upgrades, e.g. inobtcount=1,bigtime=1")
	f.Bool("add-inobtcount", false, "add inode btree counters")
	f.Bool("add-bigtime", false, "add large timestamp support")
	f.CountP("verbose", "v", "verbose output; repeat for more")
	f.IntP("threads", "t", 0, "allocation group scan threads (default: number of CPUs)")
	f.Uint64("debug", 0, "debug trace level")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: fsrepair.yaml in ., $HOME/.fsrepair, /etc/fsrepair)")

	rootCmd.AddCommand(newFormatCmd(stdout))
	return rootCmd
}

// runRepair opens the devices and runs the early-recovery stage.
func runRepair(device string, opts repair.Options, rep *repair.Reporter) error {
	d, err := disk.OpenFileDisk(device, opts.NoModify)
	if err != nil {
		return &repair.FatalError{Stage: repair.StageConfig, Code: repair.EXIT_FATAL, Err: err}
	}
	defer d.Close()

	var logd disk.Disk
	if opts.LogDevice != "" {
		logd, err = disk.OpenFileDisk(opts.LogDevice, opts.NoModify)
		if err != nil {
			return &repair.FatalError{Stage: repair.StageConfig, Code: repair.EXIT_FATAL, Err: err}
		}
		defer logd.Close()
	}

	mp, err := mount.MkMount(d, device, logd, opts.LogDevice)
	if err != nil {
		return &repair.FatalError{Stage: repair.StageConfig, Code: repair.EXIT_FATAL, Err: err}
	}
	p := repair.MkPhase2(opts, rep, nil, nil)
	if err := p.Run(mp); err != nil {
		return err
	}
	if opts.Verbose > 0 {
		rep.Log("        - log %v, %d allocation groups scanned\n", p.LogStatus, mp.Sb.Agcount)
	}
	return nil
}

// Execute runs the command line in args and returns the exit status.
func Execute(args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd(stdout, stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	var noop *repair.NoopError
	switch {
	case err == nil:
	case errors.As(err, &noop):
		fmt.Fprintln(stdout, noop.Msg)
	default:
		fmt.Fprintf(stderr, "fsrepair: %v\n", err)
	}
	return repair.ExitCode(err)
}
