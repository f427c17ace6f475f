package main

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mit-pdos/go-fsrepair/disk"
	"github.com/mit-pdos/go-fsrepair/mkfs"
)

type formatFlags struct {
	uuid      string
	agcount   uint64
	agblocks  uint64
	logblocks uint64
	logDevice string
	logsect   uint64
	logsunit  uint64
	v4        bool
	finobt    bool
	inobtcnt  bool
	bigtime   bool
}

func newFormatCmd(stdout io.Writer) *cobra.Command {
	var ff formatFlags
	def := mkfs.DefaultParams()

	cmd := &cobra.Command{
		Use:   "format <image>",
		Short: "Create a new filesystem image",
		Long: `Create a new filesystem image with a clean log, for testing repair runs.

The image file is created or truncated to the size the geometry needs.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFormat(args[0], &ff, stdout)
		},
	}

	f := cmd.Flags()
	f.StringVar(&ff.uuid, "uuid", "", "filesystem uuid (default: random)")
	f.Uint64Var(&ff.agcount, "agcount", def.Agcount, "number of allocation groups")
	f.Uint64Var(&ff.agblocks, "agblocks", def.Agblocks, "blocks per allocation group")
	f.Uint64Var(&ff.logblocks, "logblocks", def.Logblocks, "log size in blocks")
	f.StringVar(&ff.logDevice, "log-device", "", "put the log on this external device")
	f.Uint64Var(&ff.logsect, "log-sector-log", 0, "log2 of the log sector size (default: 9)")
	f.Uint64Var(&ff.logsunit, "log-sunit", 0, "log stripe unit in bytes")
	f.BoolVar(&ff.v4, "v4", false, "make a version 4 filesystem")
	f.BoolVar(&ff.finobt, "finobt", def.Finobt, "enable the free inode btree")
	f.BoolVar(&ff.inobtcnt, "inobtcount", false, "enable inode btree counters")
	f.BoolVar(&ff.bigtime, "bigtime", false, "enable large timestamps")
	return cmd
}

func runFormat(path string, ff *formatFlags, stdout io.Writer) error {
	p := mkfs.DefaultParams()
	if ff.uuid != "" {
		id, err := uuid.Parse(ff.uuid)
		if err != nil {
			return fmt.Errorf("bad uuid %q: %w", ff.uuid, err)
		}
		p.UUID = id
	}
	p.Agcount = ff.agcount
	p.Agblocks = ff.agblocks
	p.Logblocks = ff.logblocks
	p.ExternalLog = ff.logDevice != ""
	p.Logsectlog = ff.logsect
	p.Logsunit = ff.logsunit
	p.V5 = !ff.v4
	p.Finobt = ff.finobt && p.V5
	p.InobtCount = ff.inobtcnt
	p.Bigtime = ff.bigtime

	d, err := disk.NewFileDisk(path, p.Blocks())
	if err != nil {
		return err
	}
	defer d.Close()

	var logd disk.Disk
	if p.ExternalLog {
		logd, err = disk.NewFileDisk(ff.logDevice, p.Logblocks)
		if err != nil {
			return err
		}
		defer logd.Close()
	}

	sb, err := mkfs.Format(d, logd, p)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "meta-data=%s agcount=%d, agsize=%d blks\n", path, sb.Agcount, sb.Agblocks)
	fmt.Fprintf(stdout, "data     =bsize=%d blocks=%d\n", sb.Blocksize, sb.Dblocks)
	fmt.Fprintf(stdout, "log      =%s bsize=%d blocks=%d, version=2\n",
		logName(ff.logDevice), sb.Blocksize, sb.Logblocks)
	fmt.Fprintf(stdout, "uuid     =%s root=%d\n", sb.UUID, sb.Rootino)
	return nil
}

func logName(dev string) string {
	if dev == "" {
		return "internal log"
	}
	return dev
}
