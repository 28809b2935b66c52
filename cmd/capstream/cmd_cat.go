package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/randalmurphal/capstream/pkg/capstream/envelope"
	"github.com/randalmurphal/capstream/pkg/capstream/sink"
)

var catOpts struct {
	dir     string
	source  string
	limit   int
	payload bool
}

func init() {
	f := catCmd.Flags()
	f.StringVar(&catOpts.dir, "dir", "", "file sink directory (default: session.data_root)")
	f.StringVar(&catOpts.source, "source", "", "only show envelopes from this source")
	f.IntVarP(&catOpts.limit, "limit", "n", 0, "stop after this many envelopes")
	f.BoolVar(&catOpts.payload, "payload", false, "print payloads")
	rootCmd.AddCommand(catCmd)
}

var catCmd = &cobra.Command{
	Use:   "cat <session-id>",
	Short: "Dump the file sink log of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, _, err := loadPipeline()
		if err != nil {
			return err
		}
		dir := catOpts.dir
		if dir == "" {
			dir = p.Session.DataRoot
		}
		var only envelope.Source
		if catOpts.source != "" {
			if only, err = envelope.ParseSource(catOpts.source); err != nil {
				return err
			}
		}

		f, err := os.Open(sink.FilePath(dir, args[0]))
		if err != nil {
			return fmt.Errorf("open session log: %w", err)
		}
		defer f.Close()
		return dumpLog(cmd.OutOrStdout(), envelope.NewReader(f), only)
	},
}

func dumpLog(out io.Writer, r *envelope.Reader, only envelope.Source) error {
	var shown int
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if only != "" && e.Source != only {
			continue
		}
		fmt.Fprintf(out, "%s  %-7s %8d  %s  %s\n",
			e.ID, e.Source, e.LogicalSeq, e.CapturedAt.Time().Format("15:04:05.000000"), humanize.IBytes(uint64(e.Size())))
		if catOpts.payload {
			if json.Valid(e.Payload) {
				fmt.Fprintf(out, "    %s\n", e.Payload)
			} else {
				fmt.Fprintf(out, "    %q\n", e.Payload)
			}
		}
		shown++
		if catOpts.limit > 0 && shown >= catOpts.limit {
			break
		}
	}
	if r.Truncated() {
		fmt.Fprintln(out, "(log ends in a partial record)")
	}
	return nil
}
