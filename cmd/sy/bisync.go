package main

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/julien-blanchon/sy/internal/bisync"
	"github.com/julien-blanchon/sy/internal/scan"
)

var bisyncConfiguration struct {
	clear bool
}

var bisyncCommand = &cobra.Command{
	Use:   "bisync <source-path> <dest-path>",
	Short: "reconcile changes on both sides of a sync pair since the last run",
	Args:  cobra.ExactArgs(2),
	Run: func(command *cobra.Command, arguments []string) {
		if err := runBisync(arguments[0], arguments[1]); err != nil {
			fatal(err)
		}
	},
}

func init() {
	bisyncCommand.Flags().BoolVar(&bisyncConfiguration.clear, "clear-state", false, "discard all recorded bisync state for this pair and exit")
}

func runBisync(source, dest string) error {
	db, err := bisync.Open(source, dest)
	if err != nil {
		return err
	}

	if bisyncConfiguration.clear {
		return db.ClearAll()
	}

	sourceEntries, _, err := scan.Scan(source, scan.Options{})
	if err != nil {
		return errors.Wrap(err, "unable to scan source")
	}
	destEntries, _, err := scan.Scan(dest, scan.Options{})
	if err != nil {
		return errors.Wrap(err, "unable to scan destination")
	}

	changes := db.Reconcile(sourceEntries, destEntries)

	sourceByPath := make(map[string]scan.Entry, len(sourceEntries))
	for _, e := range sourceEntries {
		sourceByPath[e.Path] = e
	}
	destByPath := make(map[string]scan.Entry, len(destEntries))
	for _, e := range destEntries {
		destByPath[e.Path] = e
	}

	var conflicts int
	now := time.Now()
	for _, c := range changes {
		switch c.Kind {
		case bisync.Conflict:
			conflicts++
			fmt.Printf("conflict: %s changed on both sides since the last sync\n", c.Path)
			continue
		case bisync.Deleted:
			if err := db.Delete(c.Path); err != nil {
				return err
			}
			continue
		case bisync.Unchanged:
			continue
		}

		src, hasSrc := sourceByPath[c.Path]
		dst, hasDst := destByPath[c.Path]
		var srcPtr, dstPtr *scan.Entry
		if hasSrc {
			srcPtr = &src
		}
		if hasDst {
			dstPtr = &dst
		}
		if err := db.RecordSynced(c.Path, srcPtr, dstPtr, now); err != nil {
			return err
		}
	}

	if conflicts > 0 {
		return errors.Errorf("%d conflicting path(s) require manual resolution", conflicts)
	}
	fmt.Printf("bisync %s: %d path(s) reconciled\n", db.SyncPairHash(), len(changes))
	return nil
}
