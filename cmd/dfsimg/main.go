// dfsimg is a thin exerciser over the dfs engine: list an image's catalog.
// Full command dispatch, format rendering and filename translation are
// host-side concerns the engine only defines narrow contracts for.
package main

import (
	"fmt"
	"os"

	"github.com/dsoprea/go-logging"
	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"

	"github.com/retrobytes/dfsimg/dfs"
)

type rootParameters struct {
	Filepath string `short:"f" long:"filepath" description:"File-path of the DFS image" required:"true"`
	Side     int    `short:"s" long:"side" description:"Side to list (0-based)" default:"0"`
}

var rootArguments = new(rootParameters)

func main() {
	defer func() {
		if state := recover(); state != nil {
			err := log.Wrap(state.(error))
			log.PrintError(err)
			os.Exit(-1)
		}
	}()

	p := flags.NewParser(rootArguments, flags.Default)

	_, err := p.Parse()
	if err != nil {
		os.Exit(1)
	}

	img, warnings, err := dfs.OpenImage(rootArguments.Filepath, dfs.ModeExistingFailIfAbsent, dfs.AccessRead, nil)
	log.PanicIf(err)
	defer img.Close()

	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w.String())
	}

	if rootArguments.Side >= img.SideCount() {
		log.Panicf("side %d not present (image has %d)", rootArguments.Side, img.SideCount())
	}

	side := img.Side(rootArguments.Side)

	fmt.Printf("%-12s seq=%02X boot=%d sectors=%d\n", side.Title(), side.Sequence(), side.BootOption(), side.TotalSectors())

	for _, e := range side.Entries() {
		locked := " "
		if e.Locked {
			locked = "L"
		}
		fmt.Printf("%s  %c.%-7s  %06X %06X  %-10s  @%d\n",
			locked, e.Dir, e.Name, e.LoadAddr, e.ExecAddr, humanize.Bytes(uint64(e.Length)), e.StartSector)
	}
}
