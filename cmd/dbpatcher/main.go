package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/cheggaaa/pb"
	"github.com/mattn/go-isatty"

	flag "github.com/spf13/pflag"

	"github.com/3liteking148/DualBootPatcher/devices"
	"github.com/3liteking148/DualBootPatcher/patcher"
)

// builtinCatalog backs --devices when no catalog file is given.
const builtinCatalog = `
- id: hammerhead
  codenames: [hammerhead]
  name: Google Nexus 5
  architecture: armeabi-v7a
- id: bullhead
  codenames: [bullhead]
  name: LG Nexus 5X
  architecture: arm64-v8a
- id: klte
  codenames: [klte, kltecan, kltedv, kltetmo]
  name: Samsung Galaxy S5
  architecture: armeabi-v7a
- id: jflte
  codenames: [jflte, jflteatt, jfltespr, jfltetmo, jfltexx]
  name: Samsung Galaxy S4
  architecture: armeabi-v7a
`

func checkMsg(err error, msg string) {
	if err != nil {
		fmt.Printf(" ! Error %s!\n", msg)
		fmt.Printf(" ! %s\n", err.Error())
		os.Exit(2)
	}
}

func checkPatch(err error) {
	if err != nil {
		fmt.Printf(" ! Error: %s\n", patcher.CodeOf(err))
		if cause := errors.Unwrap(err); cause != nil {
			fmt.Printf(" ! %s\n", cause.Error())
		}
		os.Exit(2)
	}
}

func main() {
	var inputPath string
	var deviceID string
	var romID string
	var dataDir string
	var devicesPath string

	flag.StringVarP(&inputPath, "input", "i", "", "Path to the installer ZIP to patch.")
	flag.StringVarP(&deviceID, "device", "d", "", "Target device id, e.g. hammerhead.")
	flag.StringVarP(&romID, "romid", "r", "dual", "Installation slot, e.g. dual or data-slot-1.")
	flag.StringVar(&dataDir, "data-dir", "data", "Directory holding the helper binaries and scripts.")
	flag.StringVar(&devicesPath, "devices", "", "Path to a YAML device catalog.")

	fmt.Printf(`dbpatcher %s
Patches installer ZIPs for multi-boot installation

`, patcher.Version)

	flag.ErrHelp = errors.New("")
	flag.Parse()

	if inputPath == "" {
		if flag.NArg() > 0 {
			inputPath = flag.Arg(0)
		} else {
			fmt.Println("Usage: dbpatcher -d device [-r romid] [input]")
			flag.PrintDefaults()
			os.Exit(2)
		}
	}
	if deviceID == "" {
		fmt.Println(" ! No target device given!")
		fmt.Println(" ! Pass one with -d, e.g. -d hammerhead.")
		os.Exit(2)
	}

	fInfo, err := os.Stat(inputPath)
	if os.IsNotExist(err) {
		fmt.Printf(" ! Input file '%s' does not exist!\n", inputPath)
		os.Exit(2)
	}
	checkMsg(err, "verifying input file")
	if fInfo.IsDir() {
		fmt.Println(" ! Input is a directory!")
		fmt.Println(" ! Please provide an installer ZIP file.")
		os.Exit(2)
	}

	var catalog *devices.Catalog
	if devicesPath != "" {
		catalog, err = devices.LoadFile(devicesPath)
		checkMsg(err, "loading device catalog")
	} else {
		catalog, err = devices.Load([]byte(builtinCatalog))
		checkMsg(err, "loading built-in device catalog")
	}

	dev, ok := catalog.Find(deviceID)
	if !ok {
		fmt.Printf(" ! Unknown device '%s'!\n", deviceID)
		fmt.Println(" ! Known devices:")
		for _, d := range catalog.All() {
			fmt.Printf(" !   %s (%s)\n", d.ID, d.Name)
		}
		os.Exit(2)
	}

	p := patcher.New(inputPath, dev, romID)
	p.DataDir = dataDir
	p.Catalog = catalog

	var bar *pb.ProgressBar
	interactive := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	if interactive {
		p.Progress.Bytes = func(cur, max uint64) {
			if bar == nil {
				bar = pb.New64(int64(max)).SetUnits(pb.U_BYTES)
				bar.Start()
			}
			bar.Total = int64(max)
			bar.Set64(int64(cur))
		}
	} else {
		p.Progress.Details = func(name string) {
			fmt.Printf(" - %s\n", name)
		}
	}

	fmt.Printf(" - Patching '%s' for %s (%s)\n", inputPath, dev.Name, romID)
	err = p.Patch()
	if bar != nil {
		bar.Finish()
	}
	checkPatch(err)

	fmt.Printf(" - Finished! Output is '%s'.\n", p.OutputPath())
}
