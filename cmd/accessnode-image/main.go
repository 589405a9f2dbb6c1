// Command accessnode-image builds and inspects accessnode firmware images.
//
// Usage:
//
//	accessnode-image pack -version 1.4.0 -o node.img node.bin
//	accessnode-image inspect node.img
//
// pack prepends the image header to a payload. inspect prints the header
// and checks the payload digest, exiting non-zero if it does not match.
package main

import (
	"flag"
	"fmt"
	"os"
)

const usage = `accessnode-image - Access Node Firmware Image Tool

Usage:
  accessnode-image pack -version <version> -o <out.img> <payload>
  accessnode-image inspect <image>
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "pack":
		err = runPack(args)
	case "inspect":
		err = runInspect(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runPack(args []string) error {
	fs := flag.NewFlagSet("pack", flag.ExitOnError)
	version := fs.String("version", "", "Firmware version written into the header (required)")
	output := fs.String("o", "", "Output image file (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 || *version == "" || *output == "" {
		fs.Usage()
		return fmt.Errorf("payload, -version and -o are required")
	}

	h, err := pack(fs.Arg(0), *version, *output)
	if err != nil {
		return err
	}
	printHeader(os.Stdout, h)
	return nil
}

func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("image path required")
	}
	return inspect(fs.Arg(0), os.Stdout)
}
