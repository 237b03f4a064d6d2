package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/c2h5oh/datasize"
	"github.com/ledgerwatch/log/v3"
	"github.com/urfave/cli/v2"

	"github.com/erigontech/eofparse/core/vm"
)

var (
	fileFlag = &cli.StringFlag{
		Name:  "file",
		Usage: "path to the input file; reads stdin when empty",
	}
	initcodeFlag = &cli.BoolFlag{
		Name:  "initcode",
		Usage: "validate inputs as initcode containers instead of runtime ones",
	}
	maxSizeFlag = &cli.StringFlag{
		Name:  "max-size",
		Value: "48kb",
		Usage: "reject inputs above this size without validating them",
	}
	workersFlag = &cli.IntFlag{
		Name:  "workers",
		Value: runtime.GOMAXPROCS(0),
		Usage: "number of inputs validated concurrently",
	}
)

func main() {
	app := &cli.App{
		Name:   "eofparse",
		Usage:  "validate EOF containers given as hex, one per line",
		Flags:  []cli.Flag{fileFlag, initcodeFlag, maxSizeFlag, workersFlag},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Error("eofparse failed", "err", err)
		os.Exit(1)
	}
}

func run(cliCtx *cli.Context) error {
	in := os.Stdin
	if path := cliCtx.String(fileFlag.Name); path != "" {
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		in = file
	}
	var maxSize datasize.ByteSize
	if err := maxSize.UnmarshalText([]byte(cliCtx.String(maxSizeFlag.Name))); err != nil {
		return fmt.Errorf("bad --max-size: %w", err)
	}
	kind := vm.RuntimeKind
	if cliCtx.Bool(initcodeFlag.Name) {
		kind = vm.InitcodeKind
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	var lines []string
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	inputs := make([][]byte, len(lines))
	inputErrs := make([]error, len(lines))
	for i, line := range lines {
		hexInput := strings.TrimPrefix(line, "0x")
		if len(hexInput)%2 != 0 {
			hexInput = "0" + hexInput
		}
		input, err := hex.DecodeString(hexInput)
		if err != nil {
			inputErrs[i] = fmt.Errorf("error decoding hex input: %w", err)
			continue
		}
		if uint64(len(input)) > maxSize.Bytes() {
			inputErrs[i] = fmt.Errorf("input of %s above --max-size %s", datasize.ByteSize(len(input)).HR(), maxSize.HR())
			continue
		}
		inputs[i] = input
	}

	containers, verdicts, err := vm.ValidateBatch(context.Background(), inputs, kind, cliCtx.Int(workersFlag.Name))
	if err != nil {
		return err
	}

	var ok int
	for i := range lines {
		switch {
		case inputErrs[i] != nil:
			fmt.Println("err:", inputErrs[i])
		case verdicts[i] != nil:
			fmt.Println("err:", verdicts[i])
		default:
			fmt.Printf("OK %s\n", containers[i].CodeSectionsHex())
			ok++
		}
	}
	log.Info("done", "kind", kind, "inputs", len(lines), "ok", ok, "rejected", len(lines)-ok)
	return nil
}
