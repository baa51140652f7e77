package main

import (
	"fmt"

	sds011 "github.com/hjkoskel/sds011sampler"
)

var interactiveKeys = map[string]sds011.Command{
	"q": sds011.EnterQueryMode,
	"a": sds011.EnterContinuousMode,
	"w": sds011.Wake,
	"s": sds011.Sleep,
	"z": sds011.QueryFanState,
	"m": sds011.QueryRunMode,
	"d": sds011.RequestMeasurement,
	"v": sds011.QueryFirmwareVersion,
}

func printInteractiveHelp() {
	fmt.Printf("---- Interactive commands ----\n")
	fmt.Printf("q = switch to query mode\n")
	fmt.Printf("a = switch to active mode\n")
	fmt.Printf("w = send work command\n")
	fmt.Printf("s = send sleep command\n")
	fmt.Printf("z = read work status\n")
	fmt.Printf("m = read reporting mode\n")
	fmt.Printf("d = query data\n")
	fmt.Printf("v = firmware version\n")
	fmt.Printf("p = enter period setting\n")
	fmt.Printf("f = set id as filter\n")
	fmt.Printf("h = print this help\n")
}

// This have colors :)
func (p *tool) interactive() error {
	printInteractiveHelp()
	for {
		arr, err := getch()
		if err != nil {
			return err
		}
		if len(arr) == 0 {
			continue
		}
		c := string(arr[0])
		if cmd, ok := interactiveKeys[c]; ok {
			fmt.Printf("sending %v\n", cmd)
			if err := p.exchange(cmd.Frame(p.target)); err != nil {
				printErr("Error %v: %v\n", cmd, err)
			}
			continue
		}
		switch c {
		case "\x03":
			return nil
		case "p":
			per, perErr := getIntegerUserInput("Enter period 1-30 minute:", 10, sds011.MinSamplingPeriod, sds011.MaxSamplingPeriod)
			if perErr != nil {
				printErr("\n%v\n", perErr.Error())
				continue
			}
			if err := p.setPeriod(per); err != nil {
				printErr("Error setting period: %v\n", err)
			}
		case "f":
			fil, filErr := getIntegerUserInput("give new for ID filter in hex:", 16, 0, 0xFFFF)
			if filErr != nil {
				printErr("Error setting filter: %v\n", filErr.Error())
				continue
			}
			p.target = uint16(fil)
			fmt.Printf("target now %v\n", sds011.FormatDeviceID(p.target))
		case "h":
			printInteractiveHelp()
		}
	}
}
