/*
sds011ctl is tool for poking single SDS011 sensor by hand

Sends one command by catalog name (-cmd) or runs interactive mode (-i) where
single keys send commands. Every decoded reply is printed
*/
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/hjkoskel/listserialports"
	"github.com/pkg/errors"
	"github.com/pkg/term"

	sds011 "github.com/hjkoskel/sds011sampler"
)

const (
	MEASUREDCOUNTERFILE     = "measuredcounter"
	MEASUREDCOUNTERFILE_TMP = "measuredcounter.tmp"
)

var ttyPath = "/dev/tty"

// getch reads one keypress. Fails when there is no controlling terminal (service, piped stdin)
func getch() ([]byte, error) {
	t, err := term.Open(ttyPath)
	if err != nil {
		return nil, errors.Wrap(err, "no terminal for interactive mode")
	}
	defer t.Close()
	if err := term.RawMode(t); err != nil {
		return nil, errors.Wrap(err, "raw mode")
	}
	defer t.Restore()
	bytes := make([]byte, 3)
	numRead, err := t.Read(bytes)
	if err != nil {
		return nil, err
	}
	return bytes[0:numRead], nil
}

func getOnlyAlphanum(in string) string {
	reg, _ := regexp.Compile("[^a-zA-Z0-9 ]+")
	return reg.ReplaceAllString(in, "")
}

func getIntegerUserInput(prompt string, base int, minvalue int, maxvalue int) (int, error) {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print(prompt)
	text, _ := reader.ReadString('\n')
	text = getOnlyAlphanum(text)

	per, perErr := strconv.ParseInt(text, base, 64)
	if perErr != nil {
		return 0, fmt.Errorf("invalid numerical input %v", perErr.Error())
	}

	if int(per) < minvalue || maxvalue < int(per) {
		return 0, fmt.Errorf("value %v out of range from %v -%v allowed", per, minvalue, maxvalue)
	}
	return int(per), nil
}

// How many measurements this sensor have given. Laser and fan have limited lifetime
func loadMeasurementCounterFromFile() (int, error) {
	byt, errRead := os.ReadFile(MEASUREDCOUNTERFILE)
	if errRead != nil {
		return 0, errors.Wrap(errRead, "counter reading error")
	}
	i, parseErr := strconv.ParseInt(strings.TrimSpace(string(byt)), 10, 64)
	if parseErr != nil {
		return 0, errors.Wrap(parseErr, "error parsing counter from file")
	}
	return int(i), nil
}

func saveMeasurementCounterToFile(counter int) error {
	f, err := os.Create(MEASUREDCOUNTERFILE_TMP)
	if err != nil {
		return err
	}
	defer f.Close()

	_, errW := io.WriteString(f, fmt.Sprintf("%v", counter)) //writes all.. so short
	if errW != nil {
		return errW
	}
	syncErr := f.Sync()
	if syncErr != nil {
		return syncErr
	}
	f.Close() //Do not care about error. If it is flushed

	return os.Rename(MEASUREDCOUNTERFILE_TMP, MEASUREDCOUNTERFILE)
}

func printErr(format string, a ...any) {
	color.Set(color.FgRed)
	fmt.Printf(format, a...)
	color.Unset()
}

func printCatalog() {
	fmt.Printf("Commands:\n")
	for _, c := range sds011.Commands() {
		fmt.Printf("  %-24s % X\n", c.String(), c.Opcode())
	}
}

// tool keeps state of one session
type tool struct {
	conn        sds011.Conn
	target      uint16
	timeout     time.Duration
	measCounter int
}

// exchange writes frame and prints everything sensor says back
func (p *tool) exchange(frame sds011.CommandFrame) error {
	if err := p.conn.Discard(); err != nil {
		return errors.Wrap(err, "discard")
	}
	fmt.Printf("-> %v\n", frame)
	if _, err := p.conn.Write(frame.Bytes()); err != nil {
		return errors.Wrap(err, "write")
	}
	raw, err := p.conn.ReadAvailable(p.timeout)
	if err != nil {
		return errors.Wrap(err, "read")
	}
	frames := sds011.DecodeAll(raw)
	if len(frames) == 0 {
		color.Set(color.FgMagenta)
		fmt.Printf("<- nothing decoded (%v bytes: % X)\n", len(raw), raw)
		color.Unset()
		return nil
	}
	for _, f := range frames {
		if p.target != sds011.AnyDevice && f.DeviceID != p.target {
			color.Set(color.FgMagenta)
			fmt.Printf("<- other sensor %v\n", f)
			color.Unset()
			continue
		}
		if f.IsMeasurement() {
			p.measCounter++
			color.Set(color.FgHiYellow)
			fmt.Printf("<- %v %v (measurement #%v)\n", time.Now().Format(time.RFC3339), f, p.measCounter)
			color.Unset()
			if errSave := saveMeasurementCounterToFile(p.measCounter); errSave != nil {
				printErr("counter save error %v\n", errSave)
			}
			continue
		}
		if ver, errVer := f.FirmwareVersion(); errVer == nil {
			color.Set(color.FgHiGreen)
			fmt.Printf("<- %v firmware %v\n", f, ver)
			color.Unset()
			continue
		}
		color.Set(color.FgHiGreen)
		fmt.Printf("<- %v\n", f)
		color.Unset()
	}
	return nil
}

func main() {
	pSerialDevice := flag.String("s", "", "serial device file")
	pDeviceId := flag.String("id", "FFFF", "device id in hex (filter and target)")
	pCmd := flag.String("cmd", "", "send one command by name and print reply")
	pPeriod := flag.Int("p", -1, "set period 1= 1min 2=2min.... max 30")
	pInteractive := flag.Bool("i", false, "interactive mode")
	pTimeout := flag.Duration("t", sds011.DefaultReadTimeout, "reply wait time")
	flag.Parse()

	serialDeviceFileName := *pSerialDevice
	if serialDeviceFileName == "" {
		fmt.Printf("Please define serial device. (-h for help)\nList of serial ports\n")
		proped, _ := listserialports.Probe(false)
		for _, ser := range proped {
			fmt.Print(ser.ToPrintoutFormat())
		}
		printCatalog()
		os.Exit(0)
	}

	devId, errId := strconv.ParseUint(*pDeviceId, 16, 16)
	if errId != nil {
		printErr("Invalid Id, must be hex err=%v\n", errId.Error())
		os.Exit(1)
	}

	conn, errOpen := sds011.OpenSerial(serialDeviceFileName, *pTimeout)
	if errOpen != nil {
		printErr("Initializing serial port %v failed %v\n", serialDeviceFileName, errOpen.Error())
		os.Exit(1)
	}
	defer conn.Close()

	t := &tool{conn: conn, target: uint16(devId), timeout: *pTimeout}
	if counter, errCounter := loadMeasurementCounterFromFile(); errCounter != nil {
		fmt.Printf("Error loading measurement counter %v, start from 0\n", errCounter)
	} else {
		t.measCounter = counter
		fmt.Printf("Starting from point count %v\n", counter)
	}

	if 0 < *pPeriod {
		if err := t.setPeriod(*pPeriod); err != nil {
			printErr("setting period failed: %v\n", err)
			os.Exit(1)
		}
	}

	if *pCmd != "" {
		cmd, errLookup := sds011.LookupCommand(*pCmd)
		if errLookup != nil {
			printErr("%v\n", errLookup)
			printCatalog()
			os.Exit(1)
		}
		if err := t.exchange(cmd.Frame(t.target)); err != nil {
			printErr("%v\n", err)
			os.Exit(1)
		}
	}

	if *pInteractive {
		if err := t.interactive(); err != nil {
			printErr("ERR=%v\n", err.Error())
			os.Exit(1)
		}
	}
}

func (p *tool) setPeriod(minutes int) error {
	op, err := sds011.SamplingPeriodOpcode(minutes)
	if err != nil {
		return err
	}
	frame, err := sds011.EncodeCommand(op[:], p.target)
	if err != nil {
		return err
	}
	return p.exchange(frame)
}
