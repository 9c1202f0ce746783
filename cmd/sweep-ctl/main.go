// Command sweep-ctl is a thin CLI over a Device's configuration surface. It
// never starts scanning; it only gets or sets motor speed and sample rate.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/scanse/sweep-sdk"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  sweep-ctl <port> get (motor_speed|sample_rate)")
	fmt.Fprintln(os.Stderr, "  sweep-ctl <port> set (motor_speed|sample_rate) <value>")
}

func main() {
	log := logrus.New()

	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) < 3 {
		usage()
		os.Exit(1)
	}

	portPath, verb, field := args[0], args[1], ""
	if len(args) >= 3 {
		field = args[2]
	}

	entry := log.WithFields(logrus.Fields{"port": portPath, "verb": verb, "field": field})

	dev, err := sweep.Open(portPath)
	if err != nil {
		entry.WithError(err).Error("open failed")
		os.Exit(1)
	}
	defer dev.Close()

	if err := run(dev, entry, verb, field, args[3:]); err != nil {
		entry.WithError(err).Error("command failed")
		os.Exit(1)
	}
}

func run(dev *sweep.Device, log *logrus.Entry, verb, field string, rest []string) error {
	switch verb {
	case "get":
		return runGet(dev, field)
	case "set":
		if len(rest) != 1 {
			usage()
			os.Exit(1)
		}
		return runSet(dev, log, field, rest[0])
	default:
		usage()
		os.Exit(1)
		return nil
	}
}

func runGet(dev *sweep.Device, field string) error {
	switch field {
	case "motor_speed":
		hz, err := dev.GetMotorSpeed()
		if err != nil {
			return err
		}
		fmt.Println(hz)
	case "sample_rate":
		hz, err := dev.GetSampleRate()
		if err != nil {
			return err
		}
		fmt.Println(hz)
	default:
		usage()
		os.Exit(1)
	}
	return nil
}

func runSet(dev *sweep.Device, log *logrus.Entry, field, value string) error {
	var n int
	if _, err := fmt.Sscanf(value, "%d", &n); err != nil {
		return fmt.Errorf("sweep-ctl: %q is not an integer: %w", value, err)
	}

	switch field {
	case "motor_speed":
		if err := dev.SetMotorSpeed(n); err != nil {
			return err
		}
		log.WithField("motor_speed", n).Info("set")
		fmt.Println(n)
	case "sample_rate":
		if err := dev.SetSampleRate(n); err != nil {
			return err
		}
		log.WithField("sample_rate", n).Info("set")
		fmt.Println(n)
	default:
		usage()
		os.Exit(1)
	}
	return nil
}
