package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/triosdev/trios/internal/cli"
	"github.com/triosdev/trios/internal/fs"
	"github.com/triosdev/trios/internal/kernel"
	"github.com/triosdev/trios/internal/log"
	"github.com/triosdev/trios/internal/monitor"
	"github.com/triosdev/trios/internal/tty"
)

// Boot returns the boot command: assemble or load a filesystem image, bring the kernel up, and
// attach the host terminal as the console.
func Boot() cli.Command {
	boot := &booter{log: log.DefaultLogger()}
	return boot
}

type booter struct {
	logLevel slog.Level
	image    string
	timeout  time.Duration
	headless bool

	log *log.Logger
}

func (booter) Description() string {
	return "boot the kernel"
}

func (booter) Usage(out io.Writer) error {
	var err error
	_, err = fmt.Fprintln(out, `boot [-image file.img] [-timeout duration]

Boots the kernel with three virtual terminals on the host console. F1, F2 and F3
switch terminals; Ctrl+C interrupts the foreground task.`)

	return err
}

func (b *booter) FlagSet() *cli.FlagSet {
	fs := flag.NewFlagSet("boot", flag.ExitOnError)
	fs.StringVar(&b.image, "image", "", "boot from filesystem image `file` instead of the built-in image")
	fs.DurationVar(&b.timeout, "timeout", 0, "halt the machine after `duration` (0 runs until the console closes)")
	fs.BoolVar(&b.headless, "headless", false, "run without attaching the host terminal")
	fs.Func("loglevel", "set log `level`", func(s string) error {
		return b.logLevel.UnmarshalText([]byte(s))
	})

	return fs
}

// Run boots the machine.
func (b *booter) Run(ctx context.Context, args []string, stdout io.Writer, logger *log.Logger) int {
	log.LogLevel.Set(b.logLevel)

	k, err := b.makeKernel()
	if err != nil {
		logger.Error("Error assembling boot image", "err", err)
		return 1
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(context.Canceled)

	if b.timeout > 0 {
		var cancelTimeout context.CancelFunc

		ctx, cancelTimeout = context.WithTimeout(ctx, b.timeout)
		defer cancelTimeout()
	}

	if !b.headless {
		consoleCtx, _, restore := tty.ConsoleContext(ctx, k.Keyboard(), k.Terminals())
		defer restore()

		if err := context.Cause(consoleCtx); errors.Is(err, tty.ErrNoTTY) {
			logger.Error("No terminal attached; use -headless to run without one")
			return 1
		}

		ctx = consoleCtx
	}

	logger.Info("Starting machine")

	err = k.Boot(ctx)

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		logger.Info("Machine halted", "reason", "timeout")
		return 0
	case err != nil && !errors.Is(err, context.Canceled):
		logger.Error("Machine fault", "err", err)
		return 2
	default:
		logger.Info("Machine halted")
		return 0
	}
}

// makeKernel mounts the image named by the -image flag, or assembles the built-in one.
func (b *booter) makeKernel() (*kernel.Kernel, error) {
	if b.image == "" {
		return monitor.Boot()
	}

	raw, err := os.ReadFile(b.image)
	if err != nil {
		return nil, err
	}

	parsed, err := fs.Parse(raw)
	if err != nil {
		return nil, err
	}

	return kernel.New(parsed), nil
}
