package main

import (
	"io"
	"os"

	tty "github.com/mattn/go-tty"
)

// console is the terminal that backs the kernel console device.
type console struct {
	in  io.Reader
	out io.Writer

	tty *tty.TTY
}

// openConsole attaches to the controlling terminal. When the runner has no
// terminal (e.g. its output is piped) the standard streams are used
// instead.
func openConsole() *console {
	t, err := tty.Open()
	if err != nil {
		return &console{in: os.Stdin, out: os.Stdout}
	}
	return &console{in: t.Input(), out: t.Output(), tty: t}
}

func (c *console) Read(p []byte) (int, error) {
	return c.in.Read(p)
}

func (c *console) Write(p []byte) (int, error) {
	return c.out.Write(p)
}

func (c *console) Close() error {
	if c.tty == nil {
		return nil
	}
	return c.tty.Close()
}
