// Command kboot boots the kernel on the host. The kernel console is
// attached to the terminal and a goroutine drives the timer interrupt.
package main

import (
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"sync/atomic"
	"time"

	"gopherix/kernel/cpu"
	"gopherix/kernel/kfmt"
	"gopherix/kernel/kmain"
	"gopherix/kernel/proc"
	"gopherix/kernel/task"
	"gopherix/kernel/vfs"
)

// stepBatch is the number of instructions run between checks of the
// tick budget and the state of init.
const stepBatch = 1000

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[kboot] error: %s\n", err.Error())
	os.Exit(1)
}

func main() {
	cfg := kmain.DefaultConfig()

	var (
		memMB    = flag.Uint("mem", uint(cfg.MemSize>>20), "physical memory in MB")
		tasks    = flag.Int("tasks", cfg.Tasks, "task table size")
		hz       = flag.Int("hz", cfg.HZ, "timer frequency")
		initPath = flag.String("init", cfg.Init, "path of the init program")
		maxTicks = flag.Uint("ticks", 0, "stop after this many timer ticks (0 runs until init exits)")
		root     = flag.String("root", "", "host directory whose files are mounted at /")
		quiet    = flag.Bool("q", false, "do not print kernel log messages")
		frameMap = flag.String("framemap", "", "write a PNG of physical frame usage to this file on exit")
	)
	flag.Parse()

	cfg.MemSize = uint32(*memMB) << 20
	cfg.Tasks = *tasks
	cfg.HZ = *hz
	cfg.Init = *initPath
	cfg.InitArgs = append([]string{*initPath}, flag.Args()...)

	var logSink io.Writer = &kfmt.PrefixWriter{Sink: os.Stderr, Prefix: []byte("kernel: ")}
	if *quiet {
		logSink = ioutil.Discard
	}
	kfmt.SetOutputSink(logSink)

	con := openConsole()
	defer con.Close()

	fs, err := buildFS(*root, cfg.Init)
	if err != nil {
		exit(err)
	}
	if kerr := fs.RegisterDevice("/dev/console", vfs.NewConsole(con)); kerr != nil {
		exit(kerr)
	}

	k, kerr := kmain.Kmain(cfg, fs, con)
	if kerr != nil {
		exit(kerr)
	}

	var ticks uint32
	stop := startTimer(cfg.HZ, &ticks)
	status := run(k, uint32(*maxTicks), &ticks)
	stop()

	kfmt.Printf("[kboot] %d instructions, %d context switches\n", k.Steps(), k.Scheduler().Switches())
	k.Tasks().Dump(&kfmt.PrefixWriter{Sink: os.Stderr, Prefix: []byte("  ")})

	if *frameMap != "" {
		if err := saveFrameMap(k, *frameMap); err != nil {
			exit(err)
		}
	}

	if code, ok := proc.ExitCode(status); ok {
		os.Exit(int(code))
	}
	os.Exit(128 + int(status&0x7f))
}

// buildFS mounts the files below root. Without a root directory the demo
// init program is installed at initPath.
func buildFS(root, initPath string) (*vfs.MemFS, error) {
	fs := vfs.NewMemFS()
	if root == "" {
		fs.AddFile(initPath, demoInit())
		return fs, nil
	}

	count, err := loadImages(fs, root)
	if err != nil {
		return nil, err
	}
	kfmt.Printf("[kboot] mounted %d files from %s\n", count, root)
	return fs, nil
}

// startTimer raises the timer IRQ hz times per second until the returned
// function is called.
func startTimer(hz int, ticks *uint32) func() {
	if hz <= 0 {
		return func() {}
	}

	ticker := time.NewTicker(time.Second / time.Duration(hz))
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				atomic.AddUint32(ticks, 1)
				cpu.RaiseIRQ(0)
			case <-done:
				return
			}
		}
	}()

	return func() {
		ticker.Stop()
		close(done)
	}
}

// run drives the CPU until init (pid 1) has exited, nothing is runnable or
// maxTicks timer ticks have elapsed. It returns the wait status of init.
func run(k *proc.Kernel, maxTicks uint32, ticks *uint32) uint32 {
	initTask := k.Tasks().Get(1)
	for {
		_, idle := k.Run(stepBatch)

		if initTask == nil || !initTask.Alive() {
			break
		}
		if maxTicks != 0 && atomic.LoadUint32(ticks) >= maxTicks {
			kfmt.Printf("[kboot] tick budget exhausted\n")
			break
		}
		if idle {
			// Every task sleeps; only a signal from outside the
			// machine could wake one up.
			kfmt.Printf("[kboot] no runnable tasks\n")
			break
		}
	}

	if initTask == nil || initTask.State == task.StateNA {
		return 0
	}
	return initTask.Status
}
