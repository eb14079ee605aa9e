// Command slotlogdemo drives a registry with a few producers: the main
// thread logging inline first, then locked OS threads that switch the
// registry to threaded flush.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"golang.org/x/sync/errgroup"

	"github.com/abyssdigger/slotlog"
)

var (
	configPath = flag.String("config", "", "YAML configuration file (defaults when empty)")
	producers  = flag.Int("producers", 4, "Number of producer threads")
	records    = flag.Int("records", 1000, "Records per producer")
	jsonOut    = flag.Bool("json", false, "Also write every record as JSON to stderr")
	colors     = flag.Bool("colors", false, "ANSI colors on the console")
	repeat     = flag.Int("repeat", 50, "Writes of the same call site per producer, to show suppression")
)

func main() {
	flag.Parse()

	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(os.Stderr)),
		stumpy.L.WithLevel(logiface.LevelDebug),
	)

	if err := run(logger); err != nil {
		logger.Err().Err(err).Log("demo failed")
		os.Exit(1)
	}
}

func run(logger *logiface.Logger[*stumpy.Event]) error {
	cfg := slotlog.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = slotlog.LoadConfig(*configPath); err != nil {
			return err
		}
	}

	var opts []slotlog.Option
	if *colors {
		opts = append(opts, slotlog.WithConsoleColors(slotlog.LevelColorOnBlackMap))
	}
	reg, err := slotlog.InitFromConfig(cfg, opts...)
	if err != nil {
		return err
	}
	if *jsonOut {
		reg.AddHandler(slotlog.NewJSONHandler(os.Stderr))
	}
	logger.Info().
		Int("slots", reg.SlotCount()).
		Str("mode", reg.Mode().String()).
		Log("registry started")

	start := time.Now()
	if err := stage1(reg); err != nil {
		return err
	}
	logger.Debug().Str("mode", reg.Mode().String()).Log("inline stage done")

	if err := stage2(reg); err != nil {
		return err
	}
	reg.Shutdown()

	logger.Info().
		Str("mode", reg.Mode().String()).
		Uint64("overflows", reg.Overflows()).
		Uint64("suppressed", reg.Suppressed()).
		Dur("took", time.Since(start)).
		Log("registry stopped")
	return nil
}

// stage1 logs from the main thread only, records are drained inline.
func stage1(reg *slotlog.Registry) error {
	log, err := reg.Main()
	if err != nil {
		return err
	}
	for level := slotlog.LVL_VERBOSE; level <= slotlog.LVL_FATAL; level++ {
		log.Log(level, "<test>")
	}
	fmt.Fprintf(log.Lvl(slotlog.LVL_WARN), "written through io.Writer at %s", slotlog.LVL_WARN)
	return nil
}

// stage2 starts producer threads, the first write of one of them enables
// threaded flush.
func stage2(reg *slotlog.Registry) error {
	g, _ := errgroup.WithContext(context.Background())
	for i := range *producers {
		g.Go(func() error {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			tid := slotlog.CurrentOSThread()
			if tid == 0 {
				tid = reg.NewThreadID()
			}
			log, err := reg.Assign(tid)
			if err != nil {
				return fmt.Errorf("producer %d: %w", i, err)
			}
			defer log.Release()
			for n := range *records {
				log.Logf(slotlog.LVL_INFO, "producer %d record %d", i, n)
			}
			for range *repeat {
				log.Warn("same call site")
			}
			return log.FlushSuppressed()
		})
	}
	return g.Wait()
}
