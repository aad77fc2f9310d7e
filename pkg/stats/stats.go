package stats

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

const megabyte = 1 << 20

// EnableStatistics enables a goroutine that periodically prints memory usage
// and goroutine count of the process. On shutdown it dumps the default
// prometheus metrics (swap and refund counters included) to a file in the
// given directory.
func EnableStatistics(ctx context.Context, datadir string, interval time.Duration) {
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				printMemoryStatistics()
				printNumOfRoutines()
			case <-ctx.Done():
				if err := dumpPrometheusDefaults(datadir); err != nil {
					log.WithError(err).Warn("cannot dump prometheus metrics")
				}
				return
			}
		}
	}()
}

func toMegabytes(bytes uint64) float64 {
	return float64(bytes) / megabyte
}

func printMemoryStatistics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	log.Infof(
		"Total allocated: %.1fMB, Heap allocated: %.1fMB, "+
			"Allocated objects count: %v, Freed objects count: %v",
		toMegabytes(memStats.TotalAlloc),
		toMegabytes(memStats.HeapAlloc),
		memStats.Mallocs,
		memStats.Frees,
	)
}

func printNumOfRoutines() {
	log.Infof("Num of go routines: %v", runtime.NumGoroutine())
}

func dumpPrometheusDefaults(datadir string) error {
	file, err := os.OpenFile(
		filepath.Join(datadir, "stats"),
		os.O_APPEND|os.O_CREATE|os.O_RDWR,
		0644,
	)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	metricFamily, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return err
	}
	for _, v := range metricFamily {
		if _, err := writer.WriteString(v.String() + "\n"); err != nil {
			return err
		}
	}
	return writer.Flush()
}
