package main

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"raftjournal/journal"
)

func main() {
	logger := log.NewLogfmtLogger(os.Stdout)
	registerer := prometheus.NewRegistry()

	os.MkdirAll("data", 0777)

	j, err := journal.Open(journal.Config{
		Directory:           "data",
		MaxSegmentSize:      32 * 1024 * 1024,
		JournalIndexDensity: 32,
		FlushExplicitly:     false,
	}, logger, registerer)

	if err != nil {
		level.Error(logger).Log("err", err)
		return
	}

	done := false

	wg := sync.WaitGroup{}
	wg.Add(1)

	go func() {
		defer wg.Done()

		asqn := int64(0)
		now := time.Now()

		for !done {
			if _, err := j.Append(asqn, []byte("It's hello world test for journal")); err != nil {
				level.Error(logger).Log("err", err)
			}

			asqn++
		}

		logger.Log("now", time.Now(), "since", time.Since(now), "asqn", asqn, "msg", "records have been written")
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	logger.Log("msg", "app started...")
	<-sigs

	done = true
	wg.Wait()

	if err := j.Close(); err != nil {
		level.Error(logger).Log("msg", "error closing journal", "err", err)
	}

	logger.Log("msg", "exiting...")
}
