package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jobtube/beanstalkd/internal/server"
)

var (
	listenAddr string
	maxJobSize int
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:   "beanstalkd",
		Short: "An in-memory Beanstalk-protocol work-queue server",
		RunE:  run,
	}
	root.Flags().StringVarP(&listenAddr, "listen", "l", ":3000", "address to listen on")
	root.Flags().IntVarP(&maxJobSize, "max-job-size", "b", server.DefaultMaxJobSize, "maximum accepted job body size, in bytes")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	instanceID := uuid.NewString()
	srv := server.New(server.Config{Address: listenAddr, MaxJobSize: maxJobSize}, instanceID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1)
	go func() {
		for s := range sig {
			switch s {
			case syscall.SIGUSR1:
				srv.Drain()
				logrus.Info("drain mode enabled: put now fails with DRAINING")
			default:
				logrus.WithField("signal", s).Info("received signal, shutting down")
				cancel()
				return
			}
		}
	}()

	logrus.WithFields(logrus.Fields{
		"instance": instanceID,
		"addr":     listenAddr,
	}).Info("starting beanstalkd core")

	return srv.Serve(ctx)
}
