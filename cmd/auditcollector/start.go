package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Eric5553/pgaudit-collector/internal/collector"
	"github.com/Eric5553/pgaudit-collector/internal/config"
	"github.com/Eric5553/pgaudit-collector/internal/control"
	"github.com/Eric5553/pgaudit-collector/internal/log"
	"github.com/Eric5553/pgaudit-collector/internal/record"
	"github.com/Eric5553/pgaudit-collector/internal/tail"
)

const (
	usage                 = "start"
	short                 = "Start the audit collector"
	defaultConfigFilePath = "./auditcollector.yml"
)

var (
	startCmd = &cobra.Command{
		Use:   usage,
		Short: short,
		RunE:  executeStart,
	}
	configFilePath string
	pipePath       string
)

func init() {
	startCmd.Flags().StringVarP(&configFilePath, "config", "c", defaultConfigFilePath,
		"path to the audit collector YAML configuration file")
	startCmd.Flags().StringVar(&pipePath, "pipe", "",
		"path to the producer FIFO to read from (defaults to stdin, the inherited-fd model)")
	rootCmd.AddCommand(startCmd)
}

func executeStart(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		return fmt.Errorf("read configuration file: %w", err)
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return fmt.Errorf("parse configuration file: %w", err)
	}

	if err := os.MkdirAll(cfg.Directory, 0o700); err != nil {
		return fmt.Errorf("create audit directory: %w", err)
	}

	var pipe *os.File
	if pipePath != "" {
		pipe, err = os.OpenFile(pipePath, os.O_RDONLY, 0)
		if err != nil {
			return fmt.Errorf("open producer pipe %s: %w", pipePath, err)
		}
	} else {
		pipe = os.Stdin
	}

	var broadcaster *tail.Broadcaster
	if cfg.TailListenAddress != "" {
		broadcaster = tail.NewBroadcaster()
		mux := http.NewServeMux()
		mux.HandleFunc("/tail", broadcaster.Handler)
		go func() {
			log.Info("auditcollector: live-tail listening on %s", cfg.TailListenAddress)
			if err := http.ListenAndServe(cfg.TailListenAddress, mux); err != nil {
				log.Error("auditcollector: tail server exited: %v", err)
			}
		}()
	}

	c := collector.New(cfg.Directory, pipe, cfg, func(rec *record.Record) {
		if broadcaster != nil {
			broadcaster.Publish(rec)
		}
	})

	if err := c.Start(time.Now()); err != nil {
		return fmt.Errorf("collector startup: %w", err)
	}

	facade := control.New(c)
	registerSignals(facade, cfg, configFilePath)

	log.Info("auditcollector: running, audit directory %s", cfg.Directory)
	return c.Run()
}

func registerSignals(facade *control.Facade, cfg *config.Snapshot, path string) {
	sigCh := make(chan os.Signal, 10)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGHUP:
				data, err := os.ReadFile(path)
				if err != nil {
					log.Error("auditcollector: reload: reading %s: %v", path, err)
					continue
				}
				newCfg, err := config.Parse(data)
				if err != nil {
					log.Error("auditcollector: reload: parsing %s: %v", path, err)
					continue
				}
				facade.Reload(newCfg)
			case syscall.SIGUSR1:
				facade.Rotate()
			case syscall.SIGINT, syscall.SIGTERM:
				log.Info("auditcollector: shutdown requested by %v", sig)
				facade.Terminate()
			}
		}
	}()
}
