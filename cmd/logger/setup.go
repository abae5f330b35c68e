package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fako1024/perchscale/pkg/config"
	"github.com/fako1024/perchscale/pkg/discovery"
	"github.com/fako1024/perchscale/pkg/eventlog"
	"github.com/fako1024/perchscale/pkg/felicita"
	"github.com/fako1024/perchscale/pkg/indicator"
	"github.com/fako1024/perchscale/pkg/notify"
	"github.com/fako1024/perchscale/pkg/scale"
	"github.com/fako1024/perchscale/pkg/simulator"
	"github.com/fako1024/perchscale/pkg/statefile"
)

func newNotifier(cfg config.Config) (notify.Notifier, error) {
	if !cfg.AlertsEnabled() {
		return nil, nil
	}

	tpl, err := notify.NewTemplate(cfg.Alerts.Template)
	if err != nil {
		return nil, err
	}

	if cfg.Alerts.WebhookURL != "" {
		return notify.NewWebhookNotifier(cfg.Alerts.WebhookURL, tpl)
	}

	return notify.NewMailNotifier(cfg.Alerts.SMTP, tpl)
}

func newFactory(ctx context.Context, cfg config.Config, rediscover bool, logger scale.Logger) (scale.Factory, error) {
	if cfg.Device.Simulate {
		scenario, err := simulator.ParseScenario(cfg.Device.Scenario)
		if err != nil {
			return nil, err
		}
		sim, err := simulator.New(scenario, simulator.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		logger.Infof("using simulator with scenario: %s", sim.Scenario())

		// The simulated scale outlives its link, a reconnect reuses it
		return func() (scale.Device, error) {
			return sim, nil
		}, nil
	}

	addr, err := resolveAddress(ctx, cfg, rediscover, logger)
	if err != nil {
		return nil, err
	}

	options := []func(*felicita.Felicita){
		felicita.WithDeviceID(addr),
		felicita.WithLogger(logger),
	}
	if cfg.Device.Name != "" {
		options = append(options, felicita.WithDeviceName(cfg.Device.Name))
	}

	return func() (scale.Device, error) {
		return felicita.New(options...)
	}, nil
}

// resolveAddress returns the configured address, the cached one or the result
// of a new discovery (which is cached for the next run)
func resolveAddress(ctx context.Context, cfg config.Config, rediscover bool, logger scale.Logger) (string, error) {
	if cfg.Device.Address != "" && !rediscover {
		return cfg.Device.Address, nil
	}

	store, err := statefile.NewAddressStore()
	if err != nil {
		return "", err
	}

	if !rediscover {
		addr, err := store.Load()
		if err == nil {
			logger.Infof("using cached address: %s", addr)
			return addr, nil
		}
		if !errors.Is(err, statefile.ErrNotFound) {
			logger.Warnf("ignoring cached address: %s", err)
		}
	}

	options := []func(*discovery.Scanner){
		discovery.WithLogger(logger),
	}
	if cfg.Device.Name != "" {
		options = append(options, discovery.WithKeywords(cfg.Device.Name))
	}
	scanner, err := discovery.New(options...)
	if err != nil {
		return "", err
	}

	// The scanner must let go of the adapter before the scale driver opens it
	logger.Info("scanning for scales...")
	candidates, err := scanner.Discover(ctx)
	if cerr := scanner.Close(); cerr != nil {
		logger.Warnf("failed to release bluetooth device after scan: %s", cerr)
	}
	if err != nil {
		return "", fmt.Errorf("discovery failed: %w", err)
	}

	choice, err := selectCandidate(candidates, os.Stdin, os.Stdout)
	if err != nil {
		return "", err
	}

	if err := store.Save(choice.Address); err != nil {
		logger.Warnf("failed to cache address: %s", err)
	} else {
		logger.Infof("saved address %s to %s", choice.Address, store.Path())
	}

	return choice.Address, nil
}

// selectCandidate returns the only candidate or asks the operator to pick one
func selectCandidate(candidates []discovery.Candidate, in io.Reader, out io.Writer) (discovery.Candidate, error) {
	switch len(candidates) {
	case 0:
		return discovery.Candidate{}, discovery.ErrNoDevice
	case 1:
		return candidates[0], nil
	}

	fmt.Fprintln(out, "Multiple scales found:")
	for i, c := range candidates {
		fmt.Fprintf(out, "  %d. %s\n", i+1, c)
	}
	fmt.Fprint(out, "Select device number: ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return discovery.Candidate{}, fmt.Errorf("failed to read selection: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || n < 1 || n > len(candidates) {
		return discovery.Candidate{}, fmt.Errorf("invalid selection `%s`", strings.TrimSpace(line))
	}

	return candidates[n-1], nil
}

// openSink opens the CSV event log and any configured mirrors. Only a failure
// to open the CSV file is fatal
func openSink(ctx context.Context, cfg config.Config, logger scale.Logger) (eventlog.Sink, error) {
	csv, err := eventlog.OpenCSV(cfg.Output.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}

	deviceID := cfg.Device.Address
	if cfg.Device.Simulate {
		deviceID = "simulator"
	}

	var mirrors []eventlog.Sink
	if cfg.Output.MQTT.Broker != "" {
		mqttSink, err := eventlog.DialMQTT(cfg.Output.MQTT.Broker, cfg.Output.MQTT.Topic, deviceID)
		if err != nil {
			logger.Errorf("not mirroring events to mqtt: %s", err)
		} else {
			logger.Infof("mirroring events to %s (topic %s)", cfg.Output.MQTT.Broker, cfg.Output.MQTT.Topic)
			mirrors = append(mirrors, mqttSink)
		}
	}
	if cfg.Output.PostgresURL != "" {
		pgSink, err := eventlog.DialPostgres(ctx, cfg.Output.PostgresURL, deviceID)
		if err != nil {
			logger.Errorf("not mirroring events to postgres: %s", err)
		} else {
			logger.Info("mirroring events to postgres")
			mirrors = append(mirrors, pgSink)
		}
	}

	if len(mirrors) == 0 {
		return csv, nil
	}
	return eventlog.NewMulti(csv, logger, mirrors...), nil
}

func newIndicator(cfg config.Config, logger scale.Logger) indicator.Indicator {
	if cfg.LED.Pin < 0 {
		return indicator.Nop{}
	}

	led, err := indicator.NewLED(cfg.LED.Chip, cfg.LED.Pin)
	if err != nil {
		logger.Warnf("occupancy indicator disabled: %s", err)
		return indicator.Nop{}
	}

	return led
}
