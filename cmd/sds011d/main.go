/*
sds011d samples SDS011 particulate sensors on a duty cycle and stores readings

Sensors are listed in config, or found from /dev/ttyUSB* when list is empty.
With -sim N simulated sensors are used instead of serial ports
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	sds011 "github.com/hjkoskel/sds011sampler"
	"github.com/hjkoskel/sds011sampler/internal/config"
	"github.com/hjkoskel/sds011sampler/internal/discovery"
	"github.com/hjkoskel/sds011sampler/internal/fleet"
	"github.com/hjkoskel/sds011sampler/internal/httpapi"
	"github.com/hjkoskel/sds011sampler/internal/logging"
	"github.com/hjkoskel/sds011sampler/internal/metrics"
	"github.com/hjkoskel/sds011sampler/internal/sink"
	"github.com/hjkoskel/sds011sampler/sds011sim"
)

const firstSimulatedID = 0xA160

func main() {
	pConfig := flag.String("config", "", "config file (yaml/json/toml). Default ./sds011.yaml if exists")
	pSim := flag.Int("sim", 0, "run N simulated sensors instead of serial ports")
	flag.Parse()

	cfg, err := config.Load(*pConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}

	log, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()

	if err := run(cfg, *pSim, log); err != nil {
		log.Error("sds011d failed", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, nSim int, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	sensorMetrics := metrics.NewSensorMetrics(reg)

	sinks := &sink.Multi{Sinks: buildSinks(ctx, cfg.Sinks, log), OnResult: sensorMetrics.SinkResult}
	defer func() {
		if err := sinks.Close(); err != nil {
			log.Warn("closing sinks", zap.Error(err))
		}
	}()

	fl := fleet.New(cfg.Polling.Tick, &sink.Recorder{Sink: sinks, Timeout: cfg.Polling.SinkTimeout, Log: log}, log)
	opts := []sds011.Option{
		sds011.WithLogger(log),
		sds011.WithRecorder(fl),
		sds011.WithObserver(sensorMetrics),
	}

	var sims map[string]*sds011sim.Sensor
	if 0 < nSim {
		sims = addSimulated(fl, cfg, nSim, opts, log)
	} else if err := addSerial(fl, cfg, opts, log); err != nil {
		return err
	}
	if fl.Len() == 0 {
		return fmt.Errorf("no usable sensors")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return fl.Run(ctx)
	})
	if cfg.HTTP.Enable {
		router := httpapi.NewRouter(fl, httpapi.Options{Metrics: metrics.Handler(reg), Sims: sims})
		g.Go(func() error {
			return httpapi.Serve(ctx, cfg.HTTP.Addr, router, log)
		})
	}
	err := g.Wait()
	log.Info("sds011d stopped")
	return err
}

func addSimulated(fl *fleet.Fleet, cfg *config.Config, n int, opts []sds011.Option, log *zap.Logger) map[string]*sds011sim.Sensor {
	result := make(map[string]*sds011sim.Sensor, n)
	for i := 0; i < n; i++ {
		id := uint16(firstSimulatedID + i)
		sim := sds011sim.NewSensor(id)
		name := "sds011_" + sds011.FormatDeviceID(id)
		drvCfg := cfg.SensorDriverConfig(config.SensorConfig{Path: fmt.Sprintf("sim%d", i), Name: name})
		d, err := sds011.NewDriver(sim, drvCfg, opts...)
		if err != nil {
			log.Error("simulated sensor refused", zap.String("sensor", name), zap.Error(err))
			continue
		}
		fl.Add(d)
		result[name] = sim
	}
	return result
}

// Sensors from config or discovery. Port that does not open is refused, others continue
func addSerial(fl *fleet.Fleet, cfg *config.Config, opts []sds011.Option, log *zap.Logger) error {
	sensors := cfg.Sensors
	if len(sensors) == 0 {
		finder := discovery.Finder{Glob: cfg.Polling.DiscoverGlob, InUse: discovery.PortInUse, Log: log}
		ports, err := finder.Ports(nil)
		if err != nil {
			return err
		}
		log.Info("discovered serial ports", zap.Strings("ports", ports))
		for _, port := range ports {
			sensors = append(sensors, config.SensorConfig{Path: port})
		}
	}

	for _, s := range sensors {
		d, err := sds011.Open(cfg.SensorDriverConfig(s), opts...)
		if err != nil {
			log.Error("sensor refused", zap.String("port", s.Path), zap.Error(err))
			continue
		}
		fl.Add(d)
	}
	return nil
}

// Sink that fails to connect at start is left out, daemon still runs with others
func buildSinks(ctx context.Context, cfg config.SinksConfig, log *zap.Logger) []sink.Sink {
	result := []sink.Sink{}
	if cfg.CSV.Enable {
		result = append(result, sink.NewCSVSink(cfg.CSV.BaseDir))
	}
	if cfg.MQTT.Enable {
		s, err := sink.NewMQTTSink(cfg.MQTT)
		if err != nil {
			log.Error("mqtt sink disabled", zap.Error(err))
		} else {
			result = append(result, s)
		}
	}
	if cfg.Domoticz.Enable {
		result = append(result, sink.NewDomoticzSink(cfg.Domoticz, nil))
	}
	if cfg.Kafka.Enable {
		result = append(result, sink.NewKafkaSink(cfg.Kafka))
	}
	if cfg.Postgres.Enable {
		s, err := sink.NewPostgresSink(ctx, cfg.Postgres.DSN)
		if err != nil {
			log.Error("postgres sink disabled", zap.Error(err))
		} else {
			result = append(result, s)
		}
	}
	if cfg.Redis.Enable {
		s, err := sink.NewRedisSink(ctx, cfg.Redis)
		if err != nil {
			log.Error("redis sink disabled", zap.Error(err))
		} else {
			result = append(result, s)
		}
	}
	names := make([]string, 0, len(result))
	for _, s := range result {
		names = append(names, s.Name())
	}
	log.Info("sinks ready", zap.Strings("sinks", names))
	return result
}
