package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"zigbee-sensor-node/internal/app"
	"zigbee-sensor-node/internal/battery"
	"zigbee-sensor-node/internal/config"
	"zigbee-sensor-node/internal/gpio"
	"zigbee-sensor-node/internal/led"
	"zigbee-sensor-node/internal/ncp"
	"zigbee-sensor-node/internal/sensor"
	"zigbee-sensor-node/internal/store"
	"zigbee-sensor-node/internal/timer"
	"zigbee-sensor-node/internal/web"
	"zigbee-sensor-node/internal/zcl"
	"zigbee-sensor-node/internal/zcl/clusters"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}
	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("sensor-node starting", "version", version, "sensor", cfg.Sensor.Profile)

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if attrs, err := db.ListAttributes(); err == nil {
		logger.Info("store opened", "path", cfg.Store.Path, "attributes", len(attrs))
	}
	if ns, err := db.GetNetworkState(); err == nil {
		logger.Info("last network", "channel", ns.Channel,
			"pan_id", fmt.Sprintf("0x%04X", ns.PanID), "joins", ns.Joins)
	}

	conf := config.NewAdapter(config.Load(db, logger), db, logger.With("component", "config"))
	clock := timer.NewRuntime(timer.DefaultTickRate)

	drv, err := sensor.Open(sensor.Config{
		Profile: cfg.Sensor.Profile,
		I2CBus:  cfg.Sensor.I2CBus,
		Address: cfg.Sensor.Address,
		Script:  cfg.Sensor.Script,
	}, func() uint32 { return clock.TicksToMs(clock.NowTicks()) }, logger.With("component", "sensor"))
	if err != nil {
		logger.Error("open sensor", "err", err)
		os.Exit(1)
	}
	if c, ok := drv.(interface{ Close() }); ok {
		defer c.Close()
	}

	zboss, err := ncp.Open(ncp.Config{
		Port:          cfg.NCP.Port,
		BaudRate:      cfg.NCP.Baud,
		MaxPendingOps: cfg.NCP.MaxPendingOps,
		ScanDuration:  cfg.NCP.ScanDuration,
		Sleepy:        cfg.NCP.Sleepy,
	}, logger.With("component", "ncp"))
	if err != nil {
		logger.Error("open ncp", "err", err)
		os.Exit(1)
	}
	defer zboss.Close()

	registry := zcl.NewRegistry(logger)
	table := zcl.NewAttributeTable(registry, logger.With("component", "zcl"))
	reporter := ncp.NewReporter(zboss, logger.With("component", "report"))

	deps := app.Deps{
		Stack:      zboss,
		Clock:      clock,
		Sensor:     drv,
		Battery:    openBattery(cfg, logger),
		Attributes: table,
		Config:     conf,
		Reporter:   reporter,
		Store:      db,
	}
	ledOut, indicator := openIndicator(cfg, logger)
	if indicator != nil {
		deps.Indicator = indicator
		defer ledOut.Close()
		defer indicator.Close()
	}

	node := app.New(cfg.nodeConfig(), deps, logger.With("component", "app"))
	if btn := openButton(cfg, node, clock, logger); btn != nil {
		node.SetButtonLevel(btn)
		defer btn.Close()
	}
	if err := node.Init(); err != nil {
		// The node can still join and serve configuration.
		logger.Error("node init", "err", err)
	}

	profile := clusters.Profile{Humidity: drv.HasHumidity(), Pressure: drv.HasPressure()}
	inClusters := clusters.Register(registry, profile)
	if err := clusters.WriteStatic(table, clusters.Identity{
		Manufacturer: cfg.Device.Manufacturer,
		Model:        cfg.Device.Model,
		SWBuildID:    version,
	}, profile); err != nil {
		logger.Error("write static attributes", "err", err)
		os.Exit(1)
	}
	trackReports(reporter, conf.Config(), profile)

	table.Handle(clusters.IDBasic, zcl.ManufacturerCode, node.ConfigHandler())
	table.SetNotifier(reporter)
	zboss.SetInClusters(inClusters)
	zboss.SetAttributeServer(table)
	zboss.SetReporter(reporter)
	zboss.SetCallbacks(node.Callbacks())
	logger.Info("endpoint ready", "clusters", len(inClusters),
		"humidity", profile.Humidity, "pressure", profile.Pressure)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := node.Run(ctx); err != nil {
			logger.Error("main loop", "err", err)
		}
	}()
	go reporter.Run(ctx)

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = zboss.Start(startCtx)
	cancel()
	if err != nil {
		logger.Error("start ncp", "err", err)
		stop()
		<-loopDone
		os.Exit(1)
	}

	webOpts := []web.ServerOption{
		web.WithRegistry(registry),
		web.WithVersion(version),
		web.WithDebug(cfg.Web.Debug),
	}
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webServer := web.NewServer(node, logger.With("component", "web"), webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "err", err)
		}
	}()

	mqtt := initMQTT(node, cfg, profile, logger)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	<-loopDone

	logger.Info("goodbye")
}

func openBattery(cfg *Config, logger *slog.Logger) battery.Driver {
	if cfg.Battery.Source == "iio" {
		return battery.NewIIO(battery.IIOConfig{
			RawPath: cfg.Battery.IIOPath,
			Scale:   cfg.Battery.Scale,
			Divider: cfg.Battery.Divider,
		}, logger.With("component", "battery"))
	}
	logger.Info("battery monitoring uses a fixed voltage", "mv", cfg.Battery.FixedMv)
	return battery.NewFixed(cfg.Battery.FixedMv)
}

// openIndicator returns nil when no LED line is configured or the line
// cannot be claimed.
func openIndicator(cfg *Config, logger *slog.Logger) (*gpio.LED, *led.Indicator) {
	if cfg.GPIO.LEDLine == nil {
		return nil, nil
	}
	out, err := gpio.NewLED(cfg.GPIO.Chip, *cfg.GPIO.LEDLine, cfg.GPIO.ActiveLow)
	if err != nil {
		logger.Warn("status LED unavailable", "chip", cfg.GPIO.Chip, "line", *cfg.GPIO.LEDLine, "err", err)
		return nil, nil
	}
	return out, led.New(out, logger.With("component", "led"))
}

func openButton(cfg *Config, node *app.Node, ticks gpio.TickSource, logger *slog.Logger) *gpio.Button {
	if cfg.GPIO.ButtonLine == nil {
		logger.Info("no button configured; use the web debug trigger or MQTT")
		return nil
	}
	btn, err := gpio.NewButton(cfg.GPIO.Chip, *cfg.GPIO.ButtonLine, cfg.GPIO.ActiveLow, node.Edges(), ticks)
	if err != nil {
		logger.Warn("button unavailable", "chip", cfg.GPIO.Chip, "line", *cfg.GPIO.ButtonLine, "err", err)
		return nil
	}
	return btn
}

// trackReports registers the reportable measurements with their configured
// reportable change.
func trackReports(r *ncp.Reporter, c config.RuntimeConfig, p clusters.Profile) {
	r.Track(clusters.IDTemperature, clusters.AttrMeasuredValue, zcl.TypeInt16, uint64(c.TemperatureThreshold))
	if p.Humidity {
		r.Track(clusters.IDHumidity, clusters.AttrMeasuredValue, zcl.TypeUint16, uint64(c.HumidityThreshold))
	}
	if p.Pressure {
		r.Track(clusters.IDPressure, clusters.AttrMeasuredValue, zcl.TypeInt16, uint64(c.PressureThreshold))
	}
	r.Track(clusters.IDPowerConfig, clusters.AttrBatteryVoltage, zcl.TypeUint8, 1)
	r.Track(clusters.IDPowerConfig, clusters.AttrBatteryPercentage, zcl.TypeUint8, 2)
}
