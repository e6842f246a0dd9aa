package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/leafpatrol/internal/api"
	"github.com/banshee-data/leafpatrol/internal/config"
	"github.com/banshee-data/leafpatrol/internal/db"
	"github.com/banshee-data/leafpatrol/internal/drive"
	"github.com/banshee-data/leafpatrol/internal/eventlog"
	"github.com/banshee-data/leafpatrol/internal/fsutil"
	"github.com/banshee-data/leafpatrol/internal/httputil"
	"github.com/banshee-data/leafpatrol/internal/patrol"
	"github.com/banshee-data/leafpatrol/internal/ranging"
	"github.com/banshee-data/leafpatrol/internal/serialmux"
	"github.com/banshee-data/leafpatrol/internal/units"
	"github.com/banshee-data/leafpatrol/internal/version"
	"github.com/banshee-data/leafpatrol/internal/vision"
)

var (
	listen        = flag.String("listen", ":8080", "Listen address")
	port          = flag.String("port", "/dev/ttyACM0", "Serial port of the motor/ranging bridge (ignored in dev mode)")
	baud          = flag.Int("baud", 0, "Override the bridge baud rate from the config file (0 keeps the config value)")
	noBridge      = flag.Bool("no-bridge", false, "Run without a bridge; the robot never moves and every range reading is missing")
	devMode       = flag.Bool("dev", false, "Run against a simulated bridge, frames from -dev-frames and a canned classifier")
	dbPath        = flag.String("db-path", "leafpatrol.db", "Path to the SQLite database")
	logDir        = flag.String("log-dir", "logs", "Directory detection frames are written under")
	configFile    = flag.String("config", config.DefaultConfigPath, "Robot config JSON file (empty uses built-in defaults)")
	cameraURL     = flag.String("camera-url", "http://127.0.0.1:8081/capture", "Camera snapshot endpoint")
	classifierURL = flag.String("classifier-url", "http://127.0.0.1:8500/classify", "Leaf classifier endpoint")
	devFrames     = flag.String("dev-frames", "testdata/frames", "Directory of JPEG/PNG frames replayed in dev mode")
	peripheralTTL = flag.Duration("peripheral-timeout", 2*time.Second, "Timeout for camera and classifier requests")
	showVersion   = flag.Bool("version", false, "Print version information and exit")
)

// driveAuditBuffer bounds the wheel duty changes waiting to be written.
const driveAuditBuffer = 64

// devDistances is the range trace replayed by the simulated bridge: a
// cruise towards a wall, one missed echo, then an obstacle.
var devDistances = []float64{150, 120, 90, 60, 35, -1, 18, 140}

// devVerdicts is the canned classifier output in dev mode.
var devVerdicts = []patrol.ClassificationResult{
	{ClassIndex: patrol.ClassDiseased, Confidence: 0.93},
	{ClassIndex: patrol.ClassHealthy, Confidence: 0.88},
	{ClassIndex: patrol.ClassHealthy, Confidence: 0.42},
}

// bridgeFactory returns the opener used both at startup and on
// /api/bridge/reload.
func bridgeFactory(dev, disabled bool) api.BridgeFactory {
	return func(path string, opts serialmux.PortOptions) (serialmux.SerialMuxInterface, error) {
		switch {
		case disabled:
			return serialmux.NewDisabledSerialMux(), nil
		case dev:
			return serialmux.NewSimulatedSerialMux(devDistances...), nil
		}
		return serialmux.NewRealSerialMux(path, opts)
	}
}

// bridgeSource labels the initial snapshot.
func bridgeSource(dev, disabled bool) string {
	switch {
	case disabled:
		return "disabled"
	case dev:
		return "simulated"
	}
	return "config"
}

// loadConfig reads path, or returns the defaults when path is empty, and
// applies the -baud override.
func loadConfig(path string, baudOverride int) (*config.RobotConfig, error) {
	cfg := config.DefaultRobotConfig()
	if path != "" {
		var err error
		cfg, err = config.LoadRobotConfig(path)
		if err != nil {
			return nil, err
		}
	}
	if baudOverride > 0 {
		opts := cfg.GetSerial()
		opts.BaudRate = baudOverride
		if _, err := opts.Normalise(); err != nil {
			return nil, fmt.Errorf("-baud: %w", err)
		}
		cfg.Serial = &opts
	}
	return cfg, nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		return
	}

	if flag.NArg() > 0 && flag.Arg(0) == "migrate" {
		err := db.RunMigrateCommand(flag.Args()[1:], *dbPath, os.Stdout)
		switch {
		case errors.Is(err, db.ErrUsage):
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		case err != nil:
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if *port == "" && !*devMode && !*noBridge {
		log.Fatal("Serial port is required")
	}

	cfg, err := loadConfig(*configFile, *baud)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	loc, err := units.LoadTimezone(cfg.GetTimezone())
	if err != nil {
		log.Fatalf("failed to load timezone: %v", err)
	}
	log.Printf("%s", version.Get())

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	factory := bridgeFactory(*devMode, *noBridge)
	serialOpts := cfg.GetSerial()
	initial, err := factory(*port, serialOpts)
	if err != nil {
		log.Fatalf("failed to open bridge on %s: %v", *port, err)
	}
	if err := initial.Initialise(); err != nil {
		log.Fatalf("failed to initialise bridge: %v", err)
	}
	log.Printf("initialised bridge on %s (%s)", *port, bridgeSource(*devMode, *noBridge))

	bridge := api.NewBridgeManager(initial, api.BridgeSnapshot{
		PortPath: *port,
		Source:   bridgeSource(*devMode, *noBridge),
		Options:  serialOpts,
	}, factory)
	defer bridge.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sensor := ranging.NewSerialRangeSensor(bridge, cfg.GetRangeTimeout())
	defer sensor.Close()

	// duty changes are queued so the sqlite insert stays off the drive path
	driveAudit := make(chan db.CommandRecord, driveAuditBuffer)
	actuator := drive.NewSerialActuator(bridge)
	actuator.SetAudit(func(cmd patrol.DriveCommand, line string) {
		select {
		case driveAudit <- db.CommandRecord{Source: "drive", Command: line, Timestamp: time.Now()}:
		default:
			log.Printf("drive audit queue full, dropping %s", cmd)
		}
	})

	var (
		camera     patrol.Camera
		classifier patrol.Classifier
	)
	if *devMode {
		camera = vision.NewDirCamera(fsutil.OSFileSystem{}, *devFrames)
		classifier = vision.NewStaticClassifier(devVerdicts...)
	} else {
		client := httputil.NewPeripheralClient(*peripheralTTL)
		camera = vision.NewHTTPCamera(*cameraURL, client)
		classifier = vision.NewHTTPClassifier(*classifierURL, client)
	}

	sinkOpts := eventlog.DefaultOptions()
	sinkOpts.Retries = cfg.GetSinkRetries()
	sinkOpts.RetryBackoff = cfg.GetSinkRetryBackoff()
	sinkOpts.Location = loc
	sink, err := eventlog.NewSink(fsutil.OSFileSystem{}, *logDir, database, sinkOpts)
	if err != nil {
		log.Fatalf("failed to create event sink: %v", err)
	}

	run := patrol.NewRunFlag()
	loop, err := patrol.NewDecisionLoop(cfg.LoopConfig(), run, patrol.Hardware{
		Sensor:     sensor,
		Camera:     camera,
		Classifier: classifier,
		Actuator:   actuator,
		Sink:       sink,
	})
	if err != nil {
		log.Fatalf("failed to create decision loop: %v", err)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case rec := <-driveAudit:
				if err := database.RecordCommand(context.WithoutCancel(ctx), rec.Source, rec.Command, rec.Timestamp); err != nil {
					log.Printf("failed to audit %q: %v", rec.Command, err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// serial IO; BridgeManager.Monitor follows reloads
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := bridge.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor bridge: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("decision loop stopped: %v", err)
		}
		log.Print("decision loop terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(api.Config{
			Run:      run,
			DB:       database,
			Loop:     loop,
			Sensor:   sensor,
			Bridge:   bridge,
			LogDir:   *logDir,
			Location: loc,
		}).ServeMux()

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
