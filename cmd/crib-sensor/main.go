// Command crib-sensor debounces classifier verdicts into sleep lifecycle
// events and delivers them to crib-server and MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sweeney/crib-sensor/internal/classifier"
	"github.com/sweeney/crib-sensor/internal/client"
	"github.com/sweeney/crib-sensor/internal/config"
	"github.com/sweeney/crib-sensor/internal/emitter"
	"github.com/sweeney/crib-sensor/internal/gpio"
	"github.com/sweeney/crib-sensor/internal/logger"
	"github.com/sweeney/crib-sensor/internal/logic"
	"github.com/sweeney/crib-sensor/internal/mqtt"
	"github.com/sweeney/crib-sensor/internal/status"
	"github.com/sweeney/crib-sensor/internal/web"
)

// errClassifierClosed is returned by runLoop when the verdict stream ends.
var errClassifierClosed = errors.New("classifier stream closed")

func main() {
	fs := newFlagSet()
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	configPath, _ := fs.GetString("config")
	cfg, err := config.LoadDevice(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	if err := applyFlags(fs, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(2)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "crib-sensor")
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	printButtons, _ := fs.GetBool("print-buttons")
	if err := run(cfg, printButtons, log); err != nil {
		log.Fatal("fatal", zap.Error(err))
	}
}

func newFlagSet() *pflag.FlagSet {
	d := config.DefaultDevice()
	fs := pflag.NewFlagSet("crib-sensor", pflag.ContinueOnError)
	fs.StringP("config", "c", "", "YAML config file")
	fs.String("subject", d.SubjectID, "Subject id reported with every event")
	fs.String("classifier", d.Classifier, `Classifier verdict stream ("-" reads stdin)`)
	fs.String("server", d.ServerURL, "crib-server base URL (empty disables HTTP delivery)")
	fs.String("broker", d.MQTT.Broker, "MQTT broker address (empty disables MQTT)")
	fs.Duration("window", d.Window, "Debounce window")
	fs.Int("threshold", d.Threshold, "Debounce confidence threshold")
	fs.Duration("tick", d.Tick, "Button polling and status interval")
	fs.Duration("heartbeat", d.Heartbeat, "Heartbeat interval (0 to disable)")
	fs.Int("pin-mark-asleep", d.PinMarkAsleep, fmt.Sprintf("BCM pin for the mark-asleep button (0 disables, usually %d)", gpio.DefaultPinMarkAsleep))
	fs.Int("pin-mark-awake", d.PinMarkAwake, fmt.Sprintf("BCM pin for the mark-awake button (0 disables, usually %d)", gpio.DefaultPinMarkAwake))
	fs.String("http", d.HTTPAddr, "HTTP status address (empty to disable)")
	fs.String("log-level", d.Log.Level, "Log level: debug, info, warn, error")
	fs.Bool("print-buttons", false, "Print override button levels and exit")
	return fs
}

// applyFlags overlays the flags that were set explicitly on cfg and
// validates the result.
func applyFlags(fs *pflag.FlagSet, cfg *config.Device) error {
	str := func(name string, dst *string) {
		if fs.Changed(name) {
			*dst, _ = fs.GetString(name)
		}
	}
	dur := func(name string, dst *time.Duration) {
		if fs.Changed(name) {
			*dst, _ = fs.GetDuration(name)
		}
	}
	num := func(name string, dst *int) {
		if fs.Changed(name) {
			*dst, _ = fs.GetInt(name)
		}
	}

	str("subject", &cfg.SubjectID)
	str("classifier", &cfg.Classifier)
	str("server", &cfg.ServerURL)
	str("broker", &cfg.MQTT.Broker)
	dur("window", &cfg.Window)
	num("threshold", &cfg.Threshold)
	dur("tick", &cfg.Tick)
	dur("heartbeat", &cfg.Heartbeat)
	num("pin-mark-asleep", &cfg.PinMarkAsleep)
	num("pin-mark-awake", &cfg.PinMarkAwake)
	str("http", &cfg.HTTPAddr)
	str("log-level", &cfg.Log.Level)

	return cfg.Validate()
}

func run(cfg config.Device, printButtons bool, log *zap.Logger) error {
	buttons, err := openButtons(cfg, log)
	if err != nil {
		return err
	}
	if buttons != nil {
		defer buttons.Close()
	}

	if printButtons {
		if buttons == nil {
			return errors.New("override buttons are not configured")
		}
		asleep, awake, err := buttons.Read()
		if err != nil {
			return fmt.Errorf("read buttons: %w", err)
		}
		fmt.Printf("mark_asleep: %s, mark_awake: %s\n", heldString(asleep), heldString(awake))
		return nil
	}

	stream, err := openClassifier(cfg.Classifier)
	if err != nil {
		return err
	}
	defer stream.Close()

	// Sinks: crib-server over HTTP and/or MQTT.
	var (
		sinks     []emitter.Sink
		publisher mqtt.Publisher
		connected mqtt.ConnectionStatus
	)
	if cfg.ServerURL != "" {
		sinks = append(sinks, client.New(client.Options{
			BaseURL: cfg.ServerURL,
			Timeout: cfg.ClientTimeout,
			Retries: cfg.ClientRetries,
		}, log))
	}
	if cfg.MQTT.Broker != "" {
		p := mqtt.NewRealPublisher(mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		}, log)
		defer p.Close()
		publisher, connected = p, p
		sinks = append(sinks, emitter.PublisherSink{Publisher: p})
	}
	queue := emitter.NewQueue(cfg.QueueSize, log, sinks...)

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		SubjectID:   cfg.SubjectID,
		WindowMs:    cfg.Window.Milliseconds(),
		Threshold:   cfg.Threshold,
		TickMs:      cfg.Tick.Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		ServerURL:   cfg.ServerURL,
		HTTPAddr:    cfg.HTTPAddr,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	if publisher != nil {
		snap := tracker.Snapshot()
		startup := mqtt.SystemEvent{
			Timestamp:  snap.Now,
			Event:      "STARTUP",
			Retained:   true,
			RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
		}
		if err := publisher.PublishSystem(startup); err != nil {
			log.Warn("failed to publish startup event", zap.Error(err))
		} else {
			log.Info("published startup event")
		}
	}

	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("http server error", zap.Error(err))
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info("http status server listening", zap.String("addr", cfg.HTTPAddr))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := classifier.NewLineReader(stream, time.Now, log, 64)
	go func() {
		if err := reader.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("classifier reader stopped", zap.Error(err))
		}
	}()

	queueDone := make(chan struct{})
	go func() {
		defer close(queueDone)
		queue.Run(ctx)
	}()

	log.Info("started",
		zap.String("subject_id", cfg.SubjectID),
		zap.Duration("window", cfg.Window),
		zap.Int("threshold", cfg.Threshold),
		zap.Duration("heartbeat", cfg.Heartbeat),
		zap.Int("sinks", len(sinks)))

	ticker := time.NewTicker(cfg.Tick)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	loopErr := runLoop(loopDeps{
		subjectID:  cfg.SubjectID,
		window:     cfg.Window,
		threshold:  cfg.Threshold,
		heartbeat:  cfg.Heartbeat,
		buttons:    buttons,
		queue:      queue,
		publisher:  publisher,
		mqttStatus: connected,
		tracker:    tracker,
		now:        time.Now,
		logger:     log,
	}, reader.Readings(), ticker.C, sigCh)

	// Stop the background sender, then give pending messages a bounded chance.
	cancel()
	<-queueDone
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	queue.Flush(flushCtx)

	return loopErr
}

// loopDeps is everything runLoop touches. buttons, publisher and
// mqttStatus may be nil.
type loopDeps struct {
	subjectID string
	window    time.Duration
	threshold int
	heartbeat time.Duration

	buttons    gpio.Reader
	queue      *emitter.Queue
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	now        func() time.Time
	logger     *zap.Logger
}

func runLoop(d loopDeps, readings <-chan logic.Reading, tick <-chan time.Time, sig <-chan os.Signal) error {
	detector := logic.NewDetector(d.window, d.threshold, d.now())
	var presses gpio.Presses

	publishSystem := func(event, reason string, at time.Time, retained bool) {
		if d.publisher == nil {
			return
		}
		if d.mqttStatus != nil {
			d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
		}
		snap := d.tracker.Snapshot()
		se := mqtt.SystemEvent{
			Timestamp:  at,
			Event:      event,
			Reason:     reason,
			Retained:   retained,
			RawPayload: status.FormatStatusEvent(snap, event, reason),
		}
		if err := d.publisher.PublishSystem(se); err != nil {
			d.logger.Warn("system event publish failed", zap.String("event", event), zap.Error(err))
			return
		}
		d.logger.Info("published system event", zap.String("event", event))
	}

	for {
		select {
		case s := <-sig:
			d.logger.Info("shutting down", zap.Stringer("signal", s))
			publishSystem("SHUTDOWN", signalName(s), d.now(), true)
			return nil

		case r, ok := <-readings:
			if !ok {
				d.logger.Error("classifier stream ended")
				publishSystem("SHUTDOWN", "CLASSIFIER_EOF", d.now(), true)
				return errClassifierClosed
			}
			d.tracker.SetReading(r)

			event, fired := detector.Process(r)
			verdict, hasVerdict := detector.LastVerdict()
			d.tracker.Update(detector.CurrentState(), verdict, hasVerdict, detector.EventCountsSnapshot())
			if !fired {
				continue
			}
			d.logger.Info("lifecycle event",
				zap.String("type", string(event.Type)),
				zap.String("from", string(event.From)),
				zap.String("to", string(event.To)),
				zap.Time("at", event.Timestamp))
			d.queue.Enqueue(emitter.NewEventMessage(d.subjectID, event))

		case <-tick:
			t := d.now()

			if d.buttons != nil {
				asleep, awake, err := d.buttons.Read()
				if err != nil {
					d.logger.Warn("button read error", zap.Error(err))
				} else if action, ok := pressAction(presses.Update(asleep, awake)); ok {
					d.logger.Info("override button pressed", zap.String("action", string(action)))
					d.queue.Enqueue(emitter.NewInterventionMessage(d.subjectID, action, t))
				}
			}

			if hb := detector.CheckHeartbeat(t, d.heartbeat); hb != nil {
				d.logger.Info("heartbeat",
					zap.Duration("uptime", hb.Uptime),
					zap.Int("sleep_start", hb.Counts.SleepStart),
					zap.Int("sleep_end", hb.Counts.SleepEnd),
					zap.Int("baby_away", hb.Counts.BabyAway))
				if net := readNetworkInfo(); net != nil {
					d.tracker.SetNetwork(net)
				}
				publishSystem("HEARTBEAT", "", hb.Timestamp, false)
			}

			qs := d.queue.Stats()
			d.tracker.SetQueue(status.QueueStats{Pending: qs.Pending, Dropped: qs.Dropped, Sent: qs.Sent, Failed: qs.Failed})
			if d.mqttStatus != nil {
				d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
			}
		}
	}
}

func pressAction(p gpio.Press) (logic.Action, bool) {
	switch p {
	case gpio.PressMarkAsleep:
		return logic.ActionMarkAsleep, true
	case gpio.PressMarkAwake:
		return logic.ActionMarkAwake, true
	}
	return "", false
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// openButtons returns nil when either override pin is unset.
func openButtons(cfg config.Device, log *zap.Logger) (gpio.Reader, error) {
	if cfg.PinMarkAsleep == 0 || cfg.PinMarkAwake == 0 {
		log.Info("override buttons disabled")
		return nil, nil
	}
	r, err := gpio.NewRealReader(cfg.PinMarkAsleep, cfg.PinMarkAwake)
	if err != nil {
		return nil, fmt.Errorf("init gpio: %w", err)
	}
	return r, nil
}

func openClassifier(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open classifier stream: %w", err)
	}
	return f, nil
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

func heldString(held bool) string {
	if held {
		return "HELD"
	}
	return "released"
}
