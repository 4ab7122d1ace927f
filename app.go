package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/flex-transformer/wildcat-slam/config"
	"github.com/flex-transformer/wildcat-slam/ingest"
	"github.com/flex-transformer/wildcat-slam/odom"
	"github.com/flex-transformer/wildcat-slam/publish"
	"github.com/flex-transformer/wildcat-slam/render"
)

// App wires together the odometry core with whichever ingest/publish/debug
// collaborators the CLI flags select, the way app.go wires mesh.StateTracker
// to MQTT/HTTP in the teacher service.
type App struct {
	ConfigFile string
	ReplayFile string
	MqttMode   bool
	HttpMode   bool
	HttpPort   int
	Snapshot   *render.SnapshotWriter

	Config *config.Config
	Odom   *odom.Odometry

	ingestClient *ingest.Client
}

func NewApp() *App {
	return &App{HttpPort: 8080}
}

// replayEvent is one line of a replay file: a JSON object carrying either an
// imu measurement or a batch of lidar points, timestamp-ordered.
type replayEvent struct {
	Type string `json:"type"` // "imu" or "points"

	T   float64    `json:"t"`
	Gyr [3]float64 `json:"gyr"`
	Acc [3]float64 `json:"acc"`

	Points []struct {
		T   float64    `json:"t"`
		XYZ [3]float64 `json:"xyz"`
	} `json:"points"`
}

// RunReplay drives the odometry engine synchronously from a newline-delimited
// JSON event log, for offline testing without a live MQTT broker.
func (a *App) RunReplay() error {
	cfg, err := config.Load(a.ConfigFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a.Config = cfg

	f, err := os.Open(a.ReplayFile)
	if err != nil {
		return fmt.Errorf("opening replay file: %w", err)
	}
	defer f.Close()

	var surfelSink odom.SurfelSink
	var transformSink odom.TransformSink
	if a.Snapshot != nil {
		surfelSink, transformSink = a.Snapshot, a.Snapshot
	}
	a.Odom = odom.NewOdometry(cfg.Config, surfelSink, nil, transformSink)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev replayEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			log.Printf("replay: skipping malformed line %d: %v", lineNum, err)
			continue
		}
		switch ev.Type {
		case "imu":
			m := odom.ImuMeasurement{
				T:   ev.T,
				Gyr: odom.Vec3{X: ev.Gyr[0], Y: ev.Gyr[1], Z: ev.Gyr[2]},
				Acc: odom.Vec3{X: ev.Acc[0], Y: ev.Acc[1], Z: ev.Acc[2]},
			}
			if err := a.Odom.AddImuData(m); err != nil {
				return fmt.Errorf("replay line %d: %w", lineNum, err)
			}
		case "points":
			pts := make([]odom.LidarPoint, len(ev.Points))
			for i, p := range ev.Points {
				pts[i] = odom.LidarPoint{T: p.T, XYZ: odom.Vec3{X: p.XYZ[0], Y: p.XYZ[1], Z: p.XYZ[2]}}
			}
			if err := a.Odom.AddLidarScan(pts); err != nil {
				return fmt.Errorf("replay line %d: %w", lineNum, err)
			}
		default:
			log.Printf("replay: unknown event type %q on line %d", ev.Type, lineNum)
		}
	}
	return scanner.Err()
}

// RunService wires MQTT ingest, MQTT publish, and an optional HTTP status
// endpoint, then blocks until interrupted, the way app.go's RunService wires
// mesh.MQTTClient/mesh.Publisher and waits on sigChan.
func (a *App) RunService() error {
	cfg, err := config.Load(a.ConfigFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a.Config = cfg

	var surfelSink odom.SurfelSink
	var pointSink odom.PointCloudSink
	var transformSink odom.TransformSink
	if a.Snapshot != nil {
		surfelSink = a.Snapshot
		transformSink = a.Snapshot
	}

	if cfg.MQTT.Broker != "" {
		mqttClient, err := newPahoClient(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to mqtt broker: %w", err)
		}
		pub := publish.NewMQTTPublisher(mqttClient, cfg.MQTT.PublishPrefix)
		if surfelSink == nil {
			surfelSink = pub
		} else {
			surfelSink = multiSurfelSink{a.Snapshot, pub}
		}
		pointSink = pub
		transformSink = pub
		if a.Snapshot != nil {
			transformSink = multiTransformSink{a.Snapshot, pub}
		}
	}

	a.Odom = odom.NewOdometry(cfg.Config, surfelSink, pointSink, transformSink)

	if a.MqttMode {
		a.ingestClient = ingest.NewClient(cfg.MQTT, 256)
		if err := a.ingestClient.Connect(); err != nil {
			return fmt.Errorf("starting ingest client: %w", err)
		}
		go a.consumeEvents()
	}

	if a.HttpMode {
		httpServer := newHTTPServer(a.Odom, a.Snapshot)
		go func() {
			addr := fmt.Sprintf("0.0.0.0:%d", a.HttpPort)
			log.Printf("[HTTP] starting server on %s", addr)
			if err := http.ListenAndServe(addr, httpServer); err != nil {
				log.Fatalf("[HTTP] server error: %v", err)
			}
		}()
	}

	log.Println("odometry service running, press Ctrl+C to stop")
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("shutting down")
	if a.ingestClient != nil {
		a.ingestClient.Disconnect()
	}
	return nil
}

// consumeEvents is the single consumer goroutine that drains the ingest
// client's bounded channel and drives the core serially (spec §5).
func (a *App) consumeEvents() {
	for ev := range a.ingestClient.Events() {
		var err error
		switch {
		case ev.Imu != nil:
			err = a.Odom.AddImuData(*ev.Imu)
		case ev.Points != nil:
			err = a.Odom.AddLidarScan(ev.Points)
		}
		if err != nil {
			var cv *odom.ContractViolationError
			if errors.As(err, &cv) {
				log.Fatalf("odometry: %v", err)
			}
			log.Printf("odometry: %v", err)
		}
	}
}

// newPahoClient dials the broker for the publish side of the service,
// separate from ingest's own client, mirroring mesh/mqtt.go's dedicated
// connect-then-subscribe-or-publish client per role.
func newPahoClient(mc config.MQTT) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(mc.Broker)
	clientID := mc.ClientID
	if clientID == "" {
		clientID = "wildcat-slam-pub"
	} else {
		clientID += "-pub"
	}
	opts.SetClientID(clientID)
	if mc.Username != "" {
		opts.SetUsername(mc.Username)
		opts.SetPassword(mc.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10*time.Second) || token.Error() != nil {
		return nil, fmt.Errorf("connecting publish client: %v", token.Error())
	}
	return client, nil
}

type multiSurfelSink []odom.SurfelSink

func (m multiSurfelSink) PublishSurfels(window []odom.Surfel) {
	for _, s := range m {
		if s != nil {
			s.PublishSurfels(window)
		}
	}
}

type multiTransformSink []odom.TransformSink

func (m multiTransformSink) PublishTransform(stamp float64, pose odom.Rigid3) {
	for _, s := range m {
		if s != nil {
			s.PublishTransform(stamp, pose)
		}
	}
}
