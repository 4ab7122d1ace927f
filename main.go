package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/flex-transformer/wildcat-slam/render"
)

// Version is set at build time via -ldflags
var Version = "dev"

var (
	configFile  = flag.String("config", "config.yaml", "Path to configuration file")
	replayFile  = flag.String("replay", "", "Path to a newline-delimited JSON event log; runs the odometry engine offline and exits")
	mqttMode    = flag.Bool("mqtt", false, "Subscribe to the configured MQTT broker for imu/lidar events")
	httpMode    = flag.Bool("http", false, "Enable the HTTP status/debug server")
	httpPort    = flag.Int("http-port", 8080, "HTTP server port")
	snapshotOn  = flag.Bool("snapshot", false, "Maintain an in-memory top-down debug snapshot, served at /snapshot.svg and /snapshot.png when --http is set")
	trailLength = flag.Int("snapshot-trail", 200, "Number of recent poses kept in the debug snapshot trail")
)

func main() {
	flag.Parse()
	fmt.Printf("wildcat-slam version: %s\n", Version)

	app := NewApp()
	app.ConfigFile = *configFile
	app.MqttMode = *mqttMode
	app.HttpMode = *httpMode
	app.HttpPort = *httpPort

	if *snapshotOn {
		app.Snapshot = render.NewSnapshotWriter(*trailLength)
	}

	if *replayFile != "" {
		app.ReplayFile = *replayFile
		if err := app.RunReplay(); err != nil {
			log.Fatalf("replay failed: %v", err)
		}
		return
	}

	if !*mqttMode && !*httpMode {
		fmt.Println("wildcat-slam: nothing to do")
		fmt.Println("Use --replay=<file> to run the odometry engine against a recorded event log")
		fmt.Println("Use --mqtt to ingest live imu/lidar events from the configured MQTT broker")
		fmt.Println("Use --http to expose /health, /pose, and (with --snapshot) debug image endpoints")
		fmt.Println("Use --mqtt --http to run both together")
		return
	}

	if err := app.RunService(); err != nil {
		log.Fatalf("service failed: %v", err)
	}
}
