// Package ingest subscribes to the IMU and LiDAR point topics over MQTT and
// hands decoded measurements to the odometry core through a bounded queue,
// preserving the core's "single logical owner" invariant (spec §5).
package ingest

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/flex-transformer/wildcat-slam/config"
	"github.com/flex-transformer/wildcat-slam/odom"
)

// imuWire is the JSON payload published on the IMU topic: one measurement
// per message.
type imuWire struct {
	T   float64    `json:"t"`
	Gyr [3]float64 `json:"gyr"`
	Acc [3]float64 `json:"acc"`
}

// pointWire is the JSON payload published on the point topic: one LiDAR
// sweep batch per message.
type pointWire struct {
	Points []struct {
		T   float64    `json:"t"`
		XYZ [3]float64 `json:"xyz"`
	} `json:"points"`
}

// Event is one decoded unit of work handed to the core consumer goroutine.
// Exactly one of Imu or Points is set.
type Event struct {
	Imu    *odom.ImuMeasurement
	Points []odom.LidarPoint
}

// Client subscribes to the configured IMU and point topics and publishes
// decoded Events onto a bounded channel. Queue overflow drops the oldest
// pending event and logs a warning rather than blocking the MQTT callback
// goroutine, mirroring mesh/mqtt.go's non-blocking handler idiom.
type Client struct {
	client mqtt.Client
	cfg    config.MQTT

	events chan Event

	mu          sync.RWMutex
	isConnected bool
}

// NewClient constructs a Client with a bounded event channel of the given
// capacity. The channel is exposed via Events() for the consumer goroutine.
func NewClient(cfg config.MQTT, queueCapacity int) *Client {
	if queueCapacity <= 0 {
		queueCapacity = 256
	}
	return &Client{cfg: cfg, events: make(chan Event, queueCapacity)}
}

// Events returns the channel a single consumer goroutine should drain,
// calling odom.Odometry.AddImuData/AddLidarScan for each Event in order.
func (c *Client) Events() <-chan Event { return c.events }

// Connect dials the configured broker and subscribes to both topics,
// retrying with exponential backoff on failure (grounded on
// mesh/mqtt.go's connectWithRetry).
func (c *Client) Connect() error {
	if c.cfg.Broker == "" {
		return fmt.Errorf("ingest: mqtt.broker not configured")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.cfg.Broker)

	clientID := c.cfg.ClientID
	if clientID == "" {
		clientID = "wildcat-slam"
	}
	opts.SetClientID(clientID)

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.client = mqtt.NewClient(opts)
	go c.connectWithRetry()
	return nil
}

func (c *Client) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("ingest: connecting to MQTT broker...")
		token := c.client.Connect()
		if token.WaitTimeout(10*time.Second) && token.Error() == nil {
			log.Println("ingest: connected to MQTT broker")
			c.setConnected(true)
			return
		}
		log.Printf("ingest: MQTT connection failed, retrying in %v", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

func (c *Client) onConnect(client mqtt.Client) {
	log.Println("ingest: subscribing to sensor topics...")
	c.setConnected(true)

	if token := client.Subscribe(c.cfg.ImuTopic, 0, c.handleImu); token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("ingest: error subscribing to %s: %v", c.cfg.ImuTopic, token.Error())
	}
	if token := client.Subscribe(c.cfg.PointTopic, 0, c.handlePoints); token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("ingest: error subscribing to %s: %v", c.cfg.PointTopic, token.Error())
	}
}

func (c *Client) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("ingest: MQTT connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *Client) handleImu(client mqtt.Client, msg mqtt.Message) {
	var w imuWire
	if err := json.Unmarshal(msg.Payload(), &w); err != nil {
		log.Printf("ingest: dropping malformed imu message: %v", err)
		return
	}
	m := odom.ImuMeasurement{
		T:   w.T,
		Gyr: odom.Vec3{X: w.Gyr[0], Y: w.Gyr[1], Z: w.Gyr[2]},
		Acc: odom.Vec3{X: w.Acc[0], Y: w.Acc[1], Z: w.Acc[2]},
	}
	c.enqueue(Event{Imu: &m})
}

func (c *Client) handlePoints(client mqtt.Client, msg mqtt.Message) {
	var w pointWire
	if err := json.Unmarshal(msg.Payload(), &w); err != nil {
		log.Printf("ingest: dropping malformed point batch: %v", err)
		return
	}
	pts := make([]odom.LidarPoint, len(w.Points))
	for i, p := range w.Points {
		pts[i] = odom.LidarPoint{T: p.T, XYZ: odom.Vec3{X: p.XYZ[0], Y: p.XYZ[1], Z: p.XYZ[2]}}
	}
	c.enqueue(Event{Points: pts})
}

// enqueue drops the oldest queued event on overflow rather than blocking the
// MQTT client's callback goroutine.
func (c *Client) enqueue(e Event) {
	select {
	case c.events <- e:
	default:
		select {
		case <-c.events:
			log.Printf("ingest: event queue full, dropped oldest pending event")
		default:
		}
		select {
		case c.events <- e:
		default:
			log.Printf("ingest: event queue still full, dropping incoming event")
		}
	}
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = v
}

// IsConnected reports whether the MQTT connection is currently up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

// Disconnect gracefully closes the MQTT connection.
func (c *Client) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}
