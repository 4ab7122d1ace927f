// Package publish implements the odom sink interfaces over MQTT, publishing
// the window's surfel map, raw buffered points, and latest pose on every scan.
package publish

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/flex-transformer/wildcat-slam/odom"
)

// MQTTPublisher implements odom.SurfelSink, odom.PointCloudSink and
// odom.TransformSink over topics <prefix>/surfels, <prefix>/points and
// <prefix>/transform, mirroring mesh/publisher.go's per-topic publish idiom.
type MQTTPublisher struct {
	client mqtt.Client
	prefix string
	qos    byte
	retain bool
}

// NewMQTTPublisher creates a publisher. If client is nil, publish calls are
// no-ops (for tests and replay-from-file runs with no live broker).
func NewMQTTPublisher(client mqtt.Client, prefix string) *MQTTPublisher {
	if prefix == "" {
		prefix = "wildcat-slam"
	}
	return &MQTTPublisher{client: client, prefix: prefix, qos: 0, retain: true}
}

type surfelWire struct {
	T        float64    `json:"t"`
	Center   [3]float64 `json:"center"`
	Normal   [3]float64 `json:"normal"`
	Planarity float64   `json:"planarity"`
}

// PublishSurfels publishes the current window surfel map as a JSON array.
func (p *MQTTPublisher) PublishSurfels(window []odom.Surfel) {
	wire := make([]surfelWire, len(window))
	for i, s := range window {
		wire[i] = surfelWire{
			T:         s.T,
			Center:    [3]float64{s.CenterWorld.X, s.CenterWorld.Y, s.CenterWorld.Z},
			Normal:    [3]float64{s.NormalWorld.X, s.NormalWorld.Y, s.NormalWorld.Z},
			Planarity: s.PlanarityScore,
		}
	}
	p.publish("surfels", wire)
}

type pointWire struct {
	Stamp  float64      `json:"stamp"`
	Points [][3]float64 `json:"points"`
}

// PublishPoints publishes the given points with the given stamp; the odometry
// core passes its raw buffered points in the IMU frame, stamped at the first
// point's time.
func (p *MQTTPublisher) PublishPoints(stamp float64, pts []odom.LidarPoint) {
	wire := pointWire{Stamp: stamp, Points: make([][3]float64, len(pts))}
	for i, pt := range pts {
		wire.Points[i] = [3]float64{pt.XYZ.X, pt.XYZ.Y, pt.XYZ.Z}
	}
	p.publish("points", wire)
}

type transformWire struct {
	Stamp float64    `json:"stamp"`
	Pos   [3]float64 `json:"pos"`
	Rot   [4]float64 `json:"rot"` // w, x, y, z
}

// PublishTransform publishes the latest body-to-world pose.
func (p *MQTTPublisher) PublishTransform(stamp float64, pose odom.Rigid3) {
	wire := transformWire{
		Stamp: stamp,
		Pos:   [3]float64{pose.Pos.X, pose.Pos.Y, pose.Pos.Z},
		Rot:   [4]float64{pose.Rot.W, pose.Rot.X, pose.Rot.Y, pose.Rot.Z},
	}
	p.publish("transform", wire)
}

func (p *MQTTPublisher) publish(topicSuffix string, v interface{}) {
	if p.client == nil || !p.client.IsConnected() {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("publish: marshaling %s payload: %v", topicSuffix, err)
		return
	}
	topic := fmt.Sprintf("%s/%s", p.prefix, topicSuffix)
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		log.Printf("publish: publishing to %s: %v", topic, token.Error())
	}
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2).
func (p *MQTTPublisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker.
func (p *MQTTPublisher) SetRetain(retain bool) { p.retain = retain }
