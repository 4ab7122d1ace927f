package publish

import (
	"encoding/json"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/flex-transformer/wildcat-slam/odom"
)

// mockToken and mockClient are a minimal mqtt.Client stand-in, grounded on
// mesh/mqtt_mock.go's MockClient/MockToken.
type mockToken struct{ err error }

func (t *mockToken) Wait() bool                     { return true }
func (t *mockToken) WaitTimeout(time.Duration) bool { return true }
func (t *mockToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (t *mockToken) Error() error                   { return t.err }

type publishedMsg struct {
	topic   string
	payload []byte
}

type mockClient struct {
	mqtt.Client
	connected bool
	published []publishedMsg
}

func (c *mockClient) IsConnected() bool { return c.connected }
func (c *mockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	b, _ := payload.([]byte)
	c.published = append(c.published, publishedMsg{topic: topic, payload: b})
	return &mockToken{}
}

func TestPublishTransform_SendsToTransformTopic(t *testing.T) {
	mc := &mockClient{connected: true}
	p := NewMQTTPublisher(mc, "odom")

	p.PublishTransform(1.5, odom.Rigid3{Pos: odom.Vec3{X: 1, Y: 2, Z: 3}, Rot: odom.IdentityQuat()})

	if len(mc.published) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(mc.published))
	}
	if mc.published[0].topic != "odom/transform" {
		t.Errorf("topic = %q, want %q", mc.published[0].topic, "odom/transform")
	}
	var wire transformWire
	if err := json.Unmarshal(mc.published[0].payload, &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if wire.Pos[0] != 1 {
		t.Errorf("Pos[0] = %v, want 1", wire.Pos[0])
	}
}

func TestPublishSurfels_EmptyWindowStillPublishes(t *testing.T) {
	mc := &mockClient{connected: true}
	p := NewMQTTPublisher(mc, "odom")
	p.PublishSurfels(nil)
	if len(mc.published) != 1 {
		t.Fatalf("expected 1 published message for empty surfel list, got %d", len(mc.published))
	}
}

func TestPublish_NoopWhenDisconnected(t *testing.T) {
	mc := &mockClient{connected: false}
	p := NewMQTTPublisher(mc, "odom")
	p.PublishTransform(0, odom.IdentityRigid3())
	if len(mc.published) != 0 {
		t.Errorf("expected no publish while disconnected, got %d", len(mc.published))
	}
}

func TestPublish_NilClientIsNoop(t *testing.T) {
	p := NewMQTTPublisher(nil, "odom")
	p.PublishPoints(0, []odom.LidarPoint{{XYZ: odom.Vec3{X: 1}}})
}
