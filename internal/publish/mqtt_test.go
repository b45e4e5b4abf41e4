package publish

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeongseonghan/scsync/internal/pipeline"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t fakeToken) Error() error { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	connected    bool
	token        fakeToken
	msgs         []published
	disconnected bool
}

func (c *fakeClient) IsConnected() bool { return c.connected }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.msgs = append(c.msgs, published{topic, qos, retained, payload.([]byte)})
	return c.token
}

func (c *fakeClient) Disconnect(uint) {
	c.disconnected = true
	c.connected = false
}

func TestDetectionTopic(t *testing.T) {
	assert.Equal(t, "scsync/detection", DetectionTopic("scsync"))
	assert.Equal(t, "lab/rx1/detection", DetectionTopic("lab/rx1/"))
	assert.Equal(t, "detection", DetectionTopic(""))
}

func TestClientID(t *testing.T) {
	a, b := clientID("rx"), clientID("rx")
	assert.True(t, strings.HasPrefix(a, "rx-"))
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(clientID(""), "scsync-"))
}

func TestPublish(t *testing.T) {
	c := &fakeClient{connected: true}
	p := newPublisher(c, "scsync", nil)

	e := pipeline.Event{RunID: "run-1", Boundary: 1064, OutputIndex: 1144, Phase: 0.3, Offset: 0.0955, EvenCarriers: true}
	require.NoError(t, p.Publish(e))

	require.Len(t, c.msgs, 1)
	msg := c.msgs[0]
	assert.Equal(t, "scsync/detection", msg.topic)
	assert.Equal(t, byte(0), msg.qos)
	assert.False(t, msg.retained)

	var got pipeline.Event
	require.NoError(t, json.Unmarshal(msg.payload, &got))
	assert.Equal(t, e.RunID, got.RunID)
	assert.Equal(t, e.Boundary, got.Boundary)
	assert.Equal(t, e.Phase, got.Phase)
	assert.Contains(t, string(msg.payload), `"offset_subcarriers":0.0955`)
}

func TestPublish_Errors(t *testing.T) {
	t.Run("not connected", func(t *testing.T) {
		p := newPublisher(&fakeClient{}, "scsync", nil)
		assert.ErrorIs(t, p.Publish(pipeline.Event{}), ErrNotConnected)
	})
	t.Run("token error", func(t *testing.T) {
		boom := errors.New("broker rejected")
		p := newPublisher(&fakeClient{connected: true, token: fakeToken{err: boom}}, "scsync", nil)
		assert.ErrorIs(t, p.Publish(pipeline.Event{}), boom)
	})
	t.Run("timeout", func(t *testing.T) {
		p := newPublisher(&fakeClient{connected: true, token: fakeToken{timeout: true}}, "scsync", nil)
		assert.ErrorContains(t, p.Publish(pipeline.Event{}), "timed out")
	})
}

func TestOnDetection_LogsFailures(t *testing.T) {
	var buf bytes.Buffer
	p := newPublisher(&fakeClient{}, "scsync", log.New(&buf))

	p.OnDetection(pipeline.Event{Boundary: 7})
	assert.Contains(t, buf.String(), "publish failed")
}

func TestClose(t *testing.T) {
	c := &fakeClient{connected: true}
	p := newPublisher(c, "scsync", nil)

	p.Close()
	assert.True(t, c.disconnected)

	c.disconnected = false
	p.Close()
	assert.False(t, c.disconnected)
}

func TestConnect_RequiresBroker(t *testing.T) {
	_, err := Connect(Config{}, nil)
	assert.Error(t, err)
}
