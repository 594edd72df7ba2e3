// Package clientmqtt is the MQTT side of the Command Dispatcher's
// boundary: it subscribes the fixed dmx/* topic tree plus the
// data-defined sequence-name topics, and turns each inbound message
// into exactly one Dispatcher call.
package clientmqtt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/config"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/dispatch"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/logger"
)

const (
	topicSetChannelPrefix = "dmx/set/channel/"
	topicScenePrefix      = "dmx/scene/"
	topicSenderStatus     = "dmx/sender/status"
	topicSenderList       = "dmx/sender/list"
	topicSenderBlackout   = "dmx/sender/blackout"
	topicSenderRemovePfx  = "dmx/sender/remove/"
	topicConfigShow       = "dmx/config/show"
	topicConfigReload     = "dmx/config/reload"
	topicConfigSave       = "dmx/config/save"
)

// Client is the MQTT-facing half of the Command Dispatcher.
type Client struct {
	log    *logger.Log
	dsp    *dispatch.Dispatcher
	cfg    config.MQTTSettings
	ctx    context.Context
	client mqtt.Client

	mu             sync.RWMutex
	sequenceTopics map[string]string // topic -> sequence name
}

// NewClient builds a Client bound to a Dispatcher. Sequence topics are
// taken from seqNames at construction and may be refreshed with
// SetSequenceTopics on config reload.
func NewClient(log *logger.Log, cfg config.MQTTSettings, dsp *dispatch.Dispatcher, seqNames []string) *Client {
	c := &Client{log: log, dsp: dsp, cfg: cfg}
	c.SetSequenceTopics(seqNames)
	return c
}

// SetSequenceTopics replaces the data-defined sequence-name topic
// table. The Command Dispatcher's topic router must be reconfigurable
// at config/reload, so this may be called after Start.
func (c *Client) SetSequenceTopics(names []string) {
	topics := make(map[string]string, len(names))
	for _, name := range names {
		topics[name] = name
	}
	c.mu.Lock()
	c.sequenceTopics = topics
	c.mu.Unlock()
}

// Start connects to the broker and subscribes the full topic tree.
func (c *Client) Start(ctx context.Context) error {
	if c.log.GetLevel() == "debug" {
		mqtt.ERROR = log.New(os.Stdout, "[ERROR] ", 0)
		mqtt.CRITICAL = log.New(os.Stdout, "[CRIT] ", 0)
		mqtt.WARN = log.New(os.Stdout, "[WARN]  ", 0)
	}
	c.ctx = ctx

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s:%d", c.cfg.URL, c.cfg.Port)).
		SetUsername(c.cfg.Username).
		SetPassword(c.cfg.Password).
		SetClientID(c.cfg.ClientID).
		SetOnConnectHandler(c.connectHandler).
		SetConnectionLostHandler(c.connectLostHandler).
		SetOrderMatters(false).
		SetCleanSession(c.cfg.CleanSession).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Second).
		SetMaxReconnectInterval(30 * time.Second).
		SetKeepAlive(time.Duration(c.cfg.KeepAlive) * time.Second)

	c.client = mqtt.NewClient(opts)

	token := c.client.Connect()
	select {
	case <-token.Done():
		if token.Error() != nil {
			return token.Error()
		}
	case <-c.ctx.Done():
		return errors.New("context canceled")
	}

	c.log.With(logger.Fields{"module": "mqtt"}).Infof("connected: %v", c.client.IsConnected())
	c.subscribeAll()
	return nil
}

// Stop disconnects from the broker.
func (c *Client) Stop() error {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(500)
	}
	return nil
}

func (c *Client) connectHandler(_ mqtt.Client) {
	c.log.With(logger.Fields{"module": "mqtt"}).Info("connected to broker")
	c.subscribeAll()
}

func (c *Client) connectLostHandler(_ mqtt.Client, err error) {
	c.log.With(logger.Fields{"module": "mqtt"}).Errorf("connection lost: %v", err)
}

func (c *Client) subscribeAll() {
	c.sub(topicSetChannelPrefix + "+")
	c.sub(topicScenePrefix + "+")
	c.sub(topicSenderStatus)
	c.sub(topicSenderList)
	c.sub(topicSenderBlackout)
	c.sub(topicSenderBlackout + "/+")
	c.sub(topicSenderRemovePfx + "+")
	c.sub(topicConfigShow)
	c.sub(topicConfigReload)
	c.sub(topicConfigSave)

	c.mu.RLock()
	topics := make([]string, 0, len(c.sequenceTopics))
	for topic := range c.sequenceTopics {
		topics = append(topics, topic)
	}
	c.mu.RUnlock()
	for _, topic := range topics {
		c.sub(topic)
	}
}

func (c *Client) sub(topic string) {
	token := c.client.Subscribe(topic, 0, c.route)
	go func() {
		select {
		case <-c.ctx.Done():
			return
		case <-token.Done():
			if token.Error() != nil {
				c.log.With(logger.Fields{"module": "mqtt"}).Errorf("subscribe %s failed: %v", topic, token.Error())
			}
		}
	}()
}

func (c *Client) publish(topic string, payload string) {
	token := c.client.Publish(topic, 0, false, payload)
	go func() {
		select {
		case <-c.ctx.Done():
		case <-token.Done():
			if token.Error() != nil {
				c.log.With(logger.Fields{"module": "mqtt"}).Errorf("publish %s failed: %v", topic, token.Error())
			}
		}
	}()
}

func (c *Client) reply(requestTopic, payload string) {
	c.publish(requestTopic+"/reply", payload)
}

// route is the table-driven dispatch entry point: it classifies the
// inbound topic and calls exactly one Dispatcher operation.
func (c *Client) route(_ mqtt.Client, msg mqtt.Message) {
	topic := msg.Topic()
	payload := strings.TrimSpace(string(msg.Payload()))
	c.log.With(logger.Fields{"module": "mqtt"}).Debugf("received %q on %s", payload, topic)

	switch {
	case strings.HasPrefix(topic, topicSetChannelPrefix):
		c.handleSetChannel(topic, payload)
	case strings.HasPrefix(topic, topicScenePrefix):
		c.handlePlayScene(topic, payload)
	case topic == topicSenderStatus:
		c.handleSenderStatus(topic)
	case topic == topicSenderList:
		c.handleSenderList(topic)
	case topic == topicSenderBlackout:
		c.handleSenderBlackout("")
	case strings.HasPrefix(topic, topicSenderBlackout+"/"):
		c.handleSenderBlackout(strings.TrimPrefix(topic, topicSenderBlackout+"/"))
	case strings.HasPrefix(topic, topicSenderRemovePfx):
		c.handleSenderRemove(strings.TrimPrefix(topic, topicSenderRemovePfx))
	case topic == topicConfigShow:
		c.handleConfigShow(topic)
	case topic == topicConfigReload:
		c.handleConfigReload()
	case topic == topicConfigSave:
		c.handleConfigSave()
	default:
		c.handleSequenceTopic(topic)
	}
}

func (c *Client) handleSetChannel(topic, payload string) {
	channelStr := strings.TrimPrefix(topic, topicSetChannelPrefix)
	channel, err := strconv.Atoi(channelStr)
	if err != nil {
		c.log.With(logger.Fields{"module": "mqtt"}).Warnf("invalid channel in topic %s: %v", topic, err)
		return
	}
	value, err := strconv.Atoi(payload)
	if err != nil {
		c.log.With(logger.Fields{"module": "mqtt"}).Warnf("invalid channel value %q: %v", payload, err)
		return
	}
	if err := c.dsp.SetChannel(channel, value, "mqtt"); err != nil {
		c.log.With(logger.Fields{"module": "mqtt"}).Warnf("set_channel(%d, %d) failed: %v", channel, value, err)
	}
}

func (c *Client) handlePlayScene(topic, payload string) {
	name := strings.TrimPrefix(topic, topicScenePrefix)
	transition := 0.0
	if payload != "" {
		parsed, err := strconv.ParseFloat(payload, 64)
		if err != nil {
			c.log.With(logger.Fields{"module": "mqtt"}).Warnf("invalid transition %q: %v", payload, err)
			return
		}
		transition = parsed
	}
	if err := c.dsp.PlayScene(name, transition); err != nil {
		c.log.With(logger.Fields{"module": "mqtt"}).Warnf("play_scene(%s) failed: %v", name, err)
	}
}

func (c *Client) handleSequenceTopic(topic string) {
	c.mu.RLock()
	name, ok := c.sequenceTopics[topic]
	c.mu.RUnlock()
	if !ok {
		return
	}
	if err := c.dsp.PlaySequence(name); err != nil {
		c.log.With(logger.Fields{"module": "mqtt"}).Warnf("play_sequence(%s) failed: %v", name, err)
	}
}

func (c *Client) handleSenderStatus(topic string) {
	status := c.dsp.SenderStatus()
	c.reply(topic, fmt.Sprintf("%+v", status))
}

func (c *Client) handleSenderList(topic string) {
	c.reply(topic, strings.Join(c.dsp.SenderList(), ","))
}

func (c *Client) handleSenderBlackout(name string) {
	if err := c.dsp.SenderBlackout(name); err != nil {
		c.log.With(logger.Fields{"module": "mqtt"}).Warnf("blackout(%s) failed: %v", name, err)
	}
}

func (c *Client) handleSenderRemove(name string) {
	if err := c.dsp.SenderRemove(name); err != nil {
		c.log.With(logger.Fields{"module": "mqtt"}).Warnf("remove sender %s failed: %v", name, err)
	}
}

func (c *Client) handleConfigShow(topic string) {
	raw, err := c.dsp.ConfigShow()
	if err != nil {
		c.log.With(logger.Fields{"module": "mqtt"}).Warnf("config show failed: %v", err)
		return
	}
	c.reply(topic, raw)
}

func (c *Client) handleConfigReload() {
	if err := c.dsp.ConfigReload(); err != nil {
		c.log.With(logger.Fields{"module": "mqtt"}).Warnf("config reload failed: %v", err)
	}
}

func (c *Client) handleConfigSave() {
	if err := c.dsp.ConfigSave(); err != nil {
		c.log.With(logger.Fields{"module": "mqtt"}).Warnf("config save failed: %v", err)
	}
}
