package rtc

import (
	"sync"

	"github.com/dkeye/meetsfu/internal/core"
	"github.com/dkeye/meetsfu/internal/domain"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

type Consumer struct {
	id        string
	producer  *Producer
	transport *Transport
	sender    *webrtc.RTPSender
	rtp       core.RtpParameters
	once      sync.Once
}

func (c *Consumer) ID() string                        { return c.id }
func (c *Consumer) ProducerID() string                { return c.producer.id }
func (c *Consumer) Kind() domain.MediaKind            { return c.producer.kind }
func (c *Consumer) RtpParameters() core.RtpParameters { return c.rtp }

// run starts sending once the transport is up and relays keyframe
// requests from the receiving side to the producer.
func (c *Consumer) run() {
	if !c.transport.waitReady(c.transport.ctx) {
		return
	}
	if err := c.sender.Send(c.sender.GetParameters()); err != nil {
		c.transport.logger.Error().Err(err).Str("consumer", c.id).Msg("send failed")
		c.Close()
		return
	}
	c.producer.RequestKeyFrame()

	for {
		pkts, _, err := c.sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				c.producer.RequestKeyFrame()
			}
		}
	}
}

func (c *Consumer) Close() {
	c.once.Do(func() {
		c.transport.router.relays.MarkSubscriberDelete(c.producer.id, c.id)
		c.transport.removeConsumer(c.id)
		if err := c.sender.Stop(); err != nil {
			c.transport.logger.Debug().Err(err).Str("consumer", c.id).Msg("sender stop")
		}
	})
}
