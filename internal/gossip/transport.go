package gossip

// Transport wires the intent-gossip Server to the peer-to-peer pub/sub
// delivery mechanism. Only message delivery lives here; the dedup/filter/
// matchmaker-dispatch logic stays in Server.HandleIntentGossipMessage.

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p"
	libp2phost "github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/sirupsen/logrus"

	"vpledger/pkg/logging"
)

// IntentTopic is the single pub/sub topic the intent-gossip transport
// joins; every message on it is an encoded IntentGossipMessage.
const IntentTopic = "anoma/intent-gossip/1.0.0"

// TransportConfig configures the libp2p host constructed by NewTransport,
// mirroring the Network section of pkg/config.Config.
type TransportConfig struct {
	ListenAddr     string
	DiscoveryTag   string
	BootstrapPeers []string
}

// Transport owns the libp2p host, its GossipSub router, and the single
// joined intent topic. It delivers every received message to a Server via
// HandleIntentGossipMessage and exposes Publish for locally originated
// intents; it performs no dedup, filtering, or matching itself.
type Transport struct {
	host   libp2phost.Host
	ps     *pubsub.PubSub
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	ctx    context.Context
	cancel context.CancelFunc

	server *Server
	log    *logrus.Entry
}

// NewTransport constructs a libp2p host bound to cfg.ListenAddr, starts a
// GossipSub router over it, and joins IntentTopic. server receives every
// inbound message via HandleIntentGossipMessage; server may be nil to run a
// publish-only transport (e.g. a matchmaker-only process with no local
// mempool to feed).
func NewTransport(ctx context.Context, cfg TransportConfig, server *Server) (*Transport, error) {
	hostCtx, cancel := context.WithCancel(ctx)

	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("gossip: create libp2p host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(hostCtx, h)
	if err != nil {
		_ = h.Close()
		cancel()
		return nil, fmt.Errorf("gossip: create gossipsub: %w", err)
	}

	topic, err := ps.Join(IntentTopic)
	if err != nil {
		_ = h.Close()
		cancel()
		return nil, fmt.Errorf("gossip: join topic %s: %w", IntentTopic, err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		_ = h.Close()
		cancel()
		return nil, fmt.Errorf("gossip: subscribe topic %s: %w", IntentTopic, err)
	}

	t := &Transport{
		host:   h,
		ps:     ps,
		topic:  topic,
		sub:    sub,
		ctx:    hostCtx,
		cancel: cancel,
		server: server,
		log:    logging.For("gossip.transport"),
	}

	if cfg.DiscoveryTag != "" {
		svc := mdns.NewMdnsService(h, cfg.DiscoveryTag, mdnsNotifee{t})
		if err := svc.Start(); err != nil {
			t.log.Warnf("mDNS start: %v", err)
		}
	}
	for _, addr := range cfg.BootstrapPeers {
		if pi, err := peer.AddrInfoFromString(addr); err == nil {
			if err := h.Connect(hostCtx, *pi); err != nil {
				t.log.Warnf("bootstrap connect %s: %v", addr, err)
			}
		} else {
			t.log.Warnf("invalid bootstrap addr %s: %v", addr, err)
		}
	}

	go t.receiveLoop()
	return t, nil
}

// mdnsNotifee adapts Transport to mdns.Notifee without exposing HandlePeerFound
// on Transport's own method set.
type mdnsNotifee struct{ t *Transport }

func (n mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.t.host.ID() {
		return
	}
	if err := n.t.host.Connect(n.t.ctx, info); err != nil {
		n.t.log.Warnf("mDNS connect %s: %v", info.ID.String(), err)
		return
	}
	n.t.log.Infof("connected to peer %s via mDNS", info.ID.String())
}

// receiveLoop forwards every message on IntentTopic to the wired Server.
// It runs on its own goroutine, decoupled from the shell thread.
func (t *Transport) receiveLoop() {
	for {
		msg, err := t.sub.Next(t.ctx)
		if err != nil {
			t.log.Warnf("subscription ended: %v", err)
			return
		}
		if msg.ReceivedFrom == t.host.ID() {
			continue
		}
		if t.server == nil {
			continue
		}
		if err := t.server.HandleIntentGossipMessage(msg.Data); err != nil {
			t.log.Warnf("handle intent gossip message: %v", err)
		}
	}
}

// Publish broadcasts raw, already-encoded IntentGossipMessage bytes (see
// wireproto.EncodeIntentGossipMessage) to every subscriber of IntentTopic.
func (t *Transport) Publish(raw []byte) error {
	return t.topic.Publish(t.ctx, raw)
}

// Close tears down the subscription, topic, and underlying host.
func (t *Transport) Close() error {
	t.sub.Cancel()
	_ = t.topic.Close()
	t.cancel()
	return t.host.Close()
}
