package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/agentfabric/fabric/pkg/profile"
)

// Subjects of the p2p announcement channel.
const (
	subjectAnnounce = "fabric.announce"
	subjectBrowse   = "fabric.browse"
)

// natsAnnouncer implements Announcer over NATS: announcements are published
// on fabric.announce, and browse requests are answered on fabric.browse
// with the local profile.
type natsAnnouncer struct {
	conn *nats.Conn

	mu    sync.Mutex
	local *profile.AgentProfile
	subs  []*nats.Subscription
}

// NewNATSAnnouncer connects to a NATS server and returns the p2p announcer.
func NewNATSAnnouncer(url string) (Announcer, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url,
		nats.Name("fabric-discovery"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return &natsAnnouncer{conn: conn}, nil
}

func (a *natsAnnouncer) SetLocalProfile(p *profile.AgentProfile) {
	a.mu.Lock()
	a.local = p.Clone()
	a.mu.Unlock()
}

func (a *natsAnnouncer) Announce(ctx context.Context, p *profile.AgentProfile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}
	if err := a.conn.Publish(subjectAnnounce, data); err != nil {
		return err
	}
	return a.conn.FlushWithContext(ctx)
}

// Browse asks all peers for their profiles and collects replies for wait.
func (a *natsAnnouncer) Browse(ctx context.Context, wait time.Duration) ([]*profile.AgentProfile, error) {
	inbox := nats.NewInbox()
	replies := make(chan *nats.Msg, 64)
	sub, err := a.conn.ChanSubscribe(inbox, replies)
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	if err := a.conn.PublishRequest(subjectBrowse, inbox, nil); err != nil {
		return nil, err
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	var out []*profile.AgentProfile
	for {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-timer.C:
			return out, nil
		case msg := <-replies:
			var p profile.AgentProfile
			if err := json.Unmarshal(msg.Data, &p); err == nil && p.AgentID != "" {
				out = append(out, &p)
			}
		}
	}
}

// Listen subscribes to peer announcements and browse requests.
func (a *natsAnnouncer) Listen(onDiscovered func(p *profile.AgentProfile)) error {
	announceSub, err := a.conn.Subscribe(subjectAnnounce, func(msg *nats.Msg) {
		var p profile.AgentProfile
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.AgentID == "" {
			return
		}
		onDiscovered(&p)
	})
	if err != nil {
		return err
	}

	browseSub, err := a.conn.Subscribe(subjectBrowse, func(msg *nats.Msg) {
		a.mu.Lock()
		local := a.local
		a.mu.Unlock()
		if local == nil || msg.Reply == "" {
			return
		}
		data, err := json.Marshal(local)
		if err != nil {
			return
		}
		_ = a.conn.Publish(msg.Reply, data)
	})
	if err != nil {
		_ = announceSub.Unsubscribe()
		return err
	}

	a.mu.Lock()
	a.subs = append(a.subs, announceSub, browseSub)
	a.mu.Unlock()
	return nil
}

func (a *natsAnnouncer) Close() error {
	a.mu.Lock()
	subs := a.subs
	a.subs = nil
	a.mu.Unlock()
	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	a.conn.Close()
	return nil
}
