// internal/publish/nats.go

// Package publish forwards live snapshots to a NATS subject.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	nats "github.com/nats-io/nats.go"

	"github.com/tamzrod/ring-tester/internal/telemetry"
)

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subj string, data []byte) error
}

// Message is the payload published per snapshot.
type Message struct {
	Controller string             `json:"controller"`
	Snapshot   telemetry.Snapshot `json:"snapshot"`
}

// Connect dials url and keeps reconnecting for the life of the process.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("publish: nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Printf("publish: nats reconnected (url=%s)", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("publish: connect %s: %w", url, err)
	}
	return nc, nil
}

type Publisher struct {
	conn       Conn
	subject    string
	controller string
}

func New(conn Conn, subject, controller string) *Publisher {
	return &Publisher{conn: conn, subject: subject, controller: controller}
}

// Run publishes every snapshot from feed until it closes or ctx is done.
// Publish failures are logged once per outage.
func (p *Publisher) Run(ctx context.Context, feed <-chan telemetry.Snapshot) {
	log.Printf("publish: started (subject=%s)", p.subject)
	defer log.Printf("publish: stopped (subject=%s)", p.subject)

	failing := false
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-feed:
			if !ok {
				return
			}
			err := p.Publish(snap)
			switch {
			case err != nil && !failing:
				log.Printf("publish: %v", err)
				failing = true
			case err == nil && failing:
				log.Printf("publish: recovered (subject=%s)", p.subject)
				failing = false
			}
		}
	}
}

// Publish sends one snapshot.
func (p *Publisher) Publish(snap telemetry.Snapshot) error {
	data, err := json.Marshal(Message{Controller: p.controller, Snapshot: snap})
	if err != nil {
		return fmt.Errorf("publish: encode: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish: %s: %w", p.subject, err)
	}
	return nil
}
