package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/protocol"
)

// fanoutSubjectPrefix is the NATS subject space for session updates; the
// session UUID is the final token.
const fanoutSubjectPrefix = "party.session."

// Fanout relays accepted session updates between relay instances over
// NATS, so the members of one party can be connected to different nodes.
// Core NATS is enough here: session state is ephemeral and the clients'
// periodic reconcile cycle heals any lost message.
type Fanout struct {
	nc         *nats.Conn
	sub        *nats.Subscription
	hub        *Hub
	instanceID string
}

type fanoutUpdate struct {
	Origin    string                 `json:"origin"`
	SessionID string                 `json:"sessionId"`
	Update    protocol.PlaybackState `json:"update"`
}

// NewFanout connects to NATS and starts relaying updates into the given
// hub.
func NewFanout(url string, hub *Hub) (*Fanout, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	f := &Fanout{
		nc:         nc,
		hub:        hub,
		instanceID: uuid.NewString(),
	}
	sub, err := nc.Subscribe(fanoutSubjectPrefix+"*", f.receive)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe to session updates: %w", err)
	}
	f.sub = sub

	log.Info().Str("instance_id", f.instanceID).Msg("relay fan-out started")
	return f, nil
}

// Publish announces an accepted update to the other relay instances.
func (f *Fanout) Publish(sessionID uuid.UUID, update protocol.PlaybackState) {
	payload, err := json.Marshal(fanoutUpdate{
		Origin:    f.instanceID,
		SessionID: sessionID.String(),
		Update:    update,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal fan-out update")
		return
	}
	if err := f.nc.Publish(fanoutSubjectPrefix+sessionID.String(), payload); err != nil {
		log.Warn().Err(err).Msg("failed to publish fan-out update")
	}
}

// receive applies an update published by another instance to the local
// connection pools.
func (f *Fanout) receive(msg *nats.Msg) {
	var update fanoutUpdate
	if err := json.Unmarshal(msg.Data, &update); err != nil {
		log.Warn().Err(err).Msg("undecodable fan-out update")
		return
	}
	if update.Origin == f.instanceID {
		return
	}
	sessionID, err := uuid.Parse(update.SessionID)
	if err != nil {
		log.Warn().Err(err).Msg("fan-out update with invalid session id")
		return
	}
	f.hub.BroadcastPush(sessionID, protocol.TypeUpdate, update.Update, nil)
}

// Close stops the fan-out.
func (f *Fanout) Close() {
	if f.sub != nil {
		f.sub.Unsubscribe()
	}
	f.nc.Close()
}
