package service

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/totegamma/checkpoint/internal/domain"
)

// SignalService relays revision events over a redis channel.
type SignalService struct {
	rdb     *redis.Client
	channel string
	log     zerolog.Logger
}

func NewSignalService(redisClient *redis.Client, channel string, log zerolog.Logger) *SignalService {
	return &SignalService{
		rdb:     redisClient,
		channel: channel,
		log:     log,
	}
}

func (s *SignalService) Publish(ctx context.Context, event domain.RevisionEvent) error {

	jsonstr, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = s.rdb.Publish(ctx, s.channel, jsonstr).Err()
	if err != nil {
		return err
	}

	return nil
}

// Realtime forwards events to output until ctx ends or input closes. Each
// value received on input replaces the entity type filter; an empty filter
// passes every event.
func (s *SignalService) Realtime(ctx context.Context, input <-chan []string, output chan<- domain.RevisionEvent) {
	pubsub := s.rdb.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	// wait for the subscription to be confirmed before relaying
	if _, err := pubsub.Receive(ctx); err != nil {
		s.log.Error().Err(err).Str("channel", s.channel).Msg("failed to subscribe")
		return
	}

	messages := pubsub.Channel()
	filter := map[string]bool{}

	for {
		select {
		case <-ctx.Done():
			return
		case types, ok := <-input:
			if !ok {
				return
			}
			filter = make(map[string]bool, len(types))
			for _, t := range types {
				filter[t] = true
			}
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var event domain.RevisionEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				s.log.Warn().Err(err).Msg("dropping malformed revision event")
				continue
			}
			if len(filter) > 0 && !filter[event.Revision.EntityType] {
				continue
			}
			select {
			case output <- event:
			case <-ctx.Done():
				return
			}
		}
	}
}
