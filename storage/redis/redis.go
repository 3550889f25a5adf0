package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Tonic56/stock-trading-simulator/internal/config"
	"github.com/Tonic56/stock-trading-simulator/internal/models"
	"github.com/redis/go-redis/v9"
)

const channelPrefix = "quotes:"

// Channel is the pub/sub channel carrying price updates for symbol.
func Channel(symbol string) string {
	return channelPrefix + models.NormalizeSymbol(symbol)
}

type Message struct {
	Symbol string
	Update models.QuoteUpdate
}

func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Publisher announces refreshed quotes on the per-symbol channel.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) PublishQuote(ctx context.Context, update models.QuoteUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal quote update: %w", err)
	}
	if err := p.client.Publish(ctx, Channel(update.Symbol), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", update.Symbol, err)
	}
	return nil
}

type Subscriber struct {
	client        *redis.Client
	Messages      chan Message
	subscriptions map[string]*redis.PubSub
	mu            sync.RWMutex
	log           *slog.Logger
}

func NewSubscriber(client *redis.Client, log *slog.Logger) *Subscriber {
	return &Subscriber{
		client:        client,
		Messages:      make(chan Message, 1000),
		subscriptions: make(map[string]*redis.PubSub),
		log:           log,
	}
}

func (s *Subscriber) Subscribe(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	symbol = models.NormalizeSymbol(symbol)
	if _, exists := s.subscriptions[symbol]; exists {
		return nil
	}

	pubsub := s.client.Subscribe(ctx, Channel(symbol))

	// Wait for the subscription confirmation before reading messages.
	if _, err := pubsub.Receive(ctx); err != nil {
		s.log.Error("failed to subscribe to redis channel", "channel", Channel(symbol), "error", err)
		return err
	}

	s.subscriptions[symbol] = pubsub
	s.log.Info("subscribed to quote channel", "symbol", symbol)

	go s.listener(ctx, pubsub)

	return nil
}

func (s *Subscriber) Unsubscribe(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	symbol = models.NormalizeSymbol(symbol)
	pubsub, exists := s.subscriptions[symbol]
	if !exists {
		return nil
	}

	delete(s.subscriptions, symbol)

	if err := pubsub.Unsubscribe(ctx, Channel(symbol)); err != nil {
		s.log.Error("failed to unsubscribe from channel", "symbol", symbol, "error", err)
	}
	if err := pubsub.Close(); err != nil {
		s.log.Warn("error closing pubsub", "symbol", symbol, "error", err)
	}

	s.log.Info("unsubscribed from quote channel", "symbol", symbol)
	return nil
}

func (s *Subscriber) listener(ctx context.Context, pubsub *redis.PubSub) {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var update models.QuoteUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
				s.log.Error("failed to parse quote update", "channel", msg.Channel, "error", err)
				continue
			}

			select {
			case s.Messages <- Message{Symbol: strings.TrimPrefix(msg.Channel, channelPrefix), Update: update}:
			default:
				s.log.Warn("messages channel full, dropping quote update", "channel", msg.Channel)
			}
		}
	}
}

func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pubsub := range s.subscriptions {
		pubsub.Close()
	}
	s.subscriptions = make(map[string]*redis.PubSub)

	if s.Messages != nil {
		close(s.Messages)
	}
	s.log.Info("redis subscriber closed")
}
