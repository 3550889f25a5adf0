package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Tonic56/stock-trading-simulator/internal/models"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestProducerPublishTrade(t *testing.T) {
	w := &recordingWriter{}
	p := &Producer{writer: w, topic: "trades.settled", log: slog.New(slog.NewTextHandler(io.Discard, nil))}

	event := models.TradeEvent{
		UserID:    uuid.New(),
		Symbol:    "AAPL",
		Side:      models.SideBuy,
		Shares:    decimal.NewFromInt(10),
		Price:     decimal.RequireFromString("50"),
		Balance:   decimal.RequireFromString("99500"),
		Timestamp: time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC),
	}

	require.NoError(t, p.PublishTrade(context.Background(), event))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, event.UserID.String(), string(w.msgs[0].Key))

	var decoded models.TradeEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, "AAPL", decoded.Symbol)
	assert.True(t, decoded.Balance.Equal(event.Balance))

	t.Run("write_error_is_wrapped", func(t *testing.T) {
		w.err = errors.New("broker down")
		err := p.PublishTrade(context.Background(), event)
		assert.ErrorIs(t, err, w.err)
	})

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}
