package pricing

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HermesUpdate is one raw oracle observation from the Hermes SSE stream. The
// mantissa and exponent are kept verbatim so the on-chain feed record stores
// exactly what the oracle published.
type HermesUpdate struct {
	FeedID      string
	Price       uint64
	Confidence  uint64
	Expo        int32
	PublishTime int64
	Slot        int64
}

// HermesHandler receives each update for the subscribed feed. Returning an
// error aborts the current connection; the stream reconnects.
type HermesHandler func(ctx context.Context, update HermesUpdate) error

// HermesStream consumes the Hermes price-service SSE endpoint for a single
// feed and hands raw updates to a handler.
type HermesStream struct {
	endpoint       string
	feedID         string
	reconnectDelay time.Duration
	client         *http.Client
	logger         *slog.Logger
}

func NewHermesStream(endpoint, feedID string, reconnectDelay time.Duration, logger *slog.Logger) (*HermesStream, error) {
	endpoint = strings.TrimSpace(endpoint)
	feedID = strings.ToLower(strings.TrimSpace(feedID))
	if endpoint == "" || feedID == "" {
		return nil, errors.New("hermes stream requires an endpoint and a feed id")
	}
	if reconnectDelay <= 0 {
		reconnectDelay = 3 * time.Second
	}
	return &HermesStream{
		endpoint:       endpoint,
		feedID:         feedID,
		reconnectDelay: reconnectDelay,
		client:         &http.Client{},
		logger:         logger,
	}, nil
}

// Run blocks until ctx is cancelled, reconnecting with a fixed delay whenever
// the stream drops.
func (s *HermesStream) Run(ctx context.Context, handler HermesHandler) error {
	s.logger.Info(
		"hermes price stream enabled",
		"endpoint", s.endpoint,
		"feed_id", s.feedID,
		"reconnect_delay", s.reconnectDelay.String(),
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.consume(ctx, handler)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("hermes price stream disconnected", "err", err, "retry_in", s.reconnectDelay.String())
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.reconnectDelay):
		}
	}
}

type hermesEnvelope struct {
	Parsed []hermesPriceUpdate `json:"parsed"`
}

type hermesPriceUpdate struct {
	ID       string              `json:"id"`
	Price    hermesPriceSnapshot `json:"price"`
	Metadata hermesMetadata      `json:"metadata"`
}

type hermesPriceSnapshot struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

type hermesMetadata struct {
	Slot int64 `json:"slot"`
}

func (s *HermesStream) consume(ctx context.Context, handler HermesHandler) error {
	streamURL, err := buildHermesStreamURL(s.endpoint, s.feedID)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return fmt.Errorf("build hermes stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("open hermes stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("open hermes stream: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 1024), 64*1024*1024)

	var eventData strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			if eventData.Len() == 0 {
				continue
			}
			if err := s.dispatchEvent(ctx, eventData.String(), handler); err != nil {
				return err
			}
			eventData.Reset()
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if eventData.Len() > 0 {
			eventData.WriteByte('\n')
		}
		eventData.WriteString(payload)
	}

	if eventData.Len() > 0 {
		if err := s.dispatchEvent(ctx, eventData.String(), handler); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read hermes stream: %w", err)
	}

	return io.EOF
}

func (s *HermesStream) dispatchEvent(ctx context.Context, rawEvent string, handler HermesHandler) error {
	payload := strings.TrimSpace(rawEvent)
	if payload == "" || payload == "[DONE]" {
		return nil
	}

	var event hermesEnvelope
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		s.logger.Warn("failed to decode hermes stream event", "err", err)
		return nil
	}

	now := time.Now().Unix()
	for _, update := range event.Parsed {
		updateID := strings.ToLower(strings.TrimSpace(update.ID))
		if updateID != s.feedID {
			continue
		}

		price, err := parseHermesMantissa(update.Price.Price)
		if err != nil || price == 0 {
			continue
		}
		conf, err := parseHermesMantissa(update.Price.Conf)
		if err != nil {
			conf = 0
		}

		publishTime := update.Price.PublishTime
		if publishTime <= 0 {
			publishTime = now
		}

		err = handler(ctx, HermesUpdate{
			FeedID:      updateID,
			Price:       price,
			Confidence:  conf,
			Expo:        update.Price.Expo,
			PublishTime: publishTime,
			Slot:        update.Metadata.Slot,
		})
		if err != nil {
			return fmt.Errorf("handle hermes update: %w", err)
		}
	}

	return nil
}

func buildHermesStreamURL(endpoint string, feedID string) (string, error) {
	parsedURL, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse hermes endpoint: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return "", fmt.Errorf("invalid hermes endpoint: %q", endpoint)
	}

	query := parsedURL.Query()
	query.Del("ids[]")
	query.Add("ids[]", feedID)
	if strings.TrimSpace(query.Get("parsed")) == "" {
		query.Set("parsed", "true")
	}
	parsedURL.RawQuery = query.Encode()

	return parsedURL.String(), nil
}

// Hermes serializes mantissas as decimal strings. They stay integers end to
// end; float parsing would lose precision on wide feeds.
func parseHermesMantissa(raw string) (uint64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, errors.New("empty mantissa")
	}
	return strconv.ParseUint(trimmed, 10, 64)
}
