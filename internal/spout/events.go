package spout

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const programDataPrefix = "Program data: "

// Anchor event discriminators, sha256("event:"+Name)[:8].
var (
	eventBuyOrderCreated  = eventDiscriminator("BuyOrderCreated")
	eventSellOrderCreated = eventDiscriminator("SellOrderCreated")
)

func eventDiscriminator(name string) [8]byte {
	hash := sha256.Sum256([]byte("event:" + name))
	var out [8]byte
	copy(out[:], hash[:8])
	return out
}

// OrderEvent is an emitted BuyOrderCreated/SellOrderCreated payload.
type OrderEvent struct {
	Side            OrderSide
	User            solana.PublicKey
	Ticker          string
	UsdcAmount      uint64
	AssetAmount     uint64
	Price           uint64
	OracleTimestamp int64
}

type orderEventBody struct {
	User            solana.PublicKey
	Ticker          string
	UsdcAmount      uint64
	AssetAmount     uint64
	Price           uint64
	OracleTimestamp int64
}

// ParseOrderEvents extracts order events from transaction log messages.
// Non-event and foreign-program data lines are skipped; a data line with a
// known discriminator but an undecodable body is an error.
func ParseOrderEvents(logMessages []string) ([]OrderEvent, error) {
	var out []OrderEvent
	for _, line := range logMessages {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, programDataPrefix) {
			continue
		}
		payload, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(trimmed, programDataPrefix))
		if err != nil || len(payload) < 8 {
			continue
		}

		var side OrderSide
		switch {
		case bytes.Equal(payload[:8], eventBuyOrderCreated[:]):
			side = OrderSideBuy
		case bytes.Equal(payload[:8], eventSellOrderCreated[:]):
			side = OrderSideSell
		default:
			continue
		}

		var body orderEventBody
		if err := bin.NewBorshDecoder(payload[8:]).Decode(&body); err != nil {
			return nil, fmt.Errorf("decode %s order event: %w", side, err)
		}
		out = append(out, OrderEvent{
			Side:            side,
			User:            body.User,
			Ticker:          body.Ticker,
			UsdcAmount:      body.UsdcAmount,
			AssetAmount:     body.AssetAmount,
			Price:           body.Price,
			OracleTimestamp: body.OracleTimestamp,
		})
	}
	return out, nil
}

// EncodeOrderEvent renders an event the way the program logs it. Used by tests
// and local tooling.
func EncodeOrderEvent(ev OrderEvent) (string, error) {
	disc := eventBuyOrderCreated
	if ev.Side == OrderSideSell {
		disc = eventSellOrderCreated
	}
	var buf bytes.Buffer
	buf.Write(disc[:])
	if err := bin.NewBorshEncoder(&buf).Encode(orderEventBody{
		User:            ev.User,
		Ticker:          ev.Ticker,
		UsdcAmount:      ev.UsdcAmount,
		AssetAmount:     ev.AssetAmount,
		Price:           ev.Price,
		OracleTimestamp: ev.OracleTimestamp,
	}); err != nil {
		return "", err
	}
	return programDataPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
