package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rzzdr/euro-option-pricer/pkg/metrics"
	"github.com/rzzdr/euro-option-pricer/pkg/models"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/errors"
)

const (
	ContentTypeJSON     = "application/json"
	ContentTypeProtobuf = "application/x-protobuf"
)

// Codec selects the payload encoding of published results
type Codec string

const (
	CodecJSON     Codec = "json"
	CodecProtobuf Codec = "protobuf"
)

// ParseCodec accepts "json" (default when empty) and "protobuf"/"proto"
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return CodecJSON, nil
	case "protobuf", "proto":
		return CodecProtobuf, nil
	default:
		return "", errors.InvalidInputf("unknown kafka codec %q", s)
	}
}

// ResultPublisher pushes a summary of each priced option downstream
type ResultPublisher interface {
	Publish(ctx context.Context, result *models.PricingResult) error
}

// Summary returns the published fields of a result. Simulated paths and the
// price history are left out.
func Summary(r *models.PricingResult) map[string]interface{} {
	return map[string]interface{}{
		"request_id":       r.RequestID,
		"ticker":           r.Ticker,
		"valuation_date":   r.ValuationDate.Format(time.DateOnly),
		"tte_days":         r.TTEDays,
		"strike":           r.Strike.Float64(),
		"spot":             r.SpotPrice,
		"process":          r.Process.String(),
		"rate_dataset":     r.RateDataset,
		"risk_free_rate":   r.RiskFreeRate,
		"volatility":       r.Volatility,
		"volatility_mode":  r.VolatilityMode,
		"simulations":      r.Simulations,
		"call_price":       r.CallPrice,
		"put_price":        r.PutPrice,
		"call_stderr":      r.CallStdErr,
		"put_stderr":       r.PutStdErr,
		"call_delta":       r.CallGreeks.Delta,
		"put_delta":        r.PutGreeks.Delta,
		"gamma":            r.CallGreeks.Gamma,
		"vega":             r.CallGreeks.Vega,
		"duration_seconds": r.Duration.Seconds(),
	}
}

// KafkaResultPublisher publishes summaries keyed by ticker
type KafkaResultPublisher struct {
	producer *Producer
	codec    Codec
	metrics  *metrics.Recorder
}

// Creates a new result publisher on top of producer
func NewResultPublisher(producer *Producer, codec Codec, recorder *metrics.Recorder) *KafkaResultPublisher {
	return &KafkaResultPublisher{producer: producer, codec: codec, metrics: recorder}
}

func (p *KafkaResultPublisher) Publish(ctx context.Context, result *models.PricingResult) (err error) {
	defer func() { p.metrics.RecordPublish(err) }()

	key := []byte(result.Ticker)
	headers := []MessageHeader{{Key: "request-id", Value: []byte(result.RequestID)}}
	summary := Summary(result)

	if p.codec != CodecProtobuf {
		return p.producer.ProduceJSON(ctx, key, summary, headers)
	}

	payload, err := encodeProtobuf(summary)
	if err != nil {
		return err
	}
	headers = append(headers, MessageHeader{Key: "content-type", Value: []byte(ContentTypeProtobuf)})
	return p.producer.ProduceMessage(ctx, key, payload, headers)
}

func encodeProtobuf(summary map[string]interface{}) ([]byte, error) {
	msg, err := structpb.NewStruct(summary)
	if err != nil {
		return nil, fmt.Errorf("failed to build protobuf struct: %w", err)
	}
	payload, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message to protobuf: %w", err)
	}
	return payload, nil
}

// Close closes the underlying producer
func (p *KafkaResultPublisher) Close() error {
	return p.producer.Close()
}
