package app

import (
	"context"
	"testing"
	"time"

	"ms-seatsale/internal/auth"
	"ms-seatsale/internal/config"
	"ms-seatsale/internal/logger"
	"ms-seatsale/internal/notification"
	"ms-seatsale/internal/payment/gateway"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGateway(t *testing.T) {
	log := logger.Discard()

	g, err := NewGateway(config.GatewayConfig{Backend: "http", BaseURL: "http://pay", Timeout: time.Second}, nil, log)
	require.NoError(t, err)
	assert.IsType(t, &gateway.HTTPClient{}, g)

	g, err = NewGateway(config.GatewayConfig{Backend: "stripe", StripeKey: "sk_test_123"}, nil, log)
	require.NoError(t, err)
	assert.IsType(t, &gateway.StripeGateway{}, g)

	_, err = NewGateway(config.GatewayConfig{Backend: "stripe"}, nil, log)
	assert.ErrorIs(t, err, gateway.ErrStripeClientInitFailed)

	_, err = NewGateway(config.GatewayConfig{Backend: "paypal"}, nil, log)
	assert.Error(t, err)
}

func TestNewPublisher(t *testing.T) {
	log := logger.Discard()

	pub, err := NewPublisher(&config.Config{Notify: "none"}, log)
	require.NoError(t, err)
	assert.Nil(t, pub)

	pub, err = NewPublisher(&config.Config{Notify: "rabbitmq", RabbitMQ: config.RabbitMQConfig{URL: "amqp://localhost", Exchange: "x"}}, log)
	require.NoError(t, err)
	assert.IsType(t, &notification.RabbitPublisher{}, pub)
	assert.NoError(t, pub.Close())

	_, err = NewPublisher(&config.Config{Notify: "smoke-signals"}, log)
	assert.Error(t, err)
}

func TestVerifierFallsBackToSecret(t *testing.T) {
	v, err := Verifier(context.Background(), config.AuthConfig{HMACSecret: "s"})
	require.NoError(t, err)
	assert.IsType(t, &auth.HMACVerifier{}, v)

	_, err = Verifier(context.Background(), config.AuthConfig{})
	assert.Error(t, err)
}
