package exporters

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" authorization=Bearer abc , x-team=data,broken, =empty")
	assert.Equal(t, map[string]string{
		"authorization": "Bearer abc",
		"x-team":        "data",
	}, headers)
	assert.Empty(t, ParseHeaders(""))
}

func TestNewOTLPExporterRejectsBadConfig(t *testing.T) {
	_, err := NewOTLPExporter(context.Background(), OTLPConfig{Protocol: "grpc"})
	assert.ErrorContains(t, err, "endpoint is required")

	_, err = NewOTLPExporter(context.Background(), OTLPConfig{Endpoint: "localhost:4317", Protocol: "udp"})
	assert.ErrorContains(t, err, "unsupported OTLP protocol")
}
