package httpserver

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	collectormetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/tinytelemetry/pulse/internal/ingest"
)

// maxOTLPBody bounds a decompressed OTLP/HTTP request body.
const maxOTLPBody = 16 << 20

// OTLPIngester records an OTLP export request.
type OTLPIngester interface {
	Ingest(req *collectormetrics.ExportMetricsServiceRequest) (accepted int, rejected int64)
}

func (s *Server) handleOTLP(c *gin.Context) {
	body, err := ingest.Decompress(c.Request.Body, c.GetHeader("Content-Encoding"))
	if err != nil {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
		return
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, maxOTLPBody+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	if len(data) > maxOTLPBody {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
		return
	}

	contentType := c.ContentType()
	req, err := ingest.DecodeOTLP(data, contentType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	_, rejected := s.cfg.OTLP.Ingest(req)
	resp := ingest.ExportResponse(rejected)

	if strings.HasPrefix(contentType, "application/json") {
		out, err := protojson.Marshal(resp)
		if err != nil {
			_ = c.Error(err)
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Data(http.StatusOK, "application/json", out)
		return
	}
	out, err := proto.Marshal(resp)
	if err != nil {
		_ = c.Error(err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "application/x-protobuf", out)
}
