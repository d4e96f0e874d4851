package observability

import (
	"testing"
	"time"

	"github.com/rs/zerolog/log"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordFrame("inbound", "mouse_move", 9)
	RecordFrame("outbound", "png_frame_v2", 4096)
	RecordDecodeError("truncated")
	RecordHandshakeDiscard("mouse_move")
	RecordDroppedFrame("clipboard_data", "no_handler")
	RecordHandlerError("keyboard_input")
	SessionOpened("server")
	SessionClosed("server")
	RecordRecordedFrame("inbound")
	RecordMFAChallenge("issued")
	RecordHTTPRequest("bridgectl", "GET", "/health", 200, 12*time.Millisecond)

	log.Info().Msg("observability/metrics: registration idempotent and recording paths executed")
}
