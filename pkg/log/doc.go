// Package log provides structured event capture for the accessnode stack.
//
// Capture is separate from operational logging (slog). It records a
// machine-readable trace of link state changes, session frames, decoded
// portal messages and firmware update progress, which can be replayed
// later with the accessnode-log tool.
//
// # Basic Usage
//
//	// Development: mirror events to the console
//	cfg.Capture = log.NewSlogAdapter(slog.Default())
//
//	// Field units: append to a binary capture file
//	cfg.Capture, _ = log.NewFileLogger("/var/lib/accessnode/capture.cap")
//
//	// Both
//	cfg.Capture = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Layers
//
// Events are tagged with the layer that produced them:
//   - Link: radio association and address assignment (StateChangeEvent)
//   - Session: websocket frames and close codes (FrameEvent, CloseEvent)
//   - Protocol: decoded portal commands (MessageEvent)
//   - Update: firmware download phases (ProgressEvent)
//
// # File Format
//
// Capture files are a stream of CBOR-encoded events with integer keys and
// use the .cap extension.
package log
