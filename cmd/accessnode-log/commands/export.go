package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/accessnode/accessnode-go/pkg/log"
)

// RunExport writes the capture at path as jsonl or csv to output, or to
// stdout when output is empty.
func RunExport(path, format, output string) error {
	var export func(string, io.Writer) error
	switch format {
	case "jsonl":
		export = exportJSONL
	case "csv":
		export = exportCSV
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	return export(path, w)
}

func exportJSONL(path string, w io.Writer) error {
	encoder := json.NewEncoder(w)
	return log.Scan(path, log.Filter{}, func(event log.Event) error {
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		return nil
	})
}

var csvHeader = []string{"timestamp", "connection_id", "direction", "layer", "category", "device_id", "type", "detail"}

func exportCSV(path string, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	err := log.Scan(path, log.Filter{}, func(event log.Event) error {
		return cw.Write([]string{
			event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
			event.ConnectionID,
			event.Direction.String(),
			event.Layer.String(),
			event.Category.String(),
			event.DeviceID,
			eventType(event),
			eventDetail(event),
		})
	})
	if err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}
// eventDetail summarises the payload in one cell.
func eventDetail(event log.Event) string {
	switch {
	case event.Frame != nil:
		return strconv.Itoa(event.Frame.Size)
	case event.StateChange != nil:
		return event.StateChange.Entity.String() + " " + event.StateChange.NewState
	case event.Close != nil:
		return strconv.Itoa(int(event.Close.Code))
	case event.Progress != nil:
		return event.Progress.Phase
	case event.Error != nil:
		return event.Error.Message
	default:
		return ""
	}
}
