package sink

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	spb "google.golang.org/protobuf/types/known/structpb"
	tspb "google.golang.org/protobuf/types/known/timestamppb"
	wpb "google.golang.org/protobuf/types/known/wrapperspb"
)

// Format selects the payload encoding of MQTT and Pub/Sub messages.
type Format string

const (
	// FormatProto is a binary google.protobuf.DoubleValue. Unavailable
	// readings are sent as NaN.
	FormatProto Format = "proto"
	// FormatJSON is a JSON object with device, sensor, unit, value and
	// timestamp. Unavailable readings have a null value.
	FormatJSON Format = "json"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatProto, FormatJSON:
		return f, nil
	case "":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("sink: unknown format %q", s)
}

func toStruct(r Reading) (*spb.Struct, error) {
	timepb := tspb.New(r.Time.UTC())
	if err := timepb.CheckValid(); err != nil {
		return nil, fmt.Errorf("sink: invalid timestamp: %w", err)
	}

	value := spb.NewNullValue()
	if r.Available() {
		value = spb.NewNumberValue(r.Value)
	}

	return &spb.Struct{
		Fields: map[string]*spb.Value{
			"device":    spb.NewStringValue(r.Device),
			"sensor":    spb.NewStringValue(r.Sensor),
			"unit":      spb.NewStringValue(r.Unit),
			"value":     value,
			"timestamp": spb.NewStringValue(timepb.AsTime().Format(time.RFC3339Nano)),
		},
	}, nil
}

// Encode marshals r in format f.
func Encode(r Reading, f Format) ([]byte, error) {
	switch f {
	case FormatProto:
		return proto.Marshal(wpb.Double(r.Value))
	case FormatJSON:
		s, err := toStruct(r)
		if err != nil {
			return nil, err
		}
		return protojson.Marshal(s)
	}
	return nil, fmt.Errorf("sink: unknown format %q", f)
}
