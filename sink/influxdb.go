package sink

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const influxMeasurement = "energy"

// newInfluxDBPoint converts r to a point. Unavailable readings have no point.
func newInfluxDBPoint(r Reading) (*write.Point, bool) {
	if !r.Available() {
		return nil, false
	}

	p := influxdb2.NewPointWithMeasurement(influxMeasurement).
		AddTag("device", r.Device).
		AddTag("sensor", Slug(r.Sensor)).
		AddField("value", r.Value).
		SetTime(r.Time)
	if r.Unit != "" {
		p = p.AddTag("unit", r.Unit)
	}
	return p, true
}

type InfluxDB struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
}

func NewInfluxDB(serverURL, token, org, bucket string) *InfluxDB {
	client := influxdb2.NewClient(serverURL, token)
	return &InfluxDB{
		client: client,
		write:  client.WriteAPIBlocking(org, bucket),
	}
}

func (db *InfluxDB) Write(ctx context.Context, r Reading) error {
	p, ok := newInfluxDBPoint(r)
	if !ok {
		return nil
	}
	if err := db.write.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("sink: InfluxDB write: %w", err)
	}
	return nil
}

func (db *InfluxDB) Close() error {
	db.client.Close()
	return nil
}
