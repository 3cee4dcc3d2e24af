package main

import (
	"context"
	"fmt"

	"github.com/edaniels/golog"
	"github.com/mtraver/energy-meter/config"
	"github.com/mtraver/energy-meter/sink"
	"github.com/mtraver/envtools"
	"google.golang.org/api/option"
)

// openSinks connects every configured sink. The Status sink is always
// present and is returned separately for the web server. In a dry run
// readings are only logged.
func openSinks(ctx context.Context, cfg *config.Config, dryrun bool, logger golog.Logger) (sink.Fanout, *sink.Status, error) {
	status := sink.NewStatus(cfg.StatusTTL)
	out := sink.Fanout{status}

	if dryrun {
		return append(out, sink.NewLog(logger)), status, nil
	}

	fail := func(err error) (sink.Fanout, *sink.Status, error) {
		out.Close()
		return nil, nil, err
	}

	if m := cfg.MQTT; m != nil {
		s, err := openMQTT(m, logger)
		if err != nil {
			return fail(err)
		}
		out = append(out, s)
	}

	if db := cfg.InfluxDB; db != nil {
		token := envtools.MustGetenv(db.TokenEnv)
		out = append(out, sink.NewInfluxDB(db.URL, token, db.Org, db.Bucket))
		logger.Infof("Writing to InfluxDB at %s", db.URL)
	}

	if ps := cfg.PubSub; ps != nil {
		var opts []option.ClientOption
		if ps.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(ps.CredentialsFile))
		}
		s, err := sink.NewPubSub(ctx, ps.Project, ps.Topic, opts...)
		if err != nil {
			return fail(fmt.Errorf("pubsub: %w", err))
		}
		out = append(out, s)
		logger.Infof("Publishing to Pub/Sub topic %s in %s", ps.Topic, ps.Project)
	}

	return out, status, nil
}

func openMQTT(m *config.MQTTConfig, logger golog.Logger) (*sink.MQTT, error) {
	format, err := sink.ParseFormat(m.Format)
	if err != nil {
		return nil, err
	}

	if err := sink.MakeStoreDir(m.StoreDir); err != nil {
		return nil, fmt.Errorf("failed to make dir %s: %w", m.StoreDir, err)
	}

	if m.AWSDeviceFile != "" {
		device, err := sink.ParseAWSDeviceFile(m.AWSDeviceFile)
		if err != nil {
			return nil, fmt.Errorf("failed to parse device file: %w", err)
		}
		client, err := sink.ConnectAWS(device, sink.FileStore(m.StoreDir), sink.ConnectionLogging(logger, "AWS"))
		if err != nil {
			return nil, err
		}
		logger.Infof("Connected to AWS IoT Core as %s", device.DeviceID)
		return sink.NewMQTT(client, m.TopicPrefix, format), nil
	}

	client, err := sink.ConnectMQTT(m.Broker, m.ClientID, sink.FileStore(m.StoreDir), sink.ConnectionLogging(logger, "MQTT"))
	if err != nil {
		return nil, err
	}
	logger.Infof("Connected to MQTT broker %s as %s", m.Broker, m.ClientID)
	return sink.NewMQTT(client, m.TopicPrefix, format), nil
}
