package feed

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/rs/zerolog"
)

// InfluxPublisher writes feed records to an InfluxDB bucket, one point per
// record with the feed name as measurement and the block name as a tag.
// Writes go through the non-blocking write API so a slow backend cannot
// stall an acquisition loop; write errors are logged, not surfaced.
type InfluxPublisher struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	log      zerolog.Logger
}

// NewInfluxPublisher connects to the InfluxDB instance at url and targets
// the given org and bucket.
func NewInfluxPublisher(url, token, org, bucket string, log zerolog.Logger) *InfluxPublisher {
	client := influxdb2.NewClient(url, token)
	writeAPI := client.WriteAPI(org, bucket)

	p := &InfluxPublisher{
		client:   client,
		writeAPI: writeAPI,
		log:      log.With().Str("component", "influx").Logger(),
	}
	go func() {
		for err := range writeAPI.Errors() {
			p.log.Warn().Err(err).Msg("influx write failed")
		}
	}()
	return p
}

// Publish queues one point for asynchronous delivery.
func (p *InfluxPublisher) Publish(feed string, rec Record) error {
	fields := make(map[string]interface{}, len(rec.Data))
	for k, v := range rec.Data {
		fields[k] = v
	}
	sec := int64(rec.Timestamp)
	nsec := int64((rec.Timestamp - float64(sec)) * 1e9)
	point := influxdb2.NewPoint(feed,
		map[string]string{"block_name": rec.BlockName},
		fields,
		time.Unix(sec, nsec).UTC())
	p.writeAPI.WritePoint(point)
	return nil
}

// Close flushes pending points and shuts down the client.
func (p *InfluxPublisher) Close() error {
	p.writeAPI.Flush()
	p.client.Close()
	return nil
}
