package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/chatkeeper/internal/flagx"
	"github.com/dmitrijs2005/chatkeeper/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Durations accept
// "2s"-style strings or integer nanoseconds.
type JsonConfig struct {
	EndpointAddrHTTP        string         `json:"endpoint_addr_http"`
	DatabaseDSN             string         `json:"database_dsn"`
	RedisURL                string         `json:"redis_url"`
	CallbackBaseURL         string         `json:"callback_base_url"`
	DeliveryTransport       string         `json:"delivery_transport"`
	QStashURL               string         `json:"qstash_url"`
	QStashToken             string         `json:"qstash_token"`
	QStashCurrentSigningKey string         `json:"qstash_current_signing_key"`
	QStashNextSigningKey    string         `json:"qstash_next_signing_key"`
	NATSURL                 string         `json:"nats_url"`
	DispatchDelay           timex.Duration `json:"dispatch_delay"`
	BatchConcurrency        int            `json:"batch_concurrency"`
	APIToken                string         `json:"api_token"`
	S3RootUser              string         `json:"s3_root_user"`
	S3RootPassword          string         `json:"s3_root_password"`
	S3Bucket                string         `json:"s3_bucket"`
	S3Region                string         `json:"s3_region"`
	S3BaseEndpoint          string         `json:"s3_base_endpoint"`
}

// parseJson overlays values from the JSON file named by -c/-config (or
// $CHATKEEPER_CONFIG) onto config. Keys absent from the file keep their
// current value. An unreadable or invalid file panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.ConfigFileFlag()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.RedisURL, c.RedisURL)
	setString(&config.CallbackBaseURL, c.CallbackBaseURL)
	setString(&config.DeliveryTransport, c.DeliveryTransport)
	setString(&config.QStashURL, c.QStashURL)
	setString(&config.QStashToken, c.QStashToken)
	setString(&config.QStashCurrentSigningKey, c.QStashCurrentSigningKey)
	setString(&config.QStashNextSigningKey, c.QStashNextSigningKey)
	setString(&config.NATSURL, c.NATSURL)
	if c.DispatchDelay.Duration > 0 {
		config.DispatchDelay = c.DispatchDelay.Duration
	}
	if c.BatchConcurrency > 0 {
		config.BatchConcurrency = c.BatchConcurrency
	}
	setString(&config.APIToken, c.APIToken)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
