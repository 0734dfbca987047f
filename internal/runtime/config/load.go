package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. RINGFLOW_CAPACITY.
const EnvPrefix = "RINGFLOW"

// Load reads the configuration from path (optional) and the environment,
// layered over Default.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	normalizeLists(cfg)
	return cfg, nil
}

// LoadAndValidate is Load followed by Validate.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Join(fmt.Errorf("config: %s", path), err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("capacity", d.Capacity)
	v.SetDefault("overflow_policy", d.OverflowPolicy)
	v.SetDefault("wait_strategy", d.WaitStrategy)
	v.SetDefault("publish_max_retries", d.PublishMaxRetries)
	v.SetDefault("publish_initial_backoff", d.PublishInitialBackoff)
	v.SetDefault("publish_max_backoff", d.PublishMaxBackoff)
	v.SetDefault("drain_timeout", d.DrainTimeout)
	v.SetDefault("metrics_enabled", d.MetricsEnabled)
	v.SetDefault("metrics_port", d.MetricsPort)
	v.SetDefault("webui_enabled", d.WebUIEnabled)
	v.SetDefault("webui_port", d.WebUIPort)
	v.SetDefault("webui_cors_allowed_origins", d.WebUICORSAllowedOrigins)
	v.SetDefault("frontends", d.Frontends)
	v.SetDefault("http_address", d.HTTPAddress)
	v.SetDefault("websocket_address", d.WebSocketAddress)
	v.SetDefault("tcp_address", d.TCPAddress)
	v.SetDefault("udp_address", d.UDPAddress)
	v.SetDefault("custom_address", d.CustomAddress)
	v.SetDefault("reply_timeout", d.ReplyTimeout)
	v.SetDefault("max_message_size", d.MaxMessageSize)
	v.SetDefault("client_cache_size", d.ClientCacheSize)
	v.SetDefault("mqtt_broker_url", d.MQTTBrokerURL)
	v.SetDefault("mqtt_client_id", d.MQTTClientID)
	v.SetDefault("mqtt_username", d.MQTTUsername)
	v.SetDefault("mqtt_password", d.MQTTPassword)
	v.SetDefault("mqtt_topics", d.MQTTTopics)
	v.SetDefault("broker_system", d.BrokerSystem)
	v.SetDefault("broker_topics", d.BrokerTopics)
	v.SetDefault("kafka_brokers", d.KafkaBrokers)
	v.SetDefault("kafka_consumer_group", d.KafkaConsumerGroup)
	v.SetDefault("rabbitmq_url", d.RabbitMQURL)
	v.SetDefault("nats_url", d.NATSURL)
}

// normalizeLists splits comma separated list values coming from the
// environment and drops blanks.
func normalizeLists(cfg *Config) {
	for _, list := range []*[]string{
		&cfg.Frontends,
		&cfg.WebUICORSAllowedOrigins,
		&cfg.MQTTTopics,
		&cfg.BrokerTopics,
		&cfg.KafkaBrokers,
	} {
		var out []string
		for _, item := range *list {
			for _, part := range strings.Split(item, ",") {
				if part = strings.TrimSpace(part); part != "" {
					out = append(out, part)
				}
			}
		}
		*list = out
	}
}
