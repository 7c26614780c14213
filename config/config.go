// Package config loads service configuration from a YAML file with
// environment overrides.
package config

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Kafka struct {
	Brokers     []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	OrdersTopic string   `yaml:"orders_topic" env-default:"orders.created"`
	OrdersGroup string   `yaml:"orders_group" env-default:"keel-matching"`
	TradesTopic string   `yaml:"trades_topic" env-default:"trades.executed"`
	BookTopic   string   `yaml:"book_topic" env-default:"orderbook.updated"`
}

type Storage struct {
	WALDir         string `yaml:"wal_dir" env-default:"./data/wal"`
	SnapshotDir    string `yaml:"snapshot_dir" env-default:"./data/snapshots"`
	OutboxDir      string `yaml:"outbox_dir" env-default:"./data/outbox"`
	WALSegmentSize int64  `yaml:"wal_segment_size" env-default:"8388608"`
}

type Engine struct {
	DepthLevels      int           `yaml:"depth_levels" env-default:"20"`
	BatchSize        int           `yaml:"batch_size" env-default:"256"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval" env-default:"30s"`
	PublishInterval  time.Duration `yaml:"publish_interval" env-default:"250ms"`
	OutboxRetention  time.Duration `yaml:"outbox_retention" env-default:"24h"`
}

type Instruments struct {
	URL string `yaml:"url" env:"INSTRUMENTS_URL" env-required:"true"`
}

type Config struct {
	Env         string      `yaml:"env" env:"ENV" env-default:"production"`
	AdminAddr   string      `yaml:"admin_addr" env:"ADMIN_ADDR" env-default:":8080"`
	Kafka       Kafka       `yaml:"kafka"`
	Storage     Storage     `yaml:"storage"`
	Engine      Engine      `yaml:"engine"`
	Instruments Instruments `yaml:"instruments"`
}

// MustLoad reads the config path from CONFIG_PATH or -config and
// exits on any failure; the service cannot run half-configured.
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		flagPath := flag.String("config", "", "path to config file")
		flag.Parse()
		configPath = *flagPath
	}
	if configPath == "" {
		log.Fatal("config path is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("config file does not exist: %s", configPath)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config: %v", err)
	}
	return &cfg
}
