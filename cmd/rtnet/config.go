package main

import (
	"fmt"
	"os"
	"time"

	"github.com/andrei-cloud/rtnet"
	"github.com/andrei-cloud/rtnet/discovery"
	"github.com/andrei-cloud/rtnet/server"
	"gopkg.in/yaml.v3"
)

// Config is the rtnet.yaml layout.
type Config struct {
	Server    ServerSection    `yaml:"server"`
	Client    ClientSection    `yaml:"client"`
	Discovery DiscoverySection `yaml:"discovery"`
	Log       LogSection       `yaml:"log"`
}

type ServerSection struct {
	Address           string        `yaml:"address"`
	MaxConns          int           `yaml:"max_conns"`
	ReceiveBufferSize int           `yaml:"receive_buffer_size"`
	SendBufferSize    int           `yaml:"send_buffer_size"`
	MaxMessageSize    int           `yaml:"max_message_size"`
	KeepAlive         time.Duration `yaml:"keep_alive"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	StatsInterval     time.Duration `yaml:"stats_interval"`
}

type ClientSection struct {
	Address     string        `yaml:"address"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

type DiscoverySection struct {
	Port       int           `yaml:"port"`
	Interval   time.Duration `yaml:"interval"`
	Timeout    time.Duration `yaml:"timeout"`
	Target     string        `yaml:"target"`
	ListenAddr string        `yaml:"listen_addr"`
}

type LogSection struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerSection{
			Address: ":7777",
		},
		Client: ClientSection{
			Address: "127.0.0.1:7777",
		},
		Discovery: DiscoverySection{
			Port:     discovery.DefaultPort,
			Interval: discovery.DefaultInterval,
			Timeout:  discovery.DefaultTimeout,
		},
		Log: LogSection{
			Level:  "info",
			Pretty: true,
		},
	}
}

// loadConfig reads the YAML file at path over the defaults. An empty path
// or a missing file yields the defaults.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

func (c *Config) serverConfig(logger rtnet.Logger, pool *rtnet.OpContextPool) server.ServerConfig {
	return server.ServerConfig{
		Address:           c.Server.Address,
		ReceiveBufferSize: c.Server.ReceiveBufferSize,
		SendBufferSize:    c.Server.SendBufferSize,
		MaxConns:          c.Server.MaxConns,
		MaxMessageSize:    c.Server.MaxMessageSize,
		KeepAliveInterval: c.Server.KeepAlive,
		ShutdownTimeout:   c.Server.ShutdownTimeout,
		Logger:            logger,
		Pool:              pool,
	}
}

func (c *Config) clientConfig(logger rtnet.Logger, pool *rtnet.OpContextPool) rtnet.ClientConfig {
	return rtnet.ClientConfig{
		Address:           c.Client.Address,
		ReceiveBufferSize: c.Server.ReceiveBufferSize,
		SendBufferSize:    c.Server.SendBufferSize,
		MaxMessageSize:    c.Server.MaxMessageSize,
		DialTimeout:       c.Client.DialTimeout,
		Logger:            logger,
		Pool:              pool,
	}
}

func (c *Config) discoveryConfig(logger rtnet.Logger, pool *rtnet.OpContextPool) discovery.Config {
	return discovery.Config{
		Port:       c.Discovery.Port,
		Interval:   c.Discovery.Interval,
		Timeout:    c.Discovery.Timeout,
		Target:     c.Discovery.Target,
		ListenAddr: c.Discovery.ListenAddr,
		Logger:     logger,
		Pool:       pool,
	}
}
