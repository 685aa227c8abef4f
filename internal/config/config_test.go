package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "jobs",
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "jobs.work"},
			Queue:    QueueConfig{Name: "jobs.work.q", MaxRedeliveries: 5},
			DeadLetter: DeadLetterConfig{
				Exchange: "jobs.dead",
				Queue:    "jobs.dead.q",
			},
		},
		Blob: BlobConfig{
			InputContainer:  "job-inputs",
			OutputContainer: "job-outputs",
			LinkTTL:         15 * time.Minute,
		},
		Worker: WorkerConfig{
			Concurrency:     4,
			JobTimeout:      5 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "jobs", cfg.Database.Database)
				assert.Equal(t, "jobs.work", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "jobs.work.q", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, "jobs.dead", cfg.RabbitMQ.DeadLetter.Exchange)
				assert.Equal(t, "job-inputs", cfg.Blob.InputContainer)
				assert.Equal(t, "demo-user", cfg.Jobs.PartitionKey)
				assert.Equal(t, "job-orchestrator-api", cfg.App.Name)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("testdata/minimal.yaml")
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxRedeliveries, cfg.RabbitMQ.Queue.MaxRedeliveries)
	assert.Equal(t, 1, cfg.RabbitMQ.Consumer.PrefetchCount)
	assert.Equal(t, 15*time.Minute, cfg.Blob.LinkTTL)
	assert.Equal(t, "demo-user", cfg.Jobs.PartitionKey)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "invalid database port",
			mutate:    func(c *Config) { c.Database.Port = 0 },
			wantErr:   true,
			errString: "invalid database port",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			wantErr:   true,
			errString: "database name is required",
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "empty queue name",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			wantErr:   true,
			errString: "rabbitmq queue name is required",
		},
		{
			name:      "missing dead-letter queue",
			mutate:    func(c *Config) { c.RabbitMQ.DeadLetter.Queue = "" },
			wantErr:   true,
			errString: "dead-letter exchange and queue are required",
		},
		{
			name:      "missing blob containers",
			mutate:    func(c *Config) { c.Blob.OutputContainer = "" },
			wantErr:   true,
			errString: "blob input and output containers are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateAPI(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, validConfig().ValidateAPI())
	})

	t.Run("invalid server port", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Port = 70000
		err := cfg.ValidateAPI()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})
}

func TestConfig_ValidateWorker(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		errString string
	}{
		{"zero concurrency", func(c *Config) { c.Worker.Concurrency = 0 }, "worker concurrency"},
		{"zero job timeout", func(c *Config) { c.Worker.JobTimeout = 0 }, "job_timeout"},
		{"zero shutdown timeout", func(c *Config) { c.Worker.ShutdownTimeout = 0 }, "shutdown_timeout"},
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, validConfig().ValidateWorker())
	})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.ValidateWorker()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}
