package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	ETCD     ETCDConfig     `mapstructure:"etcd"`
	GraphQL  GraphQLConfig  `mapstructure:"graphql"`
	Vote     VoteConfig     `mapstructure:"vote"`
	Baseline BaselineConfig `mapstructure:"baseline"`
	Summary  SummaryConfig  `mapstructure:"summary"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port       int    `mapstructure:"port"`
	InstanceID string `mapstructure:"instance_id"`
}

// MySQLConfig 投票存储配置，Driver可选 mysql / postgres / sqlite / memory
type MySQLConfig struct {
	Driver       string `mapstructure:"driver"`
	Master       string `mapstructure:"master"`
	Slave        string `mapstructure:"slave"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	// 结果缓存与汇总使用的Redis
	DataAddress string        `mapstructure:"data_address"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Timeout     time.Duration `mapstructure:"timeout"`
	ResultTTL   time.Duration `mapstructure:"result_ttl"`

	// Redlock使用的Redis节点
	LockAddresses  []string `mapstructure:"lock_addresses"`
	LockRetryCount int      `mapstructure:"lock_retry_count"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type ETCDConfig struct {
	Endpoints      []string      `mapstructure:"endpoints"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	SessionTTL     time.Duration `mapstructure:"session_ttl"`
}

type GraphQLConfig struct {
	Path string `mapstructure:"path"`
}

// VoteConfig 投票与裁决策略
type VoteConfig struct {
	// LockBackend 路径临界区实现: local / etcd / redis
	LockBackend       string         `mapstructure:"lock_backend"`
	LockTTL           time.Duration  `mapstructure:"lock_ttl"`
	LockRetryInterval time.Duration  `mapstructure:"lock_retry_interval"`
	PermanentQuorum   int            `mapstructure:"permanent_quorum"`
	CleanSlate        bool           `mapstructure:"permanent_clean_slate"`
	RequiredVotes     int            `mapstructure:"required_votes"`
	LocaleRequired    map[string]int `mapstructure:"locale_required_votes"`
	HighBarPrefixes   []string       `mapstructure:"high_bar_prefixes"`
	MaxValueLength    int            `mapstructure:"max_value_length"`
	ReadOnlyLocales   []string       `mapstructure:"read_only_locales"`
	PhaseReadOnly     bool           `mapstructure:"phase_read_only"`
	CacheSize         int            `mapstructure:"cache_size"`
}

// BaselineConfig 基线数据来源
type BaselineConfig struct {
	Dir        string `mapstructure:"dir"`
	SeedFile   string `mapstructure:"seed_file"`
	// VotersFile 投票人种子文件，启动时导入
	VotersFile string `mapstructure:"voters_file"`
}

// SummaryConfig 定时汇总配置
type SummaryConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	Locales         []string      `mapstructure:"locales"`
	Workers         int           `mapstructure:"workers"`
	LockTimeout     time.Duration `mapstructure:"lock_timeout"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// RequiredVotesFor 返回locale的批准票数门槛
func (c VoteConfig) RequiredVotesFor(locale string) int {
	if n, ok := c.LocaleRequired[locale]; ok && n > 0 {
		return n
	}
	return c.RequiredVotes
}

// IsReadOnlyLocale 判断locale是否只读
func (c VoteConfig) IsReadOnlyLocale(locale string) bool {
	for _, l := range c.ReadOnlyLocales {
		if l == locale {
			return true
		}
	}
	return false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("mysql.driver", "mysql")
	v.SetDefault("mysql.max_open_conns", 20)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.timeout", 3*time.Second)
	v.SetDefault("redis.result_ttl", time.Hour)
	v.SetDefault("redis.lock_retry_count", 3)
	v.SetDefault("kafka.topic", "survey-votes")
	v.SetDefault("kafka.group_id", "surveyvote")
	v.SetDefault("etcd.dial_timeout", 5*time.Second)
	v.SetDefault("graphql.path", "/graphql")
	v.SetDefault("vote.lock_backend", "local")
	v.SetDefault("vote.lock_ttl", 10*time.Second)
	v.SetDefault("vote.lock_retry_interval", 5*time.Millisecond)
	v.SetDefault("vote.permanent_quorum", 2)
	v.SetDefault("vote.permanent_clean_slate", true)
	v.SetDefault("vote.required_votes", 8)
	v.SetDefault("vote.max_value_length", 1024)
	v.SetDefault("vote.cache_size", 10000)
	v.SetDefault("summary.refresh_interval", 10*time.Minute)
	v.SetDefault("summary.workers", 4)
	v.SetDefault("summary.lock_timeout", 30*time.Second)
	v.SetDefault("log.level", "info")
}

// Default 返回仅包含默认值的配置
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// 默认值均为基础类型，解码不会失败
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// LoadConfig 加载配置文件，环境变量以 SURVEYVOTE_ 为前缀覆盖
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("SURVEYVOTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "读取配置文件失败")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "解析配置文件失败")
	}

	return &cfg, nil
}
