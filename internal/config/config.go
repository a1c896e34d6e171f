package config

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"mongo-loadgen/internal/record"
	"mongo-loadgen/internal/store/mongostore"
)

// 既定値
const (
	DefaultURI             = "mongodb://localhost:27017"
	DefaultDatabase        = "ctest"
	DefaultCollection      = "data"
	DefaultStatsDatabase   = "testresults"
	DefaultWriters         = 500
	DefaultReaders         = 200
	DefaultSamplers        = 1
	DefaultSlowThreshold   = 2000 * time.Millisecond
	DefaultSamplerInterval = 2 * time.Second
	DefaultQueryWindow     = 5
	DefaultBulkBatchSize   = 1000
	DefaultConnectTimeout  = 10 * time.Second
)

// EnvPrefix は環境変数による上書きの接頭辞
const EnvPrefix = "MONGOLOAD"

// Config は実行全体の設定
type Config struct {
	Name        string
	Description string

	URI           string // 接続先
	Database      string // 書き込み先データベース
	Collection    string // 書き込み先コレクション
	StatsDatabase string // 統計用データベース（ワーカーは使わない）

	Writers  int
	Readers  int
	Samplers int

	SlowThreshold   time.Duration // これを超えた操作を報告する
	SamplerInterval time.Duration // Samplerの待機時間
	BatchSize       int           // 1以下でバッファなし
	QueryWindow     int           // Readerが読み切る最大件数
	Schema          record.Schema
	ConnectTimeout  time.Duration
}

// Default は単一挿入のプリセットを返す
func Default() Config {
	return InsertPreset()
}

// InsertPreset は1件ずつ書き込む構成を返す
func InsertPreset() Config {
	return Config{
		Name:            "insert",
		Description:     "Single-document inserts with concurrent readers",
		URI:             DefaultURI,
		Database:        DefaultDatabase,
		Collection:      DefaultCollection,
		StatsDatabase:   DefaultStatsDatabase,
		Writers:         DefaultWriters,
		Readers:         DefaultReaders,
		Samplers:        DefaultSamplers,
		SlowThreshold:   DefaultSlowThreshold,
		SamplerInterval: DefaultSamplerInterval,
		BatchSize:       0,
		QueryWindow:     DefaultQueryWindow,
		Schema:          record.SchemaMinimal,
		ConnectTimeout:  DefaultConnectTimeout,
	}
}

// BulkPreset はバルク書き込みの構成を返す。Readerは起動しない
func BulkPreset() Config {
	c := InsertPreset()
	c.Name = "bulk"
	c.Description = "Bulk inserts without readers"
	c.Readers = 0
	c.BatchSize = DefaultBulkBatchSize
	return c
}

// ExtendedPreset は拡張スキーマでバルク書き込みする構成を返す
func ExtendedPreset() Config {
	c := BulkPreset()
	c.Name = "extended"
	c.Description = "Bulk inserts of extended documents with a nested sub-document"
	c.Schema = record.SchemaExtended
	return c
}

// GetPreset は名前からプリセットを取得する
func GetPreset(name string) (Config, bool) {
	presets := map[string]func() Config{
		"insert":   InsertPreset,
		"bulk":     BulkPreset,
		"extended": ExtendedPreset,
	}

	if fn, ok := presets[strings.ToLower(name)]; ok {
		return fn(), true
	}
	return Config{}, false
}

// ListPresets は利用可能なプリセット名を返す
func ListPresets() []string {
	return []string{"insert", "bulk", "extended"}
}

// Total は起動するワーカーの総数を返す
func (c Config) Total() int {
	return c.Writers + c.Readers + c.Samplers
}

// Validate は設定を検証する
func (c Config) Validate() error {
	if c.URI == "" {
		return errors.New("uri must not be empty")
	}
	if c.Database == "" || c.Collection == "" {
		return errors.New("database and collection must not be empty")
	}
	if c.Writers < 0 || c.Readers < 0 || c.Samplers < 0 {
		return errors.New("worker counts must be non-negative")
	}
	if c.SlowThreshold < 0 {
		return errors.New("slow_threshold must be non-negative")
	}
	if c.SamplerInterval < 0 {
		return errors.New("sampler_interval must be non-negative")
	}
	if c.BatchSize < 0 {
		return errors.New("batch_size must be non-negative")
	}
	if c.QueryWindow <= 0 || c.QueryWindow > math.MaxInt32 {
		return errors.New("query_window must be a positive int32")
	}
	if !c.Schema.Valid() {
		return errors.Errorf("unknown schema: %s", c.Schema)
	}
	return nil
}

// StoreOptions はMongoDB接続の設定を返す
func (c Config) StoreOptions() mongostore.Options {
	return mongostore.Options{
		URI:            c.URI,
		Database:       c.Database,
		Collection:     c.Collection,
		AppName:        "mongoload-" + c.Name,
		ConnectTimeout: c.ConnectTimeout,
	}
}

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Preset string    `yaml:"preset" json:"preset"`
	Run    RunConfig `yaml:"run" json:"run"`
}

// RunConfig は実行設定。未指定の項目はプリセットの値を使う
type RunConfig struct {
	Name          string `yaml:"name" json:"name"`
	Description   string `yaml:"description" json:"description"`
	URI           string `yaml:"uri" json:"uri"`
	Database      string `yaml:"database" json:"database"`
	Collection    string `yaml:"collection" json:"collection"`
	StatsDatabase string `yaml:"stats_database" json:"stats_database"`

	Writers  *int `yaml:"writers" json:"writers"`
	Readers  *int `yaml:"readers" json:"readers"`
	Samplers *int `yaml:"samplers" json:"samplers"`

	SlowThreshold   string `yaml:"slow_threshold" json:"slow_threshold"`
	SamplerInterval string `yaml:"sampler_interval" json:"sampler_interval"`
	BatchSize       *int   `yaml:"batch_size" json:"batch_size"`
	QueryWindow     int    `yaml:"query_window" json:"query_window"`
	Schema          string `yaml:"schema" json:"schema"`
	ConnectTimeout  string `yaml:"connect_timeout" json:"connect_timeout"`
}

// LoadFile は設定ファイルを読み込む
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var config FileConfig
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, errors.Wrap(err, "failed to parse YAML")
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, errors.Wrap(err, "failed to parse JSON")
		}
	default:
		return nil, errors.Errorf("unsupported config format: %s", ext)
	}

	return &config, nil
}

// Validate はファイルの値を検証する
func (f *FileConfig) Validate() error {
	rc := f.Run

	if f.Preset != "" {
		if _, ok := GetPreset(f.Preset); !ok {
			return errors.Errorf("unknown preset: %s", f.Preset)
		}
	}
	for name, n := range map[string]*int{"writers": rc.Writers, "readers": rc.Readers, "samplers": rc.Samplers, "batch_size": rc.BatchSize} {
		if n != nil && *n < 0 {
			return errors.Errorf("run.%s must be non-negative", name)
		}
	}
	if rc.QueryWindow < 0 {
		return errors.New("run.query_window must be non-negative")
	}
	if rc.Schema != "" && !record.Schema(strings.ToLower(rc.Schema)).Valid() {
		return errors.Errorf("unknown schema: %s", rc.Schema)
	}
	return nil
}

// ToConfig はFileConfigをConfigに変換する
func (f *FileConfig) ToConfig() (Config, error) {
	config := Default()
	if f.Preset != "" {
		p, ok := GetPreset(f.Preset)
		if !ok {
			return config, errors.Errorf("unknown preset: %s", f.Preset)
		}
		config = p
	}

	rc := f.Run
	setString(&config.Name, rc.Name)
	setString(&config.Description, rc.Description)
	setString(&config.URI, rc.URI)
	setString(&config.Database, rc.Database)
	setString(&config.Collection, rc.Collection)
	setString(&config.StatsDatabase, rc.StatsDatabase)

	setInt(&config.Writers, rc.Writers)
	setInt(&config.Readers, rc.Readers)
	setInt(&config.Samplers, rc.Samplers)
	setInt(&config.BatchSize, rc.BatchSize)
	if rc.QueryWindow > 0 {
		config.QueryWindow = rc.QueryWindow
	}
	if rc.Schema != "" {
		config.Schema = record.Schema(strings.ToLower(rc.Schema))
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"slow_threshold", rc.SlowThreshold, &config.SlowThreshold},
		{"sampler_interval", rc.SamplerInterval, &config.SamplerInterval},
		{"connect_timeout", rc.ConnectTimeout, &config.ConnectTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return config, errors.Wrapf(err, "invalid %s", d.name)
		}
		*d.dst = v
	}

	return config, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

// envKeys はMONGOLOAD_<KEY>で上書きできる項目
var envKeys = []string{
	"uri", "database", "collection", "stats_database",
	"writers", "readers", "samplers",
	"slow_threshold", "sampler_interval", "batch_size", "query_window",
	"schema", "connect_timeout",
}

// ApplyEnv は環境変数の値で設定を上書きする
// 期間は単位付き（例: 2s, 1500ms）で指定する
func ApplyEnv(config Config, v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	v.SetEnvPrefix(EnvPrefix)
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return config, errors.Wrapf(err, "bind env %s", key)
		}
	}

	if v.IsSet("uri") {
		config.URI = v.GetString("uri")
	}
	if v.IsSet("database") {
		config.Database = v.GetString("database")
	}
	if v.IsSet("collection") {
		config.Collection = v.GetString("collection")
	}
	if v.IsSet("stats_database") {
		config.StatsDatabase = v.GetString("stats_database")
	}
	if v.IsSet("schema") {
		config.Schema = record.Schema(strings.ToLower(v.GetString("schema")))
	}

	for key, dst := range map[string]*int{
		"writers":      &config.Writers,
		"readers":      &config.Readers,
		"samplers":     &config.Samplers,
		"batch_size":   &config.BatchSize,
		"query_window": &config.QueryWindow,
	} {
		if !v.IsSet(key) {
			continue
		}
		n, err := cast.ToIntE(v.GetString(key))
		if err != nil {
			return config, errors.Wrapf(err, "invalid %s_%s", EnvPrefix, strings.ToUpper(key))
		}
		*dst = n
	}

	for key, dst := range map[string]*time.Duration{
		"slow_threshold":   &config.SlowThreshold,
		"sampler_interval": &config.SamplerInterval,
		"connect_timeout":  &config.ConnectTimeout,
	} {
		if !v.IsSet(key) {
			continue
		}
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return config, errors.Wrapf(err, "invalid %s_%s", EnvPrefix, strings.ToUpper(key))
		}
		*dst = d
	}

	return config, nil
}
