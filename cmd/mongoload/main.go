// Package main is the entry point for mongoload.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mongo-loadgen/internal/config"
	"mongo-loadgen/internal/events"
	"mongo-loadgen/internal/logger"
	"mongo-loadgen/internal/store/mongostore"
	"mongo-loadgen/internal/supervisor"
)

var (
	version = "dev"
)

// eventBuffer は購読チャネルの容量。溢れた分はバス側で捨てられる
const eventBuffer = 1024

// runFlags はコマンドラインで上書きできる項目
type runFlags struct {
	configFile  string
	presetName  string
	uri         string
	writers     int
	readers     int
	samplers    int
	batchSize   int
	listPresets bool
	showVersion bool
	debug       bool
}

func main() {
	cmd, _ := newRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd はルートコマンドと、そのフラグの格納先を返す
func newRootCmd() (*cobra.Command, *runFlags) {
	f := &runFlags{}

	cmd := &cobra.Command{
		Use:   "mongoload",
		Short: "mongoload drives concurrent insert and query load against MongoDB.",
		Long: `mongoload starts a pool of writer, reader and sampler workers against one
MongoDB collection and runs until every worker has failed.

Without arguments it starts 500 writers, 200 readers and 1 sampler against
mongodb://localhost:27017 (database ctest, collection data).

Settings are layered: preset or config file, then MONGOLOAD_* environment
variables, then flags.`,
		Example: `  # 既定値で実行
  mongoload

  # バルク書き込みのプリセット
  mongoload --preset bulk

  # 設定ファイルから実行
  mongoload --config run.yaml --writers 50`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.showVersion {
				fmt.Fprintf(cmd.OutOrStdout(), "mongoload version %s\n", version)
				return nil
			}
			if f.listPresets {
				printPresets(cmd)
				return nil
			}
			if f.debug {
				logger.Default.SetLevel(logger.LevelDebug)
			}

			cfg, err := buildConfig(cmd, f)
			if err != nil {
				logger.Error("", "設定エラー: %v", err)
				return err
			}

			if err := run(cfg); err != nil {
				logger.Error("", "実行エラー: %v", err)
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.configFile, "config", "", "設定ファイルパス (YAML/JSON)")
	flags.StringVar(&f.presetName, "preset", "", "プリセット名 (insert, bulk, extended)")
	flags.StringVar(&f.uri, "uri", "", "MongoDB接続URI")
	flags.IntVar(&f.writers, "writers", 0, "Writer数")
	flags.IntVar(&f.readers, "readers", 0, "Reader数")
	flags.IntVar(&f.samplers, "samplers", 0, "Sampler数")
	flags.IntVar(&f.batchSize, "batch-size", 0, "バルク書き込みの件数 (1以下で1件ずつ)")
	flags.BoolVar(&f.listPresets, "list-presets", false, "利用可能なプリセットを表示")
	flags.BoolVar(&f.showVersion, "version", false, "バージョンを表示")
	flags.BoolVar(&f.debug, "debug", false, "デバッグログを表示")

	return cmd, f
}

// buildConfig は設定を構築する
func buildConfig(cmd *cobra.Command, f *runFlags) (config.Config, error) {
	var cfg config.Config

	switch {
	case f.configFile != "":
		// 1. 設定ファイルから読み込み
		fileConfig, err := config.LoadFile(f.configFile)
		if err != nil {
			return cfg, err
		}
		if err := fileConfig.Validate(); err != nil {
			return cfg, errors.Wrap(err, "設定検証エラー")
		}
		cfg, err = fileConfig.ToConfig()
		if err != nil {
			return cfg, errors.Wrap(err, "設定変換エラー")
		}
	case f.presetName != "":
		// 2. プリセットから読み込み
		preset, ok := config.GetPreset(f.presetName)
		if !ok {
			return cfg, errors.Errorf("不明なプリセット: %s (利用可能: %v)", f.presetName, config.ListPresets())
		}
		cfg = preset
	default:
		// 3. 既定値
		cfg = config.Default()
	}

	cfg, err := config.ApplyEnv(cfg, viper.New())
	if err != nil {
		return cfg, err
	}

	// 明示的に指定されたフラグのみ上書き
	flags := cmd.Flags()
	if flags.Changed("uri") {
		cfg.URI = f.uri
	}
	if flags.Changed("writers") {
		cfg.Writers = f.writers
	}
	if flags.Changed("readers") {
		cfg.Readers = f.readers
	}
	if flags.Changed("samplers") {
		cfg.Samplers = f.samplers
	}
	if flags.Changed("batch-size") {
		cfg.BatchSize = f.batchSize
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	// 空のプールは即座に終わるだけなのでCLIでは拒否する
	if cfg.Total() == 0 {
		return cfg, errors.New("ワーカーが1つも指定されていません")
	}
	return cfg, nil
}

// run はワーカー群を起動し、全員が終了するまで戻らない
func run(cfg config.Config) error {
	bus := events.NewBusWithBuffer(eventBuffer)
	logged := logEvents(bus.Subscribe(), logger.Default)
	defer func() {
		bus.Close()
		<-logged
	}()

	sup, err := supervisor.New(cfg, mongostore.NewDialer(cfg.StoreOptions()), supervisor.WithEventBus(bus))
	if err != nil {
		return err
	}

	fmt.Println("mongoload - MongoDB load generator")
	fmt.Println("==================================")
	fmt.Printf("Run: %s (%s)\n", sup.RunID(), cfg.Name)
	fmt.Printf("Target: %s %s.%s\n", cfg.URI, cfg.Database, cfg.Collection)
	fmt.Printf("Writers: %d, Readers: %d, Samplers: %d\n", cfg.Writers, cfg.Readers, cfg.Samplers)
	fmt.Printf("Batch: %d, Schema: %s, Slow: %v\n", cfg.BatchSize, cfg.Schema, cfg.SlowThreshold)
	fmt.Println("==================================")
	fmt.Println()

	// ワーカーはストアのエラーでのみ終了する
	_, err = sup.Run(context.Background())
	return err
}

// logEvents はチャネルが閉じるまでイベントをデバッグログに書き出す。
// 戻り値は書き出し終了時に閉じる
func logEvents(sub <-chan events.Event, log *logger.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range sub {
			switch e.Type {
			case events.EventWorkerStarted:
				log.Debug(e.WorkerID, "event %s role=%s run=%s", e.Type, e.Role, e.RunID)
			case events.EventWorkerTerminated:
				log.Debug(e.WorkerID, "event %s reason=%s error=%q run=%s", e.Type, e.Data.Reason, e.Data.Error, e.RunID)
			case events.EventSample:
				log.Debug(e.WorkerID, "event %s count=%d run=%s", e.Type, e.Data.Count, e.RunID)
			}
		}
	}()
	return done
}

// printPresets は利用可能なプリセットを表示する
func printPresets(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "利用可能なプリセット:")
	fmt.Fprintln(out)

	for _, name := range config.ListPresets() {
		p, _ := config.GetPreset(name)
		fmt.Fprintf(out, "  %-10s %s\n", name, p.Description)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "使用例: mongoload --preset bulk")
}
