// Package main provides the entry point for the speakstream CLI.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/speakstream/tts"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	debug      bool
	language   string
	voice      int
	speed      int
	volume     float64
	noCache    bool

	rootCmd = &cobra.Command{
		Use:   "speakstream [FILE|-]",
		Short: "Stream text to speech, sentence by sentence",
		Long: "\nReads text from a file or stdin, segments it into sentences as it\n" +
			"arrives, and plays each one through the Baidu TTS API.",
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.MaximumNArgs(1),
		RunE:             execute,
	}
)

// sourceFromArg opens the text source. "-" or no argument reads stdin.
func sourceFromArg(arg string) (io.ReadCloser, error) {
	if arg == "" || arg == "-" {
		return os.Stdin, nil
	}
	f, err := os.Open(arg)
	if err != nil {
		return nil, fmt.Errorf("unable to open source: %w", err)
	}
	return f, nil
}

func execute(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config file: %w", err)
		}
	}

	cfg, err := tts.LoadConfigFromViper()
	if err != nil {
		return err
	}

	// Flags beat config file and environment, but only when given.
	flags := cmd.Flags()
	if flags.Changed("debug") {
		cfg.Debug = debug
	}
	if flags.Changed("language") {
		cfg.Language = language
	}
	if flags.Changed("voice") {
		cfg.Voice = voice
	}
	if flags.Changed("speed") {
		cfg.Speed = speed
	}
	if flags.Changed("volume") {
		cfg.PlaybackVolume = volume
	}
	if noCache {
		cfg.CacheEnabled = false
	}

	src, err := sourceFromArg(argOrEmpty(args))
	if err != nil {
		return err
	}
	defer src.Close() //nolint:errcheck

	pipeline, err := tts.New(cfg)
	if err != nil {
		return err
	}
	defer pipeline.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := stream(ctx, pipeline, src); err != nil {
		return err
	}
	if err := pipeline.EndStream(); err != nil {
		return err
	}

	// Let the pipeline drain: queued sentences, synthesis in flight, and
	// the final playback session.
	for pipeline.Busy() || pipeline.IsPlaying() {
		select {
		case <-ctx.Done():
			return pipeline.Stop()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil
}

// stream feeds the source into the pipeline chunk by chunk so playback
// starts before the source is fully read.
func stream(ctx context.Context, p *tts.Pipeline, src io.Reader) error {
	r := bufio.NewReader(src)
	buf := make([]byte, 256)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := r.Read(buf)
		if n > 0 {
			if perr := p.PushText(string(buf[:n])); perr != nil {
				return perr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("unable to read source: %w", err)
		}
	}
}

func argOrEmpty(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.Flags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")
	rootCmd.Flags().StringVarP(&language, "language", "l", "zh", "synthesis language")
	rootCmd.Flags().IntVar(&voice, "voice", 0, "voice persona id")
	rootCmd.Flags().IntVar(&speed, "speed", 5, "speech speed (0-15)")
	rootCmd.Flags().Float64VarP(&volume, "volume", "v", 0.8, "playback volume (0.0-1.0)")
	rootCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the synthesized audio cache")

	rootCmd.AddCommand(configCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "speakstream")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "speakstream")}, dirs...)
	}

	if c := os.Getenv("SPEAKSTREAM_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("speakstream")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("speakstream")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		log.Debug("no config file loaded", "err", err)
	}
}
