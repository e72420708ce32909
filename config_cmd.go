package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# Baidu TTS credentials (also settable via SPEAKSTREAM_API_KEY and
# SPEAKSTREAM_SECRET_KEY)
tts:
  # api_key: "your-api-key-here"
  # secret_key: "your-secret-key-here"

  # Synthesis parameters
  language: "zh"
  speed: 5
  pitch: 5
  volume: 10
  voice: 0

  # Playback
  sample_rate: 16000
  playback_volume: 0.8

  # Pipeline tuning
  raw_queue_size: 20
  sentence_queue_size: 10
  push_timeout: "5s"

  # Synthesized audio cache
  cache_enabled: true
  cache_capacity: 8388608

  debug: false
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the speakstream config file",
	Long:    "\nEdit the speakstream config file. We'll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.",
	Example: "speakstream config\nspeakstream config --config path/to/config.yml",
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("Speakstream", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
	}
	if configFile == "" {
		scope := gap.NewScope(gap.User, "speakstream")
		p, err := scope.ConfigPath("speakstream.yml")
		if err != nil {
			return fmt.Errorf("could not determine config path: %w", err)
		}
		configFile = p
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
