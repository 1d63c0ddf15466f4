package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/anitier/anitier/internal/utils"
	"github.com/anitier/anitier/pkg/storage"
	"github.com/anitier/anitier/pkg/tiers"
	"github.com/spf13/cobra"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var cfgFile string

const (
	LOGO = `	            _ _   _
	  __ _ _ __ (_) |_(_) ___ _ __
	 / _' | '_ \| | __| |/ _ \ '__|
	| (_| | | | | | |_| |  __/ |
	 \__,_|_| |_|_|\__|_|\___|_|

`
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "anitier",
	Short: "Rank the shows you watched into score tiers.",
	Long: LOGO + `anitier keeps a tier list of titles in a local SQLite file, with optional cover images
stored once no matter how many entries use them.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.anitier.yaml)")

	// Global flags
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
	rootCmd.PersistentFlags().String("dbpath", "", "Path to SQLite DB file (default: ~/.config/anitier/anitier.sqlite)")
	viper.BindPFlag("dbpath", rootCmd.PersistentFlags().Lookup("dbpath"))
}

func setDefaults() {
	var labels []string
	for _, l := range tiers.DefaultLabels() {
		labels = append(labels, string(l))
	}
	viper.SetDefault("dbpath", "")
	viper.SetDefault("tiers", labels)
	viper.SetDefault("reconcile", true)
	viper.SetDefault("storage.quota_bytes", storage.DefaultQuotaBytes)
	viper.SetDefault("storage.compress", false)
	viper.SetDefault("images.fingerprint", "sha256")
	viper.SetDefault("images.prefix_bytes", 4096)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".anitier")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("anitier")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := filepath.Join(home, ".anitier.yaml")
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				utils.Log.Debugf("Could not create config file: %s", err)
			}
		} else {
			utils.Log.Warnf("Could not read config file: %s", err)
		}
	}

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	if err := utils.SetLogLevel(levelString); err != nil {
		utils.Log.Warn(err)
	}
}
