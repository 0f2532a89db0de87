// Command pcapcat inspects, converts and builds pcap and pcapng capture files.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/soypat/pktwire/internal/log"
	"github.com/soypat/pktwire/pcap"
	"github.com/soypat/pktwire/pcapng"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd(os.Stdout).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Config is the pcapcat configuration. Keys can be set in the config file,
// through PCAPCAT_ prefixed environment variables or by flags.
type Config struct {
	Log       log.Options         `mapstructure:"log"`
	ChunkSize int                 `mapstructure:"chunk_size"`
	Format    string              `mapstructure:"format"` // Dump output, yaml or json.
	Pcap      pcap.WriterConfig   `mapstructure:"pcap"`
	Pcapng    pcapng.WriterConfig `mapstructure:"pcapng"`
}

type app struct {
	v          *viper.Viper
	cfg        Config
	configFile string
	out        io.Writer
	log        log.Logger
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{v: viper.New(), out: out}
	root := &cobra.Command{
		Use:   "pcapcat",
		Short: "Inspect, convert and build packet capture files",
		Long: `pcapcat reads pcap and pcapng files incrementally and decodes every packet
into its Ethernet, ARP, IPv4, IPv6, TCP, UDP, ICMP and DHCP layers.

Examples:
  pcapcat dump capture.pcapng --format json
  pcapcat convert capture.pcap capture.pcapng --to pcapng
  pcapcat build packets.yaml -o crafted.pcap
  pcapcat verify capture.pcap`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig(cmd.Flags())
		},
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "config file path")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.Int("chunk-size", 0, "bytes read from the input per scan")

	root.AddCommand(a.dumpCmd(), a.convertCmd(), a.buildCmd(), a.verifyCmd())
	return root
}

// loadConfig merges defaults, the config file, environment and flags into a.cfg.
func (a *app) loadConfig(flags *pflag.FlagSet) error {
	v := a.v
	if a.configFile != "" {
		v.SetConfigFile(a.configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	v.SetEnvPrefix("PCAPCAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	for key, flag := range map[string]string{
		"log.level":  "log-level",
		"chunk_size": "chunk-size",
		"format":     "format",
	} {
		if f := flags.Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	if err := v.Unmarshal(&a.cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := log.Init(a.cfg.Log); err != nil {
		return err
	}
	a.log = log.GetLogger()
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file.max_size", 10)
	v.SetDefault("log.file.max_backups", 3)
	v.SetDefault("chunk_size", pcap.DefaultChunkSize)
	v.SetDefault("format", "yaml")
	v.SetDefault("pcap.snaplen", 0)
	v.SetDefault("pcap.resolution", 6)
	v.SetDefault("pcapng.userappl", "pcapcat")
}
